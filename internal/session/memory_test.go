package session

import (
	"fmt"
	"testing"
)

func TestStateMachineFirstThreshold(t *testing.T) {
	m := NewMemory("s1", "u1", Thresholds{SummarizeAfter: 3, ResummarizeEvery: 2})

	if got := m.ShouldSummarize(); got {
		t.Fatalf("ShouldSummarize() on empty session = true, want false")
	}

	m.AddTurn("hello", "hi")
	m.AddTurn("how are you", "fine")
	if m.ShouldSummarize() {
		t.Fatalf("ShouldSummarize() below threshold = true, want false")
	}

	m.AddTurn("my name is Kim", "nice to meet you, Kim")
	if !m.ShouldSummarize() {
		t.Fatalf("ShouldSummarize() at threshold = false, want true")
	}

	// Extraction failure keeps the session eligible.
	if !m.ShouldSummarize() {
		t.Fatalf("ShouldSummarize() should stay true until a successful update")
	}

	m.UpdateSummary("intro chat", map[string]string{"name": "Kim"}, nil)
	if m.ShouldSummarize() {
		t.Fatalf("ShouldSummarize() right after a successful summary = true, want false")
	}
}

func TestStateMachineRefreshCadence(t *testing.T) {
	m := NewMemory("s1", "u1", Thresholds{SummarizeAfter: 3, ResummarizeEvery: 2})
	for i := 0; i < 3; i++ {
		m.AddTurn(fmt.Sprintf("turn %d", i), "ack")
	}
	m.UpdateSummary("first", nil, nil)

	triggers := 0
	for i := 0; i < 6; i++ {
		m.AddTurn(fmt.Sprintf("more %d", i), "ack")
		if m.ShouldSummarize() {
			triggers++
			m.UpdateSummary(fmt.Sprintf("refresh %d", triggers), nil, nil)
		}
	}
	// Six extra turns at a cadence of two means exactly three refreshes.
	if triggers != 3 {
		t.Fatalf("refresh triggers = %d, want 3", triggers)
	}
}

func TestTurnsAreAppendOnlyAndOrdered(t *testing.T) {
	m := NewMemory("s1", "u1", Thresholds{SummarizeAfter: 10})
	for i := 0; i < 5; i++ {
		m.AddTurn(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	turns := m.RecentContext(0)
	if len(turns) != 5 {
		t.Fatalf("turn count = %d, want 5", len(turns))
	}
	for i, turn := range turns {
		if turn.UserInput != fmt.Sprintf("q%d", i) {
			t.Fatalf("turn %d user input = %q, want q%d", i, turn.UserInput, i)
		}
	}
}

func TestRecentContextLimit(t *testing.T) {
	m := NewMemory("s1", "u1", Thresholds{SummarizeAfter: 10})
	for i := 0; i < 5; i++ {
		m.AddTurn(fmt.Sprintf("q%d", i), "a")
	}

	recent := m.RecentContext(2)
	if len(recent) != 2 {
		t.Fatalf("recent length = %d, want 2", len(recent))
	}
	if recent[0].UserInput != "q3" || recent[1].UserInput != "q4" {
		t.Fatalf("recent turns = %q,%q, want q3,q4", recent[0].UserInput, recent[1].UserInput)
	}
}

func TestUpdateSummaryIsAtomic(t *testing.T) {
	m := NewMemory("s1", "u1", Thresholds{SummarizeAfter: 1})
	m.AddTurn("hello", "hi")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			snap := m.Snapshot(0)
			if snap.Summary != "" && snap.Preferences == nil {
				t.Errorf("observed summary without its preference snapshot")
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		m.UpdateSummary("summary", map[string]string{"name": "Kim"}, nil)
	}
	<-done
}

func TestSnapshotIsDetached(t *testing.T) {
	m := NewMemory("s1", "u1", Thresholds{SummarizeAfter: 2})
	m.AddTurn("hello", "hi")
	m.UpdateSummary("s", map[string]string{"name": "Kim"}, map[string][]string{"pain_points": {"long wait"}})

	snap := m.Snapshot(0)
	snap.Preferences["name"] = "mutated"
	snap.ListPreferences["pain_points"][0] = "mutated"

	again := m.Snapshot(0)
	if again.Preferences["name"] != "Kim" {
		t.Fatalf("snapshot mutation leaked into memory: name = %q", again.Preferences["name"])
	}
	if again.ListPreferences["pain_points"][0] != "long wait" {
		t.Fatalf("snapshot mutation leaked into list facts")
	}
}
