package session

import (
	"sync"
	"time"
)

// State tracks where a session sits in the summarization lifecycle.
type State string

const (
	StateEmpty      State = "empty"
	StatePending    State = "pending"
	StateSummarized State = "summarized"
	StateStale      State = "stale"
)

// Turn is one user-input/agent-output exchange. Turns are immutable once
// appended and are never reordered.
type Turn struct {
	UserInput   string    `json:"user_input"`
	AgentOutput string    `json:"agent_output"`
	Timestamp   time.Time `json:"timestamp"`
}

// Thresholds controls when a session becomes eligible for summarization.
type Thresholds struct {
	// SummarizeAfter is the turn count that makes a fresh session eligible
	// for its first summarization.
	SummarizeAfter int
	// ResummarizeEvery is the number of turns after a successful
	// summarization that marks the summary stale.
	ResummarizeEvery int
}

// Memory holds the per-session turn log, the derived summary, and the local
// preference snapshot. All methods are safe for concurrent use; callers that
// need append + trigger + update to be one serialized sequence hold the
// manager's per-session lock around them.
type Memory struct {
	mu sync.RWMutex

	id     string
	userID string

	turns           []Turn
	summary         string
	preferences     map[string]string
	listPreferences map[string][]string

	state          State
	turnsAtSummary int
	thresholds     Thresholds
	lastActivity   time.Time
}

// Snapshot is a read-only view of a session's memory. It is detached from
// the live Memory and safe to hand to callers.
type Snapshot struct {
	SessionID       string              `json:"session_id"`
	UserID          string              `json:"user_id"`
	State           State               `json:"state"`
	TurnCount       int                 `json:"turn_count"`
	RecentTurns     []Turn              `json:"recent_turns,omitempty"`
	Summary         string              `json:"summary,omitempty"`
	Preferences     map[string]string   `json:"preferences,omitempty"`
	ListPreferences map[string][]string `json:"list_preferences,omitempty"`
	LastActivityAt  time.Time           `json:"last_activity_at"`
}

func NewMemory(sessionID, userID string, thresholds Thresholds) *Memory {
	if thresholds.SummarizeAfter <= 0 {
		thresholds.SummarizeAfter = 4
	}
	if thresholds.ResummarizeEvery <= 0 {
		thresholds.ResummarizeEvery = thresholds.SummarizeAfter
	}
	return &Memory{
		id:           sessionID,
		userID:       userID,
		state:        StateEmpty,
		thresholds:   thresholds,
		lastActivity: time.Now().UTC(),
	}
}

func (m *Memory) ID() string     { return m.id }
func (m *Memory) UserID() string { return m.userID }

// AddTurn appends one exchange to the turn log and advances the
// summarization state. The log is append-only.
func (m *Memory) AddTurn(userInput, agentOutput string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, Turn{
		UserInput:   userInput,
		AgentOutput: agentOutput,
		Timestamp:   time.Now().UTC(),
	})
	m.lastActivity = time.Now().UTC()

	switch m.state {
	case StateEmpty:
		m.state = StatePending
	case StateSummarized:
		if len(m.turns)-m.turnsAtSummary >= m.thresholds.ResummarizeEvery {
			m.state = StateStale
		}
	}
}

// ShouldSummarize reports whether the session has accumulated enough context
// for an extraction attempt. It is a pure read of turn count and state; a
// failed extraction leaves both untouched so the next qualifying turn
// retries.
func (m *Memory) ShouldSummarize() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.state {
	case StatePending:
		return len(m.turns) >= m.thresholds.SummarizeAfter
	case StateStale:
		return true
	default:
		return false
	}
}

// UpdateSummary installs a successful extraction result. Summary and
// preference snapshot change together under one lock so a concurrent reader
// never observes one without the other.
func (m *Memory) UpdateSummary(summary string, preferences map[string]string, listPreferences map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.summary = summary
	m.preferences = copyStringMap(preferences)
	m.listPreferences = copyStringListMap(listPreferences)
	m.state = StateSummarized
	m.turnsAtSummary = len(m.turns)
}

// RecentContext returns the last limit turns in chronological order.
// limit <= 0 returns the full history.
func (m *Memory) RecentContext(limit int) []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.turns)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Turn, limit)
	copy(out, m.turns[n-limit:])
	return out
}

func (m *Memory) TurnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

func (m *Memory) LastActivity() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastActivity
}

// Snapshot captures the current state with up to recentLimit trailing turns.
func (m *Memory) Snapshot(recentLimit int) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.turns)
	if recentLimit <= 0 || recentLimit > n {
		recentLimit = n
	}
	recent := make([]Turn, recentLimit)
	copy(recent, m.turns[n-recentLimit:])

	return Snapshot{
		SessionID:       m.id,
		UserID:          m.userID,
		State:           m.state,
		TurnCount:       n,
		RecentTurns:     recent,
		Summary:         m.summary,
		Preferences:     copyStringMap(m.preferences),
		ListPreferences: copyStringListMap(m.listPreferences),
		LastActivityAt:  m.lastActivity,
	}
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyStringListMap(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		vv := make([]string, len(v))
		copy(vv, v)
		out[k] = vv
	}
	return out
}
