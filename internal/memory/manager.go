package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/mnemo/internal/extract"
	"github.com/antoniostano/mnemo/internal/observability"
	"github.com/antoniostano/mnemo/internal/policy"
	"github.com/antoniostano/mnemo/internal/session"
)

// Status tells the caller how much of a turn's side effects landed.
type Status string

const (
	// StatusOK means the turn is recorded and, if a merge happened, it is
	// durable in the profile store.
	StatusOK Status = "ok"
	// StatusDegraded means the turn and in-memory summary advanced but the
	// profile store did not accept the merge.
	StatusDegraded Status = "persistence_degraded"
)

const storeTimeout = 5 * time.Second

// Config tunes the manager's orchestration.
type Config struct {
	// HistoryWindow bounds the turn window shipped to the gateway.
	HistoryWindow int
	// RecentContext bounds the trailing turns included in snapshots.
	RecentContext int
	// ExtractTimeout bounds one extraction gateway call.
	ExtractTimeout time.Duration
	// RedactPII masks emails, card and phone numbers, and API tokens
	// before a turn is recorded.
	RedactPII bool
}

// TurnResult is what callers of ProcessTurn get back.
type TurnResult struct {
	Session    session.Snapshot `json:"session"`
	Status     Status           `json:"status"`
	Summarized bool             `json:"summarized"`
}

// Manager orchestrates session memories: it routes turns, decides when to
// call the extraction gateway, and merges results into user profiles.
//
// Concurrency contract: turns for the same session serialize on a
// per-session lock (held across the extraction call, so a session never has
// two extractions in flight); profile merges for the same user serialize on
// a per-user lock; sessions and users that don't share a key proceed fully
// in parallel.
type Manager struct {
	sessions *session.Store
	gateway  extract.Gateway
	profiles ProfileStore
	metrics  *observability.Metrics
	cfg      Config

	sessionLocks *keyedMutex
	userLocks    *keyedMutex
}

func NewManager(sessions *session.Store, gateway extract.Gateway, profiles ProfileStore, metrics *observability.Metrics, cfg Config) *Manager {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.RecentContext <= 0 {
		cfg.RecentContext = 10
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 20 * time.Second
	}
	return &Manager{
		sessions:     sessions,
		gateway:      gateway,
		profiles:     profiles,
		metrics:      metrics,
		cfg:          cfg,
		sessionLocks: newKeyedMutex(),
		userLocks:    newKeyedMutex(),
	}
}

// CreateSession mints a fresh session id for userID. Calling ProcessTurn
// with an unknown id works too; this exists for clients that want the id
// before the first turn.
func (m *Manager) CreateSession(userID string) session.Snapshot {
	mem, _ := m.sessions.GetOrCreate(uuid.NewString(), userID)
	m.metrics.SessionEvents.WithLabelValues("created").Inc()
	m.metrics.ActiveSessions.Set(float64(m.sessions.ActiveCount()))
	return mem.Snapshot(m.cfg.RecentContext)
}

// ProcessTurn appends one exchange to the session's memory, runs at most one
// extraction attempt when the session qualifies, and merges a successful
// result into the user's durable profile.
//
// It never fails for ordinary operation: extraction problems are fail-soft
// (prior summary and state stay untouched, a later qualifying turn retries)
// and profile store trouble is reported through StatusDegraded.
func (m *Manager) ProcessTurn(ctx context.Context, sessionID, userID, userInput, agentOutput string) TurnResult {
	start := time.Now()
	unlock := m.sessionLocks.Lock(sessionID)
	defer unlock()

	mem, created := m.sessions.GetOrCreate(sessionID, userID)
	if created {
		m.metrics.SessionEvents.WithLabelValues("created").Inc()
		m.metrics.ActiveSessions.Set(float64(m.sessions.ActiveCount()))
	}

	if m.cfg.RedactPII {
		userInput, _ = policy.RedactPII(userInput)
		agentOutput, _ = policy.RedactPII(agentOutput)
	}

	mem.AddTurn(userInput, agentOutput)
	m.metrics.TurnsProcessed.Inc()

	status := StatusOK
	summarized := false
	if mem.ShouldSummarize() {
		if res, err := m.runExtraction(ctx, mem); err == nil {
			merged, durable := m.mergeProfile(userID, res.Preferences)
			if !durable {
				status = StatusDegraded
			}
			// Summary and preference snapshot land together; the state
			// machine advances only on this success path.
			mem.UpdateSummary(res.Summary, merged.Facts, merged.ListFacts)
			summarized = true
		}
	}

	m.metrics.ObserveStage("turn_total", time.Since(start))
	return TurnResult{
		Session:    mem.Snapshot(m.cfg.RecentContext),
		Status:     status,
		Summarized: summarized,
	}
}

// SessionSnapshot exposes a session's memory without mutating it.
func (m *Manager) SessionSnapshot(sessionID string) (session.Snapshot, error) {
	mem, err := m.sessions.Get(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return mem.Snapshot(m.cfg.RecentContext), nil
}

// Profile returns the stored durable profile for userID.
func (m *Manager) Profile(ctx context.Context, userID string) (Profile, bool, error) {
	return m.profiles.Get(ctx, userID)
}

func (m *Manager) ActiveSessions() int {
	return m.sessions.ActiveCount()
}

// runExtraction calls the gateway once for the session's bounded window.
// The call runs on its own deadline, detached from the inbound request
// context: a caller that disconnects mid-extraction must not leave a
// half-applied result, so the attempt either completes and is merged whole
// or times out and is discarded.
func (m *Manager) runExtraction(parent context.Context, mem *session.Memory) (extract.Result, error) {
	_ = parent // reserved: deadlines are deliberately not inherited

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ExtractTimeout)
	defer cancel()

	window := mem.RecentContext(m.cfg.HistoryWindow)
	history := make([]extract.Turn, len(window))
	for i, turn := range window {
		history[i] = extract.Turn{User: turn.UserInput, Agent: turn.AgentOutput}
	}

	start := time.Now()
	res, err := m.gateway.Extract(ctx, extract.Request{
		SessionID:  mem.ID(),
		UserID:     mem.UserID(),
		History:    history,
		SchemaHint: extract.DefaultSchemaHint,
	})
	elapsed := time.Since(start)
	m.metrics.ObserveExtractionLatency(elapsed)
	m.metrics.ObserveStage("extraction", elapsed)

	if err != nil {
		m.metrics.Extractions.WithLabelValues(extractionOutcome(err)).Inc()
		return extract.Result{}, err
	}
	m.metrics.Extractions.WithLabelValues("success").Inc()
	return res, nil
}

// mergeProfile folds the extracted preferences into the stored profile
// under the per-user lock and reports whether the result is durable.
func (m *Manager) mergeProfile(userID string, prefs extract.Preferences) (Profile, bool) {
	unlock := m.userLocks.Lock(userID)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	start := time.Now()
	stored, ok, err := m.profiles.Get(ctx, userID)
	if err != nil {
		m.metrics.StoreErrors.WithLabelValues("get").Inc()
		// Without the stored profile a write could erase durable facts,
		// so the merge stays in-memory only for this turn.
		return MergeExtraction(NewProfile(userID), prefs), false
	}
	if !ok {
		stored = NewProfile(userID)
	}

	merged := MergeExtraction(stored, prefs)
	if err := m.profiles.Put(ctx, merged); err != nil {
		m.metrics.StoreErrors.WithLabelValues("put").Inc()
		return merged, false
	}

	m.metrics.ProfileMerges.Inc()
	m.metrics.ObserveStage("profile_merge", time.Since(start))
	return merged, true
}

func extractionOutcome(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, extract.ErrGatewayOpen):
		return "rejected"
	case errors.Is(err, extract.ErrUnparseable):
		return "unparseable"
	default:
		return "failure"
	}
}
