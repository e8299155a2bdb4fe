package state

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightkeeper/lightkeeper/internal/types"
)

// AlertState is the persisted alert bookkeeping for one watcher.
// Unknown fields in an on-disk record are ignored on load, so future
// versions can add fields without breaking older state files.
type AlertState struct {
	LastAlertAt     time.Time `json:"last_alert_at"`
	LastFingerprint string    `json:"last_fingerprint"`
	HourWindowStart time.Time `json:"hour_window_start"`
	HourWindowCount int       `json:"hour_window_count"`
}

// GateResult reports whether an alert may be delivered and, when not,
// why it was suppressed.
type GateResult struct {
	Allow  bool
	Reason string
}

const (
	ReasonNothingToAlert = "nothing-to-alert"
	ReasonRateLimited    = "rate-limited"
	ReasonDuplicate      = "duplicate-within-cooldown"
	ReasonAllowed        = "allowed"
)

// Manager is the single authority for "may we alert now". It owns every
// watcher's AlertState record under stateDir and serializes all gate
// calls, so concurrent watchers never race on the underlying files.
type Manager struct {
	stateDir   string
	cooldown   time.Duration
	maxPerHour int // 0 = unlimited
	logger     zerolog.Logger

	mu     sync.Mutex
	states map[string]*AlertState
	now    func() time.Time
}

// NewManager creates a state manager rooted at stateDir. Records are
// loaded lazily per watcher on first gate call.
func NewManager(stateDir string, cooldown time.Duration, maxPerHour int, logger zerolog.Logger) *Manager {
	return &Manager{
		stateDir:   stateDir,
		cooldown:   cooldown,
		maxPerHour: maxPerHour,
		logger:     logger.With().Str("component", "state-manager").Logger(),
		states:     make(map[string]*AlertState),
		now:        time.Now,
	}
}

// Gate applies the dedup and rate-limit policy to a decision. On allow
// the state mutation is persisted durably before Gate returns, so a
// crash after an allow cannot replay the same alert on restart.
func (m *Manager) Gate(watcher string, decision types.Decision) (GateResult, error) {
	if !decision.ShouldAlert {
		return GateResult{Allow: false, Reason: ReasonNothingToAlert}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.load(watcher)
	now := m.now()

	// All checks run on a staged copy; the cached record only takes
	// the mutation once it is safely on disk, so a failed persist
	// leaves no memory of an alert that was never delivered.
	staged := *st

	// Hourly budget. The window is rolling from its own start, reset
	// once an hour has fully elapsed.
	if now.Sub(staged.HourWindowStart) > time.Hour {
		staged.HourWindowStart = now
		staged.HourWindowCount = 0
	}
	if m.maxPerHour > 0 && staged.HourWindowCount >= m.maxPerHour {
		m.logger.Info().
			Str("watcher", watcher).
			Int("max_per_hour", m.maxPerHour).
			Msg("Alert suppressed by hourly budget")
		return GateResult{Allow: false, Reason: ReasonRateLimited}, nil
	}

	// Cooldown applies only to a repeat of the same fingerprint; a new
	// kind of problem surfaces immediately but still spends budget.
	if staged.LastFingerprint == decision.Fingerprint &&
		!staged.LastAlertAt.IsZero() &&
		now.Sub(staged.LastAlertAt) < m.cooldown {
		m.logger.Info().
			Str("watcher", watcher).
			Str("fingerprint", decision.Fingerprint).
			Msg("Alert suppressed as duplicate within cooldown")
		return GateResult{Allow: false, Reason: ReasonDuplicate}, nil
	}

	staged.LastAlertAt = now
	staged.LastFingerprint = decision.Fingerprint
	staged.HourWindowCount++

	if err := WriteJSONAtomic(m.recordPath(watcher), &staged); err != nil {
		// Persistence failure must not grant an unpersisted allow.
		return GateResult{}, err
	}
	*st = staged
	return GateResult{Allow: true, Reason: ReasonAllowed}, nil
}

// load returns the cached state for a watcher, reading it from disk on
// first use. A missing or corrupt record starts fresh; a duplicate
// alert after losing state beats refusing to alert at all.
func (m *Manager) load(watcher string) *AlertState {
	if st, ok := m.states[watcher]; ok {
		return st
	}

	st := &AlertState{}
	err := ReadJSON(m.recordPath(watcher), st)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		*st = AlertState{}
	default:
		m.logger.Warn().
			Err(err).
			Str("watcher", watcher).
			Msg("Could not load alert state, starting fresh")
		*st = AlertState{}
	}
	if st.HourWindowStart.IsZero() {
		st.HourWindowStart = m.now()
	}

	m.states[watcher] = st
	return st
}

func (m *Manager) recordPath(watcher string) string {
	return filepath.Join(m.stateDir, watcher+".alert.json")
}
