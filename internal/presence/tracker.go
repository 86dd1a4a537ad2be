package presence

import (
	"sync"
	"time"
)

// State is the phase of the presence trigger.
type State int

const (
	// Idle means no face is being tracked.
	Idle State = iota
	// Accumulating means a face is present and the streak timer runs.
	Accumulating
	// Triggered means a submission is in flight.
	Triggered
	// Cooldown is the grace period after a submission or a forced hold.
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Triggered:
		return "triggered"
	case Cooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON views.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Policy holds the trigger thresholds.
type Policy struct {
	Threshold time.Duration
	Cooldown  time.Duration
}

// DefaultPolicy matches the kiosk defaults: 3s of continuous presence, 4s cooldown.
func DefaultPolicy() Policy {
	return Policy{Threshold: 3 * time.Second, Cooldown: 4 * time.Second}
}

// Window is the timing part of the tracker. A zero StartedAt means no streak.
type Window struct {
	StartedAt     time.Time
	CooldownUntil time.Time
}

// Snapshot is a copy of the tracker state for display and tests.
type Snapshot struct {
	State   State
	Window  Window
	Latched bool
}

// Tracker accumulates continuous presence and decides when to submit.
// The latch guarantees at most one submission per streak and at most one in flight.
type Tracker struct {
	mu      sync.Mutex
	policy  Policy
	state   State
	window  Window
	latched bool
}

// NewTracker creates a tracker, filling zero policy fields with defaults.
func NewTracker(p Policy) *Tracker {
	def := DefaultPolicy()
	if p.Threshold <= 0 {
		p.Threshold = def.Threshold
	}
	if p.Cooldown <= 0 {
		p.Cooldown = def.Cooldown
	}
	return &Tracker{policy: p}
}

// Policy returns the effective policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Observe records one detection tick and reports whether a submission must start now.
// The caller owns the submission and must call Complete when it finishes.
func (t *Tracker) Observe(now time.Time, present bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expireLocked(now)

	switch t.state {
	case Triggered:
		return false
	case Cooldown:
		t.window.StartedAt = time.Time{}
		return false
	}

	if !present {
		t.window.StartedAt = time.Time{}
		t.state = Idle
		return false
	}

	if t.window.StartedAt.IsZero() {
		t.window.StartedAt = now
		t.state = Accumulating
	}

	if now.Sub(t.window.StartedAt) >= t.policy.Threshold && !t.latched {
		t.latched = true
		t.state = Triggered
		return true
	}
	return false
}

// Complete ends the in-flight submission and starts a cooldown of d.
// A non-positive d uses the policy cooldown.
func (t *Tracker) Complete(now time.Time, d time.Duration) {
	if d <= 0 {
		d = t.policy.Cooldown
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window.StartedAt = time.Time{}
	t.window.CooldownUntil = now.Add(d)
	t.state = Cooldown
}

// Hold forces a cooldown without a submission, e.g. while the camera is busy.
// It never shortens an existing cooldown and leaves an in-flight submission alone.
func (t *Tracker) Hold(now time.Time, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window.StartedAt = time.Time{}
	if until := now.Add(d); until.After(t.window.CooldownUntil) {
		t.window.CooldownUntil = until
	}
	if t.state != Triggered {
		t.state = Cooldown
	}
}

// Reset drops any streak. An in-flight submission keeps its latch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window.StartedAt = time.Time{}
	if t.state == Accumulating {
		t.state = Idle
	}
}

// InFlight reports whether a submission is outstanding.
func (t *Tracker) InFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Triggered
}

// InCooldown reports whether now falls inside the cooldown window.
func (t *Tracker) InCooldown(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked(now)
	return t.state == Cooldown
}

// Snapshot returns a copy of the current state as of now.
func (t *Tracker) Snapshot(now time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked(now)
	return Snapshot{State: t.state, Window: t.window, Latched: t.latched}
}

// expireLocked moves Cooldown back to Idle once the window has passed and re-arms the latch.
func (t *Tracker) expireLocked(now time.Time) {
	if t.state != Cooldown || now.Before(t.window.CooldownUntil) {
		return
	}
	t.state = Idle
	t.latched = false
	t.window.StartedAt = time.Time{}
}
