package presence

import (
	"testing"
	"time"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

func TestObserve_StartTimeTracksStreak(t *testing.T) {
	tr := NewTracker(DefaultPolicy())

	ticks := []struct {
		ms      int
		present bool
		started bool
	}{
		{0, false, false},
		{1000, true, true},
		{2000, true, true},
		{3000, false, false},
		{4000, true, true},
		{5000, false, false},
		{6000, false, false},
	}

	for _, tick := range ticks {
		tr.Observe(at(tick.ms), tick.present)
		snap := tr.Snapshot(at(tick.ms))
		if got := !snap.Window.StartedAt.IsZero(); got != tick.started {
			t.Fatalf("t=%dms: started=%v, want %v", tick.ms, got, tick.started)
		}
	}
}

func TestObserve_StartRecordedOnceOnTransition(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	tr.Observe(at(0), true)
	tr.Observe(at(1000), true)
	tr.Observe(at(2000), true)

	if got := tr.Snapshot(at(2000)).Window.StartedAt; !got.Equal(at(0)) {
		t.Errorf("StartedAt = %v, want %v", got, at(0))
	}
}

func TestObserve_FiresOncePerStreak(t *testing.T) {
	tr := NewTracker(DefaultPolicy())

	fired := 0
	for i := 0; i < 10; i++ {
		if tr.Observe(at(i*1000), true) {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}
	if !tr.InFlight() {
		t.Error("expected submission to be in flight")
	}
}

func TestObserve_FiresAtThreshold(t *testing.T) {
	tr := NewTracker(DefaultPolicy())

	for _, ms := range []int{0, 1000, 2000} {
		if tr.Observe(at(ms), true) {
			t.Fatalf("fired early at %dms", ms)
		}
	}
	if !tr.Observe(at(3000), true) {
		t.Fatal("expected trigger once 3000ms elapsed")
	}
}

func TestObserve_GapResetsTimer(t *testing.T) {
	tr := NewTracker(DefaultPolicy())

	seq := []bool{true, true, false, true, true}
	for i, present := range seq {
		if tr.Observe(at(i*1000), present) {
			t.Fatalf("tick %d fired, want no submission", i)
		}
	}
	if tr.InFlight() {
		t.Error("nothing should be in flight")
	}
}

func TestCooldown_BlocksRetrigger(t *testing.T) {
	tr := NewTracker(DefaultPolicy())

	ms := 0
	for ; !tr.Observe(at(ms), true); ms += 1000 {
	}
	completedAt := ms + 500
	tr.Complete(at(completedAt), 0)

	// continuous presence after completion
	next := -1
	for tick := completedAt + 500; tick <= completedAt+20000; tick += 1000 {
		if tr.Observe(at(tick), true) {
			next = tick
			break
		}
	}
	if next < 0 {
		t.Fatal("expected a second trigger eventually")
	}
	if next-completedAt < 4000 {
		t.Errorf("second trigger %dms after completion, want >= 4000ms", next-completedAt)
	}
}

func TestCooldown_ClearsPresence(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	for ms := 0; ms <= 3000; ms += 1000 {
		tr.Observe(at(ms), true)
	}
	tr.Complete(at(3200), 0)

	tr.Observe(at(4000), true)
	snap := tr.Snapshot(at(4000))
	if snap.State != Cooldown {
		t.Fatalf("state = %v, want cooldown", snap.State)
	}
	if !snap.Window.StartedAt.IsZero() {
		t.Error("start time must stay null during cooldown")
	}
	if !tr.InCooldown(at(7000)) {
		t.Error("expected cooldown at 7000ms")
	}
	if tr.InCooldown(at(7200)) {
		t.Error("cooldown should have expired at 7200ms")
	}
	if snap := tr.Snapshot(at(7200)); snap.Latched {
		t.Error("latch should re-arm after cooldown")
	}
}

func TestComplete_ShortCooldownReArms(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	for ms := 0; ms <= 3000; ms += 1000 {
		tr.Observe(at(ms), true)
	}
	tr.Complete(at(3500), 2*time.Second)

	if !tr.InCooldown(at(5000)) {
		t.Error("expected cooldown before 2s elapsed")
	}
	if tr.InCooldown(at(5500)) {
		t.Error("expected arming-eligible state 2s after completion")
	}
	if tr.InFlight() {
		t.Error("latch must not stay set")
	}
}

func TestHold_ForcesCooldownWithoutSubmission(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	tr.Observe(at(0), true)
	tr.Hold(at(500), 3*time.Second)

	if tr.Observe(at(3000), true) {
		t.Fatal("must not trigger during hold")
	}
	if !tr.InCooldown(at(3000)) {
		t.Error("expected hold cooldown")
	}
	if tr.InCooldown(at(3500)) {
		t.Error("hold should have expired")
	}
}

func TestHold_DoesNotShortenCooldown(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	tr.Hold(at(0), 5*time.Second)
	tr.Hold(at(1000), time.Second)

	if got := tr.Snapshot(at(1000)).Window.CooldownUntil; !got.Equal(at(5000)) {
		t.Errorf("CooldownUntil = %v, want %v", got, at(5000))
	}
}

func TestReset_KeepsInFlightLatch(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	for ms := 0; ms <= 3000; ms += 1000 {
		tr.Observe(at(ms), true)
	}
	tr.Reset()
	if !tr.InFlight() {
		t.Error("reset must not drop an in-flight submission")
	}

	tr2 := NewTracker(DefaultPolicy())
	tr2.Observe(at(0), true)
	tr2.Reset()
	if snap := tr2.Snapshot(at(0)); snap.State != Idle || !snap.Window.StartedAt.IsZero() {
		t.Errorf("after reset: %+v", snap)
	}
}

func TestNewTracker_Defaults(t *testing.T) {
	tr := NewTracker(Policy{})
	if tr.Policy() != DefaultPolicy() {
		t.Errorf("policy = %+v, want defaults", tr.Policy())
	}
}
