// Package kiosk runs the mark-attendance screen: camera session, detection
// loop, presence trigger and submission, plus the view a display renders.
package kiosk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/camera"
	"attendkiosk/internal/detect"
	"attendkiosk/internal/feedback"
	"attendkiosk/internal/metrics"
	"attendkiosk/internal/presence"
	"attendkiosk/internal/queue"
)

// ErrStopped is returned by camera recovery once Run has been cancelled.
var ErrStopped = errors.New("kiosk: stopped")

// Submitter performs one attendance attempt.
type Submitter interface {
	Submit(ctx context.Context) attendance.Outcome
}

// Publisher receives journal events. queue.Queue satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Options tune the orchestrator. Zero values fall back to defaults.
type Options struct {
	KioskID           string
	PollInterval      time.Duration
	PresenceThreshold time.Duration
	Cooldown          time.Duration
	InUseCooldown     time.Duration
	ResultOverlay     time.Duration
	MaxNotices        int
}

// Deps are the collaborators. Queue and Metrics are optional.
type Deps struct {
	Camera    *camera.Manager
	Model     detect.Model
	Submitter Submitter
	Catalog   *feedback.Catalog
	Queue     Publisher
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger
}

// Kiosk owns one camera session and its detection loop.
type Kiosk struct {
	cam       *camera.Manager
	model     detect.Model
	detector  *detect.Detector
	tracker   *presence.Tracker
	submitter Submitter
	catalog   *feedback.Catalog
	queue     Publisher
	metrics   *metrics.Metrics
	opts      Options
	now       func() time.Time
	log       logrus.FieldLogger

	inflight sync.WaitGroup

	mu          sync.Mutex
	runCtx      context.Context
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	cameraErr   *feedback.Notice
	loading     bool
	result      *attendance.Result
	resultUntil time.Time
	notices     []feedback.Notice
	subs        map[chan View]struct{}
}

// New wires a kiosk around an already constructed camera manager.
func New(d Deps, opts Options) *Kiosk {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.InUseCooldown <= 0 {
		opts.InUseCooldown = 4 * time.Second
	}
	if opts.ResultOverlay <= 0 {
		opts.ResultOverlay = 5 * time.Second
	}
	if opts.MaxNotices <= 0 {
		opts.MaxNotices = 5
	}
	if d.Catalog == nil {
		d.Catalog = feedback.MustDefault()
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	tracker := presence.NewTracker(presence.Policy{Threshold: opts.PresenceThreshold, Cooldown: opts.Cooldown})
	k := &Kiosk{
		cam:       d.Camera,
		model:     d.Model,
		tracker:   tracker,
		submitter: d.Submitter,
		catalog:   d.Catalog,
		queue:     d.Queue,
		metrics:   d.Metrics,
		opts:      opts,
		now:       time.Now,
		log:       d.Log.WithField("component", "kiosk"),
		subs:      make(map[chan View]struct{}),
	}
	k.detector = detect.New(d.Model, d.Camera, tracker, d.Log)
	return k
}

// WithClock overrides the time source of the kiosk and its detector.
func (k *Kiosk) WithClock(now func() time.Time) *Kiosk {
	k.now = now
	k.detector.WithClock(now)
	return k
}

// Run acquires the camera and polls until ctx is done. A failed acquisition
// leaves the loop stopped until SwitchCamera or RetryCamera succeeds.
// The camera is released and any in-flight submission awaited before Run returns.
func (k *Kiosk) Run(ctx context.Context) error {
	k.mu.Lock()
	if k.runCtx != nil {
		k.mu.Unlock()
		return errors.New("kiosk: already running")
	}
	k.runCtx = ctx
	k.mu.Unlock()

	defer k.cam.Release()

	if err := k.acquire(ctx, k.cam.Acquire); err == nil {
		k.startLoop()
	}

	<-ctx.Done()
	k.stopLoop()
	k.inflight.Wait()
	k.log.Info("kiosk stopped")
	return nil
}

// SwitchCamera moves to the next device and restarts the loop on success.
func (k *Kiosk) SwitchCamera(ctx context.Context) error {
	return k.restart(ctx, k.cam.SwitchDevice)
}

// RetryCamera releases the device, probes it and re-acquires.
func (k *Kiosk) RetryCamera(ctx context.Context) error {
	return k.restart(ctx, k.cam.Retry)
}

func (k *Kiosk) restart(ctx context.Context, acquire func(context.Context) error) error {
	if k.stopped() {
		return ErrStopped
	}
	k.stopLoop()
	k.tracker.Reset()
	if err := k.acquire(ctx, acquire); err != nil {
		return err
	}
	// Run may have released the camera while the device was opening
	if k.stopped() {
		k.cam.Release()
		return ErrStopped
	}
	k.startLoop()
	return nil
}

func (k *Kiosk) stopped() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.runCtx != nil && k.runCtx.Err() != nil
}

func (k *Kiosk) acquire(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	k.metrics.SetGeneration(k.cam.Generation())
	if err == nil {
		k.mu.Lock()
		k.cameraErr = nil
		k.mu.Unlock()
		k.broadcast()
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	ae := camera.Classify(err)
	notice := k.catalog.Notice(ae.Kind.Key(), nil)
	k.metrics.ObserveCameraFailure(ae.Kind.Key())
	if ae.Kind == camera.KindDeviceInUse {
		k.tracker.Hold(k.now(), k.opts.InUseCooldown)
	}

	k.mu.Lock()
	k.cameraErr = &notice
	k.pushNoticeLocked(notice)
	k.mu.Unlock()
	k.broadcast()
	return ae
}

func (k *Kiosk) startLoop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.loopCancel != nil || k.runCtx == nil || k.runCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(k.runCtx)
	done := make(chan struct{})
	k.loopCancel, k.loopDone = cancel, done
	go func() {
		defer close(done)
		k.detector.Run(ctx, k.opts.PollInterval, k.onTick)
	}()
}

func (k *Kiosk) stopLoop() {
	k.mu.Lock()
	cancel, done := k.loopCancel, k.loopDone
	k.loopCancel, k.loopDone = nil, nil
	k.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LoopRunning reports whether the detection loop is active.
func (k *Kiosk) LoopRunning() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loopCancel != nil
}

// Step runs a single detection tick synchronously.
func (k *Kiosk) Step(ctx context.Context) detect.Observation {
	obs := k.detector.Tick(ctx)
	k.onTick(obs)
	return obs
}

func (k *Kiosk) onTick(obs detect.Observation) {
	k.metrics.ObserveTick(tickResult(obs), obs.Present)

	k.mu.Lock()
	ctx := k.runCtx
	k.mu.Unlock()

	if obs.Skipped != detect.SkipInFlight && k.tracker.Observe(obs.At, obs.Present) {
		if ctx == nil {
			ctx = context.Background()
		}
		k.inflight.Add(1)
		go k.submit(ctx)
	}
	k.broadcast()
}

func tickResult(obs detect.Observation) string {
	switch {
	case obs.Skipped != detect.SkipNone:
		return "skip_" + string(obs.Skipped)
	case obs.Err != nil:
		return "error"
	case obs.Present:
		return "present"
	default:
		return "absent"
	}
}

func (k *Kiosk) submit(ctx context.Context) {
	defer k.inflight.Done()

	k.mu.Lock()
	k.loading = true
	k.mu.Unlock()
	k.broadcast()

	var cooldown time.Duration
	defer func() {
		if r := recover(); r != nil {
			k.log.WithField("panic", r).Error("submission panicked")
		}
		k.tracker.Complete(k.now(), cooldown)
		k.mu.Lock()
		k.loading = false
		k.mu.Unlock()
		k.broadcast()
	}()

	out := k.submitter.Submit(ctx)
	cooldown = out.Cooldown
	k.metrics.ObserveSubmission(out.Key, out.Latency)

	k.mu.Lock()
	if out.Result != nil {
		r := *out.Result
		k.result = &r
		k.resultUntil = k.now().Add(k.opts.ResultOverlay)
	}
	k.pushNoticeLocked(out.Notice)
	k.mu.Unlock()

	k.publish(ctx, out)
}

func (k *Kiosk) publish(ctx context.Context, out attendance.Outcome) {
	if k.queue == nil {
		return
	}
	evt := attendance.EventFrom(k.opts.KioskID, out)
	evt.ID = uuid.NewString()
	msg, err := queue.NewMessage(queue.TypeAttendanceMarked, evt)
	if err != nil {
		k.log.WithError(err).Error("encode event")
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := k.queue.Publish(pctx, msg); err != nil {
		k.log.WithError(err).WithField("event_id", evt.ID).Warn("publish event failed")
	}
}

func (k *Kiosk) pushNoticeLocked(n feedback.Notice) {
	if n.Key == "" {
		return
	}
	k.notices = append(k.notices, n)
	if over := len(k.notices) - k.opts.MaxNotices; over > 0 {
		k.notices = append([]feedback.Notice(nil), k.notices[over:]...)
	}
}

// DismissResult closes the result overlay before it expires.
func (k *Kiosk) DismissResult() {
	k.mu.Lock()
	k.result = nil
	k.mu.Unlock()
	k.broadcast()
}

// Devices lists capture devices from the driver.
func (k *Kiosk) Devices(ctx context.Context) ([]camera.Device, error) {
	return k.cam.Devices(ctx)
}
