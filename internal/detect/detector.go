// Package detect runs the local face-presence poll against the active camera frame.
package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Box is a rectangle normalized to [0,1] relative to the frame.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PlaceholderBox is the centered guide shown when no face is found.
var PlaceholderBox = Box{X: 0.25, Y: 0.15, Width: 0.5, Height: 0.7}

// Detection is a single face hit in pixel coordinates.
type Detection struct {
	Rect  image.Rectangle
	Score float64
}

// Model is a pre-loaded local face detector. It must never call a remote service.
type Model interface {
	Loaded() bool
	DetectSingleFace(ctx context.Context, img image.Image) (*Detection, error)
}

// FrameSource exposes the current camera frame.
type FrameSource interface {
	Ready() bool
	Dimensions() (width, height int)
	Grab() (image.Image, error)
}

// Gate tells the detector when to stand down.
type Gate interface {
	InFlight() bool
	InCooldown(now time.Time) bool
}

// SkipReason explains why a tick did not run detection.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipModelLoading SkipReason = "model_loading"
	SkipInFlight     SkipReason = "in_flight"
	SkipNotReady     SkipReason = "not_ready"
	SkipZeroSize     SkipReason = "zero_size"
	SkipCooldown     SkipReason = "cooldown"
)

// Observation is the outcome of one tick.
type Observation struct {
	At      time.Time
	Skipped SkipReason
	Present bool
	Box     *Box
	Score   float64
	Err     error
}

// Ran reports whether detection actually executed on this tick.
func (o Observation) Ran() bool {
	return o.Skipped == SkipNone
}

// State is the detector's view of the last tick.
type State struct {
	LastBox     *Box `json:"last_box"`
	Present     bool `json:"present"`
	ModelsReady bool `json:"models_ready"`
}

// ErrInvalidFrame is returned when a frame reports non-positive dimensions.
var ErrInvalidFrame = errors.New("detect: invalid frame dimensions")

// Detector polls a FrameSource with a Model.
type Detector struct {
	model  Model
	source FrameSource
	gate   Gate
	now    func() time.Time
	log    logrus.FieldLogger

	mu    sync.Mutex
	state State
}

// New builds a detector. gate may be nil.
func New(model Model, source FrameSource, gate Gate, log logrus.FieldLogger) *Detector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Detector{
		model:  model,
		source: source,
		gate:   gate,
		now:    time.Now,
		log:    log.WithField("component", "detect"),
	}
}

// WithClock overrides the time source.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// State returns a copy of the detection state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.state
	if s.LastBox != nil {
		b := *s.LastBox
		s.LastBox = &b
	}
	return s
}

// Tick runs one detection attempt. It never panics on model errors and never blocks on the gate.
func (d *Detector) Tick(ctx context.Context) Observation {
	now := d.now()
	obs := Observation{At: now}

	loaded := d.model != nil && d.model.Loaded()
	d.mu.Lock()
	d.state.ModelsReady = loaded
	d.mu.Unlock()

	switch {
	case !loaded:
		obs.Skipped = SkipModelLoading
		return obs
	case d.gate != nil && d.gate.InFlight():
		obs.Skipped = SkipInFlight
		return obs
	case d.source == nil || !d.source.Ready():
		obs.Skipped = SkipNotReady
		return obs
	}

	w, h := d.source.Dimensions()
	if w <= 0 || h <= 0 {
		obs.Skipped = SkipZeroSize
		return obs
	}

	if d.gate != nil && d.gate.InCooldown(now) {
		d.setState(false, nil)
		obs.Skipped = SkipCooldown
		return obs
	}

	det, err := d.detect(ctx)
	if err != nil {
		d.log.WithError(err).Debug("face detection failed")
		obs.Err = err
		obs.Box = d.clearToPlaceholder()
		return obs
	}
	if det == nil {
		obs.Box = d.clearToPlaceholder()
		return obs
	}

	// dimensions can change between the readiness check and the grab
	w, h = d.source.Dimensions()
	box, err := Normalize(det.Rect, w, h)
	if err != nil {
		obs.Skipped = SkipZeroSize
		obs.Box = d.clearToPlaceholder()
		return obs
	}
	d.setState(true, &box)
	obs.Present = true
	obs.Box = &box
	obs.Score = det.Score
	return obs
}

func (d *Detector) detect(ctx context.Context) (det *Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detect: model panic: %v", r)
		}
	}()
	img, err := d.source.Grab()
	if err != nil {
		return nil, fmt.Errorf("grab frame: %w", err)
	}
	return d.model.DetectSingleFace(ctx, img)
}

func (d *Detector) clearToPlaceholder() *Box {
	pb := PlaceholderBox
	d.setState(false, &pb)
	return &pb
}

func (d *Detector) setState(present bool, box *Box) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Present = present
	if box == nil {
		d.state.LastBox = nil
		return
	}
	b := *box
	d.state.LastBox = &b
}

// Run polls on a self-rescheduling timer until ctx is done. The next tick is
// scheduled only after handle returns, so ticks never overlap.
func (d *Detector) Run(ctx context.Context, interval time.Duration, handle func(Observation)) {
	if interval <= 0 {
		interval = time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		d.runOnce(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(interval)
	}
}

func (d *Detector) runOnce(ctx context.Context, handle func(Observation)) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("panic", r).Error("detection tick panicked")
		}
	}()
	obs := d.Tick(ctx)
	if handle != nil {
		handle(obs)
	}
}

// Normalize converts a pixel rectangle into a Box relative to a w×h frame.
func Normalize(r image.Rectangle, w, h int) (Box, error) {
	if w <= 0 || h <= 0 {
		return Box{}, ErrInvalidFrame
	}
	fw, fh := float64(w), float64(h)
	return Box{
		X:      clamp(float64(r.Min.X) / fw),
		Y:      clamp(float64(r.Min.Y) / fh),
		Width:  clamp(float64(r.Dx()) / fw),
		Height: clamp(float64(r.Dy()) / fh),
	}, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
