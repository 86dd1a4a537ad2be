// Package camera owns the kiosk's video capture session.
package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FacingMode is the preferred camera direction.
type FacingMode string

const (
	FacingUnset FacingMode = ""
	FacingFront FacingMode = "user"
	FacingBack  FacingMode = "environment"
)

// Device describes an enumerated video input.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Constraints select the stream to open. DeviceID wins over Facing.
type Constraints struct {
	DeviceID    string
	Facing      FacingMode
	IdealWidth  int
	IdealHeight int
}

// Stream is an open capture stream.
type Stream interface {
	Dimensions() (width, height int)
	Grab() (image.Image, error)
	Close() error
}

// Driver opens streams and lists devices on a platform.
type Driver interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
	Enumerate(ctx context.Context) ([]Device, error)
}

// ErrNoStream is returned by Grab when no session is active.
var ErrNoStream = errors.New("camera: no active stream")

// Options tune the manager. Zero values fall back to defaults.
type Options struct {
	DeviceID          string
	Facing            FacingMode
	IdealWidth        int
	IdealHeight       int
	ReadyPollInterval time.Duration
	ReadyTimeout      time.Duration
	RetryDelay        time.Duration
}

// Session is a snapshot of the manager's state.
type Session struct {
	DeviceID   string     `json:"device_id,omitempty"`
	Facing     FacingMode `json:"facing_mode,omitempty"`
	Devices    []Device   `json:"devices"`
	Generation int        `json:"generation"`
	Active     bool       `json:"active"`
	Ready      bool       `json:"ready"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
}

// Manager is the sole owner of the capture stream. Every other component
// reads frames through it.
type Manager struct {
	driver Driver
	opts   Options
	log    logrus.FieldLogger
	sleep  func(ctx context.Context, d time.Duration) error

	// acqMu serializes the release, open and store sequence of every acquisition.
	acqMu sync.Mutex

	mu         sync.Mutex
	deviceID   string
	facing     FacingMode
	devices    []Device
	generation int
	stream     Stream
	ready      bool
}

// NewManager creates a manager around a driver.
func NewManager(driver Driver, opts Options, log logrus.FieldLogger) *Manager {
	if opts.IdealWidth <= 0 {
		opts.IdealWidth = 500
	}
	if opts.IdealHeight <= 0 {
		opts.IdealHeight = 500
	}
	if opts.ReadyPollInterval <= 0 {
		opts.ReadyPollInterval = 100 * time.Millisecond
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		driver:   driver,
		opts:     opts,
		log:      log.WithField("component", "camera"),
		sleep:    sleepCtx,
		deviceID: opts.DeviceID,
		facing:   opts.Facing,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Manager) constraintsLocked() Constraints {
	c := Constraints{IdealWidth: m.opts.IdealWidth, IdealHeight: m.opts.IdealHeight}
	if m.deviceID != "" {
		c.DeviceID = m.deviceID
		return c
	}
	c.Facing = m.facing
	if c.Facing == FacingUnset {
		c.Facing = FacingFront
	}
	return c
}

// Acquire opens a stream for the current preference, releasing any previous one first.
// Failures come back as *AcquisitionError and are not retried.
func (m *Manager) Acquire(ctx context.Context) error {
	m.acqMu.Lock()
	defer m.acqMu.Unlock()
	return m.acquire(ctx)
}

func (m *Manager) acquire(ctx context.Context) error {
	m.mu.Lock()
	m.releaseLocked()
	c := m.constraintsLocked()
	m.mu.Unlock()

	stream, err := m.driver.Open(ctx, c)
	if err != nil {
		ae := Classify(err)
		m.log.WithError(err).WithField("kind", ae.Kind.String()).Warn("camera acquisition failed")
		return ae
	}

	m.mu.Lock()
	m.releaseLocked()
	m.stream = stream
	m.ready = false
	needDevices := len(m.devices) == 0
	m.mu.Unlock()

	if needDevices {
		m.enumerate(ctx)
	}

	if err := m.waitReady(ctx, stream); err != nil {
		return err
	}
	return nil
}

func (m *Manager) enumerate(ctx context.Context) {
	devs, err := m.driver.Enumerate(ctx)
	if err != nil {
		m.log.WithError(err).Debug("device enumeration failed")
		return
	}
	usable := devs[:0:0]
	for _, d := range devs {
		if d.ID != "" {
			usable = append(usable, d)
		}
	}
	if len(usable) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = usable
	if m.deviceID == "" && m.facing == FacingUnset {
		m.deviceID = usable[0].ID
	}
}

// waitReady polls stream metadata until the frame size is known. Some devices
// report 0x0 briefly after opening.
func (m *Manager) waitReady(ctx context.Context, stream Stream) error {
	deadline := time.Now().Add(m.opts.ReadyTimeout)
	for {
		if w, h := stream.Dimensions(); w > 0 && h > 0 {
			m.mu.Lock()
			if m.stream == stream {
				m.ready = true
			}
			m.mu.Unlock()
			m.log.WithFields(logrus.Fields{"width": w, "height": h}).Info("camera ready")
			return nil
		}
		if time.Now().After(deadline) {
			// the detector keeps skipping until dimensions appear
			m.log.Warn("camera metadata not available yet")
			return nil
		}
		if err := m.sleep(ctx, m.opts.ReadyPollInterval); err != nil {
			return err
		}
	}
}

// Release stops the current stream. It is safe to call repeatedly.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

func (m *Manager) releaseLocked() {
	if m.stream == nil {
		return
	}
	if err := m.stream.Close(); err != nil {
		m.log.WithError(err).Debug("closing camera stream")
	}
	m.stream = nil
	m.ready = false
}

// SwitchDevice rotates to the next known device, or toggles facing mode when
// fewer than two devices are known, then re-acquires.
func (m *Manager) SwitchDevice(ctx context.Context) error {
	m.acqMu.Lock()
	defer m.acqMu.Unlock()

	m.mu.Lock()
	m.releaseLocked()
	if len(m.devices) > 1 && m.deviceID != "" {
		next := 0
		for i, d := range m.devices {
			if d.ID == m.deviceID {
				next = (i + 1) % len(m.devices)
				break
			}
		}
		m.deviceID = m.devices[next].ID
		m.facing = FacingUnset
	} else {
		if m.facing == FacingFront {
			m.facing = FacingBack
		} else {
			m.facing = FacingFront
		}
		m.deviceID = ""
	}
	m.generation++
	m.mu.Unlock()

	return m.acquire(ctx)
}

// Retry releases the stream, lets the OS free the device, and probes it once.
// A busy device is reported without touching the current preference;
// otherwise the manager resets to defaults and re-acquires.
func (m *Manager) Retry(ctx context.Context) error {
	m.acqMu.Lock()
	defer m.acqMu.Unlock()

	m.Release()

	if err := m.sleep(ctx, m.opts.RetryDelay); err != nil {
		return err
	}

	probe, err := m.driver.Open(ctx, Constraints{Facing: FacingFront})
	if err != nil {
		ae := Classify(err)
		if ae.Kind == KindDeviceInUse {
			m.log.WithError(err).Warn("camera still in use by another application")
			return ae
		}
		m.log.WithError(err).WithField("kind", ae.Kind.String()).Debug("camera probe failed")
	} else if cerr := probe.Close(); cerr != nil {
		m.log.WithError(cerr).Debug("closing probe stream")
	}

	m.mu.Lock()
	m.deviceID = ""
	m.facing = FacingFront
	m.generation++
	m.mu.Unlock()

	return m.acquire(ctx)
}

// Probe performs a throwaway acquisition for c and classifies the result.
func (m *Manager) Probe(ctx context.Context, c Constraints) *AcquisitionError {
	m.acqMu.Lock()
	defer m.acqMu.Unlock()
	s, err := m.driver.Open(ctx, c)
	if err != nil {
		return Classify(err)
	}
	_ = s.Close()
	return nil
}

// Ready reports whether a stream is active with known dimensions.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return false
	}
	if !m.ready {
		if w, h := m.stream.Dimensions(); w > 0 && h > 0 {
			m.ready = true
		}
	}
	return m.ready
}

// Dimensions returns the current frame size or zeros.
func (m *Manager) Dimensions() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return 0, 0
	}
	return m.stream.Dimensions()
}

// Grab reads the current frame.
func (m *Manager) Grab() (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil, ErrNoStream
	}
	return m.stream.Grab()
}

// Generation increments on every switch or retry.
func (m *Manager) Generation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Session returns a snapshot of the session state.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Session{
		DeviceID:   m.deviceID,
		Facing:     m.facing,
		Devices:    append([]Device(nil), m.devices...),
		Generation: m.generation,
		Active:     m.stream != nil,
		Ready:      m.ready,
	}
	if m.stream != nil {
		s.Width, s.Height = m.stream.Dimensions()
	}
	return s
}

// Devices lists capture devices straight from the driver.
func (m *Manager) Devices(ctx context.Context) ([]Device, error) {
	return m.driver.Enumerate(ctx)
}
