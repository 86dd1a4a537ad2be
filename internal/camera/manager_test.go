package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeStream reports 0x0 for the first zeroReads calls to Dimensions.
type fakeStream struct {
	mu        sync.Mutex
	w, h      int
	closed    bool
	zeroReads int
}

func (s *fakeStream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zeroReads > 0 {
		s.zeroReads--
		return 0, 0
	}
	return s.w, s.h
}

func (s *fakeStream) Grab() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, s.w, s.h)), nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeDriver struct {
	mu        sync.Mutex
	devices   []Device
	openErrs  []error
	opened    []Constraints
	streams   []*fakeStream
	enumCalls int
	zeroReads int
}

func (d *fakeDriver) Open(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, c)
	if len(d.openErrs) > 0 {
		err := d.openErrs[0]
		d.openErrs = d.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeStream{w: 640, h: 480, zeroReads: d.zeroReads}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDriver) Enumerate(ctx context.Context) ([]Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumCalls++
	return d.devices, nil
}

func newTestManager(d Driver, opts Options) *Manager {
	l := logrus.New()
	l.SetOutput(io.Discard)
	m := NewManager(d, opts, l)
	m.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return m
}

func TestAcquire_PinsFirstDeviceWhenUnpinned(t *testing.T) {
	d := &fakeDriver{devices: []Device{{ID: ""}, {ID: "/dev/video0", Label: "Front"}, {ID: "/dev/video2", Label: "Rear"}}}
	m := newTestManager(d, Options{})

	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := m.Session()
	if s.DeviceID != "/dev/video0" {
		t.Errorf("DeviceID = %q, want first usable device", s.DeviceID)
	}
	if len(s.Devices) != 2 {
		t.Errorf("devices = %v, want empty ids filtered", s.Devices)
	}
	if !s.Active || !s.Ready {
		t.Errorf("session = %+v, want active and ready", s)
	}
}

func TestAcquire_KeepsFacingPreference(t *testing.T) {
	d := &fakeDriver{devices: []Device{{ID: "/dev/video0"}}}
	m := newTestManager(d, Options{Facing: FacingBack})

	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := m.Session().DeviceID; got != "" {
		t.Errorf("DeviceID = %q, facing preference must not be overridden", got)
	}
	if d.opened[0].Facing != FacingBack {
		t.Errorf("opened with %+v", d.opened[0])
	}
}

func TestAcquire_EnumeratesOnce(t *testing.T) {
	d := &fakeDriver{devices: []Device{{ID: "/dev/video0"}}}
	m := newTestManager(d, Options{})

	for i := 0; i < 3; i++ {
		if err := m.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if d.enumCalls != 1 {
		t.Errorf("enumerate calls = %d, want 1", d.enumCalls)
	}
	for i, s := range d.streams[:2] {
		if !s.closed {
			t.Errorf("stream %d not released before re-acquire", i)
		}
	}
}

func TestAcquire_WaitsForDimensions(t *testing.T) {
	d := &fakeDriver{zeroReads: 3}
	m := newTestManager(d, Options{})

	polls := 0
	m.sleep = func(ctx context.Context, _ time.Duration) error {
		polls++
		return nil
	}
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if polls != 3 {
		t.Errorf("polls = %d, want 3", polls)
	}
	if !m.Ready() {
		t.Error("expected ready after dimensions appear")
	}
}

func TestAcquire_ClassifiesFailure(t *testing.T) {
	d := &fakeDriver{openErrs: []error{&os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}}}
	m := newTestManager(d, Options{})

	err := m.Acquire(context.Background())
	var ae *AcquisitionError
	if !errors.As(err, &ae) || ae.Kind != KindPermissionDenied {
		t.Fatalf("err = %v, want permission denied", err)
	}
	if m.Ready() {
		t.Error("must not be ready after failure")
	}
	if len(d.opened) != 1 {
		t.Errorf("open attempts = %d, failures must not retry", len(d.opened))
	}
}

func TestAcquire_ConcurrentCallsLeaveOneStream(t *testing.T) {
	d := &fakeDriver{devices: []Device{{ID: "a"}, {ID: "b"}}}
	m := newTestManager(d, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 3 {
			case 0:
				err = m.Acquire(context.Background())
			case 1:
				err = m.SwitchDevice(context.Background())
			default:
				err = m.Retry(context.Background())
			}
			if err != nil {
				t.Errorf("call %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	d.mu.Lock()
	open := 0
	for _, s := range d.streams {
		s.mu.Lock()
		if !s.closed {
			open++
		}
		s.mu.Unlock()
	}
	d.mu.Unlock()
	if open != 1 {
		t.Errorf("open streams = %d, want 1", open)
	}

	m.Release()
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.streams {
		if !s.closed {
			t.Errorf("stream %d still open after Release", i)
		}
	}
}

func TestRelease_Idempotent(t *testing.T) {
	d := &fakeDriver{}
	m := newTestManager(d, Options{})
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Release()
	m.Release()

	if !d.streams[0].closed {
		t.Error("stream not closed")
	}
	if _, err := m.Grab(); !errors.Is(err, ErrNoStream) {
		t.Errorf("Grab after release: %v", err)
	}
	if w, h := m.Dimensions(); w != 0 || h != 0 {
		t.Errorf("dimensions after release = %dx%d", w, h)
	}
}

func TestSwitchDevice_RoundRobin(t *testing.T) {
	d := &fakeDriver{devices: []Device{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	m := newTestManager(d, Options{})
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{"b", "c", "a"}
	for i, id := range want {
		if err := m.SwitchDevice(context.Background()); err != nil {
			t.Fatal(err)
		}
		s := m.Session()
		if s.DeviceID != id {
			t.Errorf("switch %d: device = %q, want %q", i, s.DeviceID, id)
		}
		if s.Generation != i+1 {
			t.Errorf("switch %d: generation = %d", i, s.Generation)
		}
	}
}

func TestSwitchDevice_TogglesFacing(t *testing.T) {
	d := &fakeDriver{devices: []Device{{ID: "only"}}}
	m := newTestManager(d, Options{Facing: FacingFront})
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.SwitchDevice(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := m.Session(); s.Facing != FacingBack || s.DeviceID != "" {
		t.Errorf("session = %+v, want back facing", s)
	}
	if err := m.SwitchDevice(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := m.Session(); s.Facing != FacingFront {
		t.Errorf("facing = %q, want front", s.Facing)
	}
	if !d.streams[0].closed || !d.streams[1].closed {
		t.Error("previous streams must be released on switch")
	}
}

func TestRetry_ReportsDeviceInUse(t *testing.T) {
	busy := fmt.Errorf("open /dev/video0: %w", syscall.EBUSY)
	d := &fakeDriver{devices: []Device{{ID: "a"}, {ID: "b"}}}
	m := newTestManager(d, Options{DeviceID: "b"})
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	d.openErrs = []error{busy}

	err := m.Retry(context.Background())
	var ae *AcquisitionError
	if !errors.As(err, &ae) || ae.Kind != KindDeviceInUse {
		t.Fatalf("err = %v, want device in use", err)
	}
	s := m.Session()
	if s.Generation != 0 || s.DeviceID != "b" {
		t.Errorf("session = %+v, busy probe must not reset preference", s)
	}
	if s.Active {
		t.Error("stream must stay released")
	}
}

func TestRetry_ResetsToDefaults(t *testing.T) {
	d := &fakeDriver{devices: []Device{{ID: "a"}, {ID: "b"}}}
	m := newTestManager(d, Options{DeviceID: "b"})
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.Retry(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := m.Session()
	if s.DeviceID != "" || s.Facing != FacingFront || s.Generation != 1 || !s.Active {
		t.Errorf("session = %+v", s)
	}
	// acquire, probe, acquire
	if len(d.streams) != 3 || !d.streams[1].closed {
		t.Errorf("expected throwaway probe stream to be closed")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"errno busy", &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EBUSY}, KindDeviceInUse},
		{"errno access", &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}, KindPermissionDenied},
		{"errno missing", &os.PathError{Op: "open", Path: "/dev/video9", Err: syscall.ENOENT}, KindDeviceNotFound},
		{"unsupported", fmt.Errorf("probe: %w", ErrUnsupported), KindUnsupported},
		{"readable name", errors.New("NotReadableError: Could not start video source"), KindDeviceInUse},
		{"not allowed name", errors.New("NotAllowedError: Permission denied"), KindPermissionDenied},
		{"not found name", errors.New("NotFoundError: Requested device not found"), KindDeviceNotFound},
		{"not implemented", errors.New("getUserMedia is not implemented in this browser"), KindUnsupported},
		{"other", errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err).Kind; got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify_DistinctKeys(t *testing.T) {
	keys := map[string]bool{}
	for _, k := range []ErrorKind{KindPermissionDenied, KindDeviceNotFound, KindDeviceInUse, KindUnsupported, KindUnknown} {
		if keys[k.Key()] {
			t.Fatalf("duplicate key %q", k.Key())
		}
		keys[k.Key()] = true
	}
	if Classify(nil) != nil {
		t.Error("nil error should classify to nil")
	}
}

func TestEncodeJPEG_Downscales(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	for y := 0; y < 720; y += 10 {
		for x := 0; x < 1280; x += 10 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}

	data, err := EncodeJPEG(img, 640, 60)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 640 || b.Dy() != 360 {
		t.Errorf("decoded size = %v, want 640x360", b)
	}
}

func TestEncodeJPEG_RejectsEmpty(t *testing.T) {
	if _, err := EncodeJPEG(nil, 0, 60); err == nil {
		t.Error("expected error for nil image")
	}
	if _, err := EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 0, 0)), 0, 60); err == nil {
		t.Error("expected error for empty image")
	}
}
