// Package v4l implements camera.Driver on Linux video4linux nodes.
// go4vl enumerates and probes device nodes; OpenCV does the capture.
package v4l

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vladimirvivien/go4vl/device"
	"gocv.io/x/gocv"

	"attendkiosk/internal/camera"
)

// DefaultGlob matches capture nodes on a typical kiosk.
const DefaultGlob = "/dev/video*"

// Driver opens V4L2 capture devices.
type Driver struct {
	Glob string
	Log  logrus.FieldLogger
}

// New returns a driver scanning DefaultGlob.
func New(log logrus.FieldLogger) *Driver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Driver{Glob: DefaultGlob, Log: log.WithField("component", "v4l")}
}

// Enumerate lists nodes that support video capture. Metadata nodes are skipped.
func (d *Driver) Enumerate(ctx context.Context) ([]camera.Device, error) {
	pattern := d.Glob
	if pattern == "" {
		pattern = DefaultGlob
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(paths)

	var out []camera.Device
	for _, p := range paths {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		dev, err := device.Open(p)
		if err != nil {
			d.Log.WithError(err).WithField("path", p).Debug("skipping device")
			continue
		}
		caps := dev.Capability()
		_ = dev.Close()
		if !caps.IsVideoCaptureSupported() {
			continue
		}
		out = append(out, camera.Device{ID: p, Label: caps.Card})
	}
	return out, nil
}

// Open resolves the constraints to a node, probes it with go4vl so errno
// values surface for classification, and starts an OpenCV capture.
func (d *Driver) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	path, err := d.resolve(ctx, c)
	if err != nil {
		return nil, err
	}

	probe, err := device.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	_ = probe.Close()

	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w: %v", path, syscall.EBUSY, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		// the node exists and is accessible, so another process holds it
		return nil, fmt.Errorf("capture %s: %w", path, syscall.EBUSY)
	}
	if c.IdealWidth > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.IdealWidth))
	}
	if c.IdealHeight > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.IdealHeight))
	}
	d.Log.WithField("path", path).Info("capture opened")
	return &stream{vc: vc, mat: gocv.NewMat()}, nil
}

func (d *Driver) resolve(ctx context.Context, c camera.Constraints) (string, error) {
	if c.DeviceID != "" {
		return c.DeviceID, nil
	}
	devs, err := d.Enumerate(ctx)
	if err != nil {
		return "", err
	}
	if len(devs) == 0 {
		return "", fmt.Errorf("no capture device matches %s: %w", d.Glob, syscall.ENOENT)
	}
	if c.Facing == camera.FacingBack {
		return devs[len(devs)-1].ID, nil
	}
	return devs[0].ID, nil
}

type stream struct {
	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (s *stream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc == nil {
		return 0, 0
	}
	return int(s.vc.Get(gocv.VideoCaptureFrameWidth)), int(s.vc.Get(gocv.VideoCaptureFrameHeight))
}

func (s *stream) Grab() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc == nil {
		return nil, camera.ErrNoStream
	}
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, fmt.Errorf("v4l: empty frame")
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("v4l: convert frame: %w", err)
	}
	return img, nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc == nil {
		return nil
	}
	err := s.vc.Close()
	_ = s.mat.Close()
	s.vc = nil
	return err
}
