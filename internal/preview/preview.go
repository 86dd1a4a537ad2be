// Package preview publishes the camera frames as an MJPEG stream with the
// detector's face box drawn on top.
package preview

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/mattn/go-mjpeg"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"attendkiosk/internal/camera"
	"attendkiosk/internal/detect"
)

// Source is the camera side of the preview. *camera.Manager satisfies it.
type Source interface {
	Ready() bool
	Grab() (image.Image, error)
}

// BoxSource reports the box to outline. It may return nil.
type BoxSource func() (box *detect.Box, present bool)

// Options tune the feeder.
type Options struct {
	Interval time.Duration
	MaxWidth int
	Quality  int
}

// Feeder pushes frames into an mjpeg.Stream while somebody is watching.
type Feeder struct {
	stream  *mjpeg.Stream
	source  Source
	boxes   BoxSource
	opts    Options
	watched func(n int)
	log     logrus.FieldLogger
}

// NewFeeder creates a feeder and its stream. watched, when set, receives the viewer count.
func NewFeeder(source Source, boxes BoxSource, opts Options, watched func(int), log logrus.FieldLogger) *Feeder {
	if opts.Interval <= 0 {
		opts.Interval = 200 * time.Millisecond
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Feeder{
		stream:  mjpeg.NewStreamWithInterval(opts.Interval),
		source:  source,
		boxes:   boxes,
		opts:    opts,
		watched: watched,
		log:     log.WithField("component", "preview"),
	}
}

// Stream is the HTTP handler side.
func (f *Feeder) Stream() *mjpeg.Stream {
	return f.stream
}

// Run feeds frames until ctx is done, then closes the stream.
func (f *Feeder) Run(ctx context.Context) {
	t := time.NewTicker(f.opts.Interval)
	defer t.Stop()
	defer f.stream.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n := f.stream.NWatch()
		if f.watched != nil {
			f.watched(n)
		}
		if n == 0 {
			continue
		}
		frame, err := f.Frame()
		if err != nil {
			f.log.WithError(err).Debug("preview frame skipped")
			continue
		}
		if err := f.stream.Update(frame); err != nil {
			return
		}
	}
}

// Frame renders one JPEG preview frame.
func (f *Feeder) Frame() ([]byte, error) {
	if !f.source.Ready() {
		return nil, camera.ErrNoStream
	}
	img, err := f.source.Grab()
	if err != nil {
		return nil, err
	}
	if f.boxes != nil {
		if box, present := f.boxes(); box != nil {
			img = outline(img, *box, present)
		}
	}
	return camera.EncodeJPEG(img, f.opts.MaxWidth, f.opts.Quality)
}

var (
	colorFace  = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	colorGuide = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// outline copies img and strokes the normalized box on it.
func outline(img image.Image, box detect.Box, present bool) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)

	r := image.Rect(
		b.Min.X+int(box.X*float64(b.Dx())),
		b.Min.Y+int(box.Y*float64(b.Dy())),
		b.Min.X+int((box.X+box.Width)*float64(b.Dx())),
		b.Min.Y+int((box.Y+box.Height)*float64(b.Dy())),
	).Intersect(b)
	if r.Empty() {
		return dst
	}

	c := colorGuide
	if present {
		c = colorFace
	}
	fill := image.NewUniform(c)
	const stroke = 3
	for _, edge := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke),
		image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y),
		image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(dst, edge.Intersect(r), fill, image.Point{}, draw.Src)
	}
	return dst
}
