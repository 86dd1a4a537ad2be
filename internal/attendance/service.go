// Package attendance turns a presence trigger into one mark request and journals the outcome.
package attendance

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"attendkiosk/internal/camera"
	"attendkiosk/internal/feedback"
	"attendkiosk/internal/geo"
	"attendkiosk/internal/markclient"
)

// FrameGrabber captures the current frame.
type FrameGrabber interface {
	Grab() (image.Image, error)
}

// Marker sends a mark request.
type Marker interface {
	Mark(ctx context.Context, r markclient.MarkRequest) (*markclient.MarkResponse, error)
}

// TokenSource supplies an optional bearer token. An empty token means anonymous.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Outcome keys that do not come from the mark client.
const (
	KeyCaptureFailed     = "capture_failed"
	KeyGeolocationFailed = "geolocation_failed"
)

// ResultTone is the overlay style of a successful mark.
type ResultTone string

const (
	ResultSuccess ResultTone = "success"
	ResultInfo    ResultTone = "info"
)

// Result is the overlay content for an accepted mark.
type Result struct {
	Tone         ResultTone `json:"tone"`
	Status       string     `json:"status"`
	EmployeeName string     `json:"employee_name"`
	Title        string     `json:"title"`
	Subtitle     string     `json:"subtitle"`
	InTime       string     `json:"in_time,omitempty"`
	OutTime      string     `json:"out_time,omitempty"`
}

// Outcome is everything the kiosk needs after one submission attempt.
type Outcome struct {
	Key      string
	At       time.Time
	Result   *Result
	Err      error
	Notice   feedback.Notice
	Cooldown time.Duration
	Position *geo.Position
	Image    []byte
	Response *markclient.MarkResponse
	Latency  time.Duration
}

// OK reports whether the mark was accepted.
func (o Outcome) OK() bool { return o.Result != nil }

// Options tune the submitter.
type Options struct {
	JPEGQuality          int
	MaxWidth             int
	GeoTimeout           time.Duration
	Cooldown             time.Duration
	UnregisteredCooldown time.Duration
	Location             *time.Location
}

// Submitter captures, locates and marks.
type Submitter struct {
	frames  FrameGrabber
	locator geo.Locator
	marker  Marker
	tokens  TokenSource
	catalog *feedback.Catalog
	opts    Options
	now     func() time.Time
	log     logrus.FieldLogger
}

// NewSubmitter wires a submitter. tokens may be nil.
func NewSubmitter(frames FrameGrabber, locator geo.Locator, marker Marker, tokens TokenSource, catalog *feedback.Catalog, opts Options, log logrus.FieldLogger) *Submitter {
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 60
	}
	if opts.GeoTimeout <= 0 {
		opts.GeoTimeout = 10 * time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 4 * time.Second
	}
	if opts.UnregisteredCooldown <= 0 {
		opts.UnregisteredCooldown = 2 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if catalog == nil {
		catalog = feedback.MustDefault()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Submitter{
		frames:  frames,
		locator: geo.WithTimeout(locator, opts.GeoTimeout),
		marker:  marker,
		tokens:  tokens,
		catalog: catalog,
		opts:    opts,
		now:     time.Now,
		log:     log.WithField("component", "submit"),
	}
}

// WithClock overrides the time source.
func (s *Submitter) WithClock(now func() time.Time) *Submitter {
	s.now = now
	return s
}

// Submit performs one attempt. It never panics and always returns an outcome with a cooldown.
func (s *Submitter) Submit(ctx context.Context) Outcome {
	at := s.now()
	out := Outcome{At: at, Cooldown: s.opts.Cooldown}

	var (
		pos     geo.Position
		img     []byte
		geoErr  error
		grabErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pos, geoErr = s.locator.Locate(gctx)
		return geoErr
	})
	g.Go(func() error {
		frame, err := s.frames.Grab()
		if err == nil {
			img, err = camera.EncodeJPEG(frame, s.opts.MaxWidth, s.opts.JPEGQuality)
		}
		grabErr = err
		return err
	})
	_ = g.Wait()

	switch {
	case grabErr != nil:
		s.log.WithError(grabErr).Warn("capture failed")
		return s.fail(out, KeyCaptureFailed, grabErr, nil)
	case geoErr != nil:
		s.log.WithError(geoErr).Warn("geolocation failed, not sending")
		kind := geo.KindUnavailable
		var ge *geo.Error
		if errors.As(geoErr, &ge) {
			kind = ge.Kind
		}
		return s.fail(out, KeyGeolocationFailed, geoErr, map[string]string{"status": kind.String()})
	}
	out.Position = &pos
	out.Image = img

	token := ""
	if s.tokens != nil {
		t, err := s.tokens.Token(ctx)
		if err != nil {
			s.log.WithError(err).Warn("no credential available, submitting anonymously")
		}
		token = t
	}

	// stamped after capture and geolocation finish
	out.At = s.now()
	started := time.Now()
	resp, err := s.marker.Mark(ctx, markclient.MarkRequest{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		At:        out.At,
		Image:     img,
		Token:     token,
	})
	out.Latency = time.Since(started)
	if err != nil {
		return s.submissionFailed(out, err)
	}
	out.Response = resp
	return s.succeed(out, resp)
}

func (s *Submitter) fail(out Outcome, key string, err error, data map[string]string) Outcome {
	out.Key = key
	out.Err = err
	out.Notice = s.catalog.Notice(key, data)
	return out
}

func (s *Submitter) submissionFailed(out Outcome, err error) Outcome {
	var se *markclient.SubmissionError
	if !errors.As(err, &se) {
		se = &markclient.SubmissionError{Kind: markclient.KindNetwork, Err: err}
	}
	out = s.fail(out, se.Kind.Key(), err, nil)

	switch se.Kind {
	case markclient.KindUnauthorized:
		out.Cooldown = s.opts.UnregisteredCooldown
		s.log.Info("face not registered")
	case markclient.KindInvalidRequest, markclient.KindNotFound, markclient.KindServerError, markclient.KindUnexpectedResponse:
		if se.Message != "" {
			out.Notice.Description = se.Message
		}
		s.log.WithError(err).Warn("mark rejected")
	default:
		s.log.WithError(err).Warn("mark request failed")
	}
	return out
}

func (s *Submitter) succeed(out Outcome, resp *markclient.MarkResponse) Outcome {
	r := &Result{Status: resp.Status, EmployeeName: resp.EmployeeName, Tone: ResultSuccess}
	data := map[string]string{"name": resp.EmployeeName, "status": resp.Status}

	switch resp.Status {
	case markclient.StatusCheckedIn:
		r.InTime = orNA(FormatTimeOfDay(resp.InTime, s.opts.Location))
		data["in_time"] = r.InTime
	case markclient.StatusCheckedOut:
		r.OutTime = orNA(FormatTimeOfDay(resp.OutTime, s.opts.Location))
		data["out_time"] = r.OutTime
	case markclient.StatusAlreadyMarked:
		r.Tone = ResultInfo
		if r.EmployeeName == "" {
			r.EmployeeName = "User"
			data["name"] = "User"
		}
	}

	out.Key = "result_" + resp.Status
	out.Notice = s.catalog.Notice(out.Key, data)
	r.Title = out.Notice.Title
	r.Subtitle = out.Notice.Description
	out.Result = r
	s.log.WithFields(logrus.Fields{"status": resp.Status, "employee": r.EmployeeName}).Info("attendance marked")
	return out
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// EventFrom converts an outcome into a journal event. The snapshot is kept only for unrecognized faces.
func EventFrom(kioskID string, o Outcome) Event {
	e := Event{
		KioskID:    kioskID,
		Key:        o.Key,
		OccurredAt: o.At.UTC(),
	}
	if o.Response != nil {
		e.Status = o.Response.Status
		e.EmployeeName = o.Response.EmployeeName
		e.InTime = o.Response.InTime
		e.OutTime = o.Response.OutTime
	}
	if o.Position != nil {
		lat, lon := o.Position.Latitude, o.Position.Longitude
		e.Latitude, e.Longitude = &lat, &lon
	}
	if o.Err != nil {
		e.Message = o.Err.Error()
	}
	if e.Unrecognized() {
		e.Snapshot = o.Image
	}
	return e
}
