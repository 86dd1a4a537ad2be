package attendance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"attendkiosk/internal/feedback"
)

// EventStore persists journal rows.
type EventStore interface {
	InsertEvent(ctx context.Context, evt Event) (Event, error)
}

// Archiver stores an image and returns its URL.
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte) (string, error)
}

// JournalOptions configure notification rendering.
type JournalOptions struct {
	Template     string
	Organization string
	Location     *time.Location
}

// Journal records kiosk events on the worker side.
type Journal struct {
	store    EventStore
	archiver Archiver
	opts     JournalOptions
	log      logrus.FieldLogger
}

// NewJournal creates a journal. store and archiver may be nil.
func NewJournal(store EventStore, archiver Archiver, opts JournalOptions, log logrus.FieldLogger) *Journal {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Journal{store: store, archiver: archiver, opts: opts, log: log.WithField("component", "journal")}
}

// Record archives the snapshot, renders the notification text and stores the event.
// Archive failures are logged and do not block the insert.
func (j *Journal) Record(ctx context.Context, evt Event) (Event, error) {
	if evt.Key == "" {
		return Event{}, errors.New("event key required")
	}
	l := j.log.WithFields(logrus.Fields{"event_id": evt.ID, "key": evt.Key})

	if len(evt.Snapshot) > 0 && j.archiver != nil && evt.SnapshotURL == "" {
		url, err := j.archiver.Archive(ctx, "unrecognized-"+evt.ID+".jpg", evt.Snapshot)
		if err != nil {
			l.WithError(err).Warn("snapshot archive failed")
		} else {
			evt.SnapshotURL = url
		}
	}
	evt.Snapshot = nil

	if j.opts.Template != "" && evt.Marked() {
		evt.Notification = feedback.StripHTML(feedback.Render(j.opts.Template, j.templateData(evt)))
	}

	if j.store == nil {
		l.Info("event recorded (no journal store)")
		return evt, nil
	}
	saved, err := j.store.InsertEvent(ctx, evt)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	l.Info("event journaled")
	return saved, nil
}

func (j *Journal) templateData(evt Event) map[string]string {
	at := evt.OccurredAt.In(j.opts.Location)
	data := map[string]string{
		"name":         evt.EmployeeName,
		"status":       evt.Status,
		"organization": j.opts.Organization,
		"date":         at.Format("02/01/2006"),
		"time":         at.Format("03:04:05 pm"),
		"in_time":      FormatTimeOfDay(evt.InTime, j.opts.Location),
		"out_time":     FormatTimeOfDay(evt.OutTime, j.opts.Location),
	}
	if h, ok := hoursBetween(evt.InTime, evt.OutTime, j.opts.Location); ok {
		data["total_hours"] = strconv.FormatFloat(h, 'f', 1, 64)
	}
	return data
}

func hoursBetween(in, out string, loc *time.Location) (float64, bool) {
	a, okA := parseServerTime(in, loc)
	b, okB := parseServerTime(out, loc)
	if !okA || !okB || b.Before(a) {
		return 0, false
	}
	return b.Sub(a).Hours(), true
}
