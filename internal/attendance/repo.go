package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository persists kiosk events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, kiosk_id, outcome_key, status, employee_name, in_time, out_time, latitude, longitude, message, snapshot_url, notification, occurred_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (Event, error) {
	var evt Event
	var status, name, in, out, msg, url, note sql.NullString
	err := s.Scan(&evt.ID, &evt.KioskID, &evt.Key, &status, &name, &in, &out, &evt.Latitude, &evt.Longitude, &msg, &url, &note, &evt.OccurredAt, &evt.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	evt.Status, evt.EmployeeName = status.String, name.String
	evt.InTime, evt.OutTime = in.String, out.String
	evt.Message, evt.SnapshotURL, evt.Notification = msg.String, url.String, note.String
	return evt, nil
}

// InsertEvent writes a new event. Redelivered events with a known id are returned unchanged.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO kiosk_events (id, kiosk_id, outcome_key, status, employee_name, in_time, out_time, latitude, longitude, message, snapshot_url, notification, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`, evt.ID, evt.KioskID, evt.Key, nullable(evt.Status), nullable(evt.EmployeeName), nullable(evt.InTime), nullable(evt.OutTime),
		evt.Latitude, evt.Longitude, nullable(evt.Message), nullable(evt.SnapshotURL), nullable(evt.Notification), evt.OccurredAt)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.GetEvent(ctx, evt.ID)
		}
		return Event{}, err
	}
	return evt, nil
}

// GetEvent returns a single event by id.
func (r *Repository) GetEvent(ctx context.Context, id string) (Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM kiosk_events WHERE id = $1`, id)
	return scanEvent(row)
}

// AttachSnapshot records where an unrecognized face snapshot was archived.
func (r *Repository) AttachSnapshot(ctx context.Context, id, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE kiosk_events SET snapshot_url = $2 WHERE id = $1`, id, url)
	return err
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	KioskID string
	Key     string
	Since   time.Time
	Limit   int
	Offset  int
}

// ListEvents returns events newest first.
func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + eventColumns + ` FROM kiosk_events`
	args := []any{}
	clauses := []string{}
	if f.KioskID != "" {
		args = append(args, f.KioskID)
		clauses = append(clauses, "kiosk_id = $"+strconv.Itoa(len(args)))
	}
	if f.Key != "" {
		args = append(args, f.Key)
		clauses = append(clauses, "outcome_key = $"+strconv.Itoa(len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		clauses = append(clauses, "occurred_at >= $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
