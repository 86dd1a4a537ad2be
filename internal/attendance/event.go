package attendance

import (
	"strings"
	"time"
)

// Event is one kiosk submission outcome, published to the queue and journaled by the worker.
type Event struct {
	ID           string    `json:"id"`
	KioskID      string    `json:"kiosk_id"`
	Key          string    `json:"key"`
	Status       string    `json:"status,omitempty"`
	EmployeeName string    `json:"employee_name,omitempty"`
	InTime       string    `json:"in_time,omitempty"`
	OutTime      string    `json:"out_time,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Message      string    `json:"message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
	Snapshot     []byte    `json:"snapshot,omitempty"`
	SnapshotURL  string    `json:"snapshot_url,omitempty"`
	Notification string    `json:"notification,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Marked reports whether the endpoint accepted the mark.
func (e Event) Marked() bool {
	return strings.HasPrefix(e.Key, "result_")
}

// Unrecognized reports whether the face was rejected as not registered.
func (e Event) Unrecognized() bool {
	return e.Key == "submit_unauthorized"
}
