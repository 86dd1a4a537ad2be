package attendance

import (
	"context"
	"fmt"

	"attendkiosk/internal/queue"
)

// Consume records every attendance.marked message from q until ctx ends or
// the queue closes. observe, when set, receives "recorded", "failed" or "skipped".
func (j *Journal) Consume(ctx context.Context, q queue.Queue, observe func(outcome string)) error {
	if observe == nil {
		observe = func(string) {}
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}

	j.log.Info("journal consumer started, waiting for events")
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceMarked {
			j.log.WithField("type", msg.Type).Debug("ignoring message")
			observe("skipped")
			continue
		}
		var evt Event
		if err := msg.Decode(&evt); err != nil {
			j.log.WithError(err).Warn("undecodable event dropped")
			observe("failed")
			continue
		}
		if _, err := j.Record(ctx, evt); err != nil {
			j.log.WithError(err).WithField("event_id", evt.ID).Error("record event failed")
			observe("failed")
			continue
		}
		observe("recorded")
	}
	j.log.Info("journal consumer stopped")
	return ctx.Err()
}
