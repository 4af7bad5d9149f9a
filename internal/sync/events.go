package sync

import (
	"context"

	"github.com/christoffer/readtracker-sub001/internal/model"
)

// EventType discriminates the events a sync pass produces.
type EventType int

const (
	// EventStarted is sent once, before any work.
	EventStarted EventType = iota
	// EventProgress carries a human-readable message and a completion
	// fraction in [0, 1].
	EventProgress
	// EventReadingUpdated carries a reading after it was created or updated
	// by a pull.
	EventReadingUpdated
	// EventReadingDeleted carries the local id of a reading that was just
	// removed.
	EventReadingDeleted
	// EventDone is the terminal event of a successful pass.
	EventDone
	// EventFailed is the terminal event of a failed pass. StatusCode is the
	// remote status code when the failure carried one, else 0.
	EventFailed
)

// Event is one progress notification from the sync worker. Events are
// delivered to the consumer in the exact order they were produced; a pass
// emits exactly one terminal event (EventDone or EventFailed).
type Event struct {
	Type     EventType
	Message  string
	Fraction float64

	Reading   *model.Reading
	ReadingID int64

	StatusCode int
}

// reporter serialises events onto an optional channel. A nil channel makes
// every emit a no-op, so components never need to check for a consumer.
type reporter struct {
	ch chan<- Event
}

func (r *reporter) emit(ctx context.Context, ev Event) {
	if r == nil || r.ch == nil {
		return
	}
	select {
	case r.ch <- ev:
	case <-ctx.Done():
	}
}

func (r *reporter) progress(ctx context.Context, message string, fraction float64) {
	r.emit(ctx, Event{Type: EventProgress, Message: message, Fraction: fraction})
}

func (r *reporter) readingUpdated(ctx context.Context, reading *model.Reading) {
	r.emit(ctx, Event{Type: EventReadingUpdated, Reading: reading})
}

func (r *reporter) readingDeleted(ctx context.Context, id int64) {
	r.emit(ctx, Event{Type: EventReadingDeleted, ReadingID: id})
}
