// Package notify defines the change-notification contract shared by the
// vote ledger, the lifecycle manager and the delivery transports.
package notify

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	PollCreated      = "poll.created"
	PollClosed       = "poll.closed"
	PollDeleted      = "poll.deleted"
	VoteCreated      = "vote.created"
	AnalyticsUpdated = "analytics.updated"
)

// Event is a single change pushed to observers.
type Event struct {
	Type   string    `json:"type"`
	PollID string    `json:"pollId"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

// Filter selects the events a subscriber sees. Zero values match everything.
type Filter struct {
	PollID string
	Types  []string
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	if f.PollID != "" && f.PollID != ev.PollID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber hands out event streams. The returned channel yields events
// until ctx is cancelled and is then closed; it cannot be restarted.
type Subscriber interface {
	Subscribe(ctx context.Context, f Filter) <-chan Event
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
