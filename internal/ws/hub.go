package ws

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/sujalbistaa/pollwave/internal/notify"
)

// subscriberBuffer is how many events a subscriber may lag behind before
// the hub drops it.
const subscriberBuffer = 64

// ErrHubClosed is returned by Publish once Run has returned.
var ErrHubClosed = errors.New("hub closed")

type subscription struct {
	filter notify.Filter
	events chan notify.Event
}

// Hub fans events out to in-process subscribers. A single goroutine (Run)
// owns the subscriber set.
type Hub struct {
	broadcast  chan notify.Event
	register   chan *subscription
	unregister chan *subscription
	done       chan struct{}
	subs       map[*subscription]struct{}
	log        *logrus.Entry
}

func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		broadcast:  make(chan notify.Event, 256),
		register:   make(chan *subscription),
		unregister: make(chan *subscription),
		done:       make(chan struct{}),
		subs:       make(map[*subscription]struct{}),
		log:        log,
	}
}

// Run delivers events until ctx is cancelled, then closes every
// subscriber channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for s := range h.subs {
				close(s.events)
				delete(h.subs, s)
			}
			return
		case s := <-h.register:
			h.subs[s] = struct{}{}
		case s := <-h.unregister:
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.events)
			}
		case ev := <-h.broadcast:
			for s := range h.subs {
				if !s.filter.Match(ev) {
					continue
				}
				select {
				case s.events <- ev:
				default:
					// Slow subscriber: drop it instead of stalling everyone else.
					delete(h.subs, s)
					close(s.events)
					h.log.WithField("poll_id", s.filter.PollID).Warn("dropped slow subscriber")
				}
			}
		}
	}
}

// Publish queues ev for delivery.
func (h *Hub) Publish(ctx context.Context, ev notify.Event) error {
	select {
	case h.broadcast <- ev:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscriber for events matching f. The channel is
// closed when ctx is cancelled, when the hub stops, or when the
// subscriber falls too far behind.
func (h *Hub) Subscribe(ctx context.Context, f notify.Filter) <-chan notify.Event {
	s := &subscription{filter: f, events: make(chan notify.Event, subscriberBuffer)}

	select {
	case h.register <- s:
	case <-h.done:
		close(s.events)
		return s.events
	case <-ctx.Done():
		close(s.events)
		return s.events
	}

	go func() {
		<-ctx.Done()
		select {
		case h.unregister <- s:
		case <-h.done:
		}
	}()
	return s.events
}
