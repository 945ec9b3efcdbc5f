// Package transport is the generic publish/subscribe primitive everything
// else rides on: named broadcast channels carrying tagged JSON payloads, plus
// a row-change feed so sessions can react to inserts on backing tables.
//
// Delivery contract: within one sender, events on one channel arrive in send
// order; nothing is guaranteed across senders. Broadcasts always echo back to
// the sender's own subscription so its UI can confirm delivery; receivers are
// expected to self-filter.
package transport

import (
	"sync"

	"github.com/caretransit/commlink/pkg/internal/models"
)

// SubscriptionBuffer is how many undelivered events a subscriber may lag
// behind before the oldest get dropped. Audio chunks are best-effort, so a
// slow consumer loses sound rather than stalling every other participant.
const SubscriptionBuffer = 256

type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Subscription]struct{}
	watchers map[string]map[*ChangeWatcher]struct{}
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*Subscription]struct{}),
		watchers: make(map[string]map[*ChangeWatcher]struct{}),
	}
}

// Subscription is a single reader of one named channel. It is owned by
// whichever session opened it and must be closed on every exit path.
type Subscription struct {
	hub     *Hub
	channel string
	queue   chan models.Envelope
	once    sync.Once
}

// C delivers broadcasts in per-sender send order.
func (s *Subscription) C() <-chan models.Envelope {
	return s.queue
}

func (s *Subscription) Channel() string {
	return s.channel
}

// Close detaches the subscription and closes its stream. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if subs, ok := s.hub.channels[s.channel]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.hub.channels, s.channel)
			}
		}
		s.hub.mu.Unlock()
		close(s.queue)
	})
}

func (h *Hub) Open(channel string) *Subscription {
	sub := &Subscription{
		hub:     h,
		channel: channel,
		queue:   make(chan models.Envelope, SubscriptionBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Subscription]struct{})
	}
	h.channels[channel][sub] = struct{}{}

	return sub
}

// Broadcast fans the envelope out to every subscriber of the channel, the
// sender's own subscription included.
func (h *Hub) Broadcast(channel string, envelope models.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.channels[channel] {
		select {
		case sub.queue <- envelope:
		default:
			// Drop the oldest so the stream keeps moving for a laggard.
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- envelope:
			default:
			}
		}
	}
}

// CountSubscribers reports how many subscriptions a channel currently has.
func (h *Hub) CountSubscribers(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}
