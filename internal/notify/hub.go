package notify

import (
	"context"
	"sync"

	"github.com/park285/wagerchess-core/internal/obslog"
	"go.uber.org/zap"
)

// Hub is an in-process fan-out keyed by player. Slow subscribers lose events
// rather than stall the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

type Subscription struct {
	hub      *Hub
	playerID string
	ch       chan Event
	once     sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers for events addressed to playerID. An empty playerID
// receives every event.
func (h *Hub) Subscribe(playerID string) *Subscription {
	s := &Subscription{hub: h, playerID: playerID, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	set := h.subs[playerID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		h.subs[playerID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters and closes the event channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set := h.subs[s.playerID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.playerID)
			}
		}
		h.mu.Unlock()
		close(s.ch)
	})
}

func (h *Hub) Notify(_ context.Context, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.subs[ev.PlayerID], ev)
	if ev.PlayerID != "" {
		h.deliver(h.subs[""], ev)
	}
}

func (h *Hub) deliver(set map[*Subscription]struct{}, ev Event) {
	for s := range set {
		select {
		case s.ch <- ev:
		default:
			obslog.L().Warn("notify_hub_drop", zap.String("player_id", ev.PlayerID), zap.String("kind", string(ev.Kind)))
		}
	}
}

// Subscribers returns the number of live subscriptions for playerID.
func (h *Hub) Subscribers(playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[playerID])
}
