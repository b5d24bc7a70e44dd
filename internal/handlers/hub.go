package handlers

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/bingo/internal/game"
)

// subscriberBuffer is how many events a slow subscriber may fall behind before
// events are dropped for it.
const subscriberBuffer = 64

// Hub fans game events out to the websocket subscribers of each game.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]map[chan []byte]struct{}
	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]map[chan []byte]struct{}),
		logger: logger,
	}
}

// Subscribe registers a feed for gameID. The returned cancel func must be called
// once the subscriber is gone; it closes the channel.
func (h *Hub) Subscribe(gameID uint64) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	if h.subs[gameID] == nil {
		h.subs[gameID] = make(map[chan []byte]struct{})
	}
	h.subs[gameID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[gameID], ch)
			if len(h.subs[gameID]) == 0 {
				delete(h.subs, gameID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns how many feeds gameID has.
func (h *Hub) Subscribers(gameID uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[gameID])
}

// Broadcast sends ev to every subscriber of its game without blocking.
func (h *Hub) Broadcast(ev game.GameEvent) {
	data := game.EncodeEvent(ev)
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.GameID] {
		select {
		case ch <- data:
		default:
			h.logger.WithFields(logrus.Fields{"game": ev.GameID, "type": ev.Type}).Warn("subscriber too slow, dropped event")
		}
	}
}
