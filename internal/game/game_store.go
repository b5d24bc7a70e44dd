package game

import (
	"sync"
	"time"
)

// Registry is an append-only arena of instances indexed by id. Ids start at 0
// and increase by one per instance; records are never removed.
type Registry struct {
	mu    sync.Mutex
	games []Game
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Create appends a fresh instance and returns its id.
func (s *Registry) Create(now time.Time, rules Rules) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uint64(len(s.games))
	s.games = append(s.games, newGame(id, now, rules))
	return id
}

// at returns the record for id. The pointer is only valid until the next Create;
// callers hold the engine lock for the whole operation.
func (s *Registry) at(id uint64) (*Game, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= uint64(len(s.games)) {
		return nil, false
	}
	return &s.games[id], true
}

// Len returns how many instances were ever created.
func (s *Registry) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}
