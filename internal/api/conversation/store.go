package conversation

import (
	"context"
	"sync"

	"github.com/FACorreiaa/haru-planner/internal/types"
)

// entry guards one session. turn serializes message processing; mu guards the
// committed session value so snapshots and cancellation never wait on a turn.
type entry struct {
	turn    chan struct{}
	mu      sync.RWMutex
	session *types.Session
}

func newEntry(s *types.Session) *entry {
	return &entry{turn: make(chan struct{}, 1), session: s}
}

func (e *entry) acquire(ctx context.Context) error {
	select {
	case e.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry) tryAcquire() bool {
	select {
	case e.turn <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *entry) release() { <-e.turn }

func (e *entry) snapshot() *types.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.Clone()
}

// Store holds live sessions in memory.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) put(session *types.Session) *entry {
	e := newEntry(session)
	s.mu.Lock()
	s.entries[session.ID] = e
	s.mu.Unlock()
	return e
}

func (s *Store) get(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// sweep removes every entry for which drop returns true and reports how many
// went.
func (s *Store) sweep(drop func(*types.Session) bool) int {
	s.mu.RLock()
	var victims []string
	for id, e := range s.entries {
		e.mu.RLock()
		if drop(e.session) {
			victims = append(victims, id)
		}
		e.mu.RUnlock()
	}
	s.mu.RUnlock()

	if len(victims) == 0 {
		return 0
	}
	s.mu.Lock()
	for _, id := range victims {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return len(victims)
}
