package conversation

import "sync"

// Serializer hands out one mutex per conversation id so that at most one turn
// runs per conversation at a time. Entries are created on first use and kept
// for process lifetime; the key space is bounded in practice by the set of
// customers served.
type Serializer struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSerializer() *Serializer {
	return &Serializer{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the conversation's lock is held and returns the
// release function. Acquisition itself never fails.
func (s *Serializer) Acquire(conversationID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Len reports how many conversations have ever been locked. For observability.
func (s *Serializer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
