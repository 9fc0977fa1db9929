package conversation

import (
	"context"
	"errors"
	"sync"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
)

var ErrInvalidConversation = errors.New("conversation id is empty")

// Store is the persistence contract used by the orchestrator. All methods are
// called while holding that conversation's serializer lock, so implementations
// need no cross-call coordination of their own beyond basic map safety.
//
// Load returns an empty history for an unseen conversation, never an error.
// Clear reports whether any state existed; a no-op clear is a success.
type Store interface {
	Load(ctx context.Context, conversationID string) ([]contractx.Message, error)
	Append(ctx context.Context, conversationID string, msgs []contractx.Message) error
	Clear(ctx context.Context, conversationID string) (bool, error)
}

// MemoryStore keeps histories in a process-local map. No durability across
// restarts; callers must treat it as a cache, not a system of record. The
// mutex only protects the map across conversations; per-conversation ordering
// comes from the serializer.
type MemoryStore struct {
	mu        sync.RWMutex
	histories map[string][]contractx.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{histories: make(map[string][]contractx.Message)}
}

func (s *MemoryStore) Load(ctx context.Context, conversationID string) ([]contractx.Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversation
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.histories[conversationID]
	out := make([]contractx.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryStore) Append(ctx context.Context, conversationID string, msgs []contractx.Message) error {
	if conversationID == "" {
		return ErrInvalidConversation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[conversationID] = append(s.histories[conversationID], msgs...)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, conversationID string) (bool, error) {
	if conversationID == "" {
		return false, ErrInvalidConversation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.histories[conversationID]
	delete(s.histories, conversationID)
	return existed, nil
}
