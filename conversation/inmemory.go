package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweetpotato0/shopchat/message"
)

// InMemoryStore keeps conversation logs in process memory. Useful for tests
// and single-node development setups.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]*message.Turn
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns: make(map[string][]*message.Turn),
	}
}

// Append adds a turn to the conversation's log.
func (s *InMemoryStore) Append(ctx context.Context, conversationID string, turn *message.Turn) error {
	if turn == nil {
		return fmt.Errorf("turn cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[conversationID] = append(s.turns[conversationID], message.Clone(turn))
	return nil
}

// Read returns the conversation's turns in insertion order.
func (s *InMemoryStore) Read(ctx context.Context, conversationID string) ([]*message.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return message.CloneTurns(s.turns[conversationID]), nil
}

// Ping always succeeds for the in-memory store.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
