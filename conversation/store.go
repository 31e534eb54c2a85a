// Package conversation provides the durable append-only turn log backing
// each conversation, with interchangeable storage backends.
package conversation

import (
	"context"

	"github.com/sweetpotato0/shopchat/message"
)

// Store is the durable append-only turn log per conversation id. Turns are
// totally ordered by insertion; a store never reorders them. Conversations
// are created implicitly on first append and never deleted by this core.
type Store interface {
	// Append adds one turn to the end of the conversation's log.
	Append(ctx context.Context, conversationID string, turn *message.Turn) error

	// Read returns the conversation's turns in insertion order. An unknown
	// conversation yields an empty slice, not an error.
	Read(ctx context.Context, conversationID string) ([]*message.Turn, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
