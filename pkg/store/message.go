// Package store is the durable side of the relay: every chat message
// is written here before any delivery is attempted, regardless of
// whether the receiver is reachable.
package store

import (
	"context"
	"time"

	"github.com/finchsocial/finch/pkg/domain"
	"github.com/google/uuid"
)

// StoredMessage is a persisted chat message. Immutable once written.
type StoredMessage struct {
	ID        uuid.UUID          `json:"id"`
	Sender    domain.Participant `json:"sender"`
	Receiver  domain.Participant `json:"receiver"`
	Body      string             `json:"body"`
	CreatedAt time.Time          `json:"createdAt"`
}

// MessageStore persists chat messages and serves conversation history
type MessageStore interface {
	// Persist durably writes a message. It must complete (or fail)
	// before the message is considered sent.
	Persist(ctx context.Context, sender, receiver domain.Participant, body string) (StoredMessage, error)

	// History returns up to limit messages between two identities,
	// newest first.
	History(ctx context.Context, a, b string, limit int) ([]StoredMessage, error)

	// Close releases the underlying database
	Close() error
}
