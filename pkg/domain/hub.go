package domain

import (
	"context"
)

// Delivery is the outcome of a best-effort send. There is no
// acknowledgement or retry; a dropped frame means nobody was
// listening at delivery time.
type Delivery int

const (
	// DeliveryDelivered means the frame was handed to a live connection
	DeliveryDelivered Delivery = iota
	// DeliveryDroppedOffline means the recipient had no live connection
	DeliveryDroppedOffline
	// DeliveryFailed means the frame could not be built or encoded;
	// it says nothing about the recipient
	DeliveryFailed
)

// String returns a human readable delivery outcome
func (d Delivery) String() string {
	switch d {
	case DeliveryDelivered:
		return "delivered"
	case DeliveryDroppedOffline:
		return "dropped_offline"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BindResult is the outcome of binding an identity to a connection.
// Binding the same identity from a second connection evicts the prior
// entry (last writer wins); Evicted carries that fact so callers can
// observe it instead of a silent overwrite.
type BindResult struct {
	Identity          string
	ConnectionID      string
	Evicted           bool
	PriorConnectionID string
}

// Hub owns the client table and the presence lifecycle. All registry
// mutation goes through it.
type Hub interface {
	// Start starts the hub
	Start(ctx context.Context) error

	// Stop stops the hub and closes all client connections
	Stop() error

	// Register adds a new anonymous connection
	Register(client Client) error

	// Unregister removes a connection, unbinds its presence entry and
	// broadcasts a session-ended signal to every other connection
	Unregister(connectionID string) error

	// Announce binds an identity to a connection
	Announce(connectionID, username string) (BindResult, error)

	// Resolve returns the live connection id for an identity
	Resolve(username string) (string, bool)

	// Snapshot returns the ordered list of bound identities
	Snapshot() []string

	// SendEvent sends an event frame to a connection, best effort
	SendEvent(connectionID string, event EventType, payload any) (Delivery, error)

	// SendEventToIdentity resolves an identity and sends to it
	SendEventToIdentity(username string, event EventType, payload any) (Delivery, error)

	// BroadcastEvent sends an event frame to every connection except origin.
	// An empty origin broadcasts to everyone.
	BroadcastEvent(originID string, event EventType, payload any) error

	// GetClient retrieves a connection by id
	GetClient(connectionID string) (Client, bool)

	// GetClients returns all live connections
	GetClients() []Client
}

// HubStats provides statistics about the hub
type HubStats struct {
	ConnectedClients int     `json:"connected_clients"`
	BoundIdentities  int     `json:"bound_identities"`
	FramesSent       int64   `json:"frames_sent"`
	FramesDropped    int64   `json:"frames_dropped"`
	Uptime           float64 `json:"uptime_seconds"`
}
