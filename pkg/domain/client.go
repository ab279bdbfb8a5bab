package domain

import (
	"context"
)

// Client represents one live bidirectional transport session.
// The identity a client announces is tracked by the presence
// registry, not by the client itself; an evicted client stays open
// and remains addressable by connection id.
type Client interface {
	// ID returns the unique connection identifier of the session
	ID() string

	// Send sends a frame to the client
	Send(ctx context.Context, frame []byte) error

	// Receive sets up a frame handler for incoming frames
	Receive(handler FrameHandler) error

	// Close closes the client connection
	Close() error

	// Context is done once the connection is closed
	Context() context.Context
}

// FrameHandler is a function that handles incoming frames
type FrameHandler func(frame []byte) error
