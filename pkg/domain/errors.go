package domain

import (
	"errors"
)

// Common domain errors
var (
	// ErrClientNotFound is returned when a connection is not found
	ErrClientNotFound = errors.New("client not found")

	// ErrClientAlreadyExists is returned when registering a connection id twice
	ErrClientAlreadyExists = errors.New("client already exists")

	// ErrInvalidMessage is returned when a frame is malformed
	ErrInvalidMessage = errors.New("invalid message")

	// ErrEmptyIdentity is returned when binding a blank username
	ErrEmptyIdentity = errors.New("empty identity")

	// ErrEmptyConnectionID is returned when binding a blank connection id
	ErrEmptyConnectionID = errors.New("empty connection id")

	// ErrHubStopped is returned when using a hub that has been stopped
	ErrHubStopped = errors.New("hub stopped")

	// ErrConnectionClosed is returned when using a closed connection
	ErrConnectionClosed = errors.New("connection closed")
)
