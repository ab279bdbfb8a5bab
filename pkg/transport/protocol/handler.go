package protocol

import (
	"context"

	"github.com/finchsocial/finch/pkg/domain"
)

// Handler defines the interface for handling relay events
type Handler interface {
	// Handle processes an event and optionally returns a response frame
	// for the originating connection
	Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	// CanHandle checks if the handler handles a specific event type
	CanHandle(event domain.EventType) bool
}

// HandlerRegistry manages event handlers
type HandlerRegistry interface {
	// Register registers a handler for an event type
	Register(event domain.EventType, handler Handler)

	// Get retrieves a handler for an event type
	Get(event domain.EventType) (Handler, bool)

	// Handle routes an event to the appropriate handler
	Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error)
}

// DefaultHandlerRegistry is the default implementation of HandlerRegistry
type DefaultHandlerRegistry struct {
	handlers map[domain.EventType]Handler
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *DefaultHandlerRegistry {
	return &DefaultHandlerRegistry{
		handlers: make(map[domain.EventType]Handler),
	}
}

// Register implements HandlerRegistry
func (r *DefaultHandlerRegistry) Register(event domain.EventType, handler Handler) {
	r.handlers[event] = handler
}

// Get implements HandlerRegistry
func (r *DefaultHandlerRegistry) Get(event domain.EventType) (Handler, bool) {
	handler, ok := r.handlers[event]
	return handler, ok
}

// Handle implements HandlerRegistry
func (r *DefaultHandlerRegistry) Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	handler, ok := r.Get(msg.Type)
	if !ok {
		return nil, domain.ErrInvalidMessage
	}

	return handler.Handle(ctx, msg)
}
