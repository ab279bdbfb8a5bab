package relay

import (
	"context"

	"github.com/finchsocial/finch/internal/eventbus"
	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/directory"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/store"
	"github.com/finchsocial/finch/pkg/transport/protocol"
)

// Router dispatches inbound relay events to their handlers. It holds
// no state of its own; recipient resolution happens in the handlers
// through the hub.
type Router struct {
	registry *protocol.DefaultHandlerRegistry
	logger   *logging.Logger
}

// NewRouter creates a router with the full relay protocol wired up
func NewRouter(hub domain.Hub, messageStore store.MessageStore, dir directory.Directory, logger *logging.Logger, eventBus eventbus.Bus) *Router {
	registry := protocol.NewHandlerRegistry()

	registry.Register(domain.EventIdentityAnnounce, NewAnnounceHandler(hub, logger))
	registry.Register(domain.EventNotificationSend, NewNotificationHandler(hub, logger))
	registry.Register(domain.EventChatSend, NewChatHandler(hub, messageStore, dir, logger, eventBus))
	registry.Register(domain.EventPresenceQuery, NewPresenceQueryHandler(hub, logger))

	callHandler := NewCallHandler(hub, logger, eventBus)
	registry.Register(domain.EventCallOffer, callHandler)
	registry.Register(domain.EventCallAnswer, callHandler)
	registry.Register(domain.EventCallDecline, callHandler)
	registry.Register(domain.EventCallCancel, callHandler)

	return &Router{
		registry: registry,
		logger:   logger,
	}
}

// Handle implements websocket.EventRouter
func (r *Router) Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	return r.registry.Handle(ctx, msg)
}
