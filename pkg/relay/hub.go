// Package relay is the realtime core: it owns the presence registry,
// the connection lifecycle and the per-event routing rules that turn
// one party's action into another party's notification.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finchsocial/finch/internal/eventbus"
	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/presence"
	"github.com/finchsocial/finch/pkg/transport/protocol"
)

const sendTimeout = 5 * time.Second

// Hub implements domain.Hub. It is the single owner of registry
// mutation; handlers only read presence through it.
type Hub struct {
	clients  sync.Map // map[string]domain.Client
	registry *presence.Registry
	codec    protocol.Codec
	logger   *logging.Logger
	eventBus eventbus.Bus
	ctx      context.Context
	cancel   context.CancelFunc

	framesSent    int64
	framesDropped int64
	startTime     time.Time
}

// NewHub creates a new hub with an empty presence registry
func NewHub(logger *logging.Logger, eventBus eventbus.Bus) *Hub {
	return &Hub{
		registry:  presence.NewRegistry(),
		codec:     protocol.NewJSONCodec(),
		logger:    logger,
		eventBus:  eventBus,
		startTime: time.Now(),
	}
}

// Start implements domain.Hub
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.logger.Info("hub started")
	return nil
}

// Stop implements domain.Hub
func (h *Hub) Stop() error {
	h.logger.Info("stopping hub")

	if h.cancel != nil {
		h.cancel()
	}

	h.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(domain.Client); ok {
			client.Close()
		}
		h.clients.Delete(key)
		return true
	})

	h.logger.Info("hub stopped")
	return nil
}

// Register implements domain.Hub. A fresh connection is anonymous; it
// gets no presence entry until it announces an identity.
func (h *Hub) Register(client domain.Client) error {
	connectionID := client.ID()

	if _, exists := h.clients.LoadOrStore(connectionID, client); exists {
		return domain.ErrClientAlreadyExists
	}

	h.logger.Info("connection registered",
		"connection_id", connectionID,
		"total_clients", h.clientCount(),
	)

	return nil
}

// Unregister implements domain.Hub. Cleanup order matters: the
// presence entry goes first so the departing connection can no longer
// be resolved, then every remaining connection hears the session-ended
// signal used to terminate any in-progress call.
func (h *Hub) Unregister(connectionID string) error {
	value, ok := h.clients.LoadAndDelete(connectionID)
	if !ok {
		return domain.ErrClientNotFound
	}

	if client, ok := value.(domain.Client); ok {
		client.Close()
	}

	if identity, ok := h.registry.Unbind(connectionID); ok {
		h.logger.Info("presence unbound",
			"connection_id", connectionID,
			"identity", identity,
		)
		h.publish(eventbus.EventPresenceUnbound, map[string]string{
			"connection_id": connectionID,
			"identity":      identity,
		})
	}

	if err := h.BroadcastEvent(connectionID, domain.EventCallEnded, nil); err != nil {
		h.logger.Warn("session-ended broadcast failed", "error", err)
	}

	h.logger.Info("connection unregistered",
		"connection_id", connectionID,
		"total_clients", h.clientCount(),
	)

	return nil
}

// Announce implements domain.Hub. Last writer wins: announcing an
// identity already bound elsewhere evicts the prior entry, but the
// evicted transport stays open.
func (h *Hub) Announce(connectionID, username string) (domain.BindResult, error) {
	if _, ok := h.clients.Load(connectionID); !ok {
		return domain.BindResult{}, domain.ErrClientNotFound
	}

	result, err := h.registry.Bind(username, connectionID)
	if err != nil {
		return domain.BindResult{}, err
	}

	if result.Evicted {
		h.logger.Info("presence entry evicted",
			"identity", username,
			"connection_id", connectionID,
			"prior_connection_id", result.PriorConnectionID,
		)
		h.publish(eventbus.EventPresenceEvicted, result)
	} else {
		h.publish(eventbus.EventPresenceBound, result)
	}

	h.logger.Info("identity announced",
		"identity", username,
		"connection_id", connectionID,
	)

	return result, nil
}

// Resolve implements domain.Hub
func (h *Hub) Resolve(username string) (string, bool) {
	return h.registry.Resolve(username)
}

// Snapshot implements domain.Hub
func (h *Hub) Snapshot() []string {
	return h.registry.Snapshot()
}

// SendEvent implements domain.Hub. Fire and forget: an unknown or
// unreachable connection is a drop, not an error.
func (h *Hub) SendEvent(connectionID string, event domain.EventType, payload any) (domain.Delivery, error) {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		return domain.DeliveryFailed, err
	}

	return h.deliver(connectionID, msg)
}

// SendEventToIdentity implements domain.Hub
func (h *Hub) SendEventToIdentity(username string, event domain.EventType, payload any) (domain.Delivery, error) {
	connectionID, ok := h.registry.Resolve(username)
	if !ok {
		atomic.AddInt64(&h.framesDropped, 1)
		h.logger.Debug("recipient offline, dropping event",
			"identity", username,
			"event", event,
		)
		return domain.DeliveryDroppedOffline, nil
	}

	return h.SendEvent(connectionID, event, payload)
}

// BroadcastEvent implements domain.Hub
func (h *Hub) BroadcastEvent(originID string, event domain.EventType, payload any) error {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		return err
	}

	frame, err := h.codec.Encode(msg)
	if err != nil {
		return err
	}

	h.clients.Range(func(key, value interface{}) bool {
		client, ok := value.(domain.Client)
		if !ok || client.ID() == originID {
			return true
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := client.Send(ctx, frame)
		cancel()

		if err != nil {
			h.logger.Warn("broadcast send failed",
				"connection_id", client.ID(),
				"event", event,
				"error", err,
			)
		} else {
			atomic.AddInt64(&h.framesSent, 1)
		}
		return true
	})

	return nil
}

// GetClient implements domain.Hub
func (h *Hub) GetClient(connectionID string) (domain.Client, bool) {
	if value, ok := h.clients.Load(connectionID); ok {
		return value.(domain.Client), true
	}
	return nil, false
}

// GetClients implements domain.Hub
func (h *Hub) GetClients() []domain.Client {
	var clients []domain.Client
	h.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(domain.Client); ok {
			clients = append(clients, client)
		}
		return true
	})
	return clients
}

// GetStats returns hub statistics
func (h *Hub) GetStats() domain.HubStats {
	return domain.HubStats{
		ConnectedClients: h.clientCount(),
		BoundIdentities:  h.registry.Len(),
		FramesSent:       atomic.LoadInt64(&h.framesSent),
		FramesDropped:    atomic.LoadInt64(&h.framesDropped),
		Uptime:           time.Since(h.startTime).Seconds(),
	}
}

func (h *Hub) deliver(connectionID string, msg *domain.Message) (domain.Delivery, error) {
	client, ok := h.GetClient(connectionID)
	if !ok {
		atomic.AddInt64(&h.framesDropped, 1)
		h.logger.Debug("connection gone, dropping event",
			"connection_id", connectionID,
			"event", msg.Type,
		)
		return domain.DeliveryDroppedOffline, nil
	}

	frame, err := h.codec.Encode(msg)
	if err != nil {
		return domain.DeliveryFailed, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := client.Send(ctx, frame); err != nil {
		atomic.AddInt64(&h.framesDropped, 1)
		h.logger.Warn("send failed",
			"connection_id", connectionID,
			"event", msg.Type,
			"error", err,
		)
		return domain.DeliveryDroppedOffline, nil
	}

	atomic.AddInt64(&h.framesSent, 1)
	return domain.DeliveryDelivered, nil
}

func (h *Hub) clientCount() int {
	count := 0
	h.clients.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

func (h *Hub) publish(eventType eventbus.EventType, data interface{}) {
	if h.eventBus != nil {
		h.eventBus.PublishAsync(eventbus.NewEvent(eventType, "hub", data))
	}
}
