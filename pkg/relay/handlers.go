package relay

import (
	"context"
	stderrors "errors"

	"github.com/finchsocial/finch/internal/eventbus"
	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/directory"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/errors"
	"github.com/finchsocial/finch/pkg/store"
	"github.com/finchsocial/finch/pkg/transport/protocol"
	"github.com/samber/lo"
)

// AnnounceHandler binds the announcing connection's identity
type AnnounceHandler struct {
	hub    domain.Hub
	logger *logging.Logger
}

// NewAnnounceHandler creates a new announce handler
func NewAnnounceHandler(hub domain.Hub, logger *logging.Logger) *AnnounceHandler {
	return &AnnounceHandler{hub: hub, logger: logger}
}

// Handle implements protocol.Handler
func (h *AnnounceHandler) Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	var payload domain.AnnouncePayload
	if err := protocol.DecodePayload(msg, &payload); err != nil {
		return nil, err
	}

	connectionID, ok := domain.ConnectionIDFromContext(ctx)
	if !ok {
		return nil, errors.New(errors.ErrorTypeInternal, "NO_ORIGIN", "event has no origin connection")
	}

	// With auth enabled a connection may only announce the identity its
	// token was issued for.
	if subject, verified := domain.VerifiedIdentityFromContext(ctx); verified && subject != payload.Username {
		return nil, errors.New(errors.ErrorTypeUnauthorized, "IDENTITY_MISMATCH", "announced identity does not match token subject").
			WithDetails(payload.Username)
	}

	if _, err := h.hub.Announce(connectionID, payload.Username); err != nil {
		if stderrors.Is(err, domain.ErrEmptyIdentity) || stderrors.Is(err, domain.ErrEmptyConnectionID) {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "INVALID_ANNOUNCE", "invalid identity announcement")
		}
		return nil, err
	}

	return nil, nil
}

// CanHandle implements protocol.Handler
func (h *AnnounceHandler) CanHandle(event domain.EventType) bool {
	return event == domain.EventIdentityAnnounce
}

// NotificationHandler relays a notification to its receiver only.
// Fire and forget: an offline receiver is a silent drop.
type NotificationHandler struct {
	hub    domain.Hub
	logger *logging.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(hub domain.Hub, logger *logging.Logger) *NotificationHandler {
	return &NotificationHandler{hub: hub, logger: logger}
}

// Handle implements protocol.Handler
func (h *NotificationHandler) Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	var payload domain.NotificationSendPayload
	if err := protocol.DecodePayload(msg, &payload); err != nil {
		return nil, err
	}

	delivery, err := h.hub.SendEventToIdentity(payload.ReceiverName, domain.EventNotificationReceive,
		domain.NotificationReceivePayload{
			SenderName: payload.SenderName,
			Type:       payload.Type,
		})
	if err != nil {
		return nil, err
	}

	h.logger.Debug("notification routed",
		"sender", payload.SenderName,
		"receiver", payload.ReceiverName,
		"notification_type", payload.Type,
		"delivery", delivery.String(),
	)

	return nil, nil
}

// CanHandle implements protocol.Handler
func (h *NotificationHandler) CanHandle(event domain.EventType) bool {
	return event == domain.EventNotificationSend
}

// ChatHandler is the one handler with a durability guarantee: the
// message is persisted before any delivery, and persistence failure
// surfaces to the sender while an offline receiver does not.
type ChatHandler struct {
	hub      domain.Hub
	store    store.MessageStore
	dir      directory.Directory
	logger   *logging.Logger
	eventBus eventbus.Bus
}

// NewChatHandler creates a new chat handler
func NewChatHandler(hub domain.Hub, messageStore store.MessageStore, dir directory.Directory, logger *logging.Logger, eventBus eventbus.Bus) *ChatHandler {
	return &ChatHandler{
		hub:      hub,
		store:    messageStore,
		dir:      dir,
		logger:   logger,
		eventBus: eventBus,
	}
}

// Handle implements protocol.Handler
func (h *ChatHandler) Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	var payload domain.ChatSendPayload
	if err := protocol.DecodePayload(msg, &payload); err != nil {
		return nil, err
	}

	originID, _ := domain.ConnectionIDFromContext(ctx)

	h.enrich(ctx, &payload.Sender)
	h.enrich(ctx, &payload.Receiver)

	// Durable record first; the ephemeral notifications only follow a
	// successful write.
	stored, err := h.store.Persist(ctx, payload.Sender, payload.Receiver, payload.Message)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "SEND_FAILED", "message was not sent")
	}

	if h.eventBus != nil {
		h.eventBus.PublishAsync(eventbus.NewEvent(eventbus.EventMessagePersisted, "chat-handler", stored).
			WithMetadata("sender", payload.Sender.Username).
			WithMetadata("receiver", payload.Receiver.Username))
	}

	// Echo a copy to the sender's resolved connection, unless that is
	// the connection the message came in on.
	if senderConn, ok := h.hub.Resolve(payload.Sender.Username); ok && senderConn != originID {
		if _, err := h.hub.SendEvent(senderConn, domain.EventChatReceive, stored); err != nil {
			h.logger.Warn("sender echo failed", "error", err)
		}
	}

	receiverConn, ok := h.hub.Resolve(payload.Receiver.Username)
	if !ok {
		h.logger.Debug("receiver offline, message persisted only",
			"sender", payload.Sender.Username,
			"receiver", payload.Receiver.Username,
		)
		return nil, nil
	}

	if _, err := h.hub.SendEvent(receiverConn, domain.EventChatReceive, stored); err != nil {
		h.logger.Warn("receiver delivery failed", "error", err)
	}

	if _, err := h.hub.SendEvent(receiverConn, domain.EventNotificationReceive,
		domain.NotificationReceivePayload{
			SenderName: payload.Sender.Username,
			Type:       domain.NotificationTypeMessage,
		}); err != nil {
		h.logger.Warn("receiver notification failed", "error", err)
	}

	return nil, nil
}

// enrich fills a missing participant id from the user directory.
// Best effort; routing never depends on it.
func (h *ChatHandler) enrich(ctx context.Context, p *domain.Participant) {
	if h.dir == nil || p.ID != "" {
		return
	}

	profile, err := h.dir.Lookup(ctx, p.Username)
	if err != nil {
		return
	}
	p.ID = profile.ID
}

// CanHandle implements protocol.Handler
func (h *ChatHandler) CanHandle(event domain.EventType) bool {
	return event == domain.EventChatSend
}

// PresenceQueryHandler answers the requesting connection with a
// point-in-time snapshot of who is online.
type PresenceQueryHandler struct {
	hub    domain.Hub
	logger *logging.Logger
}

// NewPresenceQueryHandler creates a new presence query handler
func NewPresenceQueryHandler(hub domain.Hub, logger *logging.Logger) *PresenceQueryHandler {
	return &PresenceQueryHandler{hub: hub, logger: logger}
}

// Handle implements protocol.Handler
func (h *PresenceQueryHandler) Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	snapshot := lo.Map(h.hub.Snapshot(), func(username string, _ int) domain.PresenceEntry {
		return domain.PresenceEntry{Username: username}
	})

	return protocol.NewMessage(domain.EventPresenceSnapshot, domain.PresenceSnapshotPayload(snapshot))
}

// CanHandle implements protocol.Handler
func (h *PresenceQueryHandler) CanHandle(event domain.EventType) bool {
	return event == domain.EventPresenceQuery
}

// CallHandler relays call signaling. Every leg is fire and forget:
// signals to unresolved targets are silently dropped and the signal
// payload is forwarded verbatim, never interpreted.
type CallHandler struct {
	hub      domain.Hub
	logger   *logging.Logger
	eventBus eventbus.Bus
}

// NewCallHandler creates a new call signaling handler
func NewCallHandler(hub domain.Hub, logger *logging.Logger, eventBus eventbus.Bus) *CallHandler {
	return &CallHandler{hub: hub, logger: logger, eventBus: eventBus}
}

// Handle implements protocol.Handler
func (h *CallHandler) Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	switch msg.Type {
	case domain.EventCallOffer:
		return nil, h.offer(ctx, msg)
	case domain.EventCallAnswer:
		return nil, h.answer(ctx, msg)
	case domain.EventCallDecline:
		return nil, h.decline(ctx, msg)
	case domain.EventCallCancel:
		return nil, h.cancel(ctx, msg)
	default:
		return nil, domain.ErrInvalidMessage
	}
}

func (h *CallHandler) offer(ctx context.Context, msg *domain.Message) error {
	var payload domain.CallOfferPayload
	if err := protocol.DecodePayload(msg, &payload); err != nil {
		return err
	}

	originID, _ := domain.ConnectionIDFromContext(ctx)

	delivery, err := h.hub.SendEventToIdentity(payload.ToUsername, domain.EventCallIncoming,
		domain.CallIncomingPayload{
			Signal:           payload.SignalPayload,
			FromConnectionID: originID,
			FromUsername:     payload.FromUsername,
		})
	if err != nil {
		return err
	}

	h.observe("offer", payload.FromUsername, payload.ToUsername, delivery)
	return nil
}

func (h *CallHandler) answer(_ context.Context, msg *domain.Message) error {
	var payload domain.CallAnswerPayload
	if err := protocol.DecodePayload(msg, &payload); err != nil {
		return err
	}

	delivery, err := h.hub.SendEvent(payload.ToConnectionID, domain.EventCallAccepted,
		domain.CallAcceptedPayload{Signal: payload.SignalPayload})
	if err != nil {
		return err
	}

	h.observe("answer", "", payload.ToConnectionID, delivery)
	return nil
}

func (h *CallHandler) decline(_ context.Context, msg *domain.Message) error {
	var payload domain.CallDeclinePayload
	if err := protocol.DecodePayload(msg, &payload); err != nil {
		return err
	}

	delivery, err := h.hub.SendEvent(payload.ToConnectionID, domain.EventCallDeclined, nil)
	if err != nil {
		return err
	}

	h.observe("decline", "", payload.ToConnectionID, delivery)
	return nil
}

func (h *CallHandler) cancel(_ context.Context, msg *domain.Message) error {
	var payload domain.CallCancelPayload
	if err := protocol.DecodePayload(msg, &payload); err != nil {
		return err
	}

	delivery, err := h.hub.SendEventToIdentity(payload.ToUsername, domain.EventCallCanceled, nil)
	if err != nil {
		return err
	}

	h.observe("cancel", "", payload.ToUsername, delivery)
	return nil
}

func (h *CallHandler) observe(kind, from, to string, delivery domain.Delivery) {
	h.logger.Debug("call signal routed",
		"kind", kind,
		"from", from,
		"to", to,
		"delivery", delivery.String(),
	)

	if h.eventBus != nil {
		h.eventBus.PublishAsync(eventbus.NewEvent(eventbus.EventCallSignal, "call-handler", nil).
			WithMetadata("kind", kind).
			WithMetadata("delivery", delivery.String()))
	}
}

// CanHandle implements protocol.Handler
func (h *CallHandler) CanHandle(event domain.EventType) bool {
	switch event {
	case domain.EventCallOffer, domain.EventCallAnswer, domain.EventCallDecline, domain.EventCallCancel:
		return true
	default:
		return false
	}
}
