package domain

import (
	"encoding/json"
	"time"
)

// EventType is the name of a relay event as it appears on the wire
type EventType string

const (
	EventIdentityAnnounce    EventType = "identity.announce"
	EventNotificationSend    EventType = "notification.send"
	EventNotificationReceive EventType = "notification.receive"
	EventChatSend            EventType = "chat.send"
	EventChatReceive         EventType = "chat.receive"
	EventPresenceQuery       EventType = "presence.query"
	EventPresenceSnapshot    EventType = "presence.snapshot"
	EventCallOffer           EventType = "call.offer"
	EventCallIncoming        EventType = "call.incoming"
	EventCallAnswer          EventType = "call.answer"
	EventCallAccepted        EventType = "call.accepted"
	EventCallDecline         EventType = "call.decline"
	EventCallDeclined        EventType = "call.declined"
	EventCallCancel          EventType = "call.cancel"
	EventCallCanceled        EventType = "call.canceled"
	EventCallEnded           EventType = "call.ended"
	EventError               EventType = "error"
)

// Message is the wire frame: an event name plus its payload
type Message struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NotificationType for chat-triggered notifications
const NotificationTypeMessage = "MESSAGE"

// Participant identifies one side of a chat message
type Participant struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username" validate:"required"`
}

// AnnouncePayload binds the announcing connection to a username
type AnnouncePayload struct {
	Username string `json:"username" validate:"required"`
}

// NotificationSendPayload asks the relay to notify a user about an action
type NotificationSendPayload struct {
	Type         string `json:"type" validate:"required"`
	SenderName   string `json:"senderName" validate:"required"`
	ReceiverName string `json:"receiverName" validate:"required"`
}

// NotificationReceivePayload is emitted to the notified user only
type NotificationReceivePayload struct {
	SenderName string `json:"senderName"`
	Type       string `json:"type"`
}

// ChatSendPayload carries a direct message to be persisted and relayed
type ChatSendPayload struct {
	Sender   Participant `json:"sender" validate:"required"`
	Receiver Participant `json:"receiver" validate:"required"`
	Message  string      `json:"message" validate:"required"`
}

// PresenceEntry is one bound identity in a presence snapshot
type PresenceEntry struct {
	Username string `json:"username"`
}

// PresenceSnapshotPayload is the point-in-time list of reachable
// identities, ordered by username. The frame payload is the list
// itself, not an envelope around it.
type PresenceSnapshotPayload []PresenceEntry

// CallOfferPayload initiates a call toward an identity. The signal
// payload is opaque to the relay and forwarded verbatim.
type CallOfferPayload struct {
	ToUsername    string          `json:"toUsername" validate:"required"`
	FromUsername  string          `json:"fromUsername" validate:"required"`
	SignalPayload json.RawMessage `json:"signalPayload"`
}

// CallIncomingPayload is delivered to the callee. FromConnectionID lets
// the callee answer or decline without a presence lookup.
type CallIncomingPayload struct {
	Signal           json.RawMessage `json:"signal"`
	FromConnectionID string          `json:"fromConnectionId"`
	FromUsername     string          `json:"fromUsername"`
}

// CallAnswerPayload accepts a call, addressed straight back at the
// offering connection.
type CallAnswerPayload struct {
	ToConnectionID string          `json:"toConnectionId" validate:"required"`
	SignalPayload  json.RawMessage `json:"signalPayload"`
}

// CallAcceptedPayload is delivered to the original caller
type CallAcceptedPayload struct {
	Signal json.RawMessage `json:"signal"`
}

// CallDeclinePayload rejects a call, addressed by connection id
type CallDeclinePayload struct {
	ToConnectionID string `json:"toConnectionId" validate:"required"`
}

// CallCancelPayload withdraws an offer before it was answered,
// addressed by identity.
type CallCancelPayload struct {
	ToUsername string `json:"toUsername" validate:"required"`
}

// ErrorPayload reports a failed send back to the originating connection
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
