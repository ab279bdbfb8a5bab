package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finchsocial/finch/pkg/domain"
)

func Test_Chat_Delivers_To_Online_Receiver_Without_Echo(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connA := f.connect(t, "alice")
	connB := f.connect(t, "bob")

	// When alice messages bob from her own connection
	f.route(t, connA, domain.EventChatSend, domain.ChatSendPayload{
		Sender:   domain.Participant{Username: "alice"},
		Receiver: domain.Participant{Username: "bob"},
		Message:  "hi",
	})

	// Then exactly one durable record and one chat frame for bob
	req.Equal(1, f.store.persistCount())

	received := connB.received(domain.EventChatReceive)
	req.Len(received, 1)

	var msg struct {
		Sender   domain.Participant `json:"sender"`
		Receiver domain.Participant `json:"receiver"`
		Body     string             `json:"body"`
	}
	req.NoError(json.Unmarshal(received[0].Data, &msg))
	req.Equal("alice", msg.Sender.Username)
	req.Equal("bob", msg.Receiver.Username)
	req.Equal("hi", msg.Body)

	// And bob is notified about the new message
	notifications := connB.received(domain.EventNotificationReceive)
	req.Len(notifications, 1)

	var notification domain.NotificationReceivePayload
	req.NoError(json.Unmarshal(notifications[0].Data, &notification))
	req.Equal("alice", notification.SenderName)
	req.Equal(domain.NotificationTypeMessage, notification.Type)

	// And no echo back to the origin connection
	req.Zero(connA.frameCount())
}

func Test_Chat_Persists_When_Receiver_Offline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connA := f.connect(t, "alice")

	// When alice messages an offline bob
	f.route(t, connA, domain.EventChatSend, domain.ChatSendPayload{
		Sender:   domain.Participant{Username: "alice"},
		Receiver: domain.Participant{Username: "bob"},
		Message:  "you there?",
	})

	// Then the message is persisted exactly once and no frame is
	// emitted anywhere, not even an error
	req.Equal(1, f.store.persistCount())
	req.Zero(connA.frameCount())
}

func Test_Chat_Echoes_To_Senders_Live_Connection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given alice announced on an old connection, then reconnected
	connOld := f.connect(t, "alice")
	connNew := f.connect(t, "alice")

	// When a message arrives on the orphaned old connection
	f.route(t, connOld, domain.EventChatSend, domain.ChatSendPayload{
		Sender:   domain.Participant{Username: "alice"},
		Receiver: domain.Participant{Username: "bob"},
		Message:  "from my other tab",
	})

	// Then the copy goes to the currently resolved connection
	req.Len(connNew.received(domain.EventChatReceive), 1)
	req.Zero(connOld.frameCount())
}

func Test_Chat_Persistence_Failure_Surfaces_And_Blocks_Delivery(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.store.fail = true

	connA := f.connect(t, "alice")
	connB := f.connect(t, "bob")

	_, err := f.routeErr(connA, domain.EventChatSend, domain.ChatSendPayload{
		Sender:   domain.Participant{Username: "alice"},
		Receiver: domain.Participant{Username: "bob"},
		Message:  "hi",
	})

	// Then the failure surfaces to the caller and nothing was delivered
	req.Error(err)
	req.Equal(1, f.store.persistCount())
	req.Zero(connB.frameCount())
}

func Test_Chat_Rejects_Malformed_Payload(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connA := f.connect(t, "alice")

	_, err := f.routeErr(connA, domain.EventChatSend, map[string]string{"message": ""})

	// Then the event is rejected before any state mutation
	req.Error(err)
	req.Zero(f.store.persistCount())
}

func Test_Announce_Rebind_Makes_Only_Second_Connection_Resolvable(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connFirst := f.connect(t, "alice")
	connSecond := f.connect(t, "alice")

	resolved, ok := f.hub.Resolve("alice")
	req.True(ok)
	req.Equal(connSecond.ID(), resolved)
	req.NotEqual(connFirst.ID(), resolved)
}

func Test_Announce_Mismatching_Token_Subject_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	sink := newFrameSink()
	req.NoError(f.hub.Register(sink))

	data, err := json.Marshal(domain.AnnouncePayload{Username: "mallory"})
	req.NoError(err)

	ctx := domain.WithConnectionID(context.Background(), sink.ID())
	ctx = domain.WithVerifiedIdentity(ctx, "alice")

	_, err = f.router.Handle(ctx, &domain.Message{Type: domain.EventIdentityAnnounce, Data: data})
	req.Error(err)

	_, ok := f.hub.Resolve("mallory")
	req.False(ok)
}

func Test_Notification_Reaches_Receiver_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connA := f.connect(t, "alice")
	connB := f.connect(t, "bob")
	connC := f.connect(t, "clara")

	f.route(t, connA, domain.EventNotificationSend, domain.NotificationSendPayload{
		Type:         "FOLLOW",
		SenderName:   "alice",
		ReceiverName: "bob",
	})

	notifications := connB.received(domain.EventNotificationReceive)
	req.Len(notifications, 1)

	var payload domain.NotificationReceivePayload
	req.NoError(json.Unmarshal(notifications[0].Data, &payload))
	req.Equal("alice", payload.SenderName)
	req.Equal("FOLLOW", payload.Type)

	req.Zero(connA.frameCount())
	req.Zero(connC.frameCount())
}

func Test_Notification_To_Offline_Receiver_Is_Silently_Dropped(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connA := f.connect(t, "alice")

	f.route(t, connA, domain.EventNotificationSend, domain.NotificationSendPayload{
		Type:         "FOLLOW",
		SenderName:   "alice",
		ReceiverName: "nobody",
	})

	// No outbound frames, no error frame to the sender
	req.Zero(connA.frameCount())
}

func Test_Presence_Query_Returns_Sorted_Snapshot(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.connect(t, "clara")
	f.connect(t, "alice")
	connB := f.connect(t, "bob")

	response := f.route(t, connB, domain.EventPresenceQuery, nil)
	req.NotNil(response)
	req.Equal(domain.EventPresenceSnapshot, response.Type)

	// The payload is the ordered list itself, decodable as a bare array
	var snapshot []domain.PresenceEntry
	req.NoError(json.Unmarshal(response.Data, &snapshot))
	req.Equal([]domain.PresenceEntry{
		{Username: "alice"}, {Username: "bob"}, {Username: "clara"},
	}, snapshot)
}

func Test_Call_Offer_Carries_Origin_Connection_And_Signal(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connA := f.connect(t, "alice")
	connB := f.connect(t, "bob")

	signal := json.RawMessage(`{"sdp":"offer-blob"}`)
	f.route(t, connA, domain.EventCallOffer, domain.CallOfferPayload{
		ToUsername:    "bob",
		FromUsername:  "alice",
		SignalPayload: signal,
	})

	incoming := connB.received(domain.EventCallIncoming)
	req.Len(incoming, 1)

	var payload domain.CallIncomingPayload
	req.NoError(json.Unmarshal(incoming[0].Data, &payload))
	req.Equal(connA.ID(), payload.FromConnectionID)
	req.Equal("alice", payload.FromUsername)
	req.JSONEq(string(signal), string(payload.Signal))
}

func Test_Call_Offer_To_Offline_Callee_Emits_Nothing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connA := f.connect(t, "alice")

	f.route(t, connA, domain.EventCallOffer, domain.CallOfferPayload{
		ToUsername:    "bob",
		FromUsername:  "alice",
		SignalPayload: json.RawMessage(`{}`),
	})

	// No call.incoming anywhere, no error raised to alice
	req.Zero(connA.frameCount())
}

func Test_Call_Answer_And_Decline_Address_By_Connection_Id(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connA := f.connect(t, "alice")
	connB := f.connect(t, "bob")

	signal := json.RawMessage(`{"sdp":"answer-blob"}`)
	f.route(t, connB, domain.EventCallAnswer, domain.CallAnswerPayload{
		ToConnectionID: connA.ID(),
		SignalPayload:  signal,
	})

	accepted := connA.received(domain.EventCallAccepted)
	req.Len(accepted, 1)

	var payload domain.CallAcceptedPayload
	req.NoError(json.Unmarshal(accepted[0].Data, &payload))
	req.JSONEq(string(signal), string(payload.Signal))

	f.route(t, connB, domain.EventCallDecline, domain.CallDeclinePayload{
		ToConnectionID: connA.ID(),
	})
	req.Len(connA.received(domain.EventCallDeclined), 1)
}

func Test_Call_Cancel_Resolves_By_Identity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	connA := f.connect(t, "alice")
	connB := f.connect(t, "bob")

	f.route(t, connA, domain.EventCallCancel, domain.CallCancelPayload{ToUsername: "bob"})
	req.Len(connB.received(domain.EventCallCanceled), 1)

	// Cancel toward an offline identity is a silent drop
	f.route(t, connA, domain.EventCallCancel, domain.CallCancelPayload{ToUsername: "nobody"})
	req.Zero(connA.frameCount())
}
