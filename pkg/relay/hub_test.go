package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/domain"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub(logging.New(logging.Config{Level: "error"}), nil)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop() })

	return hub
}

func Test_Hub_Register_Rejects_Duplicate_Connection(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)

	sink := newFrameSink()
	req.NoError(hub.Register(sink))
	req.ErrorIs(hub.Register(sink), domain.ErrClientAlreadyExists)
}

func Test_Hub_Announce_Requires_A_Registered_Connection(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)

	_, err := hub.Announce("ghost-connection", "alice")
	req.ErrorIs(err, domain.ErrClientNotFound)
}

func Test_Hub_Disconnect_Broadcasts_Session_Ended_To_Others(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)

	connA := newFrameSink()
	connB := newFrameSink()
	connC := newFrameSink()
	for _, sink := range []*frameSink{connA, connB, connC} {
		req.NoError(hub.Register(sink))
	}
	_, err := hub.Announce(connA.ID(), "alice")
	req.NoError(err)

	// When alice disconnects mid-call
	req.NoError(hub.Unregister(connA.ID()))

	// Then every other connection hears exactly one session-ended
	// signal, and alice is no longer resolvable
	req.Len(connB.received(domain.EventCallEnded), 1)
	req.Len(connC.received(domain.EventCallEnded), 1)
	req.Zero(connA.frameCount())

	_, ok := hub.Resolve("alice")
	req.False(ok)
}

func Test_Hub_Unregister_Unknown_Connection(t *testing.T) {
	hub := newTestHub(t)

	require.ErrorIs(t, hub.Unregister("ghost"), domain.ErrClientNotFound)
}

func Test_Hub_SendEventToIdentity_Reports_Offline_Drop(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)

	delivery, err := hub.SendEventToIdentity("nobody", domain.EventNotificationReceive, nil)
	req.NoError(err)
	req.Equal(domain.DeliveryDroppedOffline, delivery)
}

func Test_Hub_SendEvent_Delivers_To_Known_Connection(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)

	sink := newFrameSink()
	req.NoError(hub.Register(sink))

	delivery, err := hub.SendEvent(sink.ID(), domain.EventCallDeclined, nil)
	req.NoError(err)
	req.Equal(domain.DeliveryDelivered, delivery)
	req.Len(sink.received(domain.EventCallDeclined), 1)
}

func Test_Hub_SendEvent_Reports_Failure_For_Unencodable_Payload(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)

	sink := newFrameSink()
	req.NoError(hub.Register(sink))

	// A payload that cannot be marshalled is a build failure, not an
	// offline recipient
	delivery, err := hub.SendEvent(sink.ID(), domain.EventChatReceive, make(chan int))
	req.Error(err)
	req.Equal(domain.DeliveryFailed, delivery)
	req.Zero(sink.frameCount())
}

func Test_Hub_GetClients_Lists_Live_Connections(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)

	connA := newFrameSink()
	connB := newFrameSink()
	req.NoError(hub.Register(connA))
	req.NoError(hub.Register(connB))

	req.Len(hub.GetClients(), 2)

	req.NoError(hub.Unregister(connA.ID()))
	req.Len(hub.GetClients(), 1)
}

func Test_Hub_Stats_Track_Clients_And_Identities(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t)

	connA := newFrameSink()
	connB := newFrameSink()
	req.NoError(hub.Register(connA))
	req.NoError(hub.Register(connB))

	_, err := hub.Announce(connA.ID(), "alice")
	req.NoError(err)

	stats := hub.GetStats()
	req.Equal(2, stats.ConnectedClients)
	req.Equal(1, stats.BoundIdentities)
}
