package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/xid"
	"github.com/stretchr/testify/require"

	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/errors"
	"github.com/finchsocial/finch/pkg/store"
)

// frameSink is a domain.Client that records every frame sent to it
type frameSink struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	frames []domain.Message
}

func newFrameSink() *frameSink {
	ctx, cancel := context.WithCancel(context.Background())
	return &frameSink{id: xid.New().String(), ctx: ctx, cancel: cancel}
}

func (s *frameSink) ID() string { return s.id }

func (s *frameSink) Send(_ context.Context, frame []byte) error {
	var msg domain.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return err
	}

	s.mu.Lock()
	s.frames = append(s.frames, msg)
	s.mu.Unlock()
	return nil
}

func (s *frameSink) Receive(domain.FrameHandler) error { return nil }
func (s *frameSink) Close() error                      { s.cancel(); return nil }
func (s *frameSink) Context() context.Context          { return s.ctx }

func (s *frameSink) received(event domain.EventType) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Message
	for _, msg := range s.frames {
		if msg.Type == event {
			matched = append(matched, msg)
		}
	}
	return matched
}

func (s *frameSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// recordingStore counts Persist calls and can be told to fail
type recordingStore struct {
	mu       sync.Mutex
	persists int
	fail     bool
}

func (r *recordingStore) Persist(_ context.Context, sender, receiver domain.Participant, body string) (store.StoredMessage, error) {
	r.mu.Lock()
	r.persists++
	r.mu.Unlock()

	if r.fail {
		return store.StoredMessage{}, errors.New(errors.ErrorTypeStorage, "PERSIST_FAILED", "durable write failed")
	}

	return store.StoredMessage{Sender: sender, Receiver: receiver, Body: body}, nil
}

func (r *recordingStore) History(context.Context, string, string, int) ([]store.StoredMessage, error) {
	return nil, nil
}

func (r *recordingStore) Close() error { return nil }

func (r *recordingStore) persistCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persists
}

type fixture struct {
	hub    *Hub
	router *Router
	store  *recordingStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logging.New(logging.Config{Level: "error"})
	hub := NewHub(logger, nil)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop() })

	recording := &recordingStore{}
	router := NewRouter(hub, recording, nil, logger, nil)

	return &fixture{hub: hub, router: router, store: recording}
}

// connect registers a sink and announces its identity
func (f *fixture) connect(t *testing.T, username string) *frameSink {
	t.Helper()

	sink := newFrameSink()
	require.NoError(t, f.hub.Register(sink))
	if username != "" {
		f.route(t, sink, domain.EventIdentityAnnounce, domain.AnnouncePayload{Username: username})
	}
	return sink
}

func (f *fixture) route(t *testing.T, origin *frameSink, event domain.EventType, payload any) *domain.Message {
	t.Helper()

	response, err := f.routeErr(origin, event, payload)
	require.NoError(t, err)
	return response
}

func (f *fixture) routeErr(origin *frameSink, event domain.EventType, payload any) (*domain.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:   xid.New().String(),
		Type: event,
		Data: data,
	}

	ctx := domain.WithConnectionID(context.Background(), origin.ID())
	return f.router.Handle(ctx, msg)
}
