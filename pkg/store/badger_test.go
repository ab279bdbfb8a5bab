package store

import (
	"context"
	"testing"

	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()

	s, err := Open(Options{InMemory: true}, logging.New(logging.Config{Level: "error"}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func Test_Persist_And_Fetch_History(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	alice := domain.Participant{ID: "u1", Username: "alice"}
	bob := domain.Participant{ID: "u2", Username: "bob"}

	// Given three messages exchanged in both directions
	first, err := s.Persist(ctx, alice, bob, "hi")
	req.NoError(err)
	second, err := s.Persist(ctx, bob, alice, "hey")
	req.NoError(err)
	third, err := s.Persist(ctx, alice, bob, "how are you")
	req.NoError(err)

	req.NotEqual(first.ID, second.ID)
	req.False(first.CreatedAt.IsZero())

	// When fetching the conversation from either side
	history, err := s.History(ctx, "alice", "bob", 0)
	req.NoError(err)

	// Then both directions appear, newest first
	req.Len(history, 3)
	req.Equal(third.ID, history[0].ID)
	req.Equal(second.ID, history[1].ID)
	req.Equal(first.ID, history[2].ID)

	reversed, err := s.History(ctx, "bob", "alice", 0)
	req.NoError(err)
	req.Len(reversed, 3)
}

func Test_History_Respects_Limit(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	alice := domain.Participant{Username: "alice"}
	bob := domain.Participant{Username: "bob"}

	for i := 0; i < 5; i++ {
		_, err := s.Persist(ctx, alice, bob, "ping")
		req.NoError(err)
	}

	history, err := s.History(ctx, "alice", "bob", 2)
	req.NoError(err)
	req.Len(history, 2)
}

func Test_History_Is_Scoped_To_The_Pair(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Persist(ctx, domain.Participant{Username: "alice"}, domain.Participant{Username: "bob"}, "for bob")
	req.NoError(err)
	_, err = s.Persist(ctx, domain.Participant{Username: "alice"}, domain.Participant{Username: "clara"}, "for clara")
	req.NoError(err)

	history, err := s.History(ctx, "alice", "bob", 0)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("for bob", history[0].Body)
}

func Test_Persist_Rejects_Blank_Fields(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)

	_, err := s.Persist(context.Background(), domain.Participant{}, domain.Participant{Username: "bob"}, "hi")
	req.Error(err)

	_, err = s.Persist(context.Background(), domain.Participant{Username: "alice"}, domain.Participant{Username: "bob"}, "")
	req.Error(err)
}
