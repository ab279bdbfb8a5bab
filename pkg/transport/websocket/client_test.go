package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/domain"
)

// dialTestClient upgrades against an in-process server that discards
// inbound frames, and returns the connected transport client.
func dialTestClient(t *testing.T) *Client {
	t.Helper()

	upgrader := gorillaws.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	logger := logging.New(logging.Config{Level: "error"})
	client := NewClient("conn-under-test", conn, logger, DefaultConnOptions())
	client.Start()
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func Test_Send_After_Close_Reports_Closed_Connection(t *testing.T) {
	req := require.New(t)
	client := dialTestClient(t)

	req.NoError(client.Close())

	err := client.Send(context.Background(), []byte(`{"type":"presence.query"}`))
	req.ErrorIs(err, domain.ErrConnectionClosed)
}

func Test_Concurrent_Send_And_Close_Does_Not_Panic(t *testing.T) {
	client := dialTestClient(t)

	var wg sync.WaitGroup
	wg.Add(2)

	// A sender hammers the connection while Close lands mid-stream;
	// sends may fail with a closed-connection error but must never
	// crash the process.
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = client.Send(context.Background(), []byte(`{"type":"chat.send"}`))
		}
	}()

	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		_ = client.Close()
	}()

	wg.Wait()
}

func Test_Close_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	client := dialTestClient(t)

	req.NoError(client.Close())
	req.NoError(client.Close())

	select {
	case <-client.Context().Done():
	default:
		t.Fatal("context still open after close")
	}
}
