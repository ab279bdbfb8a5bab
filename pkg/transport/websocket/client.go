package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/errors"
)

// Client implements domain.Client over a gorilla websocket connection
type Client struct {
	id       string
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	options  ConnOptions
	sendChan chan []byte
	handler  domain.FrameHandler
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
}

// NewClient creates a new websocket client
func NewClient(id string, conn *websocket.Conn, logger *logging.Logger, options ConnOptions) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		id:       id,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithFields(map[string]any{"connection_id": id}),
		options:  options,
		sendChan: make(chan []byte, options.SendBufferSize),
	}
}

// ID implements domain.Client
func (c *Client) ID() string {
	return c.id
}

// Send implements domain.Client
func (c *Client) Send(ctx context.Context, frame []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return domain.ErrConnectionClosed
	}
	c.mu.RUnlock()

	select {
	case c.sendChan <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return domain.ErrConnectionClosed
	default:
		return errors.New(errors.ErrorTypeTransport, "SEND_BUFFER_FULL", "send buffer is full")
	}
}

// Receive implements domain.Client
func (c *Client) Receive(handler domain.FrameHandler) error {
	c.handler = handler
	return nil
}

// Close implements domain.Client
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Debug("closing connection")

	// The send channel is never closed: a Send racing with Close may
	// still enqueue a frame, which is then simply never read. Closing
	// the channel here would turn that race into a panic.
	c.cancel()

	if err := c.conn.Close(); err != nil {
		c.logger.Debug("error closing websocket connection", "error", err)
	}

	c.wg.Wait()

	return nil
}

// Context implements domain.Client
func (c *Client) Context() context.Context {
	return c.ctx
}

// Start starts the read and write pumps
func (c *Client) Start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// readPump pumps frames from the websocket connection to the handler
func (c *Client) readPump() {
	defer c.wg.Done()
	defer func() {
		// Run Close on its own goroutine: Close waits for both pumps.
		go c.Close()
	}()

	c.conn.SetReadLimit(c.options.MaxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			messageType, frame, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					c.logger.Error("websocket read error", "error", err)
				}
				return
			}

			if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
				continue
			}

			if c.handler != nil {
				if err := c.handler(frame); err != nil {
					c.logger.Warn("frame handler error", "error", err)
				}
			}
		}
	}
}

// writePump pumps frames to the websocket connection
func (c *Client) writePump() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}

			// Drain any queued frames under the same deadline
			n := len(c.sendChan)
			for i := 0; i < n; i++ {
				select {
				case queued := <-c.sendChan:
					if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
						c.logger.Error("websocket write error", "error", err)
						return
					}
				default:
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping error", "error", err)
				return
			}
		}
	}
}
