package relay

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/errors"
	"github.com/finchsocial/finch/pkg/transport/protocol"
	"github.com/finchsocial/finch/pkg/transport/websocket"
)

// ClientOptions represents relay client options
type ClientOptions struct {
	Logger *logging.Logger
	Token  string
}

// Client is a relay client: it connects, announces an identity and
// exchanges relay events with the server.
type Client struct {
	url     url.URL
	options ClientOptions
	logger  *logging.Logger
	codec   protocol.Codec

	wsClient domain.Client

	handlers   map[domain.EventType]func(msg *domain.Message)
	handlersMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex
}

// NewClient creates a new relay client
func NewClient(serverURL url.URL, options ClientOptions) *Client {
	if options.Logger == nil {
		options.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		url:      serverURL,
		options:  options,
		logger:   options.Logger,
		codec:    protocol.NewJSONCodec(),
		handlers: make(map[domain.EventType]func(msg *domain.Message)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect establishes the connection to the relay server
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.url
	if c.options.Token != "" {
		query := target.Query()
		query.Set("token", c.options.Token)
		target.RawQuery = query.Encode()
	}

	c.logger.Info("connecting to relay", "url", c.url.String())

	conn, _, err := gorillaws.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "DIAL_ERROR", "failed to connect to relay")
	}

	wsClient := websocket.NewClient(xid.New().String(), conn, c.logger, websocket.DefaultConnOptions())
	wsClient.Receive(c.handleFrame)
	wsClient.Start()

	c.wsClient = wsClient

	c.logger.Info("connected to relay")
	return nil
}

// Disconnect closes the connection
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel()

	if c.wsClient != nil {
		return c.wsClient.Close()
	}
	return nil
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.wsClient != nil {
		return c.wsClient.Context().Done()
	}
	return c.ctx.Done()
}

// OnEvent registers a handler for an event type
func (c *Client) OnEvent(event domain.EventType, handler func(msg *domain.Message)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = handler
}

// Announce binds this connection to a username
func (c *Client) Announce(username string) error {
	return c.sendEvent(domain.EventIdentityAnnounce, domain.AnnouncePayload{Username: username})
}

// SendChat sends a direct message
func (c *Client) SendChat(sender, receiver domain.Participant, body string) error {
	return c.sendEvent(domain.EventChatSend, domain.ChatSendPayload{
		Sender:   sender,
		Receiver: receiver,
		Message:  body,
	})
}

// SendNotification asks the relay to notify another user
func (c *Client) SendNotification(notificationType, senderName, receiverName string) error {
	return c.sendEvent(domain.EventNotificationSend, domain.NotificationSendPayload{
		Type:         notificationType,
		SenderName:   senderName,
		ReceiverName: receiverName,
	})
}

// QueryPresence asks for the current online snapshot; the answer
// arrives as a presence.snapshot event.
func (c *Client) QueryPresence() error {
	return c.sendEvent(domain.EventPresenceQuery, nil)
}

// OfferCall starts a call toward an identity
func (c *Client) OfferCall(toUsername, fromUsername string, signal json.RawMessage) error {
	return c.sendEvent(domain.EventCallOffer, domain.CallOfferPayload{
		ToUsername:    toUsername,
		FromUsername:  fromUsername,
		SignalPayload: signal,
	})
}

// AnswerCall accepts an incoming call
func (c *Client) AnswerCall(toConnectionID string, signal json.RawMessage) error {
	return c.sendEvent(domain.EventCallAnswer, domain.CallAnswerPayload{
		ToConnectionID: toConnectionID,
		SignalPayload:  signal,
	})
}

// DeclineCall rejects an incoming call
func (c *Client) DeclineCall(toConnectionID string) error {
	return c.sendEvent(domain.EventCallDecline, domain.CallDeclinePayload{ToConnectionID: toConnectionID})
}

// CancelCall withdraws an offer
func (c *Client) CancelCall(toUsername string) error {
	return c.sendEvent(domain.EventCallCancel, domain.CallCancelPayload{ToUsername: toUsername})
}

func (c *Client) handleFrame(frame []byte) error {
	msg, err := c.codec.Decode(frame)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return err
	}

	c.handlersMu.RLock()
	handler, exists := c.handlers[msg.Type]
	c.handlersMu.RUnlock()

	if !exists {
		c.logger.Debug("no handler for event", "event", msg.Type)
		return nil
	}

	handler(msg)
	return nil
}

func (c *Client) sendEvent(event domain.EventType, payload any) error {
	c.mu.RLock()
	wsClient := c.wsClient
	c.mu.RUnlock()

	if wsClient == nil {
		return errors.New(errors.ErrorTypeTransport, "NOT_CONNECTED", "not connected to relay")
	}

	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		return err
	}

	frame, err := c.codec.Encode(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to encode frame")
	}

	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()

	return wsClient.Send(ctx, frame)
}
