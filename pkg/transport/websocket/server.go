package websocket

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/finchsocial/finch/internal/eventbus"
	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/auth"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/errors"
	"github.com/finchsocial/finch/pkg/transport/protocol"
)

// EventRouter routes a decoded inbound frame to its handler
type EventRouter interface {
	Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error)
}

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Hub             domain.Hub
	Logger          *logging.Logger
	EventBus        eventbus.Bus
	Router          EventRouter
	Verifier        *auth.Verifier
	Conn            ConnOptions
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithHub sets the hub for the server
func WithHub(hub domain.Hub) ServerOption {
	return func(o *ServerOptions) {
		o.Hub = hub
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithEventBus sets the event bus for the server
func WithEventBus(eventBus eventbus.Bus) ServerOption {
	return func(o *ServerOptions) {
		o.EventBus = eventBus
	}
}

// WithRouter sets the event router for the server
func WithRouter(router EventRouter) ServerOption {
	return func(o *ServerOptions) {
		o.Router = router
	}
}

// WithVerifier enables token verification on the upgrade request
func WithVerifier(verifier *auth.Verifier) ServerOption {
	return func(o *ServerOptions) {
		o.Verifier = verifier
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// Server accepts websocket connections and drives the connection
// lifecycle: anonymous on open, identified after announce, cleaned up
// on close.
type Server struct {
	upgrader   websocket.Upgrader
	hub        domain.Hub
	logger     *logging.Logger
	eventBus   eventbus.Bus
	codec      protocol.Codec
	errHandler errors.Handler
	options    ServerOptions
}

// NewServer creates a new websocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // configure for production
		},
		Conn: DefaultConnOptions(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	server := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		hub:      options.Hub,
		logger:   options.Logger,
		eventBus: options.EventBus,
		codec:    protocol.NewJSONCodec(),
		options:  options,
	}

	if options.Logger != nil {
		server.errHandler = errors.NewDefaultHandler(options.Logger.Logger)
	}

	return server
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Token verification is the narrow interface to the identity
	// service; when disabled the relay trusts announced identities.
	var verifiedSubject string
	if s.options.Verifier != nil {
		identity, err := s.options.Verifier.Verify(r.URL.Query().Get("token"))
		if err != nil {
			s.logger.Warn("rejected unauthenticated upgrade",
				"remote_addr", r.RemoteAddr,
				"error", err,
			)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		verifiedSubject = identity.Subject
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	connectionID := xid.New().String()
	client := NewClient(connectionID, conn, s.logger, s.options.Conn)

	client.Receive(func(frame []byte) error {
		return s.handleFrame(client, verifiedSubject, frame)
	})

	if err := s.hub.Register(client); err != nil {
		s.logger.Error("failed to register client",
			"error", err,
			"connection_id", connectionID,
		)
		client.Close()
		return
	}

	client.Start()

	if s.eventBus != nil {
		s.eventBus.PublishAsync(eventbus.NewEvent(
			eventbus.EventClientConnected,
			"websocket-server",
			map[string]string{
				"connection_id": connectionID,
				"remote_addr":   r.RemoteAddr,
			},
		))
	}

	s.logger.Info("client connected",
		"connection_id", connectionID,
		"remote_addr", r.RemoteAddr,
	)

	// Block until the connection closes, then run lifecycle cleanup:
	// the hub unbinds presence and broadcasts the session-ended signal.
	<-client.Context().Done()

	if err := s.hub.Unregister(connectionID); err != nil && !stderrors.Is(err, domain.ErrClientNotFound) {
		s.logger.Error("failed to unregister client",
			"error", err,
			"connection_id", connectionID,
		)
	}

	if s.eventBus != nil {
		s.eventBus.PublishAsync(eventbus.NewEvent(
			eventbus.EventClientDisconnected,
			"websocket-server",
			map[string]string{"connection_id": connectionID},
		))
	}

	s.logger.Info("client disconnected", "connection_id", connectionID)
}

// handleFrame decodes an inbound frame and routes it. Handler errors
// (malformed payloads, failed persistence) are reported back to the
// originating connection as an error frame; best-effort drops are not
// errors and produce no frame.
func (s *Server) handleFrame(client domain.Client, verifiedSubject string, frame []byte) error {
	ctx := domain.WithConnectionID(context.Background(), client.ID())

	msg, err := s.codec.Decode(frame)
	if err != nil {
		s.handleError(ctx, err)
		return s.sendError(client, err)
	}

	if verifiedSubject != "" {
		ctx = domain.WithVerifiedIdentity(ctx, verifiedSubject)
	}

	if s.options.Router == nil {
		s.logger.Warn("no router configured")
		return nil
	}

	response, err := s.options.Router.Handle(ctx, msg)
	if err != nil {
		s.handleError(ctx, err)
		return s.sendError(client, err)
	}

	if response != nil {
		return s.send(client, response)
	}

	return nil
}

func (s *Server) handleError(ctx context.Context, err error) {
	if s.errHandler != nil {
		s.errHandler.Handle(ctx, err)
	}
}

func (s *Server) send(client domain.Client, msg *domain.Message) error {
	frame, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return client.Send(ctx, frame)
}

func (s *Server) sendError(client domain.Client, cause error) error {
	payload := domain.ErrorPayload{
		Code:    "INTERNAL",
		Message: "request failed",
	}

	var structured *errors.Error
	if stderrors.As(cause, &structured) {
		payload.Code = structured.Code
		payload.Message = structured.Message
	}

	msg, err := protocol.NewMessage(domain.EventError, payload)
	if err != nil {
		return err
	}

	return s.send(client, msg)
}
