package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"

	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/relay"
)

func main() {
	addr := flag.String("addr", "localhost:3000", "relay address")
	username := flag.String("user", "", "identity to announce")
	to := flag.String("to", "", "receiver of an optional chat message")
	message := flag.String("message", "", "chat message body")
	token := flag.String("token", "", "auth token, if the relay requires one")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: "info", Format: "pretty"})

	client := relay.NewClient(
		url.URL{Scheme: "ws", Host: *addr, Path: "/ws"},
		relay.ClientOptions{Logger: logger, Token: *token},
	)

	for _, event := range []domain.EventType{
		domain.EventChatReceive,
		domain.EventNotificationReceive,
		domain.EventPresenceSnapshot,
		domain.EventCallIncoming,
		domain.EventCallEnded,
		domain.EventError,
	} {
		event := event
		client.OnEvent(event, func(msg *domain.Message) {
			logger.Info("event received", "event", string(event), "payload", string(msg.Data))
		})
	}

	if err := client.Connect(); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	if err := client.Announce(*username); err != nil {
		logger.Error("announce failed", "error", err)
		os.Exit(1)
	}

	if err := client.QueryPresence(); err != nil {
		logger.Error("presence query failed", "error", err)
	}

	if *to != "" && *message != "" {
		err := client.SendChat(
			domain.Participant{Username: *username},
			domain.Participant{Username: *to},
			*message,
		)
		if err != nil {
			logger.Error("chat send failed", "error", err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case <-interrupt:
		logger.Info("interrupted")
	case <-client.Done():
		logger.Info("connection closed")
	}
}
