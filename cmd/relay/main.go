package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"

	"github.com/finchsocial/finch/internal/config"
	"github.com/finchsocial/finch/internal/eventbus"
	"github.com/finchsocial/finch/internal/logging"
	"github.com/finchsocial/finch/pkg/auth"
	"github.com/finchsocial/finch/pkg/directory"
	"github.com/finchsocial/finch/pkg/domain"
	"github.com/finchsocial/finch/pkg/relay"
	"github.com/finchsocial/finch/pkg/store"
	"github.com/finchsocial/finch/pkg/transport/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	messageStore, err := store.Open(store.Options{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	}, logger)
	if err != nil {
		return err
	}
	defer messageStore.Close()

	userDirectory := directory.NewBadgerDirectory(messageStore.DB())

	bus := eventbus.NewInMemoryBus(1024)
	bus.Start(ctx)
	defer bus.Stop()

	bus.SubscribeAll(func(event *eventbus.Event) {
		logger.Debug("relay event",
			"event_type", string(event.Type),
			"source", event.Source,
		)
	})

	hub := relay.NewHub(logger, bus)
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer hub.Stop()

	router := relay.NewRouter(hub, messageStore, userDirectory, logger, bus)

	serverOpts := []websocket.ServerOption{
		websocket.WithHub(hub),
		websocket.WithLogger(logger),
		websocket.WithEventBus(bus),
		websocket.WithRouter(router),
	}

	var verifier *auth.Verifier
	if cfg.Auth.Secret != "" {
		verifier = auth.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
		serverOpts = append(serverOpts, websocket.WithVerifier(verifier))
		logger.Info("token verification enabled", "issuer", cfg.Auth.Issuer)
	} else {
		logger.Warn("token verification disabled, announced identities are trusted")
	}

	wsServer := websocket.NewServer(serverOpts...)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", wsServer.ServeHTTP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		connections := lo.Map(hub.GetClients(), func(client domain.Client, _ int) string {
			return client.ID()
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			domain.HubStats
			Connections []string `json:"connections"`
		}{hub.GetStats(), connections})
	})

	r.Get("/messages/{peer}", messagesHandler(messageStore, verifier))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

// messagesHandler serves conversation history. With verification
// enabled the requester is the token subject; otherwise the requester
// comes from the user query parameter.
func messagesHandler(messageStore store.MessageStore, verifier *auth.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester := r.URL.Query().Get("user")

		if verifier != nil {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			identity, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			requester = identity.Subject
		}

		if requester == "" {
			http.Error(w, "missing user", http.StatusBadRequest)
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		history, err := messageStore.History(r.Context(), requester, chi.URLParam(r, "peer"), limit)
		if err != nil {
			http.Error(w, "failed to read history", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(history)
	}
}
