package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/auth"
	"chat-relay/directory"
	"chat-relay/domain/event"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/presence"
	"chat-relay/relay"
	"chat-relay/repositories"
	"chat-relay/runtime/workers"
	"chat-relay/search"
	"chat-relay/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const (
	badgerOpenAttempts = 5
	badgerOpenBackoff  = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so deferred cleanup always executes before
// the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	// Another process may still hold the directory lock during a rolling
	// restart, so opening retries with a fixed backoff before giving up.
	db, err := openBadger(config.BadgerFilepath)
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Full-text index (Bluge)
	index, err := search.NewIndex(config.BlugeFilepath)
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = index.Close()
	}()

	// 4. Moderation
	censoredChar, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return err
	}
	censored, err := moderation.LoadCensoredWords()
	if err != nil {
		return fmt.Errorf("censored words loading failed: %w", err)
	}
	moderator, err := moderation.NewModerator(censored.Words, censoredChar)
	if err != nil {
		return fmt.Errorf("moderator setup failed: %w", err)
	}
	log.Info("Moderation ready", "words", len(censored.Words), "languages", censored.Languages)

	// 5. Storage & services
	userRepo := repositories.NewUserRepository(db)
	roomRepo := repositories.NewRoomRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)
	messageRepo := repositories.NewMessageRepository(db, log, config.LimitMessages)

	tokens := auth.NewTokenManager(config.AuthTokenKey, config.AuthTokenDuration)
	authService := services.NewAuthService(userRepo, tokens)
	messageService := services.NewMessageService(messageRepo, roomRepo, userRepo, moderator, log)
	roomDirectory := directory.NewDirectory(roomRepo, membershipRepo, messageRepo, userRepo, log)
	registry := presence.NewRegistry()

	// 6. Router & supervised workers
	events := make(chan event.DomainEvent, config.BufferSize)
	router := relay.NewRouter(
		log, registry, roomDirectory, messageService, userRepo, tokens, index,
		events, config.BufferSize, config.SearchLimit,
	)
	fanout := workers.NewEventFanout(log, events, config.SinkTimeout, search.NewSink(index, log))
	health := workers.NewHealthMonitoringWorker(log, config.MetricInterval)

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(router, fanout, health)

	// 7. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sup.Run(ctx)

	// 8. HTTP server (websocket upgrades + auth endpoints)
	server := relay.NewServer(log, router, authService, config.ConnectionBufferSize)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: server.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting relay server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 9. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 10. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

func openBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)

	var lastErr error
	for attempt := 1; attempt <= badgerOpenAttempts; attempt++ {
		db, err := badger.Open(opts)
		if err == nil {
			return db, nil
		}
		lastErr = err
		if attempt < badgerOpenAttempts {
			time.Sleep(badgerOpenBackoff)
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", badgerOpenAttempts, lastErr)
}
