package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/groqchat/internal/config"
	"github.com/comigor/groqchat/internal/conversation"
	"github.com/comigor/groqchat/internal/history"
	"github.com/comigor/groqchat/internal/llm"
	"github.com/comigor/groqchat/internal/logger"
	"github.com/comigor/groqchat/internal/server"
)

func main() {
	if err := run(); err != nil {
		logger.L.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Log.Level)

	// Completion provider
	completer := llm.NewCompleter(llm.NewClient(cfg.LLM), cfg.LLM)

	opts := []conversation.Option{conversation.WithTimeout(cfg.LLM.Timeout)}
	if cfg.History.DBPath != "" {
		journal, err := history.Open(cfg.History.DBPath)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts = append(opts, conversation.WithRecorder(journal))
	}

	store := conversation.NewStore(cfg.LLM.SystemPrompt)
	svc := conversation.NewService(store, completer, opts...)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: server.New(svc, cfg.Server.CORSOrigin),
		// Replies are only written once the whole completion has arrived.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", srv.Addr, "model", cfg.LLM.Model, "cors_origin", cfg.Server.CORSOrigin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L.Info("shutting down", "conversations", store.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
