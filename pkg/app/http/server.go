package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/config"
)

const defaultShutdownTimeout = 30 * time.Second

// ServeAndWait serves handler until ctx is canceled or the listener fails,
// then shuts down gracefully within the configured timeout. A listener
// failure is returned after the shutdown attempt.
func ServeAndWait(ctx context.Context, handler http.Handler, logger *zap.Logger, cfg *config.ServerConfig) error {
	if handler == nil || cfg == nil {
		return errors.New("server needs a handler and a config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var failed error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case failed = <-serveErr:
		logger.Error("HTTP server error", zap.Error(failed))
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if failed != nil {
		return fmt.Errorf("http server failed: %w", failed)
	}
	logger.Info("HTTP server stopped")
	return nil
}
