// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serve implements the long-running serve command.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/areahub/internal/commands/shared"
	"github.com/tombee/areahub/internal/hub"
	internallog "github.com/tombee/areahub/internal/log"
	"github.com/tombee/areahub/internal/tracing"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run pollers and serve metrics until interrupted",
		Long: `Start a change poller for every integration configured with poll: true
and serve /metrics and /healthz on server.metrics_addr. SIGINT or SIGTERM
stops the pollers, waiting for in-flight polls.`,
		Args: cobra.NoArgs,
		RunE: run,
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := shared.LoadConfig(ctx)
	if err != nil {
		return err
	}
	logger := shared.NewLogger(cfg)
	slog.SetDefault(logger)

	version, _, _ := shared.GetVersion()
	provider, err := tracing.Setup(ctx, tracing.Config{
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return shared.NewExecutionError("failed to set up tracing", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", internallog.Error(err))
		}
	}()

	h, err := hub.New(ctx, cfg, hub.Options{
		Logger:         logger,
		TracerProvider: provider.TracerProvider(),
		MeterProvider:  provider.MeterProvider(),
	})
	if err != nil {
		return shared.NewExecutionError("failed to start hub", err)
	}
	defer h.Close()

	ln, err := net.Listen("tcp", cfg.Server.MetricsAddr)
	if err != nil {
		return shared.NewExecutionError("failed to listen", err)
	}
	srv := &http.Server{
		Handler:           internallog.HTTPMiddleware(logger, newMux(h, provider.MetricsHandler())),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := h.StartPollers(ctx); err != nil {
		_ = srv.Close()
		return shared.NewExecutionError("failed to start pollers", err)
	}
	logger.Info("areahub serving",
		slog.String("addr", ln.Addr().String()),
		slog.Any("integrations", h.Integrations()))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		runErr = shared.NewExecutionError("metrics server failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := h.Stop(shutdownCtx); err != nil {
		logger.Warn("pollers did not stop cleanly", internallog.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", internallog.Error(err))
	}
	return runErr
}

type health struct {
	Status       string   `json:"status"`
	Integrations []string `json:"integrations"`
}

func newMux(h *hub.Hub, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(health{Status: "ok", Integrations: h.Integrations()}); err != nil {
			http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
		}
	})
	return mux
}
