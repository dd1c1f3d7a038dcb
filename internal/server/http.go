package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/ringsock/internal/health"
	"github.com/MrWong99/ringsock/internal/observe"
)

// HTTPConfig wires the HTTP endpoints.
type HTTPConfig struct {
	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// Stats returns the JSON body for GET /stats. Optional.
	Stats func() any

	// WebSocket serves GET /ws. Optional.
	WebSocket http.Handler

	// Metrics serves GET /metrics. Defaults to [promhttp.Handler], which
	// exposes the registry the OTel Prometheus exporter writes to.
	Metrics http.Handler

	// Observe instruments every request. Defaults to
	// [observe.DefaultMetrics].
	Observe *observe.Metrics
}

// NewHTTPHandler returns the HTTP mux wrapped in [observe.Middleware].
func NewHTTPHandler(cfg HTTPConfig) http.Handler {
	mux := http.NewServeMux()

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metrics)

	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.Stats != nil {
		mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			if err := json.NewEncoder(w).Encode(cfg.Stats()); err != nil {
				slog.Warn("stats: encode response", "err", err)
			}
		})
	}
	if cfg.WebSocket != nil {
		mux.Handle("GET /ws", cfg.WebSocket)
	}

	m := cfg.Observe
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return observe.Middleware(m)(mux)
}

// ServeHTTP runs handler on ln until ctx is cancelled, then shuts the server
// down gracefully within timeout. Request contexts derive from ctx so
// long-lived websocket sessions end with it.
func ServeHTTP(ctx context.Context, ln net.Listener, handler http.Handler, timeout time.Duration) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
