// Package health answers load-balancer health checks for a node, reporting
// healthy unconditionally during a startup grace window.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fly-io/clusterops/pkg/metrics"
)

// DefaultActivationOffset is the grace window after startup.
const DefaultActivationOffset = 10 * time.Minute

// Server is an http.Handler answering every path and method.
type Server struct {
	tester   Tester
	deadline time.Time

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// NewServer creates a Server that is always healthy before deadline.
func NewServer(tester Tester, deadline time.Time) *Server {
	return &Server{tester: tester, deadline: deadline, Now: time.Now}
}

// Healthy evaluates the tester unless still inside the grace window.
func (s *Server) Healthy(ctx context.Context) bool {
	if s.Now().Before(s.deadline) {
		return true
	}
	return s.tester.Test(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Info("health_request", "remote_addr", r.RemoteAddr, "path", r.URL.Path)

	w.Header().Set("Content-type", "text/html")
	if s.Healthy(r.Context()) {
		metrics.HealthProbes.WithLabelValues("healthy").Inc()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}

	metrics.HealthProbes.WithLabelValues("unhealthy").Inc()
	slog.Info("health_unhealthy")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte("FAILED"))
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http_listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("http_shutdown", "addr", addr)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
