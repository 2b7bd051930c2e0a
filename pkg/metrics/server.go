package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedharvest/pkg/logger"
	"feedharvest/pkg/supervisor"
)

// StatusSource reports live job progress; *supervisor.Supervisor
// satisfies it
type StatusSource interface {
	Statuses() []supervisor.JobStatus
}

// Server serves /metrics, /healthz and /jobs
type Server struct {
	addr    string
	handler http.Handler
	log     logger.Logger
}

// NewServer builds the status server. jobs may be nil, in which case
// /jobs returns an empty list.
func NewServer(addr string, gatherer prometheus.Gatherer, jobs StatusSource, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", handleHealth)
	r.Get("/jobs", handleJobs(jobs))

	return &Server{
		addr:    addr,
		handler: r,
		log:     log.WithField("component", "metrics"),
	}
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoWithFields("Metrics server listening", map[string]interface{}{
			"addr": s.addr,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("Metrics server shutdown failed")
		return err
	}
	s.log.Debug("Metrics server stopped")
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleJobs(jobs StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := []supervisor.JobStatus{}
		if jobs != nil {
			statuses = jobs.Statuses()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statuses)
	}
}
