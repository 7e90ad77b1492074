package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"mailbridge/internal/domain"
	"mailbridge/internal/infra/sqlitequeue"
	"mailbridge/internal/ports"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Store is the part of the command queue the status server reads and
// repairs.
type Store interface {
	ports.Admin
	Stats(ctx context.Context) (map[domain.Status]int, error)
}

// EventSource returns the most recent lifecycle events, newest first.
type EventSource interface {
	Recent(ctx context.Context, n int64) ([]domain.Event, error)
}

type Server struct {
	router *chi.Mux
	store  Store
	events EventSource
}

// NewServer builds the router. events may be nil, in which case /events is
// not served.
func NewServer(store Store, events EventSource, gatherer prometheus.Gatherer) *Server {
	s := &Server{router: chi.NewRouter(), store: store, events: events}

	r := s.router
	r.Get("/healthz", s.health)
	r.Get("/stats", s.stats)
	r.Get("/jobs", s.listJobs)
	r.Get("/jobs/{id}", s.getJob)
	r.Post("/jobs/{id}/retry", s.retryJob)
	if events != nil {
		r.Get("/events", s.recentEvents)
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		requestIDHandler,
		realIPHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
		}),
		corsHandler,
	)
}

// Run serves on addr until ctx is cancelled, then drains for up to 30s.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Ctx(ctx).Info().Msg("status server is shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("status server forced to shutdown")
		}
	}()

	log.Ctx(ctx).Info().Str("addr", addr).Msg("status server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	log.Ctx(ctx).Info().Msg("status server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	jobs, err := s.store.List(r.Context(), status, limit)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, sqlitequeue.ErrBadStatus) {
			code = http.StatusBadRequest
		}
		writeError(w, r, code, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, sqlitequeue.ErrJobNotFound) {
			code = http.StatusNotFound
		}
		writeError(w, r, code, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Requeue(r.Context(), id); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, sqlitequeue.ErrNotFailed) {
			code = http.StatusConflict
		}
		writeError(w, r, code, err)
		return
	}
	log.Ctx(r.Context()).Info().Int64("job_id", id).Msg("job requeued")
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": domain.StatusPending})
}

func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	events, err := s.events.Recent(r.Context(), int64(n))
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
