// Package server exposes a running Engine over HTTP: the live trace, a
// server-sent event stream of trace changes, the function catalog and the
// run history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jward/serpent"
	"github.com/jward/serpent/internal/store"
	"github.com/jward/serpent/internal/trace"
)

// DefaultStreamInterval is the minimum gap between two stream events sent
// to one observer.
const DefaultStreamInterval = 100 * time.Millisecond

// Source is what the server observes. *serpent.Engine implements it.
type Source interface {
	Latest() *trace.Snapshot
	Subscribe() *trace.Subscription
	Functions() []serpent.FunctionInfo
	Query() *serpent.QueryBuilder
}

var _ Source = (*serpent.Engine)(nil)

// Server serves one Source.
type Server struct {
	src            Source
	streamInterval time.Duration
	logger         *slog.Logger
	mux            *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithStreamInterval sets the minimum gap between stream events per
// observer. Snapshots published in between are coalesced; the observer
// gets the latest.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server for src.
func New(src Source, opts ...Option) *Server {
	s := &Server{
		src:            src,
		streamInterval: DefaultStreamInterval,
		logger:         slog.Default(),
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /trace", s.handleTrace)
	s.mux.HandleFunc("GET /trace/stream", s.handleStream)
	s.mux.HandleFunc("GET /library", s.handleLibrary)
	s.mux.HandleFunc("GET /runs", s.handleRuns)
	s.mux.HandleFunc("GET /runs/{id}", s.handleRun)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("serving", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.src.Latest())
}

// handleStream sends the current trace, then one event per observed change
// until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	sub := s.src.Subscribe()
	limiter := rate.NewLimiter(rate.Every(s.streamInterval), 1)

	snap := sub.Latest()
	for {
		if err := writeEvent(w, snap); err != nil {
			s.logger.Debug("stream write failed", slog.Any("error", err))
			return
		}
		flusher.Flush()

		if err := limiter.Wait(ctx); err != nil {
			return
		}
		next, err := sub.Changed(ctx)
		if err != nil {
			return
		}
		snap = next
	}
}

func writeEvent(w http.ResponseWriter, snap *trace.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: trace\ndata: %s\n\n", data)
	return err
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.src.Functions())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	runs, err := s.src.Query().Runs(limit, offset)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if runs == nil {
		runs = []serpent.RunSummary{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

type runDetail struct {
	*serpent.RunSummary
	Trace *trace.Snapshot `json:"trace"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run id %q", r.PathValue("id")))
		return
	}
	q := s.src.Query()
	run, err := q.Run(id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	snap, err := q.RunTrace(id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, runDetail{RunSummary: run, Trace: snap})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrRunNotFound), errors.Is(err, serpent.ErrNoStore):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
