// Package server exposes the daemon's control surface: JSON-over-HTTP
// endpoints for watch management and queries, a WebSocket endpoint for
// live subscriptions, and the debug endpoints used by operators.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tonimelisma/treewatch/internal/registry"
	"github.com/tonimelisma/treewatch/internal/view"
)

// Timeouts for the HTTP server. Query handlers block on the cookie
// fence, so the write timeout leaves headroom above the sync bound.
const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is the daemon's HTTP control surface.
type Server struct {
	addr     string
	registry *registry.Registry
	logger   *slog.Logger

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// New creates a server for addr backed by reg. Start must be called to
// begin serving.
func New(addr string, reg *registry.Registry, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		registry: reg,
		logger:   logger,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.logger.Info("control server listening", slog.String("addr", ln.Addr().String()))

		if serveErr := s.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("control server stopped", slog.String("error", serveErr.Error()))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	s.wg.Wait()

	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.addr
}

// routes wires the endpoint handlers.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /watch", s.handleWatch)
	mux.HandleFunc("POST /unwatch", s.handleUnwatch)
	mux.HandleFunc("GET /watch-list", s.handleWatchList)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /clock", s.handleClock)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /subscribe", s.handleSubscribe)

	mux.HandleFunc("POST /debug/recrawl", s.handleDebugRecrawl)
	mux.HandleFunc("GET /debug/cursors", s.handleDebugCursors)
	mux.HandleFunc("POST /debug/ageout", s.handleDebugAgeout)
	mux.HandleFunc("POST /debug/poison", s.handleDebugPoison)
	mux.HandleFunc("POST /debug/poison-clear", s.handleDebugPoisonClear)
	mux.HandleFunc("GET /debug/cache-stats", s.handleDebugCacheStats)
	mux.HandleFunc("POST /debug/subscriptions-paused", s.handleDebugSubscriptionsPaused)

	return mux
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v as the JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError maps engine sentinels onto HTTP statuses and writes the
// error envelope.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var poisoned *view.PoisonedError

	switch {
	case errors.Is(err, registry.ErrNotWatched):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyWatched):
		status = http.StatusConflict
	case errors.Is(err, view.ErrHistoryExpired):
		// The caller must fall back to a full snapshot.
		status = http.StatusGone
	case errors.Is(err, view.ErrRecrawlInProgress),
		errors.Is(err, view.ErrBackendUnresponsive):
		status = http.StatusServiceUnavailable
	case errors.As(err, &poisoned):
		status = http.StatusServiceUnavailable
	case errors.Is(err, view.ErrSubscriptionExists):
		status = http.StatusConflict
	case errors.Is(err, view.ErrSubscriptionUnknown):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// errBadRequest marks malformed client input.
var errBadRequest = errors.New("bad request")

// decodeBody decodes the request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %s", errBadRequest, err.Error())
	}

	return nil
}

// engineFor resolves the engine for the root named in the request.
func (s *Server) engineFor(root string) (*view.Engine, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: missing root", errBadRequest)
	}

	return s.registry.Get(root)
}
