package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tonimelisma/treewatch/internal/lrucache"
	"github.com/tonimelisma/treewatch/internal/view"
)

// clockTimeout bounds the sync fence for /clock requests.
const clockTimeout = 30 * time.Second

type watchRequest struct {
	Root string `json:"root"`
}

type watchResponse struct {
	Root string `json:"root"`
	Tick uint64 `json:"tick"`
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if req.Root == "" {
		s.writeError(w, fmt.Errorf("%w: missing root", errBadRequest))
		return
	}

	engine, err := s.registry.Watch(r.Context(), req.Root)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, watchResponse{Root: engine.Root(), Tick: engine.CurrentTick()})
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.registry.Unwatch(req.Root); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"unwatched": req.Root})
}

func (s *Server) handleWatchList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"roots": s.registry.Roots()})
}

type queryRequest struct {
	Root string `json:"root"`

	// Cursor names the consumer for incremental queries; empty means a
	// one-shot full snapshot.
	Cursor string `json:"cursor,omitempty"`

	// PathPrefix restricts results to one subtree.
	PathPrefix string `json:"path_prefix,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	engine, err := s.engineFor(req.Root)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var pred func(*view.FileStateRecord) bool

	if req.PathPrefix != "" {
		prefix := strings.Trim(req.PathPrefix, "/")
		pred = func(rec *view.FileStateRecord) bool {
			return rec.Path == prefix || strings.HasPrefix(rec.Path, prefix+"/")
		}
	}

	result, err := engine.Query(r.Context(), req.Cursor, pred)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

type clockResponse struct {
	Root string `json:"root"`
	Tick uint64 `json:"tick"`
}

// handleClock fences against the notification stream and returns the
// tick up to which all prior filesystem changes are visible.
func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r.URL.Query().Get("root"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	tick, err := engine.SyncToNow(r.Context(), clockTimeout)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, clockResponse{Root: engine.Root(), Tick: tick})
}

type rootStatus struct {
	Root           string   `json:"root"`
	Tick           uint64   `json:"tick"`
	RecrawlState   string   `json:"recrawl_state"`
	RecrawlReasons []string `json:"recrawl_reasons,omitempty"`
	RecrawlCount   uint64   `json:"recrawl_count"`
	Cursors        int      `json:"cursors"`
	Subscriptions  []string `json:"subscriptions,omitempty"`
	Poisoned       string   `json:"poisoned,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var statuses []rootStatus

	for _, root := range s.registry.Roots() {
		engine, err := s.registry.Get(root)
		if err != nil {
			continue
		}

		state, reasons, generation := engine.RecrawlStatus()

		status := rootStatus{
			Root:           root,
			Tick:           engine.CurrentTick(),
			RecrawlState:   state,
			RecrawlReasons: reasons,
			RecrawlCount:   generation,
			Cursors:        len(engine.Cursors()),
			Subscriptions:  engine.Subscriptions(),
		}

		if perr := engine.Poisoned(); perr != nil {
			status.Poisoned = perr.Reason
		}

		statuses = append(statuses, status)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"roots": statuses})
}

type debugRecrawlRequest struct {
	Root   string `json:"root"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleDebugRecrawl(w http.ResponseWriter, r *http.Request) {
	var req debugRecrawlRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	engine, err := s.engineFor(req.Root)
	if err != nil {
		s.writeError(w, err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "operator request"
	}

	initiated := engine.ScheduleRecrawl(reason)
	state, reasons, generation := engine.RecrawlStatus()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"initiated": initiated,
		"state":     state,
		"reasons":   reasons,
		"count":     generation,
	})
}

func (s *Server) handleDebugCursors(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r.URL.Query().Get("root"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"root":    engine.Root(),
		"tick":    engine.CurrentTick(),
		"cursors": engine.Cursors(),
	})
}

type debugAgeoutRequest struct {
	Root             string `json:"root"`
	RetentionSeconds int64  `json:"retention_seconds"`
}

// handleDebugAgeout runs one sweep with an operator-supplied retention,
// overriding the configured one for this pass only.
func (s *Server) handleDebugAgeout(w http.ResponseWriter, r *http.Request) {
	var req debugAgeoutRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	engine, err := s.engineFor(req.Root)
	if err != nil {
		s.writeError(w, err)
		return
	}

	removed, expired := engine.SweepNow(time.Duration(req.RetentionSeconds) * time.Second)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"removed":         removed,
		"expired_cursors": expired,
	})
}

type debugPoisonRequest struct {
	Root   string `json:"root"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleDebugPoison(w http.ResponseWriter, r *http.Request) {
	var req debugPoisonRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	engine, err := s.engineFor(req.Root)
	if err != nil {
		s.writeError(w, err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "operator request"
	}

	perr := engine.PoisonNow(reason)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"poisoned": true,
		"reason":   perr.Reason,
		"at":       perr.At,
	})
}

func (s *Server) handleDebugPoisonClear(w http.ResponseWriter, r *http.Request) {
	var req debugPoisonRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	engine, err := s.engineFor(req.Root)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"cleared": engine.ClearPoison()})
}

type cacheStatsResponse struct {
	Root          string          `json:"root"`
	Supported     bool            `json:"supported"`
	ContentHash   *lrucache.Stats `json:"content_hash,omitempty"`
	SymlinkTarget *lrucache.Stats `json:"symlink_target,omitempty"`
}

func (s *Server) handleDebugCacheStats(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineFor(r.URL.Query().Get("root"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := cacheStatsResponse{Root: engine.Root()}

	if content, symlink, ok := engine.CacheStats(); ok {
		resp.Supported = true
		resp.ContentHash = &content
		resp.SymlinkTarget = &symlink
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type subscriptionsPausedRequest struct {
	Root   string `json:"root"`
	Name   string `json:"name"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleDebugSubscriptionsPaused(w http.ResponseWriter, r *http.Request) {
	var req subscriptionsPausedRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	engine, err := s.engineFor(req.Root)
	if err != nil {
		s.writeError(w, err)
		return
	}

	oldState, newState, err := engine.SetSubscriptionPaused(req.Name, req.Paused)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"name": req.Name,
		"old":  oldState,
		"new":  newState,
	})
}
