package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/tonimelisma/treewatch/internal/view"
)

// subscribeWriteTimeout bounds one WebSocket push.
const subscribeWriteTimeout = 5 * time.Second

// subscriptionUpdate is one pushed batch of changes.
type subscriptionUpdate struct {
	Root    string              `json:"root"`
	Name    string              `json:"name"`
	Entries []view.JournalEntry `json:"entries"`
}

// handleSubscribe upgrades the connection and streams matching journal
// entries until the client disconnects or the subscription is removed.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	engine, err := s.engineFor(query.Get("root"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	name := query.Get("name")
	if name == "" {
		s.writeError(w, errBadRequest)
		return
	}

	var pred func(*view.JournalEntry) bool

	if prefix := strings.Trim(query.Get("prefix"), "/"); prefix != "" {
		pred = func(e *view.JournalEntry) bool {
			return e.Path == prefix || strings.HasPrefix(e.Path, prefix+"/")
		}
	}

	// Register before upgrading so a name collision is a proper HTTP
	// error rather than an immediate WebSocket close.
	sub, err := engine.Subscribe(name, pred)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			slog.String("subscription", name), slog.String("error", err.Error()))

		_ = engine.Unsubscribe(name)

		return
	}

	s.logger.Info("subscription connected",
		slog.String("root", engine.Root()), slog.String("subscription", name))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop only detects disconnect; clients do not send data.
	go func() {
		defer cancel()

		for {
			if _, _, readErr := conn.Read(ctx); readErr != nil {
				return
			}
		}
	}()

	s.pushLoop(ctx, conn, engine, sub)

	_ = engine.Unsubscribe(name)
	_ = conn.Close(websocket.StatusNormalClosure, "")

	s.logger.Info("subscription disconnected",
		slog.String("root", engine.Root()), slog.String("subscription", name))
}

// pushLoop forwards batches from the subscription to the socket.
func (s *Server) pushLoop(ctx context.Context, conn *websocket.Conn, engine *view.Engine, sub *view.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return

		case batch, ok := <-sub.Updates():
			if !ok {
				return
			}

			data, err := json.Marshal(subscriptionUpdate{
				Root:    engine.Root(),
				Name:    sub.Name(),
				Entries: batch,
			})
			if err != nil {
				s.logger.Warn("failed to marshal subscription update", slog.String("error", err.Error()))
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, subscribeWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()

			if err != nil {
				return
			}
		}
	}
}
