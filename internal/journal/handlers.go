package journal

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/pkg/plugin"
)

// maxLimit caps one page of history.
const maxLimit = 1000

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/events", Handler: m.handleListEvents},
		{Method: "GET", Path: "/events/stream", Handler: m.handleStreamEvents},
	}
}

// handleListEvents returns recorded events, newest first.
//
//	@Summary		List events
//	@Tags			journal
//	@Produce		json
//	@Param			topic query string false "Topic filter"
//	@Param			after query int false "Only events with a larger id"
//	@Param			limit query int false "Page size" default(100)
//	@Success		200 {array} Entry
//	@Failure		400 {object} map[string]any
//	@Router			/journal/events [get]
func (m *Module) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := Query{Topic: r.URL.Query().Get("topic"), Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			journalWriteError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			journalWriteError(w, http.StatusBadRequest, "after must be a non-negative event id")
			return
		}
		q.AfterID = n
	}

	entries, err := m.store.Recent(r.Context(), q)
	if err != nil {
		m.logger.Error("failed to list events", zap.Error(err))
		journalWriteError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// handleStreamEvents upgrades to a WebSocket and pushes each new event as a
// JSON message until the client goes away or the module stops.
//
//	@Summary		Stream events
//	@Tags			journal
//	@Param			topic query string false "Topic filter"
//	@Success		101
//	@Router			/journal/events/stream [get]
func (m *Module) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := m.subscribe(r.URL.Query().Get("topic"))
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	m.logger.Debug("event stream opened", zap.String("remote", r.RemoteAddr))
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closing:
			_ = conn.Close(websocket.StatusGoingAway, "server stopping")
			return
		case e := <-events:
			if err := m.send(ctx, conn, e); err != nil {
				m.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		}
	}
}

func (m *Module) send(ctx context.Context, conn *websocket.Conn, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}

func journalWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://printfleet.dev/problems/" + http.StatusText(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
