package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/logtide-dev/logtide/internal/core"
	"github.com/logtide-dev/logtide/internal/middleware"
	"github.com/logtide-dev/logtide/internal/notify"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10

	// Per-connection delivery buffer; slow consumers drop frames rather
	// than stall the dispatch path.
	streamSendBuffer = 32
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamFrame is one websocket message: the hydrated logs that passed
// the subscriber's filters.
type streamFrame struct {
	ProjectID string           `json:"projectId"`
	Logs      []core.LogRecord `json:"logs"`
	Timestamp time.Time        `json:"timestamp"`
}

// handleStream upgrades to a websocket and registers the connection as a
// live-stream subscriber. Query parameters: projectId (required),
// services and levels (optional comma-separated narrowing filters).
// The subscription survives listener reconnects; it ends when the client
// disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())
	projectID := r.URL.Query().Get("projectId")
	services := csvSet(r.URL.Query().Get("services"))
	levels := levelSet(r.URL.Query().Get("levels"))

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Printf("⚠️  Websocket upgrade failed: %v", err)
		return
	}

	send := make(chan streamFrame, streamSendBuffer)
	done := make(chan struct{})

	sub := &notify.Subscriber{
		ProjectID: projectID,
		Services:  services,
		Levels:    levels,
	}
	sub.Callback = func(ctx context.Context, n notify.LogNotification) error {
		return s.deliverFrame(ctx, tenantID, n, sub, send)
	}
	id, unsubscribe := s.listener.Subscribe(sub)
	s.logger.Printf("Stream %s open (tenant=%s, project=%s)", id, tenantID, projectID)

	go s.streamWriter(conn, send, done)
	s.streamReader(conn)

	unsubscribe()
	close(done)
	s.logger.Printf("Stream %s closed", id)
}

// deliverFrame hydrates the notification's logs, applies the narrowing
// filters, and hands the frame to the connection writer. A full buffer
// drops the frame; live streaming is lossy by contract.
func (s *Server) deliverFrame(ctx context.Context, tenantID string, n notify.LogNotification, sub *notify.Subscriber, send chan<- streamFrame) error {
	logs, err := s.store.LogsByIDs(ctx, tenantID, n.LogIDs)
	if err != nil {
		return err
	}
	if !sub.MatchesLogs(logs) {
		return nil
	}

	filtered := logs[:0]
	for _, l := range logs {
		if len(sub.Services) > 0 && !sub.Services[l.Service] {
			continue
		}
		if len(sub.Levels) > 0 && !sub.Levels[l.Level] {
			continue
		}
		filtered = append(filtered, l)
	}
	if len(filtered) == 0 {
		return nil
	}

	select {
	case send <- streamFrame{ProjectID: n.ProjectID, Logs: filtered, Timestamp: n.Timestamp}:
	default:
	}
	return nil
}

// streamWriter owns all writes on the connection: frames plus pings.
// The send channel is never closed; done signals teardown.
func (s *Server) streamWriter(conn *websocket.Conn, send <-chan streamFrame, done <-chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamReader blocks until the client goes away; incoming data frames
// are discarded.
func (s *Server) streamReader(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func csvSet(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = true
		}
	}
	return out
}

func levelSet(raw string) map[core.LogLevel]bool {
	if raw == "" {
		return nil
	}
	out := make(map[core.LogLevel]bool)
	for _, v := range strings.Split(raw, ",") {
		if l := core.LogLevel(strings.TrimSpace(v)); l.Valid() {
			out[l] = true
		}
	}
	return out
}
