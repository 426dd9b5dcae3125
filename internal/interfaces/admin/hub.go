package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/marketcore/aggregator/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://127.0.0.1" || origin == "http://localhost"
	},
}

// healthHub fans out orchestrator.HealthReport snapshots to every connected client on
// /admin/health/stream, the same broadcast-loop shape the teacher's
// providers use for market data (internal/providers/kraken/websocket.go)
// but pushing our own health reports instead of trade ticks.
type healthHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan orchestrator.HealthReport
}

func newHealthHub() *healthHub {
	return &healthHub{clients: make(map[*websocket.Conn]chan orchestrator.HealthReport)}
}

func (h *healthHub) run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		close(ch)
		conn.Close()
	}
}

func (h *healthHub) add(conn *websocket.Conn) chan orchestrator.HealthReport {
	ch := make(chan orchestrator.HealthReport, 4)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *healthHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
}

func (h *healthHub) broadcast(report orchestrator.HealthReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- report:
		default:
			// slow consumer: drop this tick rather than block the broadcaster
		}
	}
}

// handleHealthStream serves GET /admin/health/stream, upgrading to a
// websocket connection and pushing an orchestrator.HealthReport every broadcast tick
// until the client disconnects.
func (s *Server) handleHealthStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("admin: websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.hub.add(conn)
	defer s.hub.remove(conn)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.remove(conn)
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case report, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(report)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
