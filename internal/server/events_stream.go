package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/utils"
)

const (
	eventBuffer    = 100
	heartbeatEvery = 30 * time.Second
	writeTimeout   = 5 * time.Second
)

// subscribe registers a buffered subscriber on the bus. types filters by event
// type ("A,B"); empty means everything. Events are dropped when the buffer is full.
func (s *Server) subscribe(types string) (<-chan *events.Event, func()) {
	var allowed map[events.EventType]bool
	if list := utils.ParseCSV(types); list != nil {
		allowed = make(map[events.EventType]bool, len(list))
		for _, t := range list {
			allowed[events.EventType(t)] = true
		}
	}

	ch := make(chan *events.Event, eventBuffer)
	unsubscribe := s.cfg.Bus.SubscribeAll(func(event *events.Event) {
		if allowed != nil && !allowed[event.Type] {
			return
		}
		select {
		case ch <- event:
		default:
			s.log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	})
	return ch, unsubscribe
}

// handleEventsWebSocket handles GET /api/events/ws?types=
func (s *Server) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	eventCh, unsubscribe := s.subscribe(r.URL.Query().Get("types"))
	defer unsubscribe()

	// Clients only listen; CloseRead handles control frames and cancels on close
	ctx := conn.CloseRead(r.Context())

	s.log.Info().Msg("Client connected to event websocket")

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Client disconnected from event websocket")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventCh:
			if err := writeWS(ctx, conn, event); err != nil {
				s.log.Debug().Err(err).Msg("Failed to write event")
				return
			}

		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// handleEventsSSE handles GET /api/events/stream?types= as Server-Sent Events
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventCh, unsubscribe := s.subscribe(r.URL.Query().Get("types"))
	defer unsubscribe()

	s.writeSSE(w, map[string]string{"type": "connected"})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-eventCh:
			s.writeSSE(w, event)
			flusher.Flush()
		case <-heartbeat.C:
			s.writeSSE(w, map[string]interface{}{"type": "heartbeat", "timestamp": time.Now().UTC()})
			flusher.Flush()
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal event")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
