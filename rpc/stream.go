package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"poolescrow/core/events"
)

const wsWriteTimeout = 10 * time.Second

// EventSource hands out live event subscriptions.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
}

// StreamEvent is one websocket message of GET /escrow/stream.
type StreamEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
}

func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	filter := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// Clients never send; CloseRead answers pings and cancels ctx on close.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter string) error {
	updates, cancel := s.stream.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if filter != "" && evt.EventType() != filter {
				continue
			}
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt events.Event) error {
	msg := StreamEvent{Type: evt.EventType(), SentAt: time.Now().UTC()}
	if payload, ok := evt.(events.Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			msg.Attributes = rendered.Clone().Attributes
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
