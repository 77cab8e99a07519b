package live

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/middleware"
	"kno-canvas/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
)

// Session is one open WebSocket connection.
type Session struct {
	*models.Session
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// readPump decodes command frames and dispatches them. Errors go back to
// this session only.
func (s *Session) readPump(ctx context.Context) {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.LastActiveAt = time.Now()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warn("websocket read error", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		s.LastActiveAt = time.Now()
		s.handle(ctx, data)
	}
}

func (s *Session) handle(ctx context.Context, data []byte) {
	msgCtx, span := middleware.StartSpan(ctx, "Live.HandleMessage",
		attribute.String("session.id", s.ID),
		attribute.Int("message.size", len(data)),
	)
	defer span.End()

	var msg models.LiveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(err)
		return
	}
	if msg.Type != models.MessageTypeCommand {
		s.sendError(errors.New("expected a command frame"))
		return
	}
	cmd, err := canvas.DecodeCommand(msg.Payload)
	if err != nil {
		middleware.AddSpanError(msgCtx, err)
		s.sendError(err)
		return
	}
	span.SetAttributes(attribute.String("command.type", string(cmd.Type())))
	if err := s.hub.engine.Dispatch(msgCtx, cmd); err != nil {
		middleware.AddSpanError(msgCtx, err)
		s.sendError(err)
	}
}

func (s *Session) sendError(err error) {
	msg, _ := json.Marshal(models.LiveMessage{Type: models.MessageTypeError, Error: err.Error()})
	s.trySend(msg)
}

// trySend queues a frame unless the session has already gone.
func (s *Session) trySend(msg []byte) {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	if !s.hub.sessions[s] {
		return
	}
	select {
	case s.send <- msg:
	default:
		s.hub.logger.Warn("session buffer full, dropping frame", zap.String("session_id", s.ID))
	}
}

// writePump writes queued frames and pings. One frame per message: JSON
// frames cannot share a writer.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
