package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kno-canvas/internal/middleware"
	"kno-canvas/internal/models"
)

// The host only listens for a UI on the same machine.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ServeWS upgrades the request and attaches a session to the hub. The
// first frame a session receives is a welcome carrying the current view.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "Live.Connect")
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", zap.Error(err))
		middleware.AddSpanError(ctx, err)
		return
	}

	view := h.engine.View()
	s := &Session{
		Session: models.NewSession(uuid.NewString(), view.DocumentID),
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     h,
	}
	span.SetAttributes(attribute.String("session.id", s.ID))

	welcome, err := welcomeFrame(s.ID, view)
	if err != nil {
		h.logger.Error("failed to encode welcome", zap.Error(err))
		conn.Close()
		return
	}
	s.send <- welcome

	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	// The connection outlives the request; keep only its trace linkage.
	sessionCtx := context.WithoutCancel(ctx)
	go s.writePump()
	go s.readPump(sessionCtx)
}

func welcomeFrame(sessionID string, view interface{}) ([]byte, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"session_id": sessionID,
		"view":       view,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.LiveMessage{Type: models.MessageTypeWelcome, Payload: payload})
}
