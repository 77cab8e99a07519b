package live

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/models"
)

/*
LEARNING: ONE ENGINE, MANY WINDOWS

The host runs a single engine for a single user, but that user may have the
canvas open in more than one window. Every engine event is rendered once
into an {event, view} frame and fanned out to every connected session;
every inbound command, from any window, goes through the same
Engine.Dispatch. The engine's own lock orders them.

The hub owns the session set. register, unregister and broadcast are
channels so only the run loop touches the map.
*/

// Engine is what the live channel needs from the canvas engine.
type Engine interface {
	Dispatch(ctx context.Context, cmd canvas.Command) error
	View() canvas.View
	Subscribe(l canvas.Listener) func()
}

// Frame is the payload of an outbound event message.
type Frame struct {
	Event canvas.Event `json:"event"`
	View  canvas.View  `json:"view"`
}

type Hub struct {
	engine Engine
	logger *zap.Logger

	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	broadcast  chan []byte
	mu         sync.RWMutex

	unsubscribe func()
	done        chan struct{}
	stopOnce    sync.Once
}

func NewHub(engine Engine, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		engine:     engine,
		logger:     logger,
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop and subscribes to engine events.
func (h *Hub) Start() {
	h.logger.Info("🔄 Starting live channel hub")
	go h.run()
	h.unsubscribe = h.engine.Subscribe(h.onEvent)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			n := len(h.sessions)
			h.mu.Unlock()
			h.logger.Info("session joined", zap.String("session_id", s.ID), zap.Int("sessions", n))
		case s := <-h.unregister:
			h.remove(s)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.sessions[s] {
		return
	}
	delete(h.sessions, s)
	close(s.send)
	h.logger.Info("session left", zap.String("session_id", s.ID), zap.Int("sessions", len(h.sessions)))
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	var slow []*Session
	for s := range h.sessions {
		select {
		case s.send <- msg:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warn("session buffer full, dropping connection", zap.String("session_id", s.ID))
		h.remove(s)
	}
}

// onEvent runs on the engine's publishing goroutine and must not block.
func (h *Hub) onEvent(ev canvas.Event) {
	msg, err := encodeEvent(ev, h.engine.View())
	if err != nil {
		h.logger.Error("failed to encode event frame", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping event", zap.String("event", string(ev.Kind)))
	}
}

func encodeEvent(ev canvas.Event, view canvas.View) ([]byte, error) {
	payload, err := json.Marshal(Frame{Event: ev, View: view})
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.LiveMessage{
		Type:    models.MessageTypeEvent,
		Event:   string(ev.Kind),
		Payload: payload,
	})
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown unsubscribes from the engine and closes every connection.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		if h.unsubscribe != nil {
			h.unsubscribe()
		}
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		for s := range h.sessions {
			close(s.send)
			s.conn.Close()
		}
		h.sessions = make(map[*Session]bool)
		h.logger.Info("✓ Live channel hub stopped")
	})
}
