package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// sessionSendBuffer is how many pending events a viewer may fall
	// behind before the hub gives up on it.
	sessionSendBuffer = 64

	sessionWriteTimeout = 10 * time.Second
)

var (
	errSessionBufferFull = errors.New("session send buffer is full")
	errSessionClosed     = errors.New("session is closed")
)

// ViewerSession is one connected WebSocket viewer. Events are queued on the
// send channel and written by the session's own write pump, so a slow
// viewer never blocks anyone else.
type ViewerSession struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	// closed is owned by the hub and must only be touched from the
	// dispatcher goroutine.
	closed bool
}

func newViewerSession(conn *websocket.Conn) *ViewerSession {
	return &ViewerSession{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sessionSendBuffer),
	}
}

// queue hands an encoded event to the session without blocking.
func (s *ViewerSession) queue(data []byte) error {
	if s.closed {
		return errSessionClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return errSessionBufferFull
	}
}

// close releases the session. Closing the send channel stops the write
// pump, which closes the connection on its way out.
func (s *ViewerSession) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// writePump drains the send channel onto the wire. Runs as its own
// goroutine per session.
func (s *ViewerSession) writePump() {
	defer s.conn.Close()
	for data := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Str("session", s.ID).Err(err).Msg("viewer write failed")
			return
		}
	}
}

// Hub is the set of connected viewer sessions. It is not safe for
// concurrent use: the dispatcher owns it and serializes every call.
type Hub struct {
	sessions map[string]*ViewerSession
}

func newHub() *Hub {
	return &Hub{sessions: make(map[string]*ViewerSession)}
}

func (h *Hub) register(s *ViewerSession) {
	h.sessions[s.ID] = s
	log.Info().Str("session", s.ID).Int("sessions", len(h.sessions)).Msg("viewer connected")
}

// deregister removes and closes a session. Unknown ids are a no-op, so the
// disconnect path and the slow-consumer path can both call it.
func (h *Hub) deregister(id string) {
	s, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	s.close()
	log.Info().Str("session", id).Int("sessions", len(h.sessions)).Msg("viewer disconnected")
}

// broadcast serializes event once and queues it to every session. Sessions
// that cannot keep up are dropped; one bad viewer never stops the rest.
func (h *Hub) broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode event for broadcast")
		return
	}
	var dropped []string
	for id, s := range h.sessions {
		if err := s.queue(data); err != nil {
			log.Warn().Str("session", id).Err(err).Msg("dropping viewer session")
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		h.deregister(id)
	}
}

// sendTo queues an event to a single session. The session may have
// disconnected since the event was produced; that is not an error.
func (h *Hub) sendTo(id string, event any) {
	s, ok := h.sessions[id]
	if !ok {
		log.Debug().Str("session", id).Msg("viewer session gone, event dropped")
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode event")
		return
	}
	if err := s.queue(data); err != nil {
		log.Warn().Str("session", id).Err(err).Msg("dropping viewer session")
		h.deregister(id)
	}
}

func (h *Hub) count() int {
	return len(h.sessions)
}

func (h *Hub) closeAll() {
	for id := range h.sessions {
		h.deregister(id)
	}
}
