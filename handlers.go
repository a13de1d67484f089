package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
)

// maxViewerMessageSize bounds a single viewer command frame.
const maxViewerMessageSize = 1 << 20

// Server holds the dispatcher, the ledger and the local identity, providing
// HTTP handlers for every route the web UI consumes.
type Server struct {
	dispatcher *Dispatcher
	store      *MessageStore
	identity   *Identity
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write json response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from this same process; cross-origin pages are not
	// a concern for a locally hosted node.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ---------------------------------------------------------------------------
// 1. GET /
// ---------------------------------------------------------------------------

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(uiHTML)); err != nil {
		log.Debug().Err(err).Msg("failed to write ui")
	}
}

// ---------------------------------------------------------------------------
// 2. GET /ws
// ---------------------------------------------------------------------------

// handleWebSocket upgrades the connection and runs the read loop. The
// session is registered before the first read, so config and known_peers
// always precede any event this viewer triggers itself.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := newViewerSession(conn)
	go session.writePump()
	s.dispatcher.RegisterSession(session)
	defer s.dispatcher.DeregisterSession(session)

	conn.SetReadLimit(maxViewerMessageSize)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Str("session", session.ID).Err(err).Msg("viewer read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatcher.HandleViewerCommand(session, data)
	}
}

// ---------------------------------------------------------------------------
// 3. GET /api/v1/lxmf-messages
// ---------------------------------------------------------------------------

// handleLXMFMessages returns the full conversation between two addresses,
// both directions, oldest first.
func (s *Server) handleLXMFMessages(w http.ResponseWriter, r *http.Request) {
	sourceHash := r.URL.Query().Get("source_hash")
	destinationHash := r.URL.Query().Get("destination_hash")
	if sourceHash == "" {
		writeError(w, http.StatusUnprocessableEntity, "source_hash is required")
		return
	}
	if destinationHash == "" {
		writeError(w, http.StatusUnprocessableEntity, "destination_hash is required")
		return
	}

	records, err := s.store.MessagesBetween(sourceHash, destinationHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get messages: %v", err))
		return
	}

	messages := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		messages = append(messages, apiMessage(rec))
	}
	writeJSON(w, map[string]interface{}{"lxmf_messages": messages})
}

// apiMessage is the ledger-read shape of a message: the wire fields plus
// the row id and bookkeeping times.
func apiMessage(rec MessageRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":               rec.ID,
		"hash":             rec.Hash,
		"source_hash":      rec.SourceHash,
		"destination_hash": rec.DestinationHash,
		"is_incoming":      rec.IsIncoming,
		"state":            string(normalizeState(rec.State)),
		"progress":         displayProgress(rec.Progress),
		"title":            rec.Title,
		"content":          rec.Content,
		"fields":           rawFields(rec.Fields),
		"timestamp":        rec.Timestamp,
		"created_at":       time.Unix(rec.CreatedAt, 0).UTC().Format(time.RFC3339),
		"updated_at":       time.Unix(rec.UpdatedAt, 0).UTC().Format(time.RFC3339),
	}
}

// ---------------------------------------------------------------------------
// 4. GET /api/v1/address-qr
// ---------------------------------------------------------------------------

// handleAddressQR renders the local delivery address as a QR code, handy
// for sharing the address with a phone.
func (s *Server) handleAddressQR(w http.ResponseWriter, r *http.Request) {
	address := hex.EncodeToString(s.identity.DeliveryAddress())
	png, err := qrcode.Encode(address, qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate qr: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		log.Debug().Err(err).Msg("failed to write qr response")
	}
}
