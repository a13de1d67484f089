package main

import (
	"encoding/hex"
	"math"
	"time"
)

// MessageState is the lifecycle state of an LXMF message as reported by the
// mesh layer. Incoming messages arrive fully formed in StateDelivered;
// outgoing messages walk outbound -> sending -> sent/delivered or failed.
type MessageState string

const (
	StateDraft     MessageState = "draft"
	StateOutbound  MessageState = "outbound"
	StateSending   MessageState = "sending"
	StateSent      MessageState = "sent"
	StateDelivered MessageState = "delivered"
	StateFailed    MessageState = "failed"
	StateUnknown   MessageState = "unknown"
)

// normalizeState maps anything outside the known state set to StateUnknown.
func normalizeState(s MessageState) MessageState {
	switch s {
	case StateDraft, StateOutbound, StateSending, StateSent, StateDelivered, StateFailed:
		return s
	default:
		return StateUnknown
	}
}

// Wire event type tags. One JSON object per event, tagged by "type".
const (
	eventTypeConfig          = "config"
	eventTypeKnownPeers      = "known_peers"
	eventTypeDelivery        = "lxmf.delivery"
	eventTypeStateUpdated    = "lxmf_message_state_updated"
	eventTypeOutboundCreated = "lxmf_outbound_message_created"
	eventTypeAnnounce        = "announce"
	eventTypePageDownload    = "nomadnet.page.download"
	eventTypeFileDownload    = "nomadnet.file.download"
)

// configPayload is the "config" event body pushed to every new viewer and
// re-broadcast whenever the config changes.
type configPayload struct {
	DisplayName     string `json:"display_name"`
	IdentityHash    string `json:"identity_hash"`
	LXMFAddressHash string `json:"lxmf_address_hash"`
}

type configEvent struct {
	Type   string        `json:"type"`
	Config configPayload `json:"config"`
}

// KnownPeer is a read-only view over the mesh layer's announce cache.
// AppData is nil when the announced label could not be decoded as UTF-8.
type KnownPeer struct {
	DestinationHash       string  `json:"destination_hash"`
	AppData               *string `json:"app_data"`
	LastAnnounceTimestamp float64 `json:"last_announce_timestamp"`
}

type knownPeersEvent struct {
	Type       string      `json:"type"`
	KnownPeers []KnownPeer `json:"known_peers"`
}

type announceEvent struct {
	Type     string    `json:"type"`
	Announce KnownPeer `json:"announce"`
}

// WireMessage is the JSON shape of a message pushed to viewers inside
// lxmf.delivery, lxmf_message_state_updated and lxmf_outbound_message_created
// events. Progress is a display percentage, not the stored fraction.
type WireMessage struct {
	Hash            string        `json:"hash"`
	SourceHash      string        `json:"source_hash"`
	DestinationHash string        `json:"destination_hash"`
	IsIncoming      bool          `json:"is_incoming"`
	State           MessageState  `json:"state"`
	Progress        float64       `json:"progress"`
	Title           string        `json:"title"`
	Content         string        `json:"content"`
	Fields          MessageFields `json:"fields"`
	Timestamp       float64       `json:"timestamp"`
}

type messageEvent struct {
	Type        string       `json:"type"`
	LXMFMessage *WireMessage `json:"lxmf_message"`
}

// wireMessageFromMesh converts a mesh-layer message into its viewer-facing
// shape: hashes become hex and progress becomes a percentage.
func wireMessageFromMesh(m *MeshMessage) *WireMessage {
	return &WireMessage{
		Hash:            hex.EncodeToString(m.Hash),
		SourceHash:      hex.EncodeToString(m.SourceHash),
		DestinationHash: hex.EncodeToString(m.DestinationHash),
		IsIncoming:      m.Incoming,
		State:           normalizeState(m.State),
		Progress:        displayProgress(m.Progress),
		Title:           string(m.Title),
		Content:         string(m.Content),
		Fields:          m.Fields,
		Timestamp:       m.Timestamp,
	}
}

// displayProgress converts a 0.0-1.0 fraction to a 0.00-100 percentage
// rounded to two decimals.
func displayProgress(fraction float64) float64 {
	return math.Round(fraction*100*100) / 100
}

// nowFloat returns the current unix time as fractional seconds, matching the
// timestamp format used on the wire.
func nowFloat() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// MessageRecord is a row of the message ledger.
type MessageRecord struct {
	ID              int64
	Hash            string
	SourceHash      string
	DestinationHash string
	IsIncoming      bool
	State           MessageState
	Progress        float64
	Title           string
	Content         string
	Fields          string
	Timestamp       float64
	CreatedAt       int64
	UpdatedAt       int64
}
