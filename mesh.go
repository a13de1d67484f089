package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// deliveryAspect is the destination aspect LXMF peers announce and
// receive messages on.
const deliveryAspect = "lxmf.delivery"

// MeshMessage is a message as the mesh layer sees it. Hashes are raw bytes,
// Progress is a 0.0-1.0 fraction.
type MeshMessage struct {
	Hash            []byte
	SourceHash      []byte
	DestinationHash []byte
	Incoming        bool
	State           MessageState
	Progress        float64
	Title           []byte
	Content         []byte
	Fields          MessageFields
	Timestamp       float64
}

// RemoteIdentity is the recalled identity of a remote peer.
type RemoteIdentity struct {
	PublicKey []byte
	Hash      []byte
}

// Destination names a remote endpoint by identity plus application aspect,
// e.g. nomadnetwork/node for page and file serving.
type Destination struct {
	Identity *RemoteIdentity
	AppName  string
	Aspect   string
}

// RequestResponse is the payload of a completed link request. Page requests
// return raw data only; file requests also carry a name.
type RequestResponse struct {
	Name string
	Data []byte
}

// Link is an established connection to a remote destination over which
// resource requests can be issued. Callbacks fire from mesh context and must
// not block.
type Link interface {
	Request(path string, onResponse func(RequestResponse), onFailed func(reason string), onProgress func(fraction float64), timeout time.Duration)
}

// AnnounceHandler receives peer announces matching its aspect filter.
type AnnounceHandler interface {
	AspectFilter() string
	ReceivedAnnounce(destinationHash []byte, identity *RemoteIdentity, appData []byte)
}

// MeshStack is the narrow surface this app needs from the mesh networking
// layer. All callbacks fire from the stack's own goroutines; implementations
// never call back into the stack from a callback.
//
// SubmitOutbound assigns the message hash and moves the message to
// StateOutbound before returning. Later state changes arrive through
// onStateChanged, terminal failure through onFailed, and each invocation
// carries its own message snapshot.
type MeshStack interface {
	RegisterDeliveryCallback(fn func(*MeshMessage))
	RegisterAnnounceHandler(h AnnounceHandler)
	SubmitOutbound(msg *MeshMessage, onStateChanged func(*MeshMessage), onFailed func(*MeshMessage))
	RecallIdentity(destinationHash []byte) *RemoteIdentity
	RequestPath(destinationHash []byte)
	EstablishLink(dest Destination, onEstablished func(Link))
	Announce(appData []byte)
	KnownPeers() []KnownPeer
	Detach()
}

// LoopbackStack is a MeshStack with no transport attached. Messages
// addressed to the local delivery address are delivered back as incoming,
// everything else fails, and announces only reach the local announce cache.
// It keeps the server fully usable without a connected mesh.
type LoopbackStack struct {
	identity *Identity

	mu       sync.Mutex
	peers    map[string]KnownPeer
	delivery func(*MeshMessage)
	handlers []AnnounceHandler
	detached bool
}

func NewLoopbackStack(identity *Identity) *LoopbackStack {
	return &LoopbackStack{
		identity: identity,
		peers:    make(map[string]KnownPeer),
	}
}

func (s *LoopbackStack) RegisterDeliveryCallback(fn func(*MeshMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivery = fn
}

func (s *LoopbackStack) RegisterAnnounceHandler(h AnnounceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// SubmitOutbound accepts an outgoing message. Self-addressed messages loop
// back as incoming and reach delivered; all other destinations fail once
// the send is attempted.
func (s *LoopbackStack) SubmitOutbound(msg *MeshMessage, onStateChanged func(*MeshMessage), onFailed func(*MeshMessage)) {
	msg.Hash = newMessageHash(msg)
	msg.State = StateOutbound

	go func() {
		if s.isDetached() {
			return
		}
		snapshot := func(state MessageState, progress float64) *MeshMessage {
			next := *msg
			next.State = state
			next.Progress = progress
			return &next
		}
		onStateChanged(snapshot(StateSending, 0))
		if !bytes.Equal(msg.DestinationHash, s.identity.DeliveryAddress()) {
			onFailed(snapshot(StateFailed, 0))
			return
		}
		inbound := *msg
		inbound.Incoming = true
		inbound.State = StateDelivered
		inbound.Progress = 1
		s.deliver(&inbound)
		onStateChanged(snapshot(StateDelivered, 1))
	}()
}

func (s *LoopbackStack) RecallIdentity(destinationHash []byte) *RemoteIdentity {
	if !bytes.Equal(destinationHash, s.identity.DeliveryAddress()) {
		return nil
	}
	return &RemoteIdentity{
		PublicKey: s.identity.PublicKey(),
		Hash:      s.identity.Hash(),
	}
}

func (s *LoopbackStack) RequestPath(destinationHash []byte) {
	log.Debug().Str("destination", hex.EncodeToString(destinationHash)).Msg("path request has nowhere to go without a transport")
}

func (s *LoopbackStack) EstablishLink(dest Destination, onEstablished func(Link)) {
	go onEstablished(loopbackLink{})
}

// Announce records the local node in the announce cache and forwards the
// announce to matching handlers, the same way a received announce would.
func (s *LoopbackStack) Announce(appData []byte) {
	destination := s.identity.DeliveryAddress()
	destHex := hex.EncodeToString(destination)

	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.peers[destHex] = KnownPeer{
		DestinationHash:       destHex,
		AppData:               decodeAppData(appData),
		LastAnnounceTimestamp: nowFloat(),
	}
	handlers := append([]AnnounceHandler(nil), s.handlers...)
	s.mu.Unlock()

	remote := &RemoteIdentity{PublicKey: s.identity.PublicKey(), Hash: s.identity.Hash()}
	go func() {
		for _, h := range handlers {
			if h.AspectFilter() == deliveryAspect {
				h.ReceivedAnnounce(destination, remote, appData)
			}
		}
	}()
}

func (s *LoopbackStack) KnownPeers() []KnownPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]KnownPeer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].DestinationHash < peers[j].DestinationHash
	})
	return peers
}

func (s *LoopbackStack) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
}

func (s *LoopbackStack) isDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

func (s *LoopbackStack) deliver(msg *MeshMessage) {
	s.mu.Lock()
	fn := s.delivery
	s.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// loopbackLink fails every request, since the loopback hosts no node
// content.
type loopbackLink struct{}

func (loopbackLink) Request(path string, onResponse func(RequestResponse), onFailed func(reason string), onProgress func(fraction float64), timeout time.Duration) {
	go onFailed("no node is hosted at this destination")
}

// newMessageHash derives a hash for a freshly submitted message.
func newMessageHash(msg *MeshMessage) []byte {
	h := sha256.New()
	h.Write(msg.SourceHash)
	h.Write(msg.DestinationHash)
	h.Write(msg.Content)
	h.Write([]byte(uuid.NewString()))
	return h.Sum(nil)[:destinationHashLength]
}
