package main

import (
	"bytes"
	"encoding/hex"
	"sync"
	"testing"
	"time"
)

func waitForMessage(t *testing.T, ch <-chan *MeshMessage) *MeshMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

type captureAnnounceHandler struct {
	aspect string
	ch     chan []byte
}

func (h *captureAnnounceHandler) AspectFilter() string { return h.aspect }

func (h *captureAnnounceHandler) ReceivedAnnounce(destinationHash []byte, identity *RemoteIdentity, appData []byte) {
	h.ch <- appData
}

func TestLoopbackSelfDelivery(t *testing.T) {
	identity, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error: %v", err)
	}
	stack := NewLoopbackStack(identity)

	delivered := make(chan *MeshMessage, 1)
	stack.RegisterDeliveryCallback(func(msg *MeshMessage) { delivered <- msg })

	states := make(chan *MeshMessage, 4)
	failed := make(chan *MeshMessage, 1)
	msg := &MeshMessage{
		SourceHash:      identity.DeliveryAddress(),
		DestinationHash: identity.DeliveryAddress(),
		State:           StateDraft,
		Content:         []byte("hello self"),
		Timestamp:       nowFloat(),
	}
	stack.SubmitOutbound(msg, func(m *MeshMessage) { states <- m }, func(m *MeshMessage) { failed <- m })

	if len(msg.Hash) != destinationHashLength {
		t.Fatalf("assigned hash length = %d, want %d", len(msg.Hash), destinationHashLength)
	}
	if msg.State != StateOutbound {
		t.Errorf("state after submit = %s, want %s", msg.State, StateOutbound)
	}

	if first := waitForMessage(t, states); first.State != StateSending {
		t.Errorf("first state change = %s, want %s", first.State, StateSending)
	}

	inbound := waitForMessage(t, delivered)
	if !inbound.Incoming {
		t.Error("looped-back message not marked incoming")
	}
	if inbound.State != StateDelivered {
		t.Errorf("inbound state = %s, want %s", inbound.State, StateDelivered)
	}
	if !bytes.Equal(inbound.Hash, msg.Hash) {
		t.Error("inbound hash differs from submitted hash")
	}
	if string(inbound.Content) != "hello self" {
		t.Errorf("inbound content = %q", inbound.Content)
	}

	last := waitForMessage(t, states)
	if last.State != StateDelivered {
		t.Errorf("final state change = %s, want %s", last.State, StateDelivered)
	}
	if last.Progress != 1 {
		t.Errorf("final progress = %v, want 1", last.Progress)
	}

	select {
	case <-failed:
		t.Error("self delivery reported failure")
	default:
	}
}

func TestLoopbackUnknownDestinationFails(t *testing.T) {
	identity, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error: %v", err)
	}
	other, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error: %v", err)
	}
	stack := NewLoopbackStack(identity)

	delivered := make(chan *MeshMessage, 1)
	stack.RegisterDeliveryCallback(func(msg *MeshMessage) { delivered <- msg })

	states := make(chan *MeshMessage, 4)
	failed := make(chan *MeshMessage, 1)
	msg := &MeshMessage{
		SourceHash:      identity.DeliveryAddress(),
		DestinationHash: other.DeliveryAddress(),
		Content:         []byte("anyone there"),
	}
	stack.SubmitOutbound(msg, func(m *MeshMessage) { states <- m }, func(m *MeshMessage) { failed <- m })

	if first := waitForMessage(t, states); first.State != StateSending {
		t.Errorf("first state change = %s, want %s", first.State, StateSending)
	}
	if final := waitForMessage(t, failed); final.State != StateFailed {
		t.Errorf("failure state = %s, want %s", final.State, StateFailed)
	}

	select {
	case <-delivered:
		t.Error("message to unknown destination was delivered")
	default:
	}
}

func TestLoopbackAnnounce(t *testing.T) {
	identity, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error: %v", err)
	}
	stack := NewLoopbackStack(identity)

	otherAspect := &captureAnnounceHandler{aspect: "nomadnetwork.node", ch: make(chan []byte, 1)}
	matching := &captureAnnounceHandler{aspect: deliveryAspect, ch: make(chan []byte, 1)}
	stack.RegisterAnnounceHandler(otherAspect)
	stack.RegisterAnnounceHandler(matching)

	stack.Announce([]byte("Alice"))

	select {
	case appData := <-matching.ch:
		if string(appData) != "Alice" {
			t.Errorf("announce app data = %q, want Alice", appData)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for announce")
	}
	select {
	case <-otherAspect.ch:
		t.Error("announce reached handler with a different aspect filter")
	default:
	}

	peers := stack.KnownPeers()
	if len(peers) != 1 {
		t.Fatalf("len(KnownPeers()) = %d, want 1", len(peers))
	}
	wantDest := hex.EncodeToString(identity.DeliveryAddress())
	if peers[0].DestinationHash != wantDest {
		t.Errorf("peer destination = %s, want %s", peers[0].DestinationHash, wantDest)
	}
	if peers[0].AppData == nil || *peers[0].AppData != "Alice" {
		t.Errorf("peer app data = %v, want Alice", peers[0].AppData)
	}
	if peers[0].LastAnnounceTimestamp <= 0 {
		t.Errorf("peer timestamp = %v, want > 0", peers[0].LastAnnounceTimestamp)
	}
}

func TestLoopbackKnownPeersEmpty(t *testing.T) {
	identity, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error: %v", err)
	}
	stack := NewLoopbackStack(identity)

	peers := stack.KnownPeers()
	if peers == nil {
		t.Fatal("KnownPeers() = nil, want empty slice")
	}
	if len(peers) != 0 {
		t.Errorf("len(KnownPeers()) = %d, want 0", len(peers))
	}
}

func TestLoopbackRecallIdentity(t *testing.T) {
	identity, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error: %v", err)
	}
	stack := NewLoopbackStack(identity)

	remote := stack.RecallIdentity(identity.DeliveryAddress())
	if remote == nil {
		t.Fatal("RecallIdentity(self) = nil")
	}
	if !bytes.Equal(remote.Hash, identity.Hash()) {
		t.Error("recalled identity hash differs from local identity")
	}
	if !bytes.Equal(remote.PublicKey, identity.PublicKey()) {
		t.Error("recalled public key differs from local identity")
	}

	if got := stack.RecallIdentity(make([]byte, destinationHashLength)); got != nil {
		t.Errorf("RecallIdentity(unknown) = %v, want nil", got)
	}
}

func TestLoopbackLinkRequestFails(t *testing.T) {
	identity, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error: %v", err)
	}
	stack := NewLoopbackStack(identity)

	links := make(chan Link, 1)
	stack.EstablishLink(Destination{AppName: nomadnetAppName, Aspect: nomadnetAspect}, func(l Link) { links <- l })

	var link Link
	select {
	case link = <-links:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for link")
	}

	reasons := make(chan string, 1)
	link.Request("/page/index.mu", func(RequestResponse) { t.Error("unexpected response") }, func(reason string) { reasons <- reason }, nil, time.Second)

	select {
	case reason := <-reasons:
		if reason != "no node is hosted at this destination" {
			t.Errorf("failure reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request failure")
	}
}

func TestLoopbackDetach(t *testing.T) {
	identity, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity() error: %v", err)
	}
	stack := NewLoopbackStack(identity)
	stack.Detach()

	stack.Announce([]byte("Alice"))
	if got := len(stack.KnownPeers()); got != 0 {
		t.Errorf("len(KnownPeers()) after detach = %d, want 0", got)
	}

	states := make(chan *MeshMessage, 4)
	msg := &MeshMessage{DestinationHash: identity.DeliveryAddress(), Content: []byte("x")}
	stack.SubmitOutbound(msg, func(m *MeshMessage) { states <- m }, func(m *MeshMessage) { states <- m })

	select {
	case m := <-states:
		t.Errorf("detached stack fired state change %s", m.State)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewMessageHashUnique(t *testing.T) {
	msg := &MeshMessage{
		SourceHash:      []byte{1, 2},
		DestinationHash: []byte{3, 4},
		Content:         []byte("same"),
	}
	a := newMessageHash(msg)
	b := newMessageHash(msg)
	if len(a) != destinationHashLength {
		t.Errorf("hash length = %d, want %d", len(a), destinationHashLength)
	}
	if bytes.Equal(a, b) {
		t.Error("two submissions produced the same hash")
	}
}

// --- test doubles -----------------------------------------------------------

// fakeLinkRequest captures one Request call so tests can drive its callbacks.
type fakeLinkRequest struct {
	path       string
	onResponse func(RequestResponse)
	onFailed   func(reason string)
	onProgress func(fraction float64)
	timeout    time.Duration
}

type fakeLink struct {
	mu       sync.Mutex
	requests []fakeLinkRequest
}

func (l *fakeLink) Request(path string, onResponse func(RequestResponse), onFailed func(reason string), onProgress func(fraction float64), timeout time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, fakeLinkRequest{
		path:       path,
		onResponse: onResponse,
		onFailed:   onFailed,
		onProgress: onProgress,
		timeout:    timeout,
	})
}

func (l *fakeLink) lastRequest(t *testing.T) fakeLinkRequest {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.requests) == 0 {
		t.Fatal("no link request was issued")
	}
	return l.requests[len(l.requests)-1]
}

func (l *fakeLink) requestCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// submittedMessage pairs a submitted outbound message with its callbacks so
// tests can replay state transitions on demand.
type submittedMessage struct {
	msg            *MeshMessage
	onStateChanged func(*MeshMessage)
	onFailed       func(*MeshMessage)
}

func (sub submittedMessage) fireState(state MessageState, progress float64) {
	next := *sub.msg
	next.State = state
	next.Progress = progress
	sub.onStateChanged(&next)
}

func (sub submittedMessage) fireFailed() {
	next := *sub.msg
	next.State = StateFailed
	sub.onFailed(&next)
}

// fakeStack is a scriptable MeshStack. It records everything and fires
// nothing on its own; tests drive deliveries, announces, and state changes
// through the fire helpers.
type fakeStack struct {
	mu           sync.Mutex
	identities   map[string]*RemoteIdentity
	peers        []KnownPeer
	pathRequests [][]byte
	announced    [][]byte
	submitted    []submittedMessage
	delivery     func(*MeshMessage)
	handlers     []AnnounceHandler
	link         *fakeLink
	detached     bool
}

func newFakeStack() *fakeStack {
	return &fakeStack{
		identities: make(map[string]*RemoteIdentity),
		link:       &fakeLink{},
	}
}

func (s *fakeStack) RegisterDeliveryCallback(fn func(*MeshMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivery = fn
}

func (s *fakeStack) RegisterAnnounceHandler(h AnnounceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *fakeStack) SubmitOutbound(msg *MeshMessage, onStateChanged func(*MeshMessage), onFailed func(*MeshMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := make([]byte, destinationHashLength)
	hash[0] = byte(len(s.submitted) + 1)
	msg.Hash = hash
	msg.State = StateOutbound
	s.submitted = append(s.submitted, submittedMessage{msg: msg, onStateChanged: onStateChanged, onFailed: onFailed})
}

func (s *fakeStack) RecallIdentity(destinationHash []byte) *RemoteIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identities[hex.EncodeToString(destinationHash)]
}

func (s *fakeStack) RequestPath(destinationHash []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pathRequests = append(s.pathRequests, append([]byte(nil), destinationHash...))
}

func (s *fakeStack) EstablishLink(dest Destination, onEstablished func(Link)) {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	onEstablished(link)
}

func (s *fakeStack) Announce(appData []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announced = append(s.announced, append([]byte(nil), appData...))
}

func (s *fakeStack) KnownPeers() []KnownPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]KnownPeer{}, s.peers...)
}

func (s *fakeStack) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
}

func (s *fakeStack) addIdentity(destinationHash []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[hex.EncodeToString(destinationHash)] = &RemoteIdentity{
		PublicKey: bytes.Repeat([]byte{0xee}, 64),
		Hash:      append([]byte(nil), destinationHash...),
	}
}

func (s *fakeStack) setPeers(peers []KnownPeer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = peers
}

// fireDelivery hands an incoming message to the registered delivery callback
// the way the mesh layer would.
func (s *fakeStack) fireDelivery(msg *MeshMessage) {
	s.mu.Lock()
	fn := s.delivery
	s.mu.Unlock()
	if fn == nil {
		panic("no delivery callback registered")
	}
	fn(msg)
}

// fireAnnounce replays a received announce into every handler whose aspect
// filter matches.
func (s *fakeStack) fireAnnounce(destinationHash []byte, appData []byte) {
	s.mu.Lock()
	handlers := append([]AnnounceHandler(nil), s.handlers...)
	s.mu.Unlock()
	remote := &RemoteIdentity{Hash: append([]byte(nil), destinationHash...)}
	for _, h := range handlers {
		if h.AspectFilter() == deliveryAspect {
			h.ReceivedAnnounce(destinationHash, remote, appData)
		}
	}
}

func (s *fakeStack) lastSubmitted(t *testing.T) submittedMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.submitted) == 0 {
		t.Fatal("no outbound message was submitted")
	}
	return s.submitted[len(s.submitted)-1]
}

func (s *fakeStack) submittedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submitted)
}

func (s *fakeStack) pathRequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pathRequests)
}

func (s *fakeStack) announcedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.announced)
}

func (s *fakeStack) lastAnnounced(t *testing.T) []byte {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.announced) == 0 {
		t.Fatal("nothing was announced")
	}
	return s.announced[len(s.announced)-1]
}
