package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// taskQueueSize bounds how far the mesh side can run ahead of the dispatch
// loop before events are shed.
const taskQueueSize = 256

// commandTypeConfigSet is the one viewer command without a matching event
// type.
const commandTypeConfigSet = "config.set"

// task is one unit of work on the dispatcher queue.
type task struct {
	name string
	fn   func()
}

// Dispatcher serializes everything that touches the ledger and the viewer
// registry onto a single goroutine. Mesh callbacks and WebSocket readers
// hand work off through the queue instead of mutating shared state, so no
// two events are ever processed concurrently and per-message event order is
// preserved.
type Dispatcher struct {
	stack      MeshStack
	store      *MessageStore
	hub        *Hub
	identity   *Identity
	cfg        Config
	configPath string

	tasks    chan task
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(stack MeshStack, store *MessageStore, identity *Identity, cfg Config, configPath string) *Dispatcher {
	return &Dispatcher{
		stack:      stack,
		store:      store,
		hub:        newHub(),
		identity:   identity,
		cfg:        cfg,
		configPath: configPath,
		tasks:      make(chan task, taskQueueSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start registers the mesh callbacks and launches the dispatch loop.
func (d *Dispatcher) Start() {
	d.stack.RegisterDeliveryCallback(d.onMessageDelivered)
	d.stack.RegisterAnnounceHandler(&deliveryAnnounceHandler{onAnnounce: d.onPeerAnnounced})
	go d.run()
}

// Stop shuts down the dispatch loop and closes every viewer session.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case t := <-d.tasks:
			d.runTask(t)
		case <-d.done:
			d.hub.closeAll()
			return
		}
	}
}

// runTask executes one task behind a recover guard. A fault in one event
// must not take down the loop every other event depends on.
func (d *Dispatcher) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", t.name).Interface("panic", r).Msg("recovered panic in dispatcher task")
		}
	}()
	t.fn()
}

// enqueue hands a task to the dispatch loop without blocking the caller.
// Mesh callbacks run on stack goroutines and must never stall there, so a
// full queue sheds the task instead of waiting.
func (d *Dispatcher) enqueue(name string, fn func()) {
	select {
	case <-d.done:
		log.Warn().Str("task", name).Msg("dispatcher stopped, task dropped")
		return
	default:
	}
	select {
	case d.tasks <- task{name: name, fn: fn}:
	default:
		log.Error().Str("task", name).Msg("dispatcher queue full, task dropped")
	}
}

// ---------------------------------------------------------------------------
// Viewer sessions
// ---------------------------------------------------------------------------

// RegisterSession adds a viewer and pushes its initial state: the current
// config, then the known-peers snapshot, ahead of anything else the session
// will see.
func (d *Dispatcher) RegisterSession(s *ViewerSession) {
	d.enqueue("register session", func() {
		d.hub.register(s)
		d.hub.sendTo(s.ID, d.currentConfigEvent())
		d.hub.sendTo(s.ID, d.currentKnownPeersEvent())
	})
}

// DeregisterSession removes a viewer once its connection is gone.
func (d *Dispatcher) DeregisterSession(s *ViewerSession) {
	d.enqueue("deregister session", func() {
		d.hub.deregister(s.ID)
	})
}

func (d *Dispatcher) currentConfigEvent() configEvent {
	return configEvent{
		Type: eventTypeConfig,
		Config: configPayload{
			DisplayName:     d.cfg.DisplayName,
			IdentityHash:    d.identity.HexHash(),
			LXMFAddressHash: hex.EncodeToString(d.identity.DeliveryAddress()),
		},
	}
}

func (d *Dispatcher) currentKnownPeersEvent() knownPeersEvent {
	peers := d.stack.KnownPeers()
	if peers == nil {
		peers = []KnownPeer{}
	}
	return knownPeersEvent{Type: eventTypeKnownPeers, KnownPeers: peers}
}

// ---------------------------------------------------------------------------
// Mesh callbacks
// ---------------------------------------------------------------------------

// onMessageDelivered handles an incoming message from the mesh layer.
func (d *Dispatcher) onMessageDelivered(msg *MeshMessage) {
	d.enqueue("message delivered", func() {
		log.Info().Str("hash", hex.EncodeToString(msg.Hash)).Str("source", hex.EncodeToString(msg.SourceHash)).Msg("message delivered")
		d.persistAndBroadcast(eventTypeDelivery, msg)
	})
}

// onOutboundStateChanged handles a state transition for a message we sent.
func (d *Dispatcher) onOutboundStateChanged(msg *MeshMessage) {
	d.enqueue("outbound state changed", func() {
		d.persistAndBroadcast(eventTypeStateUpdated, msg)
	})
}

// onOutboundFailed handles terminal failure of a message we sent. On the
// wire, failure is just another state update.
func (d *Dispatcher) onOutboundFailed(msg *MeshMessage) {
	d.enqueue("outbound failed", func() {
		log.Warn().Str("hash", hex.EncodeToString(msg.Hash)).Msg("outbound message failed")
		d.persistAndBroadcast(eventTypeStateUpdated, msg)
	})
}

// onPeerAnnounced handles a peer announce on the delivery aspect. The
// stack's announce cache is the system of record for peers; here the
// announce only has to reach the viewers.
func (d *Dispatcher) onPeerAnnounced(destinationHash []byte, identity *RemoteIdentity, appData []byte) {
	d.enqueue("peer announced", func() {
		destHex := hex.EncodeToString(destinationHash)
		log.Debug().Str("destination", destHex).Msg("peer announced")
		d.hub.broadcast(announceEvent{
			Type: eventTypeAnnounce,
			Announce: KnownPeer{
				DestinationHash:       destHex,
				AppData:               decodeAppData(appData),
				LastAnnounceTimestamp: nowFloat(),
			},
		})
	})
}

// persistAndBroadcast upserts the message snapshot and pushes it to every
// viewer. A failed write is logged and the broadcast still goes out, so
// viewers keep tracking the network even when the disk does not.
func (d *Dispatcher) persistAndBroadcast(eventType string, msg *MeshMessage) {
	wire := wireMessageFromMesh(msg)
	if err := d.store.UpsertMessage(wire.Hash, wire.SourceHash, wire.DestinationHash, msg.Incoming,
		wire.State, msg.Progress, wire.Title, wire.Content, encodeFields(msg.Fields), msg.Timestamp); err != nil {
		log.Error().Err(err).Str("hash", wire.Hash).Msg("failed to persist message")
	}
	d.hub.broadcast(messageEvent{Type: eventType, LXMFMessage: wire})
}

// ---------------------------------------------------------------------------
// Viewer commands
// ---------------------------------------------------------------------------

// viewerCommand is the envelope of every message a viewer sends over the
// socket. Which fields are meaningful depends on the type.
type viewerCommand struct {
	Type            string           `json:"type"`
	Config          *configUpdate    `json:"config"`
	DestinationHash string           `json:"destination_hash"`
	Message         string           `json:"message"`
	PageDownload    *downloadRequest `json:"nomadnet_page_download"`
	FileDownload    *downloadRequest `json:"nomadnet_file_download"`
}

type configUpdate struct {
	DisplayName string `json:"display_name"`
}

type downloadRequest struct {
	DestinationHash string `json:"destination_hash"`
	PagePath        string `json:"page_path"`
	FilePath        string `json:"file_path"`
}

// HandleViewerCommand runs one viewer message through the dispatch loop.
// Bad input is logged and dropped; the connection stays open.
func (d *Dispatcher) HandleViewerCommand(s *ViewerSession, raw []byte) {
	d.enqueue("viewer command", func() {
		var cmd viewerCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Warn().Str("session", s.ID).Err(err).Msg("ignoring malformed viewer message")
			return
		}

		switch cmd.Type {
		case commandTypeConfigSet:
			d.handleConfigSet(cmd.Config)
		case eventTypeDelivery:
			d.handleSendMessage(cmd.DestinationHash, cmd.Message)
		case eventTypeAnnounce:
			d.stack.Announce([]byte(d.cfg.DisplayName))
			log.Info().Str("display_name", d.cfg.DisplayName).Msg("announced to the network")
		case eventTypePageDownload:
			d.handleDownload(s, ResourcePage, cmd.PageDownload)
		case eventTypeFileDownload:
			d.handleDownload(s, ResourceFile, cmd.FileDownload)
		default:
			log.Warn().Str("session", s.ID).Str("type", cmd.Type).Msg("unhandled viewer message type")
		}
	})
}

// handleConfigSet applies a display name change, persists it and
// re-broadcasts the config so every viewer converges on the new value.
func (d *Dispatcher) handleConfigSet(update *configUpdate) {
	if update == nil || update.DisplayName == "" {
		return
	}
	d.cfg.DisplayName = update.DisplayName
	if err := saveConfig(d.configPath, d.cfg); err != nil {
		log.Error().Err(err).Msg("failed to save config")
	}
	log.Info().Str("display_name", d.cfg.DisplayName).Msg("display name updated")
	d.hub.broadcast(d.currentConfigEvent())
}

// handleSendMessage builds and submits an outbound message. When the
// destination identity is not yet known, only a path request goes out and
// the viewer retries once the destination has announced.
func (d *Dispatcher) handleSendMessage(destinationHex, content string) {
	destination, err := parseDestinationHash(destinationHex)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring send to invalid destination")
		return
	}

	if d.stack.RecallIdentity(destination) == nil {
		d.stack.RequestPath(destination)
		log.Info().Str("destination", destinationHex).Msg("destination identity unknown, path requested")
		return
	}

	msg := &MeshMessage{
		SourceHash:      d.identity.DeliveryAddress(),
		DestinationHash: destination,
		State:           StateDraft,
		Content:         []byte(content),
		Timestamp:       nowFloat(),
	}
	d.stack.SubmitOutbound(msg, d.onOutboundStateChanged, d.onOutboundFailed)
	log.Info().Str("hash", hex.EncodeToString(msg.Hash)).Str("destination", destinationHex).Msg("outbound message created")
	d.persistAndBroadcast(eventTypeOutboundCreated, msg)
}

// handleDownload starts a page or file download for the requesting session.
// Results go back to that session only, not to every viewer.
func (d *Dispatcher) handleDownload(s *ViewerSession, kind ResourceKind, req *downloadRequest) {
	if req == nil {
		log.Warn().Str("session", s.ID).Msg("ignoring download request without payload")
		return
	}
	resourcePath := req.PagePath
	if kind == ResourceFile {
		resourcePath = req.FilePath
	}
	destination, err := parseDestinationHash(req.DestinationHash)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring download for invalid destination")
		return
	}

	sessionID := s.ID
	destinationHex := req.DestinationHash
	dl := NewResourceDownloader(d.stack, destination, resourcePath, kind, DownloadCallbacks{
		OnSuccess: func(result DownloadResult) {
			d.enqueue("download finished", func() {
				d.hub.sendTo(sessionID, downloadSuccessEvent(kind, destinationHex, resourcePath, result))
			})
		},
		OnFailure: func(reason string) {
			d.enqueue("download failed", func() {
				d.hub.sendTo(sessionID, downloadFailureEvent(kind, destinationHex, resourcePath, reason))
			})
		},
		OnProgress: func(fraction float64) {
			d.enqueue("download progress", func() {
				d.hub.sendTo(sessionID, downloadProgressEvent(kind, destinationHex, resourcePath, fraction))
			})
		},
	})
	dl.Start()
}

// ---------------------------------------------------------------------------
// Download events
// ---------------------------------------------------------------------------

func downloadEventKeys(kind ResourceKind) (eventType, payloadKey, pathKey string) {
	if kind == ResourceFile {
		return eventTypeFileDownload, "nomadnet_file_download", "file_path"
	}
	return eventTypePageDownload, "nomadnet_page_download", "page_path"
}

func downloadSuccessEvent(kind ResourceKind, destinationHex, resourcePath string, result DownloadResult) map[string]any {
	eventType, payloadKey, pathKey := downloadEventKeys(kind)
	payload := map[string]any{
		"status":           "success",
		"destination_hash": destinationHex,
		pathKey:            resourcePath,
	}
	if kind == ResourceFile {
		payload["file_name"] = result.Name
		payload["file_bytes"] = base64.StdEncoding.EncodeToString(result.Data)
	} else {
		payload["page_content"] = result.Content
	}
	return map[string]any{"type": eventType, payloadKey: payload}
}

func downloadFailureEvent(kind ResourceKind, destinationHex, resourcePath, reason string) map[string]any {
	eventType, payloadKey, pathKey := downloadEventKeys(kind)
	return map[string]any{"type": eventType, payloadKey: map[string]any{
		"status":           "error",
		"failure_reason":   reason,
		"destination_hash": destinationHex,
		pathKey:            resourcePath,
	}}
}

func downloadProgressEvent(kind ResourceKind, destinationHex, resourcePath string, fraction float64) map[string]any {
	eventType, payloadKey, pathKey := downloadEventKeys(kind)
	return map[string]any{"type": eventType, payloadKey: map[string]any{
		"status":           "progress",
		"progress":         fraction,
		"destination_hash": destinationHex,
		pathKey:            resourcePath,
	}}
}

// ---------------------------------------------------------------------------
// Announce intake
// ---------------------------------------------------------------------------

// deliveryAnnounceHandler filters announces to the LXMF delivery aspect and
// forwards them behind a recover guard, so a fault on our side never
// reaches the stack's announce loop.
type deliveryAnnounceHandler struct {
	onAnnounce func(destinationHash []byte, identity *RemoteIdentity, appData []byte)
}

func (h *deliveryAnnounceHandler) AspectFilter() string {
	return deliveryAspect
}

func (h *deliveryAnnounceHandler) ReceivedAnnounce(destinationHash []byte, identity *RemoteIdentity, appData []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered panic in announce handler")
		}
	}()
	h.onAnnounce(destinationHash, identity, appData)
}
