package main

import (
	"encoding/hex"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Nomadnet nodes serve pages and files on the nomadnetwork/node aspect.
const (
	nomadnetAppName = "nomadnetwork"
	nomadnetAspect  = "node"
)

const defaultDownloadTimeout = 15 * time.Second

// ResourceKind selects how a download response is decoded.
type ResourceKind string

const (
	ResourcePage ResourceKind = "page"
	ResourceFile ResourceKind = "file"
)

// DownloadResult is the decoded payload of a finished download. Content is
// set for pages, Name and Data for files.
type DownloadResult struct {
	Kind    ResourceKind
	Content string
	Name    string
	Data    []byte
}

// DownloadCallbacks receive the outcome of a download. Exactly one of
// OnSuccess or OnFailure fires, after any number of OnProgress calls; all
// of them may fire from mesh context.
type DownloadCallbacks struct {
	OnSuccess  func(result DownloadResult)
	OnFailure  func(reason string)
	OnProgress func(fraction float64)
}

// resourceCodec turns a raw link response into a DownloadResult.
type resourceCodec func(resp RequestResponse) (DownloadResult, error)

func decodePage(resp RequestResponse) (DownloadResult, error) {
	if !utf8.Valid(resp.Data) {
		return DownloadResult{}, errors.New("page response is not valid utf-8")
	}
	return DownloadResult{Kind: ResourcePage, Content: string(resp.Data)}, nil
}

func decodeFile(resp RequestResponse) (DownloadResult, error) {
	if resp.Name == "" {
		return DownloadResult{}, errors.New("file response carries no name")
	}
	return DownloadResult{Kind: ResourceFile, Name: resp.Name, Data: resp.Data}, nil
}

// ResourceDownloader fetches one page or file from a remote nomadnet node:
// request a path, recall the destination identity, establish a link, then
// issue the resource request. Each instance runs a single download.
type ResourceDownloader struct {
	stack           MeshStack
	jobID           string
	destinationHash []byte
	path            string
	kind            ResourceKind
	codec           resourceCodec
	timeout         time.Duration
	callbacks       DownloadCallbacks
}

func NewResourceDownloader(stack MeshStack, destinationHash []byte, path string, kind ResourceKind, callbacks DownloadCallbacks) *ResourceDownloader {
	dl := &ResourceDownloader{
		stack:           stack,
		jobID:           uuid.NewString(),
		destinationHash: destinationHash,
		path:            path,
		kind:            kind,
		timeout:         defaultDownloadTimeout,
		callbacks:       callbacks,
	}
	switch kind {
	case ResourceFile:
		dl.codec = decodeFile
	default:
		dl.codec = decodePage
	}
	return dl
}

// Start kicks off the download. It returns as soon as the link request is
// underway; outcomes arrive through the callbacks.
func (dl *ResourceDownloader) Start() {
	destHex := hex.EncodeToString(dl.destinationHash)
	log.Debug().Str("job", dl.jobID).Str("destination", destHex).Str("path", dl.path).Msg("requesting path to destination")
	dl.stack.RequestPath(dl.destinationHash)

	identity := dl.stack.RecallIdentity(dl.destinationHash)
	if identity == nil {
		dl.fail("identity not found")
		return
	}

	log.Debug().Str("job", dl.jobID).Str("destination", destHex).Msg("establishing link")
	dl.stack.EstablishLink(Destination{
		Identity: identity,
		AppName:  nomadnetAppName,
		Aspect:   nomadnetAspect,
	}, dl.linkEstablished)
}

func (dl *ResourceDownloader) linkEstablished(link Link) {
	log.Debug().Str("job", dl.jobID).Str("path", dl.path).Msg("link established, requesting resource")
	link.Request(dl.path, dl.handleResponse, dl.handleFailed, dl.handleProgress, dl.timeout)
}

func (dl *ResourceDownloader) handleResponse(resp RequestResponse) {
	result, err := dl.codec(resp)
	if err != nil {
		dl.fail(err.Error())
		return
	}
	log.Debug().Str("job", dl.jobID).Str("path", dl.path).Msg("download complete")
	dl.callbacks.OnSuccess(result)
}

func (dl *ResourceDownloader) handleFailed(reason string) {
	if reason == "" {
		reason = "request_failed"
	}
	dl.fail(reason)
}

func (dl *ResourceDownloader) handleProgress(fraction float64) {
	dl.callbacks.OnProgress(fraction)
}

func (dl *ResourceDownloader) fail(reason string) {
	log.Debug().Str("job", dl.jobID).Str("path", dl.path).Str("reason", reason).Msg("download failed")
	dl.callbacks.OnFailure(reason)
}
