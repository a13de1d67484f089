package main

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// FileAttachment is one attached file. FileBytes marshals as base64, which
// is the form viewers expect.
type FileAttachment struct {
	FileName  string `json:"file_name"`
	FileBytes []byte `json:"file_bytes"`
}

// ImageAttachment is an inline image, at most one per message.
type ImageAttachment struct {
	ImageType  string `json:"image_type"`
	ImageBytes []byte `json:"image_bytes"`
}

// MessageFields carries the optional attachment payloads of a message.
// The zero value marshals as an empty object.
type MessageFields struct {
	FileAttachments []FileAttachment `json:"file_attachments,omitempty"`
	Image           *ImageAttachment `json:"image,omitempty"`
}

// encodeFields serializes fields to the JSON text stored in the ledger.
func encodeFields(f MessageFields) string {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode message fields")
		return "{}"
	}
	return string(data)
}

// rawFields returns stored fields text as a JSON fragment for API responses.
// Invalid text degrades to null rather than failing the whole response.
func rawFields(text string) json.RawMessage {
	if text == "" {
		return json.RawMessage("{}")
	}
	if !json.Valid([]byte(text)) {
		log.Warn().Msg("stored message fields are not valid json")
		return json.RawMessage("null")
	}
	return json.RawMessage(text)
}
