package main

import (
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// destinationHashLength is the byte length of a destination hash, the
// truncated digest Reticulum-style addressing uses everywhere.
const destinationHashLength = 16

// parseDestinationHash decodes a hex destination hash as received from
// viewers and validates its length.
func parseDestinationHash(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse destination hash %q: %w", s, err)
	}
	if len(raw) != destinationHashLength {
		return nil, fmt.Errorf("parse destination hash %q: want %d bytes, got %d", s, destinationHashLength, len(raw))
	}
	return raw, nil
}

// decodeAppData interprets announced app data as a UTF-8 label. Returns nil
// for missing or undecodable data so viewers can tell "no label" apart from
// an empty one.
func decodeAppData(appData []byte) *string {
	if appData == nil {
		return nil
	}
	if !utf8.Valid(appData) {
		return nil
	}
	s := string(appData)
	return &s
}
