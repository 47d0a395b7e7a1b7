package store

import (
	"encoding/json"
	"fmt"

	"askpdf/index"
)

const codecVersion = 1

type envelope struct {
	Version int          `json:"version"`
	Index   *index.Index `json:"index"`
}

// Encode serializes an index for a blob store.
func Encode(ix *index.Index) ([]byte, error) {
	data, err := json.Marshal(envelope{Version: codecVersion, Index: ix})
	if err != nil {
		return nil, fmt.Errorf("encode index %q: %w", ix.Handle, err)
	}
	return data, nil
}

// Decode parses a blob written by Encode.
func Decode(data []byte) (*index.Index, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if env.Version != codecVersion {
		return nil, fmt.Errorf("decode index: unsupported version %d", env.Version)
	}
	if env.Index == nil {
		return nil, fmt.Errorf("decode index: missing body")
	}
	return env.Index, nil
}
