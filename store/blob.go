package store

import (
	"context"
	"errors"
	"fmt"

	"askpdf/index"
	"askpdf/ragerr"
)

// ErrNotFound is returned by BlobStore.Read for keys never written.
var ErrNotFound = errors.New("blob not found")

// BlobStore is a key to bytes store. Write replaces the whole value at once.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Name() string
}

// BlobIndexStore keeps each index as one encoded blob keyed by handle.
type BlobIndexStore struct {
	blobs BlobStore
}

func NewBlobIndexStore(blobs BlobStore) *BlobIndexStore {
	return &BlobIndexStore{blobs: blobs}
}

func (s *BlobIndexStore) Save(ctx context.Context, ix *index.Index) error {
	op := "store." + s.blobs.Name() + ".save"

	data, err := Encode(ix)
	if err != nil {
		return ragerr.Permanent(ragerr.KindStorage, op, err)
	}
	if err := s.blobs.Write(ctx, ix.Handle, data); err != nil {
		return ragerr.Transient(ragerr.KindStorage, op, err)
	}
	return nil
}

func (s *BlobIndexStore) Load(ctx context.Context, handle string) (*index.Index, error) {
	op := "store." + s.blobs.Name() + ".load"

	data, err := s.blobs.Read(ctx, handle)
	if errors.Is(err, ErrNotFound) {
		return nil, ragerr.New(ragerr.KindIndexNotFound, op, fmt.Sprintf("no index at %q", handle))
	}
	if err != nil {
		return nil, ragerr.Transient(ragerr.KindStorage, op, err)
	}

	ix, err := Decode(data)
	if err != nil {
		return nil, ragerr.Permanent(ragerr.KindStorage, op, err)
	}
	return ix, nil
}
