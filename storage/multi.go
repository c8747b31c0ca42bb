package storage

import (
	"context"
	"errors"

	"xdao.co/feedsync/contenthash"
)

// MultiBlobs provides deterministic, ordered fallback across multiple blob stores.
//
// Read order is the slice order in Backends; callers MUST supply a fixed order.
// Write goes only to the first backend.
type MultiBlobs struct {
	Backends []Blobs
}

func (m MultiBlobs) Write(ctx context.Context, data []byte) (contenthash.Hash, error) {
	if len(m.Backends) == 0 {
		return "", errors.New("storage: MultiBlobs has no backends")
	}
	return m.Backends[0].Write(ctx, data)
}

func (m MultiBlobs) Read(ctx context.Context, h contenthash.Hash) ([]byte, error) {
	return readInOrder(ctx, h, m.Backends)
}

func readInOrder(ctx context.Context, h contenthash.Hash, backends []Blobs) ([]byte, error) {
	for _, b := range backends {
		if b == nil {
			continue
		}
		out, err := b.Read(ctx, h)
		if err == nil {
			return out, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}
