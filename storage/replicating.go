package storage

import (
	"context"
	"fmt"

	"xdao.co/feedsync/contenthash"
)

// NamedBlobs associates a blob store with a stable backend name.
type NamedBlobs struct {
	Name  string
	Blobs Blobs
}

// ReplicatingBlobs writes to all configured backends.
//
// Reads fall back in order. Writes go to all backends and require all returned
// hashes to match (otherwise ErrHashMismatch is returned).
type ReplicatingBlobs struct {
	Backends []NamedBlobs
}

var _ Blobs = ReplicatingBlobs{}

// WriteAll writes the same bytes to all backends.
//
// It returns the hash computed from data and a map of backend name -> returned hash.
func (r ReplicatingBlobs) WriteAll(ctx context.Context, data []byte) (contenthash.Hash, map[string]contenthash.Hash, error) {
	want := contenthash.Sum(data)
	if len(r.Backends) == 0 {
		return "", nil, fmt.Errorf("storage: ReplicatingBlobs has no backends")
	}

	out := make(map[string]contenthash.Hash, len(r.Backends))
	for _, b := range r.Backends {
		if b.Blobs == nil {
			return "", nil, fmt.Errorf("storage: nil blobs for backend %q", b.Name)
		}
		got, err := b.Blobs.Write(ctx, data)
		if err != nil {
			return "", nil, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if got != want {
			return "", out, ErrHashMismatch
		}
	}
	return want, out, nil
}

func (r ReplicatingBlobs) Write(ctx context.Context, data []byte) (contenthash.Hash, error) {
	h, _, err := r.WriteAll(ctx, data)
	return h, err
}

func (r ReplicatingBlobs) Read(ctx context.Context, h contenthash.Hash) ([]byte, error) {
	backends := make([]Blobs, 0, len(r.Backends))
	for _, b := range r.Backends {
		backends = append(backends, b.Blobs)
	}
	return readInOrder(ctx, h, backends)
}
