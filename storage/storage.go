package storage

import (
	"context"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
)

// Blobs is a minimal content-addressed storage interface.
//
// Contract:
// - Write MUST be idempotent on identical bytes.
// - Stored objects MUST be immutable.
// - Hashes MUST be derived from the bytes written.
// - Read MUST return ErrNotFound when the hash is absent.
// - Read MUST NOT return bytes that do not hash to the requested hash.
type Blobs interface {
	Write(ctx context.Context, data []byte) (contenthash.Hash, error)
	Read(ctx context.Context, h contenthash.Hash) ([]byte, error)
}

// Feeds reads and publishes owner-signed mutable pointers.
//
// Read returns ErrNotFound when the feed was never written.
// Write signs the update digest through sign; only the owner of address can
// produce an update a store accepts.
type Feeds interface {
	Read(ctx context.Context, address identity.Address, topic feed.Topic) (contenthash.Hash, error)
	Write(ctx context.Context, address identity.Address, topic feed.Topic, h contenthash.Hash, sign feed.Signer) error
}

// FeedStore persists signed updates.
//
// Contract:
// - Put MUST reject updates whose signature does not recover Address (ErrInvalidSignature).
// - Put MUST reject updates with an epoch older than the stored one (ErrStaleUpdate).
// - Get MUST return ErrNotFound when nothing was stored for (address, topic).
type FeedStore interface {
	Put(ctx context.Context, u feed.Update) error
	Get(ctx context.Context, address identity.Address, topic feed.Topic) (feed.Update, error)
}

// Storage is the capability the sync protocols consume: blobs plus feeds.
type Storage interface {
	Blobs
	Feeds() Feeds
}

type composed struct {
	Blobs
	feeds Feeds
}

func (c composed) Feeds() Feeds { return c.feeds }

// Compose pairs a blob store with a feed implementation.
func Compose(blobs Blobs, feeds Feeds) Storage {
	return composed{Blobs: blobs, feeds: feeds}
}
