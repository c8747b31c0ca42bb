// Package memory is an in-process blob and feed store.
//
// It is safe for concurrent use and is the storage double used by protocol tests.
package memory

import (
	"bytes"
	"context"
	"flag"
	"sync"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/storage/registry"
)

type feedKey struct {
	address identity.Address
	topic   feed.Topic
}

type Store struct {
	mu    sync.RWMutex
	blobs map[contenthash.Hash][]byte
	feeds map[feedKey]feed.Update
}

var (
	_ storage.Blobs     = (*Store)(nil)
	_ storage.FeedStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		blobs: make(map[contenthash.Hash][]byte),
		feeds: make(map[feedKey]feed.Update),
	}
}

// Storage returns s as a protocol storage with locally signed feed writes.
func (s *Store) Storage() storage.Storage {
	return storage.Compose(s, storage.SignedFeeds{Store: s})
}

func (s *Store) Write(ctx context.Context, data []byte) (contenthash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := contenthash.Sum(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blobs[h]; ok {
		if !bytes.Equal(existing, data) {
			return "", storage.ErrImmutable
		}
		return h, nil
	}
	s.blobs[h] = bytes.Clone(data)
	return h, nil
}

func (s *Store) Read(ctx context.Context, h contenthash.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := contenthash.Parse(string(h)); err != nil {
		return nil, storage.ErrInvalidHash
	}
	s.mu.RLock()
	b, ok := s.blobs[h]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := bytes.Clone(b)
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, u feed.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := feedKey{address: u.Address, topic: u.Topic}
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored *feed.Update
	if cur, ok := s.feeds[key]; ok {
		stored = &cur
	}
	if err := storage.CheckUpdate(stored, u); err != nil {
		return err
	}
	u.Signature = bytes.Clone(u.Signature)
	s.feeds[key] = u
	return nil
}

func (s *Store) Get(ctx context.Context, address identity.Address, topic feed.Topic) (feed.Update, error) {
	if err := ctx.Err(); err != nil {
		return feed.Update{}, err
	}
	s.mu.RLock()
	u, ok := s.feeds[feedKey{address: address, topic: topic}]
	s.mu.RUnlock()
	if !ok {
		return feed.Update{}, storage.ErrNotFound
	}
	u.Signature = bytes.Clone(u.Signature)
	return u, nil
}

func init() {
	registry.MustRegister(registry.Backend{
		Name:          "memory",
		Description:   "In-memory blobs and feeds (lost on exit)",
		Usage:         registry.UsageCLI | registry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {},
		Open: func() (registry.Handle, error) {
			s := New()
			return registry.Handle{Blobs: s, Feeds: s}, nil
		},
	})
}
