// Package localfs stores blobs and feed updates in a local directory.
//
// Layout under the root:
//
//	blobs/<hash[:2]>/<hash>          immutable, mode 0444
//	feeds/<address>/<topic>.json     latest accepted update, replaced atomically
package localfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
)

type Store struct {
	root string
	// mu serialises feed replacement within the process.
	mu sync.Mutex
}

var (
	_ storage.Blobs     = (*Store)(nil)
	_ storage.FeedStore = (*Store)(nil)
)

// New constructs a store rooted at root. The directory will be created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	for _, dir := range []string{root, filepath.Join(root, "blobs"), filepath.Join(root, "feeds")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) Write(ctx context.Context, data []byte) (contenthash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := contenthash.Sum(data)

	path := s.blobPath(h)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := s.Read(ctx, h)
			if rerr != nil {
				// An existing but unreadable or corrupted object is an immutability violation.
				return "", storage.ErrImmutable
			}
			if !bytes.Equal(existing, data) {
				return "", storage.ErrImmutable
			}
			return h, nil
		}
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return h, nil
}

func (s *Store) Read(ctx context.Context, h contenthash.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := contenthash.Parse(string(h)); err != nil {
		return nil, storage.ErrInvalidHash
	}
	b, err := os.ReadFile(s.blobPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if !h.Matches(b) {
		return nil, storage.ErrHashMismatch
	}
	return b, nil
}

func (s *Store) Put(ctx context.Context, u feed.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored *feed.Update
	cur, err := s.readFeed(u.Address, u.Topic)
	switch {
	case err == nil:
		stored = &cur
	case storage.IsNotFound(err):
	default:
		return err
	}
	if err := storage.CheckUpdate(stored, u); err != nil {
		return err
	}

	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	path := s.feedPath(u.Address, u.Topic)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".update-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, address identity.Address, topic feed.Topic) (feed.Update, error) {
	if err := ctx.Err(); err != nil {
		return feed.Update{}, err
	}
	return s.readFeed(address, topic)
}

func (s *Store) readFeed(address identity.Address, topic feed.Topic) (feed.Update, error) {
	b, err := os.ReadFile(s.feedPath(address, topic))
	if err != nil {
		if os.IsNotExist(err) {
			return feed.Update{}, storage.ErrNotFound
		}
		return feed.Update{}, err
	}
	var u feed.Update
	if err := json.Unmarshal(b, &u); err != nil {
		return feed.Update{}, fmt.Errorf("localfs: corrupt feed record: %w", err)
	}
	if u.Address != address || u.Topic != topic {
		return feed.Update{}, fmt.Errorf("localfs: feed record for %s/%s is misplaced", u.Address, u.Topic)
	}
	return u, nil
}

func (s *Store) blobPath(h contenthash.Hash) string {
	str := h.String()
	return filepath.Join(s.root, "blobs", str[:2], str)
}

func (s *Store) feedPath(address identity.Address, topic feed.Topic) string {
	return filepath.Join(s.root, "feeds", address.Hex(), topic.Hex()+".json")
}
