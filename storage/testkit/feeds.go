package testkit

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
)

// NewFeedStore constructs a fresh, empty feed store for a test.
type NewFeedStore func(t *testing.T) storage.FeedStore

// SignedUpdate builds an update for owner and signs it.
func SignedUpdate(t *testing.T, owner identity.PrivateIdentity, topic feed.Topic, epoch feed.Epoch, payload string) feed.Update {
	t.Helper()
	u, err := feed.Update{
		Address: owner.Address,
		Topic:   topic,
		Epoch:   epoch,
		Hash:    contenthash.Sum([]byte(payload)),
	}.Sign(feed.IdentitySigner(owner))
	if err != nil {
		t.Fatalf("sign update: %v", err)
	}
	return u
}

func newOwner(t *testing.T) identity.PrivateIdentity {
	t.Helper()
	id, err := identity.Generate(rand.Reader)
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

func RunFeedStoreConformance(t *testing.T, newStore NewFeedStore) {
	t.Helper()
	ctx := context.Background()
	topic, _ := feed.TopicFromBytes(bytes32(7))

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		owner := newOwner(t)
		u := SignedUpdate(t, owner, topic, feed.Epoch{Time: 100, Level: 25}, "one")

		if err := s.Put(ctx, u); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(ctx, owner.Address, topic)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Hash != u.Hash || got.Epoch != u.Epoch || got.Address != u.Address || got.Topic != u.Topic {
			t.Fatalf("Get mismatch: got %+v want %+v", got, u)
		}
		if err := got.Verify(); err != nil {
			t.Fatalf("stored update does not verify: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		owner := newOwner(t)
		if _, err := s.Get(ctx, owner.Address, topic); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if err := s.Put(ctx, SignedUpdate(t, owner, feed.ZeroTopic, feed.Epoch{Time: 1}, "x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := s.Get(ctx, owner.Address, topic); !storage.IsNotFound(err) {
			t.Fatalf("Get other topic: got err=%v want ErrNotFound", err)
		}
	})

	t.Run("LastWriterWins", func(t *testing.T) {
		s := newStore(t)
		owner := newOwner(t)
		first := SignedUpdate(t, owner, topic, feed.Epoch{Time: 100, Level: 25}, "one")
		second := SignedUpdate(t, owner, topic, feed.Epoch{Time: 101, Level: 25}, "two")
		same := SignedUpdate(t, owner, topic, feed.Epoch{Time: 101, Level: 25}, "three")

		for _, u := range []feed.Update{first, second, same} {
			if err := s.Put(ctx, u); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		got, err := s.Get(ctx, owner.Address, topic)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Hash != same.Hash {
			t.Fatalf("expected equal epoch to replace the stored update")
		}
	})

	t.Run("RejectStale", func(t *testing.T) {
		s := newStore(t)
		owner := newOwner(t)
		if err := s.Put(ctx, SignedUpdate(t, owner, topic, feed.Epoch{Time: 200, Level: 25}, "new")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		err := s.Put(ctx, SignedUpdate(t, owner, topic, feed.Epoch{Time: 199, Level: 25}, "old"))
		if !errors.Is(err, storage.ErrStaleUpdate) {
			t.Fatalf("Put stale: got err=%v want ErrStaleUpdate", err)
		}
		got, err := s.Get(ctx, owner.Address, topic)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Hash != contenthash.Sum([]byte("new")) {
			t.Fatalf("stale update replaced the stored one")
		}
	})

	t.Run("RejectForged", func(t *testing.T) {
		s := newStore(t)
		owner := newOwner(t)
		mallory := newOwner(t)

		forged := SignedUpdate(t, mallory, topic, feed.Epoch{Time: 100, Level: 25}, "forged")
		forged.Address = owner.Address
		if err := s.Put(ctx, forged); !errors.Is(err, storage.ErrInvalidSignature) {
			t.Fatalf("Put forged: got err=%v want ErrInvalidSignature", err)
		}
		if _, err := s.Get(ctx, owner.Address, topic); !storage.IsNotFound(err) {
			t.Fatalf("forged update was stored: %v", err)
		}
	})

	t.Run("SignedFeeds", func(t *testing.T) {
		s := newStore(t)
		owner := newOwner(t)
		feeds := storage.SignedFeeds{Store: s}

		if _, err := feeds.Read(ctx, owner.Address, topic); !storage.IsNotFound(err) {
			t.Fatalf("Read missing: got err=%v want ErrNotFound", err)
		}
		for _, payload := range []string{"a", "b"} {
			h := contenthash.Sum([]byte(payload))
			if err := feeds.Write(ctx, owner.Address, topic, h, feed.IdentitySigner(owner)); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got, err := feeds.Read(ctx, owner.Address, topic)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if got != h {
				t.Fatalf("Read: got %s want %s", got, h)
			}
		}

		mallory := newOwner(t)
		err := feeds.Write(ctx, owner.Address, topic, contenthash.Sum([]byte("evil")), feed.IdentitySigner(mallory))
		if !errors.Is(err, storage.ErrInvalidSignature) {
			t.Fatalf("Write with foreign key: got err=%v want ErrInvalidSignature", err)
		}
	})
}

func bytes32(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}
