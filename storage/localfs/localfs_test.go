package localfs

import (
	"context"
	"crypto/rand"
	"os"
	"testing"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/storage/testkit"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestLocalFS_Conformance(t *testing.T) {
	testkit.RunBlobsConformance(t, func(t *testing.T) storage.Blobs { return newStore(t) })
	testkit.RunFeedStoreConformance(t, func(t *testing.T) storage.FeedStore { return newStore(t) })
}

func TestLocalFS_RejectMutationByOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	orig := []byte("original")
	h, err := s.Write(ctx, orig)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Corrupt the stored object out-of-band.
	path := s.blobPath(h)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := s.Read(ctx, h); err != storage.ErrHashMismatch {
		t.Fatalf("Read mismatch: got %v want %v", err, storage.ErrHashMismatch)
	}

	// Write must not repair or overwrite the corrupted object.
	if _, err := s.Write(ctx, orig); err != storage.ErrImmutable {
		t.Fatalf("Write after corruption: got %v want %v", err, storage.ErrImmutable)
	}

	if h != contenthash.Sum(orig) {
		t.Fatalf("unexpected hash: got %s", h)
	}
}

func TestLocalFS_FeedsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	st := storage.Compose(s, storage.SignedFeeds{Store: s})

	owner := testOwner(t)
	h, err := st.Write(ctx, []byte("chapter"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := st.Feeds().Write(ctx, owner.Address, topicOne, h, signerFor(owner)); err != nil {
		t.Fatalf("feed Write failed: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	u, err := reopened.Get(ctx, owner.Address, topicOne)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if u.Hash != h {
		t.Fatalf("Get: got %s want %s", u.Hash, h)
	}
	if err := u.Verify(); err != nil {
		t.Fatalf("reloaded update does not verify: %v", err)
	}
}

var topicOne = feed.Topic{1}

func testOwner(t *testing.T) identity.PrivateIdentity {
	t.Helper()
	id, err := identity.Generate(rand.Reader)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return id
}

func signerFor(id identity.PrivateIdentity) feed.Signer { return feed.IdentitySigner(id) }
