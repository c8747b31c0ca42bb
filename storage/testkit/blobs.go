package testkit

import (
	"bytes"
	"context"
	"testing"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/storage"
)

// NewBlobs constructs a fresh, empty blob store for a test.
// The returned store MUST be isolated from other tests.
type NewBlobs func(t *testing.T) storage.Blobs

func RunBlobsConformance(t *testing.T, newBlobs NewBlobs) {
	t.Helper()
	ctx := context.Background()

	t.Run("WriteReadRoundTrip", func(t *testing.T) {
		blobs := newBlobs(t)
		want := []byte("hello, feedsync storage")

		h, err := blobs.Write(ctx, want)
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if h != contenthash.Sum(want) {
			t.Fatalf("Write hash mismatch: got %s want %s", h, contenthash.Sum(want))
		}

		got, err := blobs.Read(ctx, h)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Read bytes mismatch")
		}
	})

	t.Run("WriteIdempotent", func(t *testing.T) {
		blobs := newBlobs(t)
		b := []byte("same bytes")

		h1, err := blobs.Write(ctx, b)
		if err != nil {
			t.Fatalf("Write(1) failed: %v", err)
		}
		h2, err := blobs.Write(ctx, b)
		if err != nil {
			t.Fatalf("Write(2) failed: %v", err)
		}
		if h1 != h2 {
			t.Fatalf("Write not idempotent: %s vs %s", h1, h2)
		}
	})

	t.Run("EmptyBlob", func(t *testing.T) {
		blobs := newBlobs(t)
		h, err := blobs.Write(ctx, []byte{})
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		got, err := blobs.Read(ctx, h)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected empty blob, got %d bytes", len(got))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		blobs := newBlobs(t)
		_, err := blobs.Read(ctx, contenthash.Sum([]byte("missing")))
		if !storage.IsNotFound(err) {
			t.Fatalf("Read missing: got err=%v want ErrNotFound", err)
		}
	})

	t.Run("RejectInvalidHash", func(t *testing.T) {
		blobs := newBlobs(t)
		if _, err := blobs.Read(ctx, contenthash.Hash("not-a-hash")); err == nil {
			t.Fatalf("Read should fail for an invalid hash")
		}
		if _, err := blobs.Read(ctx, ""); err == nil {
			t.Fatalf("Read should fail for an empty hash")
		}
	})
}
