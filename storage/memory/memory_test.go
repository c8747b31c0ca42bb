package memory

import (
	"testing"

	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/storage/testkit"
)

func TestMemoryConformance(t *testing.T) {
	testkit.RunBlobsConformance(t, func(t *testing.T) storage.Blobs {
		return New()
	})
	testkit.RunFeedStoreConformance(t, func(t *testing.T) storage.FeedStore {
		return New()
	})
}
