package storage

import (
	"context"
	"fmt"
	"time"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
)

// CheckUpdate validates next against the currently stored update, which may be nil.
// FeedStore implementations call it before persisting.
func CheckUpdate(stored *feed.Update, next feed.Update) error {
	if _, err := contenthash.Parse(string(next.Hash)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if err := next.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if stored != nil && next.Epoch.Compare(stored.Epoch) < 0 {
		return fmt.Errorf("%w: epoch %d/%d is older than %d/%d", ErrStaleUpdate,
			next.Epoch.Time, next.Epoch.Level, stored.Epoch.Time, stored.Epoch.Level)
	}
	return nil
}

// SignedFeeds implements Feeds over a FeedStore by building and signing updates locally.
type SignedFeeds struct {
	Store FeedStore
	// Now defaults to time.Now.
	Now func() time.Time
}

var _ Feeds = SignedFeeds{}

func (s SignedFeeds) Read(ctx context.Context, address identity.Address, topic feed.Topic) (contenthash.Hash, error) {
	u, err := s.Store.Get(ctx, address, topic)
	if err != nil {
		return "", err
	}
	return u.Hash, nil
}

// Write publishes h at (address, topic). The epoch is taken from the clock but
// never moves behind the stored update, so a skewed clock cannot make a write stale.
func (s SignedFeeds) Write(ctx context.Context, address identity.Address, topic feed.Topic, h contenthash.Hash, sign feed.Signer) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	epoch := feed.NewEpoch(now())
	current, err := s.Store.Get(ctx, address, topic)
	switch {
	case err == nil:
		if current.Epoch.Compare(epoch) > 0 {
			epoch = current.Epoch
		}
	case IsNotFound(err):
	default:
		return err
	}

	u, err := feed.Update{
		Address:         address,
		Topic:           topic,
		Epoch:           epoch,
		ProtocolVersion: feed.ProtocolVersion,
		Hash:            h,
	}.Sign(sign)
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, u)
}
