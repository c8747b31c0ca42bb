// Package privatechannel syncs an encrypted 1:1 mailbox between two contacts.
//
// Both sides write a timeline on a topic derived from their ECDH shared key
// and read the other side's timeline on the same topic. Chapters are sealed
// with the shared key, so storage only sees ciphertext.
package privatechannel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/model"
	"xdao.co/feedsync/seal"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/timeline"
	"xdao.co/feedsync/wire"
)

// Cipher seals chapters with a symmetric key.
type Cipher interface {
	Encrypt(plain, key []byte) ([]byte, error)
	Decrypt(data, key []byte) ([]byte, error)
}

// Crypto is the key material a sync round needs. seal.Keyring implements it.
type Crypto interface {
	Cipher
	SignDigest(digest [32]byte) ([]byte, error)
	DeriveSharedKey(publicKey string) (string, error)
}

var _ Crypto = seal.Keyring{}

// Topic returns the feed topic of a channel: keccak256 of the shared key bytes.
func Topic(sharedKey string) (feed.Topic, error) {
	b, err := seal.HexKey(sharedKey)
	if err != nil {
		return feed.Topic{}, fmt.Errorf("privatechannel: shared key: %w", err)
	}
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	return feed.TopicFromBytes(h.Sum(nil))
}

// Update is the outcome of one sync round. Either timeline may be empty when
// its half of the round failed.
type Update struct {
	Topic feed.Topic
	// Channel is the state the round started from.
	Channel      SyncData
	SyncedLocal  timeline.Timeline[Command]
	PeerTimeline timeline.Timeline[Command]
}

// ImageUploader stores an image's data and returns the reference peers use.
type ImageUploader func(ctx context.Context, image model.ImageData) (model.ImageData, error)

type Syncer struct {
	Storage storage.Storage
	Crypto  Crypto
	// Address is the local author.
	Address identity.Address
	Logger  *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// UploadImage is applied to every image of queued posts before upload.
	UploadImage ImageUploader
}

func (s Syncer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s Syncer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Sync runs one round with peer: it uploads the queued commands of ch and
// fetches what the peer wrote since the last round. Failures never surface
// as errors; the failed half of the round comes back empty and the caller
// retries later.
func (s Syncer) Sync(ctx context.Context, peer identity.PublicIdentity, ch SyncData) Update {
	log := s.logger().With(zap.Stringer("peer", peer.Address))
	up := Update{
		Channel:      ch,
		SyncedLocal:  timeline.Timeline[Command]{},
		PeerTimeline: timeline.Timeline[Command]{},
	}

	shared, err := s.Crypto.DeriveSharedKey(peer.PublicKey)
	if err != nil {
		log.Warn("derive shared key", zap.Error(err))
		return up
	}
	key, err := seal.HexKey(shared)
	if err != nil {
		log.Warn("derive shared key", zap.Error(err))
		return up
	}
	topic, err := Topic(shared)
	if err != nil {
		log.Warn("channel topic", zap.Error(err))
		return up
	}
	up.Topic = topic
	log = log.With(zap.Stringer("topic", topic))

	synced, err := s.upload(ctx, ch, topic, key)
	if err != nil {
		log.Warn("upload private channel", zap.Error(err))
	} else {
		up.SyncedLocal = synced
	}

	fetched, err := timeline.Fetch(ctx, s.Storage, peer.Address, topic, SealedDecoder[Command](s.Crypto, key), ch.PeerLastSeenChapterID)
	if err != nil {
		// A partial walk would move the watermark past the unread chapters.
		log.Warn("fetch private channel", zap.Error(err), zap.Int("partial", len(fetched)))
	} else {
		up.PeerTimeline = fetched
	}

	log.Debug("private channel synced",
		zap.Int("uploaded", len(up.SyncedLocal)),
		zap.Int("fetched", len(up.PeerTimeline)))
	return up
}

func (s Syncer) upload(ctx context.Context, ch SyncData, topic feed.Topic, key []byte) (timeline.Timeline[Command], error) {
	if len(ch.UnsyncedCommands) == 0 {
		return timeline.Timeline[Command]{}, nil
	}
	now := s.now()
	pending := make(timeline.Timeline[Command], 0, len(ch.UnsyncedCommands))
	for _, c := range ch.UnsyncedCommands {
		c, err := s.uploadImages(ctx, c)
		if err != nil {
			return nil, err
		}
		pending = append(pending, timeline.NewChapter(s.Address, c, now))
	}
	return timeline.Upload(ctx, pending, s.Storage, s.Address, topic, SealedEncoder[Command](s.Crypto, key), feed.Signer(s.Crypto.SignDigest), ch.LastSyncedChapterID)
}

func (s Syncer) uploadImages(ctx context.Context, c Command) (Command, error) {
	if c.Post == nil {
		return c, nil
	}
	post, err := UploadPostImages(ctx, s.UploadImage, *c.Post)
	if err != nil {
		return c, err
	}
	c.Post = &post
	return c, nil
}

// UploadPostImages replaces every image of post with what upload returns for
// it. A nil upload leaves the post unchanged.
func UploadPostImages(ctx context.Context, upload ImageUploader, post model.Post) (model.Post, error) {
	if upload == nil || len(post.Images) == 0 {
		return post, nil
	}
	images := make([]model.ImageData, 0, len(post.Images))
	for _, img := range post.Images {
		uploaded, err := upload(ctx, img)
		if err != nil {
			return post, fmt.Errorf("privatechannel: upload image: %w", err)
		}
		images = append(images, uploaded)
	}
	post.Images = images
	return post, nil
}

// SealedEncoder encodes chapters as wire JSON sealed with key.
func SealedEncoder[T any](c Cipher, key []byte) timeline.Encoder[T] {
	return func(chapter timeline.Chapter[T]) ([]byte, error) {
		plain, err := wire.Marshal(chapter)
		if err != nil {
			return nil, err
		}
		return c.Encrypt(plain, key)
	}
}

// SealedDecoder opens chapters written by SealedEncoder.
func SealedDecoder[T any](c Cipher, key []byte) timeline.Decoder[T] {
	return func(data []byte) (timeline.Chapter[T], error) {
		plain, err := c.Decrypt(data, key)
		if err != nil {
			return timeline.Chapter[T]{}, err
		}
		return timeline.DecodeJSON[T](plain)
	}
}

// Apply folds a sync round into the channel state.
//
// onLocal is called for every uploaded command and onRemote for every
// fetched peer command, oldest first; either may be nil. Watermarks move to
// the newest chapter of their half when that half is non-empty. The queue is
// cleared only when this round uploaded something.
func Apply(up Update, onRemote, onLocal func(Command)) SyncData {
	if onLocal != nil {
		for i := len(up.SyncedLocal) - 1; i >= 0; i-- {
			onLocal(up.SyncedLocal[i].Content)
		}
	}
	if onRemote != nil {
		for i := len(up.PeerTimeline) - 1; i >= 0; i-- {
			onRemote(up.PeerTimeline[i].Content)
		}
	}

	out := up.Channel
	if id := timeline.NewestID(up.PeerTimeline); id != "" {
		out.PeerLastSeenChapterID = id
	}
	if id := timeline.NewestID(up.SyncedLocal); id != "" {
		out.LastSyncedChapterID = id
	}
	if len(up.SyncedLocal) > 0 {
		out.UnsyncedCommands = []Command{}
	}
	if t := timeline.HighestSeenLogicalTime(up.PeerTimeline); t > out.LogicalTime {
		out.LogicalTime = t
	}
	if t := timeline.HighestSeenLogicalTime(up.SyncedLocal); t > out.LogicalTime {
		out.LogicalTime = t
	}
	return out
}
