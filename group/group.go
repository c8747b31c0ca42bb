// Package group syncs an encrypted feed shared by several members.
//
// Every member writes their own timeline on the group topic, sealed with the
// group secret, and reads the timelines of all other members. Members join
// and leave through add-member and remove-member commands found on those
// timelines.
package group

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/model"
	"xdao.co/feedsync/privatechannel"
	"xdao.co/feedsync/seal"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/timeline"
)

// SecretSize is the length of a group secret in bytes.
const SecretSize = 32

// Group is the state a member keeps for one group.
type Group struct {
	// SharedSecret is 0x-prefixed hex and seals every chapter.
	SharedSecret string      `json:"sharedSecret"`
	Topic        feed.Topic  `json:"topic"`
	Peers        []Peer      `json:"peers"`
	Own          OwnSyncData `json:"ownSyncData"`
}

// New creates an empty group owned by address with a fresh secret. The topic
// is derived from the secret the same way private channels derive theirs.
func New(address identity.Address, r io.Reader) (Group, error) {
	b, err := seal.Keyring{Rand: r}.Random(SecretSize)
	if err != nil {
		return Group{}, fmt.Errorf("group: secret: %w", err)
	}
	secret := "0x" + hex.EncodeToString(b)
	topic, err := privatechannel.Topic(secret)
	if err != nil {
		return Group{}, fmt.Errorf("group: topic: %w", err)
	}
	return Group{
		SharedSecret: secret,
		Topic:        topic,
		Peers:        []Peer{},
		Own:          OwnSyncData{Address: address, UnsyncedCommands: []Command{}},
	}, nil
}

// Join returns the state of a member invited to an existing group. The
// inviter is the first peer.
func Join(address identity.Address, secret string, topic feed.Topic, inviter Member) Group {
	return Group{
		SharedSecret: secret,
		Topic:        topic,
		Peers:        []Peer{{Member: inviter}},
		Own:          OwnSyncData{Address: address, UnsyncedCommands: []Command{}},
	}
}

func (g Group) clone() Group {
	out := g
	out.Peers = append([]Peer{}, g.Peers...)
	return out
}

func (g Group) peerIndex(address identity.Address) int {
	for i, p := range g.Peers {
		if p.Address == address {
			return i
		}
	}
	return -1
}

// Members lists the addresses of the group, the local member first.
func (g Group) Members() []identity.Address {
	out := make([]identity.Address, 0, len(g.Peers)+1)
	out = append(out, g.Own.Address)
	for _, p := range g.Peers {
		out = append(out, p.Address)
	}
	return out
}

// Crypto signs feed updates and seals chapters. seal.Keyring implements it.
type Crypto interface {
	privatechannel.Cipher
	SignDigest(digest [32]byte) ([]byte, error)
}

var _ Crypto = seal.Keyring{}

// PeerUpdate is what one round read from a peer.
type PeerUpdate struct {
	Peer
	Timeline timeline.Timeline[Command]
}

// Update is the outcome of one sync round. SyncedLocal is empty when the
// upload failed; a peer's Timeline is empty when reading it failed.
type Update struct {
	// Group is the state the round started from.
	Group       Group
	SyncedLocal timeline.Timeline[Command]
	Peers       []PeerUpdate
}

type Syncer struct {
	Storage storage.Storage
	Crypto  Crypto
	Logger  *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// UploadImage is applied to every image of queued posts before upload.
	UploadImage privatechannel.ImageUploader
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

// Sync uploads the queued commands of g and reads every peer's timeline
// since its watermark. Peers are read concurrently. Failures never surface as
// errors; the failed part of the round comes back empty.
func (s Syncer) Sync(ctx context.Context, g Group) Update {
	log := s.logger().With(zap.Stringer("topic", g.Topic), zap.Stringer("address", g.Own.Address))
	up := Update{
		Group:       g,
		SyncedLocal: timeline.Timeline[Command]{},
		Peers:       make([]PeerUpdate, len(g.Peers)),
	}
	for i, p := range g.Peers {
		up.Peers[i] = PeerUpdate{Peer: p, Timeline: timeline.Timeline[Command]{}}
	}

	key, err := seal.HexKey(g.SharedSecret)
	if err != nil {
		log.Warn("group secret", zap.Error(err))
		return up
	}

	synced, err := s.upload(ctx, g, key)
	if err != nil {
		log.Warn("upload group timeline", zap.Error(err))
	} else {
		up.SyncedLocal = synced
	}

	var wg sync.WaitGroup
	for i := range up.Peers {
		wg.Add(1)
		go func(pu *PeerUpdate) {
			defer wg.Done()
			fetched, err := timeline.Fetch(ctx, s.Storage, pu.Address, g.Topic, privatechannel.SealedDecoder[Command](s.Crypto, key), pu.PeerLastSeenChapterID)
			if err != nil {
				log.Warn("fetch group timeline", zap.Stringer("peer", pu.Address), zap.Error(err), zap.Int("partial", len(fetched)))
				return
			}
			pu.Timeline = fetched
		}(&up.Peers[i])
	}
	wg.Wait()

	log.Debug("group synced", zap.Int("uploaded", len(up.SyncedLocal)), zap.Int("peers", len(up.Peers)))
	return up
}

func (s Syncer) upload(ctx context.Context, g Group, key []byte) (timeline.Timeline[Command], error) {
	if len(g.Own.UnsyncedCommands) == 0 {
		return timeline.Timeline[Command]{}, nil
	}
	now := s.now()
	pending := make(timeline.Timeline[Command], 0, len(g.Own.UnsyncedCommands))
	for _, c := range g.Own.UnsyncedCommands {
		if c.Type == CommandPost && c.Post != nil {
			post, err := privatechannel.UploadPostImages(ctx, s.UploadImage, *c.Post)
			if err != nil {
				return nil, err
			}
			c.Post = &post
		}
		pending = append(pending, timeline.NewChapter(g.Own.Address, c, now))
	}
	return timeline.Upload(ctx, pending, s.Storage, g.Own.Address, g.Topic,
		privatechannel.SealedEncoder[Command](s.Crypto, key), feed.Signer(s.Crypto.SignDigest), g.Own.LastSyncedChapterID)
}

// Apply folds a sync round into the group state.
//
// onLocal is called for every uploaded command and onRemote for every
// fetched peer command with its author, oldest first; either may be nil.
// Membership commands read from peers change the peer list: add-member adds
// an unknown member other than the local one, remove-member drops a member.
// Commands are applied peer by peer, oldest first, and the last one applied
// for an address wins. Watermarks move to the newest chapter read, and the
// queue is cleared only when this round uploaded something.
func Apply(up Update, onRemote func(author identity.Address, c Command), onLocal func(Command)) Group {
	if onLocal != nil {
		for i := len(up.SyncedLocal) - 1; i >= 0; i-- {
			onLocal(up.SyncedLocal[i].Content)
		}
	}

	out := up.Group.clone()
	own := out.Own
	if id := timeline.NewestID(up.SyncedLocal); id != "" {
		own.LastSyncedChapterID = id
		own.UnsyncedCommands = []Command{}
	}
	if t := timeline.HighestSeenLogicalTime(up.SyncedLocal); t > own.LogicalTime {
		own.LogicalTime = t
	}

	peers := make([]Peer, 0, len(up.Peers))
	known := make(map[identity.Address]bool, len(up.Peers))
	removed := make(map[identity.Address]bool)
	for _, pu := range up.Peers {
		p := pu.Peer
		if id := timeline.NewestID(pu.Timeline); id != "" {
			p.PeerLastSeenChapterID = id
		}
		known[p.Address] = true
		peers = append(peers, p)
	}
	for _, pu := range up.Peers {
		for i := len(pu.Timeline) - 1; i >= 0; i-- {
			chapter := pu.Timeline[i]
			c := chapter.Content
			if onRemote != nil {
				onRemote(chapter.Author, c)
			}
			switch c.Type {
			case CommandAddMember:
				if c.Member == nil || c.Member.Address == own.Address {
					continue
				}
				delete(removed, c.Member.Address)
				if !known[c.Member.Address] {
					known[c.Member.Address] = true
					peers = append(peers, Peer{Member: *c.Member})
				}
			case CommandRemoveMember:
				if c.Address != nil {
					removed[*c.Address] = true
				}
			}
		}
		if t := timeline.HighestSeenLogicalTime(pu.Timeline); t > own.LogicalTime {
			own.LogicalTime = t
		}
	}

	out.Peers = make([]Peer, 0, len(peers))
	for _, p := range peers {
		if !removed[p.Address] {
			out.Peers = append(out.Peers, p)
		}
	}
	out.Own = own
	return out
}

// ListPosts projects group timelines, local and remote, to the posts the
// group currently shows, newest first.
func ListPosts(timelines ...timeline.Timeline[Command]) []model.Post {
	var all timeline.Timeline[Command]
	for _, tl := range timelines {
		all = append(all, tl...)
	}
	return privatechannel.ListTimelinePosts(all)
}

// Timelines returns every timeline read or written in the round.
func (up Update) Timelines() []timeline.Timeline[Command] {
	out := make([]timeline.Timeline[Command], 0, len(up.Peers)+1)
	out = append(out, up.SyncedLocal)
	for _, pu := range up.Peers {
		out = append(out, pu.Timeline)
	}
	return out
}
