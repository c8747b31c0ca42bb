// Package timeline stores per-author, hash-linked chapter logs.
//
// A timeline is ordered newest first. Each uploaded chapter is a blob whose
// Previous field names the chapter before it, and the author's feed points at
// the newest one. Readers walk the chain backwards from the feed.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/wire"
)

const (
	Protocol        = "timeline"
	Version         = "1.0.0"
	ContentTypeJSON = "application/json"
)

// Chapter is one entry of a timeline. A chapter with an empty ID has not been
// uploaded yet.
type Chapter[T any] struct {
	Protocol   string             `json:"protocol"`
	Version    string             `json:"version"`
	Timestamp  int64              `json:"timestamp"`
	Author     identity.Address   `json:"author"`
	Type       string             `json:"type"`
	Content    T                  `json:"content"`
	Previous   contenthash.Hash   `json:"previous,omitempty"`
	References []contenthash.Hash `json:"references,omitempty"`
	Signature  string             `json:"signature,omitempty"`

	// ID is the hash the chapter was stored under. It is never encoded.
	ID contenthash.Hash `json:"-"`
}

func (c Chapter[T]) Uploaded() bool { return c.ID != "" }

// Timeline is newest first.
type Timeline[T any] []Chapter[T]

// Encoder turns a chapter into the bytes stored for it.
type Encoder[T any] func(Chapter[T]) ([]byte, error)

// Decoder is the inverse of Encoder. The returned chapter's ID is ignored.
type Decoder[T any] func([]byte) (Chapter[T], error)

// EncodeJSON is the plain, unencrypted chapter encoding.
func EncodeJSON[T any](c Chapter[T]) ([]byte, error) { return wire.Marshal(c) }

func DecodeJSON[T any](data []byte) (Chapter[T], error) {
	var c Chapter[T]
	err := wire.Unmarshal(data, &c)
	return c, err
}

// NewChapter returns a chapter that is not uploaded yet. Timestamp is unix milliseconds.
func NewChapter[T any](author identity.Address, content T, now time.Time) Chapter[T] {
	return Chapter[T]{
		Protocol:  Protocol,
		Version:   Version,
		Timestamp: now.UnixMilli(),
		Author:    author,
		Type:      ContentTypeJSON,
		Content:   content,
	}
}

// Append prepends a new chapter for content.
func Append[T any](tl Timeline[T], author identity.Address, content T, now time.Time) Timeline[T] {
	out := make(Timeline[T], 0, len(tl)+1)
	out = append(out, NewChapter(author, content, now))
	return append(out, tl...)
}

// NewestID returns the ID of the first chapter, which is empty when the
// timeline is empty or its newest chapter is not uploaded.
func NewestID[T any](tl Timeline[T]) contenthash.Hash {
	if len(tl) == 0 {
		return ""
	}
	return tl[0].ID
}

// pending returns the leading run of chapters that are not uploaded, oldest first.
func pending[T any](tl Timeline[T]) Timeline[T] {
	n := 0
	for n < len(tl) && !tl[n].Uploaded() {
		n++
	}
	out := make(Timeline[T], n)
	for i := 0; i < n; i++ {
		out[i] = tl[n-1-i]
	}
	return out
}

func previousFrom[T any](synced Timeline[T], author identity.Address) contenthash.Hash {
	for _, c := range synced {
		if c.Author == author && c.Uploaded() {
			return c.ID
		}
	}
	return ""
}

// Upload stores the chapters at the head of tl that are not uploaded yet and
// points the feed (address, topic) at the newest one.
//
// Chapters are written oldest first, each chained to the one before it. The
// first is chained to previous, or when that is empty to the newest uploaded
// chapter in tl written by address. The feed is written once, after every
// chapter is stored, so readers never see a partial batch.
//
// The returned timeline holds the newly uploaded chapters followed by the
// already uploaded tail of tl.
func Upload[T any](
	ctx context.Context,
	tl Timeline[T],
	st storage.Storage,
	address identity.Address,
	topic feed.Topic,
	encode Encoder[T],
	sign feed.Signer,
	previous contenthash.Hash,
) (Timeline[T], error) {
	todo := pending(tl)
	synced := tl[len(todo):]
	if len(todo) == 0 {
		return append(Timeline[T]{}, tl...), nil
	}

	if previous == "" {
		previous = previousFrom(synced, address)
	}
	uploaded := make(Timeline[T], len(todo))
	for i, c := range todo {
		c.Previous = previous
		c.ID = ""
		data, err := encode(c)
		if err != nil {
			return nil, fmt.Errorf("timeline: encode chapter: %w", err)
		}
		h, err := st.Write(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("timeline: write chapter: %w", err)
		}
		c.ID = h
		uploaded[len(todo)-1-i] = c
		previous = h
	}

	if err := st.Feeds().Write(ctx, address, topic, NewestID(uploaded), sign); err != nil {
		return nil, fmt.Errorf("timeline: write feed: %w", err)
	}
	return append(uploaded, synced...), nil
}

// Fetch walks the timeline of (address, topic) backwards from the feed.
//
// The walk stops before lastSeen, at a chapter without Previous, or at the
// first read or decode failure. On failure the chapters read so far are
// returned together with an error describing where the walk stopped. A feed
// that was never written yields an empty timeline and no error.
func Fetch[T any](
	ctx context.Context,
	st storage.Storage,
	address identity.Address,
	topic feed.Topic,
	decode Decoder[T],
	lastSeen contenthash.Hash,
) (Timeline[T], error) {
	tl := Timeline[T]{}
	ref, err := st.Feeds().Read(ctx, address, topic)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return tl, nil
		}
		return tl, fmt.Errorf("timeline: read feed: %w", err)
	}

	for ref != "" && ref != lastSeen {
		if err := ctx.Err(); err != nil {
			return tl, err
		}
		data, err := st.Read(ctx, ref)
		if err != nil {
			return tl, fmt.Errorf("timeline: read chapter %s: %w", ref, err)
		}
		c, err := decode(data)
		if err != nil {
			return tl, fmt.Errorf("timeline: decode chapter %s: %w", ref, err)
		}
		c.ID = ref
		tl = append(tl, c)
		ref = c.Previous
	}
	return tl, nil
}

// LogicalClock is implemented by chapter contents that carry a Lamport time.
type LogicalClock interface {
	LogicalTimestamp() uint64
}

// HighestSeenLogicalTime returns the greatest logical time in tl, or 0.
func HighestSeenLogicalTime[T LogicalClock](tl Timeline[T]) uint64 {
	var highest uint64
	for _, c := range tl {
		if t := c.Content.LogicalTimestamp(); t > highest {
			highest = t
		}
	}
	return highest
}

// HighestSeenRemoteLogicalTime is like HighestSeenLogicalTime but ignores
// chapters written by author.
func HighestSeenRemoteLogicalTime[T LogicalClock](tl Timeline[T], author identity.Address) uint64 {
	var highest uint64
	for _, c := range tl {
		if c.Author == author {
			continue
		}
		if t := c.Content.LogicalTimestamp(); t > highest {
			highest = t
		}
	}
	return highest
}
