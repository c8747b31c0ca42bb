// Package postlog implements the post command log, a CRDT of post edits.
//
// Every edit is a Command tagged with a Lamport timestamp and the source that
// created it. Logs from different replicas merge deterministically: commands
// are ordered by timestamp then source, duplicates collapse, and commands
// confirmed by the network (those with an Epoch) sort ahead of local ones.
// All functions are pure and return new logs.
package postlog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/model"
)

const ProtocolVersion = 1

// ErrPostNotFound is returned when an edit targets a post the log does not know.
var ErrPostNotFound = errors.New("postlog: post not found")

type Type string

const (
	TypeUpdate Type = "update"
	TypeRemove Type = "remove"
)

// ID identifies a command. It is unique within a log.
type ID struct {
	Timestamp uint64 `json:"timestamp"`
	Source    string `json:"source"`
}

// NoParent is the parent of commands that create a post.
var NoParent = ID{}

func (id ID) IsZero() bool { return id.Timestamp == 0 }

type Command struct {
	ProtocolVersion int        `json:"protocolVersion"`
	ID              ID         `json:"id"`
	ParentID        ID         `json:"parentId"`
	Type            Type       `json:"type"`
	Post            model.Post `json:"post"`
	// Epoch is set once the command is stored on the network.
	Epoch         *feed.Epoch `json:"epoch,omitempty"`
	PreviousEpoch *feed.Epoch `json:"previousEpoch,omitempty"`
}

func (c Command) IsUploaded() bool { return c.Epoch != nil }

// Log is newest first.
type Log []Command

// NewSource returns a fresh identifier for a device that writes commands.
func NewSource() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func parentOf(postID string, log Log) ID {
	for _, c := range log {
		if c.Post.ID == postID {
			return c.ID
		}
	}
	return NoParent
}

func (log Log) prepend(c Command) Log {
	out := make(Log, 0, len(log)+1)
	out = append(out, c)
	return append(out, log...)
}

func (log Log) next(typ Type, post model.Post, source string, parent ID) Log {
	return log.prepend(Command{
		ProtocolVersion: ProtocolVersion,
		ID:              ID{Timestamp: HighestSeenTimestamp(log) + 1, Source: source},
		ParentID:        parent,
		Type:            typ,
		Post:            post,
		PreviousEpoch:   PreviousEpoch(log),
	})
}

// ShareNewPost adds an update command creating post. The log is returned
// unchanged when it already has a command for post.ID.
func ShareNewPost(post model.Post, source string, log Log) Log {
	if !parentOf(post.ID, log).IsZero() {
		return log
	}
	return log.next(TypeUpdate, post, source, NoParent)
}

// UpdatePost adds an update command replacing an existing post.
func UpdatePost(post model.Post, source string, log Log) (Log, error) {
	parent := parentOf(post.ID, log)
	if parent.IsZero() {
		return nil, fmt.Errorf("%w: update %q", ErrPostNotFound, post.ID)
	}
	return log.next(TypeUpdate, post, source, parent), nil
}

// RemovePost adds a remove command carrying a tombstone of post.
func RemovePost(post model.Post, source string, log Log) (Log, error) {
	parent := parentOf(post.ID, log)
	if parent.IsZero() {
		return nil, fmt.Errorf("%w: remove %q", ErrPostNotFound, post.ID)
	}
	return log.next(TypeRemove, post.Tombstone(), source, parent), nil
}

// HighestSeenTimestamp returns the Lamport time new commands must exceed.
//
// A log whose newest command is local and whose timestamp equals the log
// length is assumed to have never been synced, so that timestamp is the
// highest. Otherwise the newest local timestamp is compared to the first
// synced command's timestamp and the greater one wins.
func HighestSeenTimestamp(log Log) uint64 {
	if len(log) == 0 {
		return 0
	}
	newest := log[0]
	if newest.IsUploaded() {
		return newest.ID.Timestamp
	}
	highestUnsynced := newest.ID.Timestamp
	if highestUnsynced == uint64(len(log)) {
		return highestUnsynced
	}
	for _, c := range log {
		if c.IsUploaded() {
			if c.ID.Timestamp > highestUnsynced {
				return c.ID.Timestamp
			}
			break
		}
	}
	return highestUnsynced
}

// PreviousEpoch returns the epoch of the newest command, if it is uploaded.
func PreviousEpoch(log Log) *feed.Epoch {
	if len(log) == 0 {
		return nil
	}
	return log[0].Epoch
}

// LatestEpoch returns the epoch of the newest uploaded command.
func LatestEpoch(log Log) *feed.Epoch {
	for _, c := range log {
		if c.IsUploaded() {
			return c.Epoch
		}
	}
	return nil
}

func CommandByID(log Log, id ID) (Command, bool) {
	for _, c := range log {
		if c.ID == id {
			return c, true
		}
	}
	return Command{}, false
}

// EpochCompare orders epochs; a nil epoch sorts after any set epoch.
func EpochCompare(a, b *feed.Epoch) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func compareIDs(a, b ID) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	case a.Source < b.Source:
		return -1
	case a.Source > b.Source:
		return 1
	}
	return 0
}

// SortAndFilter returns commands in canonical order without duplicate IDs.
//
// Commands are ordered by timestamp, then source, then epoch, all descending.
// Of each run of equal IDs the last is kept. The result is then stably
// reordered by epoch descending, which puts local commands first.
func SortAndFilter(commands []Command) Log {
	sorted := append(Log(nil), commands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if c := compareIDs(b.ID, a.ID); c != 0 {
			return c < 0
		}
		return EpochCompare(b.Epoch, a.Epoch) < 0
	})

	out := make(Log, 0, len(sorted))
	for i, c := range sorted {
		if i+1 < len(sorted) && sorted[i+1].ID == c.ID {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return EpochCompare(out[j].Epoch, out[i].Epoch) < 0
	})
	return out
}

// Merge combines two logs into one in canonical order.
func Merge(a, b Log) Log {
	all := make([]Command, 0, len(a)+len(b))
	all = append(all, a...)
	return SortAndFilter(append(all, b...))
}

// Unsynced returns the commands newer than the newest uploaded one.
func Unsynced(log Log) Log {
	out := Log{}
	for _, c := range log {
		if c.IsUploaded() {
			break
		}
		out = append(out, c)
	}
	return out
}

// UpdatesSinceEpoch returns the uploaded commands with an epoch after since.
// A nil since returns every uploaded command.
func UpdatesSinceEpoch(log Log, since *feed.Epoch) Log {
	out := Log{}
	for _, c := range log {
		if !c.IsUploaded() {
			continue
		}
		if since == nil || EpochCompare(since, c.Epoch) < 0 {
			out = append(out, c)
		}
	}
	return out
}

// NoLimit makes LatestPosts return every current post.
const NoLimit = -1

// LatestPosts projects the log to its current posts, newest first, keeping at
// most count of them. A negative count (NoLimit) keeps all; zero keeps none.
//
// Remove commands are dropped, as is every command that a newer command names
// as its parent.
func LatestPosts(log Log, count int) []model.Post {
	superseded := make(map[ID]struct{})
	posts := []model.Post{}
	for _, c := range log {
		if !c.ParentID.IsZero() {
			superseded[c.ParentID] = struct{}{}
		}
		if c.Type == TypeRemove {
			continue
		}
		if _, ok := superseded[c.ID]; ok {
			continue
		}
		posts = append(posts, c.Post)
	}
	if count >= 0 && len(posts) > count {
		posts = posts[:count]
	}
	return posts
}
