package privatechannel

import (
	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/model"
)

const (
	Protocol = "private"
	Version  = 1
)

type CommandType string

const (
	CommandPost   CommandType = "post"
	CommandRemove CommandType = "remove"
)

// Command is one entry of a private channel. Post commands carry the post,
// remove commands carry only the post id.
type Command struct {
	Protocol    string      `json:"protocol"`
	Version     int         `json:"version"`
	LogicalTime uint64      `json:"logicalTime"`
	Type        CommandType `json:"type"`
	ID          string      `json:"id,omitempty"`
	Post        *model.Post `json:"post,omitempty"`
}

func (c Command) LogicalTimestamp() uint64 { return c.LogicalTime }

// PostID returns the id of the post the command is about.
func (c Command) PostID() string {
	if c.Type == CommandPost && c.Post != nil {
		return c.Post.ID
	}
	return c.ID
}

func (c Command) PostContent() *model.Post {
	if c.Type != CommandPost {
		return nil
	}
	return c.Post
}

// SyncData is the per-contact channel state kept by the caller.
type SyncData struct {
	// UnsyncedCommands is newest first.
	UnsyncedCommands      []Command        `json:"unsyncedCommands"`
	LastSyncedChapterID   contenthash.Hash `json:"lastSyncedChapterId,omitempty"`
	PeerLastSeenChapterID contenthash.Hash `json:"peerLastSeenChapterId,omitempty"`
	// LogicalTime is the Lamport clock of the channel.
	LogicalTime uint64 `json:"logicalTime"`
}

func (ch SyncData) appendCommand(c Command) SyncData {
	c.Protocol = Protocol
	c.Version = Version
	c.LogicalTime = ch.LogicalTime + 1
	out := ch
	out.LogicalTime = c.LogicalTime
	out.UnsyncedCommands = make([]Command, 0, len(ch.UnsyncedCommands)+1)
	out.UnsyncedCommands = append(out.UnsyncedCommands, c)
	out.UnsyncedCommands = append(out.UnsyncedCommands, ch.UnsyncedCommands...)
	return out
}

// AddPost queues post for the peer.
func AddPost(ch SyncData, post model.Post) SyncData {
	return ch.appendCommand(Command{Type: CommandPost, ID: post.ID, Post: &post})
}

// RemovePost queues the removal of a post. A post that was queued but never
// uploaded is dropped from the queue instead.
func RemovePost(ch SyncData, id string) SyncData {
	kept := make([]Command, 0, len(ch.UnsyncedCommands))
	for _, c := range ch.UnsyncedCommands {
		if c.Type == CommandPost && c.PostID() == id {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) < len(ch.UnsyncedCommands) {
		out := ch
		out.UnsyncedCommands = kept
		return out
	}
	return ch.appendCommand(Command{Type: CommandRemove, ID: id})
}
