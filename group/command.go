package group

import (
	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/model"
)

const (
	Protocol = "group"
	Version  = 1
)

type CommandType string

const (
	CommandAddMember    CommandType = "add-member"
	CommandRemoveMember CommandType = "remove-member"
	CommandPost         CommandType = "post"
	CommandRemovePost   CommandType = "remove-post"
)

// Member is the public profile of a group participant.
type Member struct {
	PublicKey string           `json:"publicKey,omitempty"`
	Address   identity.Address `json:"address"`
	Name      string           `json:"name"`
	Image     model.ImageData  `json:"image"`
}

// Command is one entry of a member's group timeline.
type Command struct {
	Protocol    string      `json:"protocol"`
	Version     int         `json:"version"`
	LogicalTime uint64      `json:"logicalTime"`
	Type        CommandType `json:"type"`
	// Member is set on add-member.
	Member *Member `json:"member,omitempty"`
	// Address is set on remove-member.
	Address *identity.Address `json:"address,omitempty"`
	// Post is set on post, ID on remove-post.
	Post *model.Post `json:"post,omitempty"`
	ID   string      `json:"id,omitempty"`
}

func (c Command) LogicalTimestamp() uint64 { return c.LogicalTime }

func (c Command) PostID() string {
	switch c.Type {
	case CommandPost:
		if c.Post != nil {
			return c.Post.ID
		}
	case CommandRemovePost:
		return c.ID
	}
	return ""
}

func (c Command) PostContent() *model.Post {
	if c.Type != CommandPost {
		return nil
	}
	return c.Post
}

// Peer is another member together with how far their timeline was read.
type Peer struct {
	Member
	PeerLastSeenChapterID contenthash.Hash `json:"peerLastSeenChapterId,omitempty"`
}

// OwnSyncData is the local member's half of the group state.
type OwnSyncData struct {
	Address identity.Address `json:"ownAddress"`
	// UnsyncedCommands is newest first.
	UnsyncedCommands    []Command        `json:"unsyncedCommands"`
	LastSyncedChapterID contenthash.Hash `json:"lastSyncedChapterId,omitempty"`
	LogicalTime         uint64           `json:"logicalTime"`
}

func (o OwnSyncData) appendCommand(c Command) OwnSyncData {
	c.Protocol = Protocol
	c.Version = Version
	c.LogicalTime = o.LogicalTime + 1
	out := o
	out.LogicalTime = c.LogicalTime
	out.UnsyncedCommands = make([]Command, 0, len(o.UnsyncedCommands)+1)
	out.UnsyncedCommands = append(out.UnsyncedCommands, c)
	out.UnsyncedCommands = append(out.UnsyncedCommands, o.UnsyncedCommands...)
	return out
}

// AddMember queues an add-member command and starts reading the new
// member's timeline. Adding oneself or a current peer only queues the command.
func AddMember(g Group, m Member) Group {
	out := g.clone()
	out.Own = g.Own.appendCommand(Command{Type: CommandAddMember, Member: &m})
	if m.Address != g.Own.Address && g.peerIndex(m.Address) < 0 {
		out.Peers = append(out.Peers, Peer{Member: m})
	}
	return out
}

// RemoveMember queues a remove-member command and stops reading the
// member's timeline.
func RemoveMember(g Group, address identity.Address) Group {
	out := g.clone()
	out.Own = g.Own.appendCommand(Command{Type: CommandRemoveMember, Address: &address})
	out.Peers = out.Peers[:0]
	for _, p := range g.Peers {
		if p.Address != address {
			out.Peers = append(out.Peers, p)
		}
	}
	return out
}

// AddPost queues post for every member.
func AddPost(g Group, post model.Post) Group {
	out := g.clone()
	out.Own = g.Own.appendCommand(Command{Type: CommandPost, Post: &post})
	return out
}

// RemovePost queues the removal of the post with id.
func RemovePost(g Group, id string) Group {
	out := g.clone()
	out.Own = g.Own.appendCommand(Command{Type: CommandRemovePost, ID: id})
	return out
}
