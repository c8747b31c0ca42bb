package group

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/model"
	"xdao.co/feedsync/seal"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/storage/memory"
	"xdao.co/feedsync/timeline"
)

type member struct {
	name      string
	id        identity.PrivateIdentity
	syncer    Syncer
	group     Group
	got       []Command
	authors   []identity.Address
	timelines []timeline.Timeline[Command]
}

// clock hands out strictly increasing times so post order is predictable.
type clock struct{ n int64 }

func (c *clock) now() time.Time {
	c.n++
	return time.UnixMilli(1700000000000 + c.n*1000)
}

func newMember(t *testing.T, st storage.Storage, clk *clock, name string) *member {
	t.Helper()
	id, err := identity.Generate(rand.Reader)
	require.NoError(t, err)
	return &member{
		name: name,
		id:   id,
		syncer: Syncer{
			Storage: st,
			Crypto:  seal.Keyring{Identity: id},
			Logger:  zaptest.NewLogger(t),
			Now:     clk.now,
		},
	}
}

func (m *member) profile() Member {
	return Member{PublicKey: m.id.PublicKey, Address: m.id.Address, Name: m.name}
}

func (m *member) join(inviter *member) {
	m.group = Join(m.id.Address, inviter.group.SharedSecret, inviter.group.Topic, inviter.profile())
}

func (m *member) sync(t *testing.T) Update {
	t.Helper()
	up := m.syncer.Sync(context.Background(), m.group)
	m.group = Apply(up, func(author identity.Address, c Command) {
		m.authors = append(m.authors, author)
		m.got = append(m.got, c)
	}, nil)
	m.timelines = append(m.timelines, up.Timelines()...)
	return up
}

func (m *member) posts() []string {
	out := []string{}
	for _, p := range ListPosts(m.timelines...) {
		out = append(out, p.Text)
	}
	return out
}

func (m *member) peers() []string {
	out := []string{}
	for _, p := range m.group.Peers {
		out = append(out, p.Name)
	}
	return out
}

func post(id, text string) model.Post {
	return model.Post{ID: id, Text: text, Images: []model.ImageData{}, CreatedAt: 1}
}

func newGroup(t *testing.T, owner *member) {
	t.Helper()
	g, err := New(owner.id.Address, rand.Reader)
	require.NoError(t, err)
	owner.group = g
}

func TestNew(t *testing.T) {
	var addr identity.Address
	g, err := New(addr, rand.Reader)
	require.NoError(t, err)
	key, err := seal.HexKey(g.SharedSecret)
	require.NoError(t, err)
	assert.Len(t, key, SecretSize)
	assert.Empty(t, g.Peers)
	assert.Empty(t, g.Own.UnsyncedCommands)

	other, err := New(addr, rand.Reader)
	require.NoError(t, err)
	assert.NotEqual(t, g.Topic, other.Topic)
}

func TestCommandsAreQueued(t *testing.T) {
	var owner, bob identity.Address
	owner[19], bob[19] = 1, 2
	g := Join(owner, "0x01", [32]byte{}, Member{Address: bob, Name: "Bob"})

	g2 := AddPost(g, post("p1", "hello"))
	g2 = RemovePost(g2, "p1")
	require.Len(t, g2.Own.UnsyncedCommands, 2)
	assert.Equal(t, CommandRemovePost, g2.Own.UnsyncedCommands[0].Type)
	assert.Equal(t, "p1", g2.Own.UnsyncedCommands[0].PostID())
	assert.Equal(t, uint64(2), g2.Own.UnsyncedCommands[0].LogicalTime)
	assert.Equal(t, Protocol, g2.Own.UnsyncedCommands[1].Protocol)
	assert.Empty(t, g.Own.UnsyncedCommands, "input is not mutated")

	// Adding oneself or a known peer does not duplicate the peer list.
	g3 := AddMember(g, Member{Address: owner})
	g3 = AddMember(g3, Member{Address: bob})
	assert.Len(t, g3.Peers, 1)
	assert.Len(t, g3.Own.UnsyncedCommands, 2)

	g4 := RemoveMember(g, bob)
	assert.Empty(t, g4.Peers)
	assert.Len(t, g.Peers, 1, "input is not mutated")
	require.Len(t, g4.Own.UnsyncedCommands, 1)
	assert.Equal(t, bob, *g4.Own.UnsyncedCommands[0].Address)
	assert.Empty(t, g4.Own.UnsyncedCommands[0].PostID())
}

func TestMembershipSpreadsThroughTimelines(t *testing.T) {
	st := memory.New().Storage()
	clk := &clock{}
	alice := newMember(t, st, clk, "Alice")
	bob := newMember(t, st, clk, "Bob")
	carol := newMember(t, st, clk, "Carol")

	newGroup(t, alice)
	alice.group = AddMember(alice.group, bob.profile())
	alice.group = AddPost(alice.group, post("a1", "welcome"))
	bob.join(alice)

	up := alice.sync(t)
	require.Len(t, up.SyncedLocal, 2)
	assert.Empty(t, alice.group.Own.UnsyncedCommands)
	assert.Equal(t, up.SyncedLocal[0].ID, alice.group.Own.LastSyncedChapterID)

	bob.sync(t)
	assert.Equal(t, []string{"Alice"}, bob.peers(), "add-member for oneself is ignored")
	assert.Equal(t, []string{"welcome"}, bob.posts())
	assert.Equal(t, alice.group.Own.LastSyncedChapterID, bob.group.Peers[0].PeerLastSeenChapterID)
	assert.Equal(t, uint64(2), bob.group.Own.LogicalTime)

	// Carol is added by Alice; Bob learns about her from Alice's timeline.
	alice.group = AddMember(alice.group, carol.profile())
	carol.join(alice)
	alice.sync(t)
	bob.sync(t)
	assert.Equal(t, []string{"Alice", "Carol"}, bob.peers())

	carol.sync(t)
	assert.Equal(t, []string{"Alice", "Bob"}, carol.peers())
	assert.Equal(t, []string{"welcome"}, carol.posts())

	carol.group = AddPost(carol.group, post("c1", "hi from carol"))
	carol.sync(t)
	bob.sync(t)
	assert.Equal(t, []string{"hi from carol", "welcome"}, bob.posts())
	assert.Contains(t, bob.authors, carol.id.Address)

	// Removing Carol stops everyone from reading her timeline.
	alice.group = RemoveMember(alice.group, carol.id.Address)
	assert.Equal(t, []string{"Bob"}, alice.peers())
	alice.sync(t)
	bob.sync(t)
	assert.Equal(t, []string{"Alice"}, bob.peers())
}

func TestGroupSyncIsIdempotent(t *testing.T) {
	st := memory.New().Storage()
	clk := &clock{}
	alice := newMember(t, st, clk, "Alice")
	bob := newMember(t, st, clk, "Bob")
	newGroup(t, alice)
	alice.group = AddMember(alice.group, bob.profile())
	alice.group = AddPost(alice.group, post("a1", "once"))
	bob.join(alice)

	alice.sync(t)
	bob.sync(t)
	before := bob.group
	got := len(bob.got)

	up := bob.sync(t)
	assert.Empty(t, up.SyncedLocal)
	require.Len(t, up.Peers, 1)
	assert.Empty(t, up.Peers[0].Timeline)
	assert.Equal(t, before, bob.group)
	assert.Len(t, bob.got, got)
}

func TestRemovedPostIsHidden(t *testing.T) {
	st := memory.New().Storage()
	clk := &clock{}
	alice := newMember(t, st, clk, "Alice")
	bob := newMember(t, st, clk, "Bob")
	newGroup(t, alice)
	alice.group = AddMember(alice.group, bob.profile())
	alice.group = AddPost(alice.group, post("a1", "kept"))
	alice.group = AddPost(alice.group, post("a2", "regretted"))
	bob.join(alice)
	alice.sync(t)
	bob.sync(t)
	assert.ElementsMatch(t, []string{"kept", "regretted"}, bob.posts())

	alice.group = RemovePost(alice.group, "a2")
	alice.sync(t)
	bob.sync(t)
	assert.Equal(t, []string{"kept"}, bob.posts())
}

type failingBlobs struct {
	storage.Storage
}

func (failingBlobs) Write(context.Context, []byte) (contenthash.Hash, error) {
	return "", errors.New("offline")
}

func TestGroupUploadFailureKeepsQueue(t *testing.T) {
	st := memory.New().Storage()
	clk := &clock{}
	alice := newMember(t, st, clk, "Alice")
	newGroup(t, alice)
	alice.group = AddPost(alice.group, post("a1", "queued"))
	alice.syncer.Storage = failingBlobs{Storage: st}

	before := alice.group
	up := alice.sync(t)
	assert.Empty(t, up.SyncedLocal)
	assert.Equal(t, before, alice.group)

	alice.syncer.Storage = st
	up = alice.sync(t)
	assert.Len(t, up.SyncedLocal, 1)
	assert.Empty(t, alice.group.Own.UnsyncedCommands)
}

func TestOutsiderCannotRead(t *testing.T) {
	st := memory.New().Storage()
	clk := &clock{}
	alice := newMember(t, st, clk, "Alice")
	eve := newMember(t, st, clk, "Eve")
	newGroup(t, alice)
	alice.group = AddPost(alice.group, post("a1", "members only"))
	up := alice.sync(t)
	require.Len(t, up.SyncedLocal, 1)

	raw, err := st.Read(context.Background(), up.SyncedLocal[0].ID)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "members only")

	// Eve knows the topic and Alice's address but not the secret.
	forged, err := New(eve.id.Address, rand.Reader)
	require.NoError(t, err)
	eve.group = Join(eve.id.Address, forged.SharedSecret, alice.group.Topic, alice.profile())
	eveUp := eve.sync(t)
	require.Len(t, eveUp.Peers, 1)
	assert.Empty(t, eveUp.Peers[0].Timeline)
	assert.Empty(t, eve.group.Peers[0].PeerLastSeenChapterID)
	assert.Empty(t, eve.got)
}

func TestInvalidSecret(t *testing.T) {
	st := memory.New().Storage()
	alice := newMember(t, st, &clock{}, "Alice")
	alice.group = Join(alice.id.Address, "0xzz", [32]byte{}, Member{Name: "Bob"})
	alice.group = AddPost(alice.group, post("a1", "x"))

	up := alice.syncer.Sync(context.Background(), alice.group)
	assert.Empty(t, up.SyncedLocal)
	require.Len(t, up.Peers, 1)
	assert.Empty(t, up.Peers[0].Timeline)
	assert.Equal(t, alice.group, Apply(up, nil, nil))
}

func TestGroupUploadImages(t *testing.T) {
	st := memory.New().Storage()
	clk := &clock{}
	alice := newMember(t, st, clk, "Alice")
	bob := newMember(t, st, clk, "Bob")
	newGroup(t, alice)
	alice.syncer.UploadImage = func(ctx context.Context, img model.ImageData) (model.ImageData, error) {
		h, err := st.Write(ctx, []byte(img.Data))
		if err != nil {
			return img, err
		}
		return model.ImageData{URI: "blob://" + h.String()}, nil
	}
	alice.group = AddMember(alice.group, bob.profile())
	p := post("a1", "pic")
	p.Images = []model.ImageData{{Data: "raw", LocalPath: "/tmp/x.jpg"}}
	alice.group = AddPost(alice.group, p)
	bob.join(alice)

	alice.sync(t)
	bob.sync(t)
	require.Len(t, bob.got, 2)
	img := bob.got[1].Post.Images[0]
	assert.Equal(t, "blob://"+contenthash.Sum([]byte("raw")).String(), img.URI)
	assert.Empty(t, img.LocalPath)
}
