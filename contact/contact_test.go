package contact

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
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/storage/memory"
)

func newHelper(t *testing.T, st storage.Storage, name string) (*StorageHelper, identity.PrivateIdentity) {
	t.Helper()
	id, err := identity.Generate(rand.Reader)
	require.NoError(t, err)
	return &StorageHelper{
		Storage:      st,
		Identity:     id.Public(),
		Name:         name,
		PollInterval: 5 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	}, id
}

func TestHandshakeReachesMutual(t *testing.T) {
	ctx := context.Background()
	st := memory.New().Storage()
	aliceHelper, aliceID := newHelper(t, st, "Alice")
	bobHelper, bobID := newHelper(t, st, "Bob")
	now := time.UnixMilli(1700000000000)

	alice, err := NewInvited(aliceHelper, now)
	require.NoError(t, err)
	require.Equal(t, TypeInvited, alice.Type)

	payload, err := InviteFor(*alice.Invited, "Alice", now.Add(time.Hour)).Marshal()
	require.NoError(t, err)
	invite, err := ParseInvite(payload)
	require.NoError(t, err)

	bob, err := NewCodeReceived(invite, bobHelper, now)
	require.NoError(t, err)
	require.Equal(t, TypeCodeReceived, bob.Type)
	assert.Equal(t, "Alice", bob.CodeReceived.RemoteProfileName)

	var aliceStates, bobStates []Type
	for i := 0; i < 4 && !(alice.IsMutual() && bob.IsMutual()); i++ {
		alice, err = Advance(ctx, alice, aliceHelper, 0)
		require.NoError(t, err)
		aliceStates = append(aliceStates, alice.Type)

		bob, err = Advance(ctx, bob, bobHelper, 0)
		require.NoError(t, err)
		bobStates = append(bobStates, bob.Type)
	}
	require.True(t, alice.IsMutual(), "alice states %v", aliceStates)
	require.True(t, bob.IsMutual(), "bob states %v", bobStates)

	assert.Equal(t, []Type{TypeInvited, TypeAccepted, TypeMutual}, aliceStates)
	assert.Equal(t, []Type{TypeCodeReceived, TypeMutual, TypeMutual}, bobStates)

	assert.NotEmpty(t, alice.Mutual.SharedKey)
	assert.Equal(t, alice.Mutual.SharedKey, bob.Mutual.SharedKey)
	assert.True(t, alice.Mutual.Confirmed)
	assert.False(t, bob.Mutual.Confirmed)
	assert.Equal(t, bobID.Public(), alice.Mutual.Identity)
	assert.Equal(t, aliceID.Public(), bob.Mutual.Identity)
	assert.Equal(t, "Bob", alice.Mutual.Name)
	assert.Equal(t, "Alice", bob.Mutual.Name)

	// Mutual is terminal.
	again, err := Advance(ctx, alice, aliceHelper, 0)
	require.NoError(t, err)
	assert.Equal(t, alice, again)
}

func TestHandshakeWithPolling(t *testing.T) {
	ctx := context.Background()
	st := memory.New().Storage()
	aliceHelper, _ := newHelper(t, st, "Alice")
	bobHelper, _ := newHelper(t, st, "Bob")
	now := time.Now()

	alice, err := NewInvited(aliceHelper, now)
	require.NoError(t, err)
	bob, err := NewCodeReceived(InviteFor(*alice.Invited, "Alice", time.Time{}), bobHelper, now)
	require.NoError(t, err)

	done := make(chan Contact, 1)
	go func() {
		c, err := Advance(ctx, alice, aliceHelper, 2*time.Second)
		if err != nil {
			c = Contact{}
		}
		done <- c
	}()

	// Bob publishes his key, then waits for Alice's profile.
	bob, err = Advance(ctx, bob, bobHelper, 2*time.Second)
	require.NoError(t, err)
	require.True(t, bob.IsMutual())

	alice = <-done
	require.True(t, alice.IsMutual())
	assert.Equal(t, alice.Mutual.SharedKey, bob.Mutual.SharedKey)
}

func TestInvite(t *testing.T) {
	h, _ := newHelper(t, memory.New().Storage(), "Alice")
	now := time.UnixMilli(1700000000000)
	c, err := NewInvited(h, now)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), c.Invited.CreatedAt)

	invite := InviteFor(*c.Invited, "Alice", now.Add(time.Minute))
	assert.Equal(t, InviteVersion, invite.Version)
	assert.Equal(t, c.Invited.ContactIdentity.PublicKey, invite.ContactPublicKey)

	t.Run("WrongVersion", func(t *testing.T) {
		_, err := ParseInvite([]byte(`{"version":2,"randomSeed":"0x01","contactPublicKey":"0x04"}`))
		assert.ErrorIs(t, err, ErrInviteVersion)

		bad := invite
		bad.Version = 0
		_, err = NewCodeReceived(bad, h, now)
		assert.ErrorIs(t, err, ErrInviteVersion)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := ParseInvite([]byte(`not json`))
		assert.ErrorIs(t, err, ErrInvalidInvite)
		_, err = ParseInvite([]byte(`{"version":1}`))
		assert.ErrorIs(t, err, ErrInvalidInvite)

		bad := invite
		bad.ContactPublicKey = "0x04beef"
		_, err = NewCodeReceived(bad, h, now)
		assert.ErrorIs(t, err, ErrInvalidInvite)
	})

	t.Run("Expired", func(t *testing.T) {
		assert.False(t, invite.Expired(now))
		assert.True(t, invite.Expired(now.Add(2*time.Minute)))
		_, err := NewCodeReceived(invite, h, now.Add(2*time.Minute))
		assert.ErrorIs(t, err, ErrInviteExpired)

		forever := InviteFor(*c.Invited, "Alice", time.Time{})
		assert.False(t, forever.Expired(now.Add(1000*time.Hour)))
	})
}

func TestInvalidContact(t *testing.T) {
	h, _ := newHelper(t, memory.New().Storage(), "x")
	_, err := Advance(context.Background(), Contact{Type: TypeInvited}, h, 0)
	assert.ErrorIs(t, err, ErrInvalidContact)
	_, err = Advance(context.Background(), Contact{Type: "unknown"}, h, 0)
	assert.ErrorIs(t, err, ErrInvalidContact)
}

// scriptedHelper wraps a StorageHelper and lets tests break single operations.
type scriptedHelper struct {
	*StorageHelper
	failWrites bool
	reads      map[identity.Address][]byte
}

func (s *scriptedHelper) Write(ctx context.Context, owner identity.PrivateIdentity, data []byte, timeout time.Duration) error {
	if s.failWrites {
		return errors.New("offline")
	}
	return s.StorageHelper.Write(ctx, owner, data, timeout)
}

func (s *scriptedHelper) Read(ctx context.Context, address identity.Address, timeout time.Duration) ([]byte, error) {
	if data, ok := s.reads[address]; ok {
		return data, nil
	}
	return s.StorageHelper.Read(ctx, address, timeout)
}

func TestWriteFailureKeepsState(t *testing.T) {
	base, _ := newHelper(t, memory.New().Storage(), "Bob")
	h := &scriptedHelper{StorageHelper: base, failWrites: true}
	inviter, _ := newHelper(t, memory.New().Storage(), "Alice")
	alice, err := NewInvited(inviter, time.Now())
	require.NoError(t, err)

	bob, err := NewCodeReceived(InviteFor(*alice.Invited, "Alice", time.Time{}), h, time.Now())
	require.NoError(t, err)

	next, err := Advance(context.Background(), bob, h, 0)
	require.NoError(t, err)
	assert.Equal(t, bob, next)
	assert.False(t, next.CodeReceived.IsPublicKeySent)

	h.failWrites = false
	next, err = Advance(context.Background(), bob, h, 0)
	require.NoError(t, err)
	require.Equal(t, TypeCodeReceived, next.Type)
	assert.True(t, next.CodeReceived.IsPublicKeySent)
}

func TestCorruptPeerMessage(t *testing.T) {
	base, _ := newHelper(t, memory.New().Storage(), "Alice")
	alice, err := NewInvited(base, time.Now())
	require.NoError(t, err)
	seedIdentity, err := base.GenerateSecureIdentity(alice.Invited.RandomSeed)
	require.NoError(t, err)

	t.Run("Undecryptable", func(t *testing.T) {
		h := &scriptedHelper{StorageHelper: base, reads: map[identity.Address][]byte{
			seedIdentity.Address: []byte("garbage that is long enough to look like a sealed box....."),
		}}
		next, err := Advance(context.Background(), alice, h, 0)
		require.Error(t, err)
		assert.Equal(t, alice, next)
	})

	t.Run("NotAKey", func(t *testing.T) {
		sealed, err := base.Encrypt([]byte("not a public key"), alice.Invited.RandomSeed)
		require.NoError(t, err)
		h := &scriptedHelper{StorageHelper: base, reads: map[identity.Address][]byte{
			seedIdentity.Address: sealed,
		}}
		next, err := Advance(context.Background(), alice, h, 0)
		assert.ErrorIs(t, err, ErrInvalidPeerMessage)
		assert.Equal(t, alice, next)
	})
}

func TestStorageHelperRead(t *testing.T) {
	ctx := context.Background()
	st := memory.New().Storage()
	h, _ := newHelper(t, st, "x")
	owner, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	t.Run("NothingPublished", func(t *testing.T) {
		start := time.Now()
		_, err := h.Read(ctx, owner.Address, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrNoData)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := h.Read(cctx, owner.Address, time.Minute)
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("PublishedWhilePolling", func(t *testing.T) {
		written := make(chan error, 1)
		go func() {
			time.Sleep(20 * time.Millisecond)
			written <- h.Write(ctx, owner, []byte("late"), 0)
		}()
		data, err := h.Read(ctx, owner.Address, 2*time.Second)
		require.NoError(t, <-written)
		require.NoError(t, err)
		assert.Equal(t, "late", string(data))
	})
}

// stalledFeeds never answers until its context ends.
type stalledFeeds struct{}

func (stalledFeeds) Read(ctx context.Context, _ identity.Address, _ feed.Topic) (contenthash.Hash, error) {
	<-ctx.Done()
	return contenthash.Hash(""), ctx.Err()
}

func (stalledFeeds) Write(ctx context.Context, _ identity.Address, _ feed.Topic, _ contenthash.Hash, _ feed.Signer) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStorageHelperReadStalledStore(t *testing.T) {
	h := &StorageHelper{
		Storage:      storage.Compose(memory.New(), stalledFeeds{}),
		PollInterval: 10 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	}
	owner, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	// The caller's context outlives the poll budget by far.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("WithinTimeout", func(t *testing.T) {
		start := time.Now()
		_, err := h.Read(ctx, owner.Address, 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrNoData)
		assert.ErrorContains(t, err, context.DeadlineExceeded.Error())
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("NoCallerDeadline", func(t *testing.T) {
		start := time.Now()
		_, err := h.Read(context.Background(), owner.Address, 0)
		assert.ErrorIs(t, err, ErrNoData)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestStorageHelperReadNegativeTimeout(t *testing.T) {
	h, _ := newHelper(t, memory.New().Storage(), "x")
	owner, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	_, err = h.Read(context.Background(), owner.Address, -time.Second)
	require.ErrorIs(t, err, ErrNoData)
	assert.NotContains(t, err.Error(), "<nil>")

	require.NoError(t, h.Write(context.Background(), owner, []byte("hello"), 0))
	data, err := h.Read(context.Background(), owner.Address, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSecureIdentityFromSeed(t *testing.T) {
	h, _ := newHelper(t, memory.New().Storage(), "x")
	seed, err := h.GenerateSecureRandom()
	require.NoError(t, err)
	assert.Len(t, seed, 66)

	a, err := h.GenerateSecureIdentity(seed)
	require.NoError(t, err)
	b, err := h.GenerateSecureIdentity(seed)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = h.GenerateSecureIdentity("0xnothex")
	assert.Error(t, err)
}
