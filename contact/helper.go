package contact

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/seal"
	"xdao.co/feedsync/storage"
)

// PollInterval is the default wait between feed reads while polling.
const PollInterval = time.Second

// ErrNoData is returned by Helper.Read when nothing was published in time.
var ErrNoData = errors.New("contact: no data")

// RandomHelper creates the secrets a new contact needs.
type RandomHelper interface {
	// GenerateSecureIdentity derives an identity from a hex seed. Equal seeds
	// give equal identities.
	GenerateSecureIdentity(seed string) (identity.PrivateIdentity, error)
	// GenerateSecureRandom returns 32 random bytes as 0x-prefixed hex.
	GenerateSecureRandom() (string, error)
}

// Helper is everything the handshake needs from its environment.
type Helper interface {
	RandomHelper
	Read(ctx context.Context, address identity.Address, timeout time.Duration) ([]byte, error)
	Write(ctx context.Context, owner identity.PrivateIdentity, data []byte, timeout time.Duration) error
	Encrypt(data []byte, key string) ([]byte, error)
	Decrypt(data []byte, key string) ([]byte, error)
	// OwnIdentity is the long-term identity revealed to the peer.
	OwnIdentity() identity.PublicIdentity
	ProfileName() string
}

// StorageHelper implements Helper on top of protocol storage. Handshake
// messages are blobs published on the owner's feed at feed.ZeroTopic.
type StorageHelper struct {
	Storage  storage.Storage
	Identity identity.PublicIdentity
	Name     string
	// Rand defaults to crypto/rand.
	Rand io.Reader
	// PollInterval defaults to the package PollInterval.
	PollInterval time.Duration
	Logger       *zap.Logger
}

var _ Helper = (*StorageHelper)(nil)

func (h *StorageHelper) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *StorageHelper) GenerateSecureIdentity(seed string) (identity.PrivateIdentity, error) {
	b, err := seal.HexKey(seed)
	if err != nil {
		return identity.PrivateIdentity{}, err
	}
	return identity.FromSeed(b)
}

func (h *StorageHelper) GenerateSecureRandom() (string, error) {
	b, err := seal.Keyring{Rand: h.Rand}.Random(32)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}

func (h *StorageHelper) OwnIdentity() identity.PublicIdentity { return h.Identity }

func (h *StorageHelper) ProfileName() string { return h.Name }

func (h *StorageHelper) Encrypt(data []byte, key string) ([]byte, error) {
	k, err := seal.HexKey(key)
	if err != nil {
		return nil, err
	}
	return seal.Encrypt(data, k, h.Rand)
}

func (h *StorageHelper) Decrypt(data []byte, key string) ([]byte, error) {
	k, err := seal.HexKey(key)
	if err != nil {
		return nil, err
	}
	return seal.Decrypt(data, k)
}

// Write stores data and points the owner's feed at it.
func (h *StorageHelper) Write(ctx context.Context, owner identity.PrivateIdentity, data []byte, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ref, err := h.Storage.Write(ctx, data)
	if err != nil {
		return fmt.Errorf("contact: write: %w", err)
	}
	if err := h.Storage.Feeds().Write(ctx, owner.Address, feed.ZeroTopic, ref, feed.IdentitySigner(owner)); err != nil {
		return fmt.Errorf("contact: write feed: %w", err)
	}
	h.logger().Debug("handshake message written", zap.Stringer("address", owner.Address), zap.String("hash", ref.String()))
	return nil
}

// Read polls the feed of address until it resolves to a readable blob or
// timeout elapses. It makes at most timeout/PollInterval+1 attempts, each
// bounded by the poll interval and the time left, and returns ErrNoData when
// all of them fail. A zero or negative timeout makes a single attempt.
func (h *StorageHelper) Read(ctx context.Context, address identity.Address, timeout time.Duration) ([]byte, error) {
	interval := h.PollInterval
	if interval <= 0 {
		interval = PollInterval
	}
	if timeout < 0 {
		timeout = 0
	}
	deadline := time.Now().Add(timeout)
	tries := max(int(timeout/interval)+1, 1)
	log := h.logger().With(zap.Stringer("address", address))

	var lastErr error
	for i := 0; i < tries; i++ {
		attempt := time.Now()
		budget := interval
		if left := time.Until(deadline); left > 0 {
			budget = min(budget, left)
		}
		data, err := h.readOnce(ctx, address, budget)
		if err == nil {
			return data, nil
		}
		lastErr = err
		log.Debug("handshake poll", zap.Int("attempt", i+1), zap.Int("tries", tries), zap.Error(err))
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoData, ctx.Err())
		}

		if i+1 == tries || !time.Now().Before(deadline) {
			break
		}
		wait := time.Until(attempt.Add(interval))
		if left := time.Until(deadline); wait > left {
			wait = left
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrNoData, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoData, lastErr)
}

func (h *StorageHelper) readOnce(ctx context.Context, address identity.Address, budget time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	ref, err := h.Storage.Feeds().Read(ctx, address, feed.ZeroTopic)
	if err != nil {
		return nil, err
	}
	return h.Storage.Read(ctx, ref)
}
