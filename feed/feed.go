// Package feed defines signed mutable pointers.
//
// A feed is addressed by (owner address, topic) and resolves to the latest
// content hash its owner signed. Each update carries an Epoch; stores keep the
// update with the greatest epoch.
package feed

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/identity"
)

const (
	TopicSize = 32

	// ProtocolVersion is written into the first byte of every digest.
	ProtocolVersion uint8 = 0

	// DefaultLevel is the epoch level used for every write.
	DefaultLevel uint8 = 25

	headerLength = 8
	timeLength   = 7
	levelLength  = 1

	// DigestHeaderLength is the number of bytes hashed before the payload.
	DigestHeaderLength = headerLength + TopicSize + identity.AddressSize + timeLength + levelLength
)

var (
	ErrInvalidTopic     = errors.New("feed: invalid topic")
	ErrInvalidSignature = errors.New("feed: invalid signature")
)

// Topic names one feed of an owner.
type Topic [TopicSize]byte

// ZeroTopic is the default topic.
var ZeroTopic Topic

func ParseTopic(s string) (Topic, error) {
	var t Topic
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != TopicSize {
		return t, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}
	copy(t[:], b)
	return t, nil
}

// TopicFromBytes copies a 32 byte value into a Topic.
func TopicFromBytes(b []byte) (Topic, error) {
	var t Topic
	if len(b) != TopicSize {
		return t, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidTopic, TopicSize, len(b))
	}
	copy(t[:], b)
	return t, nil
}

func (t Topic) Hex() string { return "0x" + hex.EncodeToString(t[:]) }

func (t Topic) String() string { return t.Hex() }

func (t Topic) MarshalText() ([]byte, error) { return []byte(t.Hex()), nil }

func (t *Topic) UnmarshalText(b []byte) error {
	parsed, err := ParseTopic(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Epoch orders updates of one feed.
type Epoch struct {
	Time  uint32 `json:"time"`
	Level uint8  `json:"level"`
}

// NewEpoch returns the epoch for a write at now.
func NewEpoch(now time.Time) Epoch {
	return Epoch{Time: uint32(now.Unix()), Level: DefaultLevel}
}

// Compare orders epochs by time, then level.
func (e Epoch) Compare(o Epoch) int {
	switch {
	case e.Time < o.Time:
		return -1
	case e.Time > o.Time:
		return 1
	case e.Level < o.Level:
		return -1
	case e.Level > o.Level:
		return 1
	}
	return 0
}

// Digest returns keccak256 over the update layout:
//
//	version(1) | zero(7) | topic(32) | address(20) | time(4, LE) | zero(3) | level(1) | payload
func Digest(version uint8, topic Topic, addr identity.Address, epoch Epoch, payload []byte) [32]byte {
	buf := DigestData(version, topic, addr, epoch, payload)
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(buf)
	copy(out[:], h.Sum(nil))
	return out
}

// DigestData returns the bytes hashed by Digest.
func DigestData(version uint8, topic Topic, addr identity.Address, epoch Epoch, payload []byte) []byte {
	buf := make([]byte, DigestHeaderLength+len(payload))
	cursor := 0
	buf[cursor] = version
	cursor += headerLength
	cursor += copy(buf[cursor:], topic[:])
	cursor += copy(buf[cursor:], addr[:])
	binary.LittleEndian.PutUint32(buf[cursor:], epoch.Time)
	cursor += timeLength
	buf[cursor] = epoch.Level
	cursor += levelLength
	copy(buf[cursor:], payload)
	return buf
}

// Signer signs a feed digest, returning a 65 byte recoverable signature.
type Signer func(digest [32]byte) ([]byte, error)

// IdentitySigner signs with a local private identity.
func IdentitySigner(id identity.PrivateIdentity) Signer {
	return func(digest [32]byte) ([]byte, error) {
		return identity.SignDigest(id, digest)
	}
}

// Update is one signed feed write.
type Update struct {
	Address         identity.Address `json:"address"`
	Topic           Topic            `json:"topic"`
	Epoch           Epoch            `json:"epoch"`
	ProtocolVersion uint8            `json:"protocolVersion"`
	Hash            contenthash.Hash `json:"hash"`
	Signature       []byte           `json:"signature"`
}

// Digest returns the digest the owner signs. The payload is the raw hash digest.
func (u Update) Digest() ([32]byte, error) {
	payload, err := u.Hash.Bytes()
	if err != nil {
		return [32]byte{}, err
	}
	return Digest(u.ProtocolVersion, u.Topic, u.Address, u.Epoch, payload), nil
}

// Sign fills in the signature.
func (u Update) Sign(signer Signer) (Update, error) {
	digest, err := u.Digest()
	if err != nil {
		return Update{}, err
	}
	sig, err := signer(digest)
	if err != nil {
		return Update{}, fmt.Errorf("feed: sign: %w", err)
	}
	u.Signature = sig
	return u, nil
}

// Verify checks that the signature was produced by the key behind Address.
func (u Update) Verify() error {
	digest, err := u.Digest()
	if err != nil {
		return err
	}
	signer, err := identity.RecoverAddress(digest, u.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != u.Address {
		return fmt.Errorf("%w: signed by %s, not %s", ErrInvalidSignature, signer, u.Address)
	}
	return nil
}
