// Package contenthash defines the content address used by blob storage.
//
// A Hash is the lowercase hex sha2-256 digest of the stored bytes. Every Hash
// maps 1:1 to a CIDv1 using the "raw" multicodec and a sha2-256 multihash, so
// CAS backends that speak CIDs can store the same objects.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// Hash is a hex encoded sha2-256 digest. The zero value means "no hash".
type Hash string

var ErrInvalid = errors.New("contenthash: invalid hash")

// Sum returns the Hash of data.
func Sum(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// Parse validates s and returns it as a Hash. Upper case input is normalised.
func Parse(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != Size {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return Hash(hex.EncodeToString(b)), nil
}

func (h Hash) IsZero() bool { return h == "" }

func (h Hash) String() string { return string(h) }

// Bytes returns the raw digest.
func (h Hash) Bytes() ([]byte, error) {
	b, err := hex.DecodeString(string(h))
	if err != nil || len(b) != Size {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, string(h))
	}
	return b, nil
}

// Matches reports whether data hashes to h.
func (h Hash) Matches(data []byte) bool {
	return Sum(data) == h
}

// CID returns the CIDv1 (raw + sha2-256) for h.
func (h Hash) CID() (cid.Cid, error) {
	digest, err := h.Bytes()
	if err != nil {
		return cid.Undef, err
	}
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// FromCID returns the Hash carried by a raw sha2-256 CID.
func FromCID(id cid.Cid) (Hash, error) {
	if !id.Defined() {
		return "", ErrInvalid
	}
	if id.Type() != cid.Raw {
		return "", fmt.Errorf("%w: unsupported codec 0x%x", ErrInvalid, id.Type())
	}
	decoded, err := multihash.Decode(id.Hash())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if decoded.Code != multihash.SHA2_256 || len(decoded.Digest) != Size {
		return "", fmt.Errorf("%w: unsupported multihash 0x%x", ErrInvalid, decoded.Code)
	}
	return Hash(hex.EncodeToString(decoded.Digest)), nil
}

// CIDv1RawSHA256 returns the CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
