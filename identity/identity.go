// Package identity implements secp256k1 identities for feed owners.
//
// An identity is a secp256k1 keypair. Its address is the last 20 bytes of
// keccak256 over the uncompressed public key without the 0x04 prefix.
// Public keys and private keys travel as 0x-prefixed hex strings.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

// AddressSize is the length of an address in bytes.
const AddressSize = 20

// Address identifies the owner of a feed.
type Address [AddressSize]byte

var (
	ErrInvalidAddress    = errors.New("identity: invalid address")
	ErrInvalidPublicKey  = errors.New("identity: invalid public key")
	ErrInvalidPrivateKey = errors.New("identity: invalid private key")
)

// ParseAddress accepts 40 hex characters with an optional 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(strip0x(s))
	if err != nil || len(b) != AddressSize {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// PublicIdentity is the shareable half of an identity.
type PublicIdentity struct {
	PublicKey string  `json:"publicKey"`
	Address   Address `json:"address"`
}

// PrivateIdentity carries the private key next to the public identity.
type PrivateIdentity struct {
	PrivateKey string `json:"privateKey"`
	PublicIdentity
}

// Public drops the private key.
func (p PrivateIdentity) Public() PublicIdentity { return p.PublicIdentity }

// Generate creates a fresh identity from the entropy in r.
func Generate(r io.Reader) (PrivateIdentity, error) {
	buf := make([]byte, 32)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return PrivateIdentity{}, fmt.Errorf("identity: read entropy: %w", err)
		}
		var k secp256k1.ModNScalar
		if overflow := k.SetByteSlice(buf); overflow || k.IsZero() {
			continue
		}
		return fromPrivateKey(secp256k1.NewPrivateKey(&k)), nil
	}
}

// FromSeed deterministically derives an identity from a seed. The same seed
// always yields the same identity, so both sides of an invite can compute the
// identity of the seed feed.
func FromSeed(seed []byte) (PrivateIdentity, error) {
	if len(seed) == 0 {
		return PrivateIdentity{}, errors.New("identity: empty seed")
	}
	material := keccak256(seed)
	for i := 0; i < 256; i++ {
		var k secp256k1.ModNScalar
		if overflow := k.SetByteSlice(material); !overflow && !k.IsZero() {
			return fromPrivateKey(secp256k1.NewPrivateKey(&k)), nil
		}
		material = keccak256(material, []byte{byte(i)})
	}
	return PrivateIdentity{}, errors.New("identity: seed does not yield a valid key")
}

// FromPrivateKeyHex rebuilds an identity from its hex private key.
func FromPrivateKeyHex(s string) (PrivateIdentity, error) {
	priv, err := parsePrivateKey(s)
	if err != nil {
		return PrivateIdentity{}, err
	}
	return fromPrivateKey(priv), nil
}

// PublicKeyToIdentity derives the public identity for a hex encoded public key.
// Compressed and uncompressed encodings are accepted.
func PublicKeyToIdentity(publicKey string) (PublicIdentity, error) {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return PublicIdentity{}, err
	}
	return publicIdentity(pub), nil
}

// DeriveSharedKey returns the ECDH shared secret between priv and the peer
// public key: the x coordinate of the shared point as 0x-prefixed, zero-padded hex.
// Both parties compute the same value.
func DeriveSharedKey(priv PrivateIdentity, peerPublicKey string) (string, error) {
	k, err := parsePrivateKey(priv.PrivateKey)
	if err != nil {
		return "", err
	}
	pub, err := parsePublicKey(peerPublicKey)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(secp256k1.GenerateSharedSecret(k, pub)), nil
}

// AddressOf returns the address for an uncompressed or compressed public key.
func AddressOf(pub *secp256k1.PublicKey) Address {
	var a Address
	h := keccak256(pub.SerializeUncompressed()[1:])
	copy(a[:], h[12:])
	return a
}

func fromPrivateKey(priv *secp256k1.PrivateKey) PrivateIdentity {
	return PrivateIdentity{
		PrivateKey:     "0x" + hex.EncodeToString(priv.Serialize()),
		PublicIdentity: publicIdentity(priv.PubKey()),
	}
}

func publicIdentity(pub *secp256k1.PublicKey) PublicIdentity {
	return PublicIdentity{
		PublicKey: "0x" + hex.EncodeToString(pub.SerializeUncompressed()),
		Address:   AddressOf(pub),
	}
}

func parsePrivateKey(s string) (*secp256k1.PrivateKey, error) {
	b, err := hex.DecodeString(strip0x(s))
	if err != nil || len(b) == 0 || len(b) > 32 {
		return nil, ErrInvalidPrivateKey
	}
	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(b); overflow || k.IsZero() {
		return nil, ErrInvalidPrivateKey
	}
	return secp256k1.NewPrivateKey(&k), nil
}

func parsePublicKey(s string) (*secp256k1.PublicKey, error) {
	b, err := hex.DecodeString(strip0x(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum(nil)
}

func strip0x(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
