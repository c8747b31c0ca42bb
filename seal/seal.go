// Package seal provides authenticated symmetric encryption for feed payloads.
//
// The box key is keccak256(secret). Ciphertext is nonce(24) || secretbox(plain).
package seal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/sha3"

	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
)

const (
	NonceSize = 24
	// Overhead is the number of bytes Encrypt adds to the plaintext.
	Overhead = NonceSize + secretbox.Overhead
)

// ErrDecrypt is returned for any ciphertext that fails to open.
var ErrDecrypt = errors.New("seal: decryption failed")

// Encrypt seals plain under secret with a random nonce read from r.
func Encrypt(plain, secret []byte, r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: read nonce: %w", err)
	}
	return box(plain, secret, nonce), nil
}

// EncryptWithNonce seals plain with a nonce derived from nonceSeed, so equal
// inputs give equal ciphertexts.
func EncryptWithNonce(plain, secret, nonceSeed []byte) []byte {
	var nonce [NonceSize]byte
	copy(nonce[:], keccak256(nonceSeed))
	return box(plain, secret, nonce)
}

// Decrypt opens data produced by Encrypt or EncryptWithNonce.
func Decrypt(data, secret []byte) ([]byte, error) {
	if len(data) < Overhead {
		return nil, ErrDecrypt
	}
	var nonce [NonceSize]byte
	copy(nonce[:], data[:NonceSize])
	key := boxKey(secret)
	out, ok := secretbox.Open(nil, data[NonceSize:], &nonce, &key)
	if !ok {
		return nil, ErrDecrypt
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// HexKey decodes a 0x-prefixed hex secret such as an ECDH shared key.
func HexKey(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("seal: invalid hex key: %w", err)
	}
	return b, nil
}

func box(plain, secret []byte, nonce [NonceSize]byte) []byte {
	key := boxKey(secret)
	out := make([]byte, NonceSize, Overhead+len(plain))
	copy(out, nonce[:])
	return secretbox.Seal(out, plain, &nonce, &key)
}

func boxKey(secret []byte) [32]byte {
	var key [32]byte
	copy(key[:], keccak256(secret))
	return key
}

func keccak256(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	return h.Sum(nil)
}

// Keyring bundles the cryptographic operations a protocol participant needs:
// feed signing, ECDH, encryption and randomness, all bound to one identity.
type Keyring struct {
	Identity identity.PrivateIdentity
	// Rand defaults to crypto/rand.
	Rand io.Reader
}

func (k Keyring) Address() identity.Address { return k.Identity.Address }

func (k Keyring) Signer() feed.Signer { return feed.IdentitySigner(k.Identity) }

func (k Keyring) SignDigest(digest [32]byte) ([]byte, error) {
	return identity.SignDigest(k.Identity, digest)
}

func (k Keyring) DeriveSharedKey(publicKey string) (string, error) {
	return identity.DeriveSharedKey(k.Identity, publicKey)
}

func (k Keyring) Encrypt(plain, key []byte) ([]byte, error) {
	return Encrypt(plain, key, k.Rand)
}

func (k Keyring) Decrypt(data, key []byte) ([]byte, error) {
	return Decrypt(data, key)
}

func (k Keyring) Random(n int) ([]byte, error) {
	r := k.Rand
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
