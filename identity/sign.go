package identity

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SignatureSize is the length of a recoverable signature: r || s || recovery id.
const SignatureSize = 65

var ErrInvalidSignature = errors.New("identity: invalid signature")

// SignDigest signs a 32-byte digest with a recoverable secp256k1 signature.
// The result is r || s || v with v in 0..3.
func SignDigest(priv PrivateIdentity, digest [32]byte) ([]byte, error) {
	k, err := parsePrivateKey(priv.PrivateKey)
	if err != nil {
		return nil, err
	}
	compact := ecdsa.SignCompact(k, digest[:], false)
	// compact is header || r || s with header = 27 + recovery id.
	sig := make([]byte, SignatureSize)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return sig, nil
}

// RecoverAddress returns the address whose key produced sig over digest.
func RecoverAddress(digest [32]byte, sig []byte) (Address, error) {
	if len(sig) != SignatureSize || sig[64] > 3 {
		return Address{}, fmt.Errorf("%w: want %d bytes with recovery id 0..3", ErrInvalidSignature, SignatureSize)
	}
	compact := make([]byte, SignatureSize)
	compact[0] = 27 + sig[64]
	copy(compact[1:], sig[:64])
	pub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return AddressOf(pub), nil
}
