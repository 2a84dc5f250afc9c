// envelope.go - authenticated-encryption disclosure envelopes.
//
// A transfer carries the opening of its amount commitment encrypted to the
// receiver. Envelopes use NaCl box (X25519 + XSalsa20-Poly1305) keyed by the
// parties' long-term Ed25519 identities, converted to their birationally
// equivalent Curve25519 form. Because box key agreement is symmetric, the
// sender can reopen an envelope it sealed, which is how a sender recovers
// in-flight amounts after a restart.

package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/nacl/box"
)

// NonceLen is the NaCl box nonce size; it prefixes every sealed envelope.
const NonceLen = 24

// Overhead is the total size added to a payload by sealing.
const Overhead = NonceLen + box.Overhead

var (
	// ErrCannotDecrypt is returned when an envelope fails to open, either
	// because the keys do not match or the ciphertext was tampered with.
	ErrCannotDecrypt = errors.New("cannot decrypt envelope")
	// ErrInvalidKey is returned when an Ed25519 key cannot be converted to
	// its Curve25519 form.
	ErrInvalidKey = errors.New("invalid encryption key")
)

// Seal encrypts payload from the holder of senderPriv to the holder of
// receiverPub. The output is nonce || ciphertext.
func Seal(payload []byte, senderPriv ed25519.PrivateKey, receiverPub ed25519.PublicKey) ([]byte, error) {
	sk, err := boxPrivateKey(senderPriv)
	if err != nil {
		return nil, err
	}
	pk, err := boxPublicKey(receiverPub)
	if err != nil {
		return nil, err
	}

	var nonce [NonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}
	return box.Seal(nonce[:], payload, &nonce, pk, sk), nil
}

// Open decrypts an envelope. ownPriv is the opener's Ed25519 key and
// peerPub the other party's; either side of the exchange can open.
func Open(sealed []byte, ownPriv ed25519.PrivateKey, peerPub ed25519.PublicKey) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, ErrCannotDecrypt
	}
	sk, err := boxPrivateKey(ownPriv)
	if err != nil {
		return nil, err
	}
	pk, err := boxPublicKey(peerPub)
	if err != nil {
		return nil, err
	}

	var nonce [NonceLen]byte
	copy(nonce[:], sealed[:NonceLen])
	payload, ok := box.Open(nil, sealed[NonceLen:], &nonce, pk, sk)
	if !ok {
		return nil, ErrCannotDecrypt
	}
	return payload, nil
}

// boxPrivateKey derives the Curve25519 scalar from an Ed25519 private key:
// the clamped low half of SHA-512 over the seed, exactly as Ed25519 signing
// derives its scalar.
func boxPrivateKey(priv ed25519.PrivateKey) (*[32]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	digest := sha512.Sum512(priv.Seed())
	digest[0] &= 248
	digest[31] &= 127
	digest[31] |= 64

	var out [32]byte
	copy(out[:], digest[:32])
	return &out, nil
}

// boxPublicKey maps an Ed25519 public key to the Montgomery u-coordinate of
// the same point, the Curve25519 public key sharing its discrete log.
func boxPublicKey(pub ed25519.PublicKey) (*[32]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrInvalidKey
	}
	point, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, ErrInvalidKey
	}
	var out [32]byte
	copy(out[:], point.BytesMontgomery())
	return &out, nil
}
