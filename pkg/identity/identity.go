// Package identity manages node signing keys: Ed25519 by default, RSA-4096
// where interoperability with external verifiers is required, and
// multi-key rotation via a KeyRing. Every other component in Lexecon signs
// and verifies through the KeyPair interface defined here; none of them
// touch crypto/ed25519 or crypto/rsa directly.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Algorithm enumerates the signature algorithms a signed object may carry.
// The protocol treats the algorithm as an enumerated attribute on every
// signed envelope rather than assuming a single scheme (spec.md §4.2).
type Algorithm string

const (
	AlgorithmEd25519 Algorithm = "ed25519"
	AlgorithmRSA4096 Algorithm = "rsa4096"
)

// KeyMaterialError is returned when key files are corrupt or a passphrase
// is wrong (spec.md §4.2).
type KeyMaterialError struct {
	Op  string
	Err error
}

func (e *KeyMaterialError) Error() string {
	return fmt.Sprintf("identity: %s: %v", e.Op, e.Err)
}

func (e *KeyMaterialError) Unwrap() error { return e.Err }

// ErrUnknownKey is returned by a KeyRing when asked to verify or sign with
// a fingerprint it does not hold.
var ErrUnknownKey = errors.New("identity: unknown key")

// KeyPair is the signing/verification contract every component depends on.
type KeyPair interface {
	// Sign returns a signature over data.
	Sign(data []byte) ([]byte, error)
	// Verify reports whether signature is a valid signature over data.
	Verify(data, signature []byte) bool
	// PublicKeyBytes returns the raw public key.
	PublicKeyBytes() []byte
	// Fingerprint returns hex(SHA-256(public_key_bytes)) (spec.md §4.2).
	Fingerprint() string
	// Algorithm reports which signature scheme this key pair implements.
	Algorithm() Algorithm
}

// Fingerprint computes hex(SHA-256(pubKey)) — the shared definition used
// by every KeyPair implementation.
func Fingerprint(pubKey []byte) string {
	sum := sha256.Sum256(pubKey)
	return hex.EncodeToString(sum[:])
}

// Ed25519KeyPair implements KeyPair using crypto/ed25519.
type Ed25519KeyPair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateEd25519 creates a fresh Ed25519 key pair.
func GenerateEd25519() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, &KeyMaterialError{Op: "generate", Err: err}
	}
	return &Ed25519KeyPair{priv: priv, pub: pub}, nil
}

// Ed25519FromSeed reconstructs a key pair from a 32-byte seed (e.g. loaded
// from persisted key material).
func Ed25519FromSeed(seed []byte) (*Ed25519KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, &KeyMaterialError{Op: "load", Err: fmt.Errorf("expected %d-byte seed, got %d", ed25519.SeedSize, len(seed))}
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519KeyPair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (k *Ed25519KeyPair) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, data), nil
}

func (k *Ed25519KeyPair) Verify(data, signature []byte) bool {
	return ed25519.Verify(k.pub, data, signature)
}

func (k *Ed25519KeyPair) PublicKeyBytes() []byte { return append([]byte(nil), k.pub...) }

func (k *Ed25519KeyPair) Fingerprint() string { return Fingerprint(k.pub) }

func (k *Ed25519KeyPair) Algorithm() Algorithm { return AlgorithmEd25519 }

// VerifyDetached verifies a hex-encoded public key and hex-encoded
// signature against data without constructing a KeyPair — used by
// verifiers that only hold the public material.
func VerifyDetached(alg Algorithm, pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("identity: invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("identity: invalid signature hex: %w", err)
	}

	switch alg {
	case AlgorithmEd25519:
		if len(pubKey) != ed25519.PublicKeySize {
			return false, fmt.Errorf("identity: invalid ed25519 public key size")
		}
		return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
	case AlgorithmRSA4096:
		return verifyRSADetached(pubKey, sig, data)
	default:
		return false, fmt.Errorf("identity: unknown algorithm %q", alg)
	}
}
