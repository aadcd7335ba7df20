package identity

import (
	"sort"
	"sync"
)

// KeyRing aggregates multiple KeyPairs keyed by fingerprint, supporting
// key rotation: new keys are added, retired keys are revoked, and
// verification of a signature produced by any currently-trusted key
// succeeds regardless of which key is "active" for new signing.
//
// Grounded on the teacher's pkg/crypto/keyring.go KeyRing (deterministic
// "latest key" selection by sorted key id for signing, per-key lookup for
// verification, RevokeKey for rotation).
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]KeyPair // fingerprint -> KeyPair
}

// NewKeyRing creates an empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]KeyPair)}
}

// Add registers a key pair under its fingerprint.
func (r *KeyRing) Add(kp KeyPair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[kp.Fingerprint()] = kp
}

// Revoke removes a key by fingerprint. Tokens and decisions already
// signed with a revoked key remain verifiable only through ledger
// history, not through this KeyRing (spec.md §4.5 scenario 5: the ledger
// is the source of truth for historically-active policy/key state).
func (r *KeyRing) Revoke(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, fingerprint)
}

// Get returns the key pair for a fingerprint, or ErrUnknownKey.
func (r *KeyRing) Get(fingerprint string) (KeyPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kp, ok := r.keys[fingerprint]
	if !ok {
		return nil, ErrUnknownKey
	}
	return kp, nil
}

// Active returns the deterministically-selected active signing key: the
// lexicographically last fingerprint. This avoids relying on insertion
// order or wall-clock "latest added" semantics.
func (r *KeyRing) Active() (KeyPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.keys) == 0 {
		return nil, ErrUnknownKey
	}
	fps := make([]string, 0, len(r.keys))
	for fp := range r.keys {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	return r.keys[fps[len(fps)-1]], nil
}

// Verify checks signature against data using the key identified by
// fingerprint. Returns ErrUnknownKey if that fingerprint is not (or no
// longer) trusted.
func (r *KeyRing) Verify(fingerprint string, data, signature []byte) (bool, error) {
	kp, err := r.Get(fingerprint)
	if err != nil {
		return false, err
	}
	return kp.Verify(data, signature), nil
}

// Fingerprints returns all currently-trusted fingerprints, sorted.
func (r *KeyRing) Fingerprints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fps := make([]string, 0, len(r.keys))
	for fp := range r.keys {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	return fps
}
