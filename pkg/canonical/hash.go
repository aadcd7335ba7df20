package canonical

import (
	"crypto/sha256"
	"encoding/hex"
)

// ZeroHash is the 64 zero hex characters used as the genesis ledger
// entry's previous hash (spec.md §3, §8: "entry[0].prev_hash = 64 zero hex
// chars").
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash returns the lowercase hex SHA-256 digest of the canonical
// representation of v.
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}
