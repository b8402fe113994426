package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const GenesisHashSeed = "BoardLedger:genesis:v1"

// StateHasher chains a digest over every applied event, in replay order.
// Two sessions that applied the same events in the same order end with
// the same hash.
type StateHasher struct {
	prevHash [32]byte
	count    int64
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// Append computes hash[N] = SHA-256(prev_hash || N || ref || budget_digest)
func (h *StateHasher) Append(ref string, budgetDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(h.count))
	hasher.Write(seqBuf[:])

	hasher.Write([]byte(ref))
	hasher.Write(budgetDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash
	h.count++

	return hash
}

// Hex returns the current chain tip
func (h *StateHasher) Hex() string {
	return hex.EncodeToString(h.prevHash[:])
}
