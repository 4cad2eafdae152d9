// Package merkle builds Merkle trees over batches of glyph ids and produces
// inclusion proofs verifiable against a single anchored root.
//
// Construction rules (fixed; generation and verification must agree):
//   - leaf = keccak256(raw 32-byte glyph id)
//   - nodes pair in input order; a level with an odd count duplicates its
//     last node (duplicate-last, never promote)
//   - a pair is combined as keccak256(min(a,b) || max(a,b)) by lexicographic
//     byte order, so proofs carry no left/right indicators
package merkle

import (
	"bytes"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"

	"xdao.co/glyphvault/glyph"
	"xdao.co/glyphvault/model"
)

// Hash is a 32-byte tree node.
type Hash [32]byte

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// ParseHash decodes a 0x-prefixed 32-byte hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := glyph.IDBytes(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// Root computes the Merkle root of an ordered, non-empty id batch.
func Root(ids []string) (Hash, error) {
	leaves, err := leafHashes(ids)
	if err != nil {
		return Hash{}, err
	}
	for len(leaves) > 1 {
		leaves = nextLevel(leaves)
	}
	return leaves[0], nil
}

// Proof returns the sibling-hash path from targetID's leaf to the root of
// the tree over ids. If targetID occurs more than once, the first occurrence
// is proven.
func Proof(ids []string, targetID string) ([]Hash, error) {
	leaves, err := leafHashes(ids)
	if err != nil {
		return nil, err
	}
	idx := -1
	target, err := leafHash(targetID)
	if err != nil {
		return nil, err
	}
	for i, l := range leaves {
		if l == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, model.NewError(model.KindNotFound, "GV-MERKLE-002", "target id is not in the batch")
	}

	var proof []Hash
	level := leaves
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		sib := idx ^ 1
		proof = append(proof, level[sib])
		level = nextLevel(level)
		idx /= 2
	}
	return proof, nil
}

// Verify walks proof from leafID, re-deriving the root and comparing
// equality. It never errors: malformed input is simply false.
func Verify(root Hash, leafID string, proof []Hash) bool {
	h, err := leafHash(leafID)
	if err != nil {
		return false
	}
	for _, p := range proof {
		h = combine(h, p)
	}
	return h == root
}

func leafHash(id string) (Hash, error) {
	b, err := glyph.IDBytes(id)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	copy(h[:], crypto.Keccak256(b))
	return h, nil
}

func leafHashes(ids []string) ([]Hash, error) {
	if len(ids) == 0 {
		return nil, model.NewError(model.KindConfiguration, "GV-MERKLE-001", "id batch is empty")
	}
	out := make([]Hash, len(ids))
	for i, id := range ids {
		h, err := leafHash(id)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func nextLevel(level []Hash) []Hash {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	next := make([]Hash, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, combine(level[i], level[i+1]))
	}
	return next
}

func combine(a, b Hash) Hash {
	if bytes.Compare(b[:], a[:]) < 0 {
		a, b = b, a
	}
	var h Hash
	copy(h[:], crypto.Keccak256(a[:], b[:]))
	return h
}
