package tokenset

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MerkleRoot computes the keccak256 merkle root over a token-id list. Leaves
// are the 32-byte big-endian token ids, sorted ascending; sibling pairs are
// hashed in sorted order so the root is independent of input ordering. Odd
// leaves are promoted unhashed, matching the OpenZeppelin proof convention
// used by criteria-based protocols.
func MerkleRoot(tokenIDs []*big.Int) common.Hash {
	if len(tokenIDs) == 0 {
		return common.Hash{}
	}

	leaves := make([][]byte, len(tokenIDs))
	for i, id := range tokenIDs {
		leaf := make([]byte, 32)
		id.FillBytes(leaf)
		leaves[i] = crypto.Keccak256(leaf)
	}
	sort.Slice(leaves, func(i, j int) bool {
		return compareBytes(leaves[i], leaves[j]) < 0
	})

	for len(leaves) > 1 {
		next := make([][]byte, 0, (len(leaves)+1)/2)
		for i := 0; i < len(leaves); i += 2 {
			if i+1 == len(leaves) {
				next = append(next, leaves[i])
				continue
			}
			next = append(next, hashPair(leaves[i], leaves[i+1]))
		}
		leaves = next
	}

	return common.BytesToHash(leaves[0])
}

func hashPair(a, b []byte) []byte {
	if compareBytes(a, b) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256(a, b)
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
