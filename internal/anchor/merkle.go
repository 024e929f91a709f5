package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ZeroRoot is the defined root of an empty leaf set.
const ZeroRoot = "0x0000000000000000000000000000000000000000000000000000000000000000"

// ComputeMerkleRoot builds an order-independent Merkle root over the leaves.
//
// Every leaf is sha256-hashed first to normalize length, then adjacent nodes
// are paired level by level (the last node is duplicated on odd levels). Each
// pair is sorted before concatenation and re-hashing, which makes the root
// independent of input order — the source queries carry no stable ordering
// guarantee. Hashing operates on lowercase hex strings end to end so roots
// stay compatible with external verifiers.
func ComputeMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ZeroRoot
	}

	nodes := make([]string, len(leaves))
	for i, leaf := range leaves {
		nodes[i] = hashHex(leaf)
	}

	for len(nodes) > 1 {
		next := make([]string, 0, (len(nodes)+1)/2)
		for i := 0; i < len(nodes); i += 2 {
			left := nodes[i]
			right := left
			if i+1 < len(nodes) {
				right = nodes[i+1]
			}
			if strings.Compare(left, right) > 0 {
				left, right = right, left
			}
			next = append(next, hashHex(left+right))
		}
		nodes = next
	}

	return "0x" + nodes[0]
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
