package anchor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Justification for unit tests: the root is an external commitment verified by
// third parties, so the algorithm is pinned down leaf by leaf.

func TestComputeMerkleRoot_Empty(t *testing.T) {
	assert.Equal(t, "0x"+strings.Repeat("0", 64), ComputeMerkleRoot(nil))
	assert.Equal(t, ZeroRoot, ComputeMerkleRoot([]string{}))
}

func TestComputeMerkleRoot_Shape(t *testing.T) {
	root := ComputeMerkleRoot([]string{"vote-1", "vote-2"})
	assert.Len(t, root, 66, "0x plus 32 bytes of hex")
	assert.True(t, strings.HasPrefix(root, "0x"))
	assert.Equal(t, strings.ToLower(root), root)
}

func TestComputeMerkleRoot_SingleLeaf(t *testing.T) {
	// One leaf: the root is the leaf hash itself, no pairing round.
	assert.Equal(t, "0x"+hashHex("vote-1"), ComputeMerkleRoot([]string{"vote-1"}))
}

func TestComputeMerkleRoot_OrderIndependent(t *testing.T) {
	forward := ComputeMerkleRoot([]string{"a", "b"})
	reversed := ComputeMerkleRoot([]string{"b", "a"})
	assert.Equal(t, forward, reversed)

	// Pairs are sorted before hashing, so swapping siblings never changes
	// the root at any level.
	swapped := ComputeMerkleRoot([]string{"b", "a", "d", "c"})
	sorted := ComputeMerkleRoot([]string{"a", "b", "c", "d"})
	assert.Equal(t, sorted, swapped)
}

func TestComputeMerkleRoot_DistinctSetsDiffer(t *testing.T) {
	assert.NotEqual(t,
		ComputeMerkleRoot([]string{"a", "b"}),
		ComputeMerkleRoot([]string{"a", "c"}),
	)
	assert.NotEqual(t,
		ComputeMerkleRoot([]string{"a"}),
		ComputeMerkleRoot([]string{"a", "a"}),
	)
}

func TestComputeMerkleRoot_OddLeafDuplicated(t *testing.T) {
	// Three leaves: the dangling third node pairs with itself.
	left := hashHex(orderedConcat(hashHex("a"), hashHex("b")))
	right := hashHex(orderedConcat(hashHex("c"), hashHex("c")))
	want := "0x" + hashHex(orderedConcat(left, right))
	assert.Equal(t, want, ComputeMerkleRoot([]string{"a", "b", "c"}))
}

func orderedConcat(a, b string) string {
	if strings.Compare(a, b) > 0 {
		return b + a
	}
	return a + b
}
