package tree

import (
	"math"
	"testing"

	"github.com/eth2030/aggsettle/core/types"
)

func leafN(i int) types.Hash {
	return types.Keccak256Hash([]byte{byte(i), byte(i >> 8)})
}

func TestEmptyExitRoot(t *testing.T) {
	want := types.HexToHash("0x27ae5ba08d7291c96c8cbddcc148bf48a6d68c7974b94356f53754ef6171d757")
	tr := NewLocalExitTree()
	if got := tr.Root(); got != want {
		t.Fatalf("empty root = %s, want %s", got, want)
	}
	if EmptyExitRoot() != want {
		t.Fatal("EmptyExitRoot mismatch")
	}
}

func TestExitTreeMatchesFullTree(t *testing.T) {
	tr := NewLocalExitTree()
	var leaves []types.Hash
	for i := 0; i < 37; i++ {
		leaf := leafN(i)
		idx, err := tr.AddLeaf(leaf)
		if err != nil {
			t.Fatalf("AddLeaf %d: %v", i, err)
		}
		if idx != uint32(i) {
			t.Fatalf("AddLeaf index = %d, want %d", idx, i)
		}
		leaves = append(leaves, leaf)

		root := tr.Root()
		for _, j := range []int{0, i / 2, i} {
			proof, err := ComputeProof(leaves, uint32(j))
			if err != nil {
				t.Fatalf("ComputeProof: %v", err)
			}
			if !proof.Verify(leaves[j], uint32(j), root) {
				t.Fatalf("leaf %d of %d not proven against frontier root", j, len(leaves))
			}
		}
	}
	if tr.LeafCount != 37 {
		t.Fatalf("leaf count = %d, want 37", tr.LeafCount)
	}
}

func TestExitTreeValueSemantics(t *testing.T) {
	a := NewLocalExitTree()
	a.AddLeaf(leafN(1))
	b := a
	b.AddLeaf(leafN(2))
	if a.LeafCount != 1 || a.Root() == b.Root() {
		t.Fatal("copy of exit tree should be independent")
	}
}

func TestExitTreeFull(t *testing.T) {
	tr := LocalExitTree{LeafCount: math.MaxUint32}
	if _, err := tr.AddLeaf(leafN(0)); err != ErrExitTreeFull {
		t.Fatalf("got %v, want ErrExitTreeFull", err)
	}
}

func TestComputeProofOutOfRange(t *testing.T) {
	if _, err := ComputeProof([]types.Hash{leafN(0)}, 1); err != ErrLeafIndexOutOfRange {
		t.Fatalf("got %v, want ErrLeafIndexOutOfRange", err)
	}
}

func TestRootOf(t *testing.T) {
	leaves := []types.Hash{leafN(1), leafN(2), leafN(3)}
	root, err := RootOf(leaves)
	if err != nil {
		t.Fatalf("RootOf: %v", err)
	}
	proof, _ := ComputeProof(leaves, 2)
	if proof.ComputeRoot(leaves[2], 2) != root {
		t.Fatal("RootOf disagrees with ComputeProof")
	}
}
