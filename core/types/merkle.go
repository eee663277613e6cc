package types

// ExitTreeDepth is the depth of local exit trees, rollup exit trees and the
// L1 info tree.
const ExitTreeDepth = 32

// MerkleProof is an inclusion path in a depth-32 append-only keccak tree.
// Siblings are ordered from the leaf level upwards.
type MerkleProof struct {
	Siblings [ExitTreeDepth]Hash `json:"siblings"`
}

// ComputeRoot folds leaf with the siblings, using the bits of index to decide
// on which side the running hash sits at each level.
func (p *MerkleProof) ComputeRoot(leaf Hash, index uint32) Hash {
	node := leaf
	for height := 0; height < ExitTreeDepth; height++ {
		if (index>>uint(height))&1 == 1 {
			node = keccak256(p.Siblings[height][:], node[:])
		} else {
			node = keccak256(node[:], p.Siblings[height][:])
		}
	}
	return node
}

// Verify reports whether leaf sits at index under root.
func (p *MerkleProof) Verify(leaf Hash, index uint32, root Hash) bool {
	return p.ComputeRoot(leaf, index) == root
}
