// Package tree implements the per-network accumulators: the append-only
// local exit tree and the keccak sparse Merkle trees backing token balances
// and claimed-exit nullifiers.
package tree

import (
	"errors"
	"math"
	"math/bits"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
)

// ExitTreeDepth is the depth of local exit trees.
const ExitTreeDepth = types.ExitTreeDepth

// Exit tree errors.
var (
	ErrExitTreeFull        = errors.New("tree: local exit tree is full")
	ErrLeafIndexOutOfRange = errors.New("tree: leaf index out of range")
)

// zeroHashes[h] is the root of an empty subtree of height h.
var zeroHashes [ExitTreeDepth + 1]types.Hash

func init() {
	for h := 1; h <= ExitTreeDepth; h++ {
		zeroHashes[h] = merge(zeroHashes[h-1], zeroHashes[h-1])
	}
}

func merge(left, right types.Hash) types.Hash {
	return crypto.HashPair(left, right)
}

// EmptyExitRoot returns the root of a local exit tree with no leaves.
func EmptyExitRoot() types.Hash { return zeroHashes[ExitTreeDepth] }

// LocalExitTree is an append-only Merkle tree that keeps only its frontier:
// for every height, the root of the left-most complete subtree not yet
// folded into a higher level. It is a value type; assigning it copies it.
type LocalExitTree struct {
	LeafCount uint32
	Frontier  [ExitTreeDepth]types.Hash
}

// NewLocalExitTree returns an empty tree.
func NewLocalExitTree() LocalExitTree { return LocalExitTree{} }

// AddLeaf appends leaf and returns its index.
func (t *LocalExitTree) AddLeaf(leaf types.Hash) (uint32, error) {
	if t.LeafCount == math.MaxUint32 {
		return 0, ErrExitTreeFull
	}
	slot := bits.TrailingZeros32(t.LeafCount + 1)
	entry := leaf
	for h := 0; h < slot; h++ {
		entry = merge(t.Frontier[h], entry)
	}
	t.Frontier[slot] = entry
	index := t.LeafCount
	t.LeafCount++
	return index, nil
}

// Root folds the frontier into the tree root.
func (t *LocalExitTree) Root() types.Hash {
	var root types.Hash
	for h := 0; h < ExitTreeDepth; h++ {
		if (t.LeafCount>>uint(h))&1 == 1 {
			root = merge(t.Frontier[h], root)
		} else {
			root = merge(root, zeroHashes[h])
		}
	}
	return root
}

// ComputeProof builds the inclusion path of leaves[index] in the depth-32
// tree holding exactly leaves. It is meant for fixtures and tooling that keep
// the full leaf list; the aggregator itself only keeps frontiers.
func ComputeProof(leaves []types.Hash, index uint32) (types.MerkleProof, error) {
	var proof types.MerkleProof
	if uint64(index) >= uint64(len(leaves)) {
		return proof, ErrLeafIndexOutOfRange
	}
	level := append([]types.Hash(nil), leaves...)
	idx := index
	for h := 0; h < ExitTreeDepth; h++ {
		if sib := idx ^ 1; uint64(sib) < uint64(len(level)) {
			proof.Siblings[h] = level[sib]
		} else {
			proof.Siblings[h] = zeroHashes[h]
		}
		next := make([]types.Hash, (len(level)+1)/2)
		for i := range next {
			right := zeroHashes[h]
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			next[i] = merge(level[2*i], right)
		}
		level = next
		idx >>= 1
	}
	return proof, nil
}

// RootOf returns the root of the depth-32 tree holding exactly leaves.
func RootOf(leaves []types.Hash) (types.Hash, error) {
	t := NewLocalExitTree()
	for _, leaf := range leaves {
		if _, err := t.AddLeaf(leaf); err != nil {
			return types.Hash{}, err
		}
	}
	return t.Root(), nil
}
