package tree

import (
	"encoding/binary"
	"errors"

	"github.com/eth2030/aggsettle/core/types"
)

// NullifierTreeDepth covers a 32-bit sending network followed by a 32-bit
// exit leaf index.
const NullifierTreeDepth = 64

// Nullifier errors.
var (
	ErrNullifierAlreadySet  = errors.New("tree: nullifier already set")
	ErrInvalidNullifierPath = errors.New("tree: invalid nullifier path")
)

// nullifierSet is the leaf value of a claimed exit.
var nullifierSet = types.BytesToHash([]byte{1})

// NullifierKeyBytes encodes key as network ‖ leafIndex.
func NullifierKeyBytes(key types.NullifierKey) []byte {
	b := make([]byte, NullifierTreeDepth/8)
	binary.BigEndian.PutUint32(b[:4], uint32(key.NetworkID))
	binary.BigEndian.PutUint32(b[4:], key.LetIndex)
	return b
}

// NullifierTree records which imported exits a network has claimed.
type NullifierTree struct {
	smt *SparseMerkleTree
}

// NewNullifierTree returns an empty nullifier tree.
func NewNullifierTree() *NullifierTree {
	return &NullifierTree{smt: NewSparseMerkleTree(NullifierTreeDepth)}
}

// LoadNullifierTree rebuilds a nullifier tree from persisted nodes.
func LoadNullifierTree(root types.Hash, nodes []NodeEntry) (*NullifierTree, error) {
	smt, err := ImportSparseMerkleTree(NullifierTreeDepth, root, nodes)
	if err != nil {
		return nil, err
	}
	return &NullifierTree{smt: smt}, nil
}

// EmptyNullifierRoot returns the root of a nullifier tree with no entries.
func EmptyNullifierRoot() types.Hash {
	return emptyHashes(NullifierTreeDepth)[NullifierTreeDepth]
}

// Root returns the current root.
func (t *NullifierTree) Root() types.Hash { return t.smt.Root() }

// IsSpent reports whether key has been claimed.
func (t *NullifierTree) IsSpent(key types.NullifierKey) (bool, error) {
	_, set, err := t.smt.Get(NullifierKeyBytes(key))
	return set, err
}

// Mark records key as claimed.
func (t *NullifierTree) Mark(key types.NullifierKey) error {
	err := t.smt.Insert(NullifierKeyBytes(key), nullifierSet)
	if errors.Is(err, ErrKeyPresent) {
		return ErrNullifierAlreadySet
	}
	return err
}

// NonInclusionProof returns the path showing key is unclaimed.
func (t *NullifierTree) NonInclusionProof(key types.NullifierKey) (SmtProof, error) {
	proof, err := t.smt.NonInclusionProof(NullifierKeyBytes(key))
	if errors.Is(err, ErrKeyPresent) {
		return SmtProof{}, ErrNullifierAlreadySet
	}
	return proof, err
}

// Nodes exports the tree for persistence.
func (t *NullifierTree) Nodes() ([]NodeEntry, error) { return t.smt.Export() }

// Clone returns an independent copy.
func (t *NullifierTree) Clone() *NullifierTree {
	return &NullifierTree{smt: t.smt.Clone()}
}

// VerifyAndMarkNullifier checks that proof shows key unclaimed under root
// and returns the root with key claimed. A proof that opens key as already
// claimed fails with ErrNullifierAlreadySet.
func VerifyAndMarkNullifier(proof *SmtProof, key types.NullifierKey, root types.Hash) (types.Hash, error) {
	if len(proof.Siblings) != NullifierTreeDepth {
		return types.Hash{}, ErrInvalidNullifierPath
	}
	k := NullifierKeyBytes(key)
	next, ok := proof.VerifyAndUpdate(k, types.Hash{}, nullifierSet, root)
	if ok {
		return next, nil
	}
	if proof.Verify(k, nullifierSet, root) {
		return types.Hash{}, ErrNullifierAlreadySet
	}
	return types.Hash{}, ErrInvalidNullifierPath
}
