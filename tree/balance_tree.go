package tree

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"github.com/eth2030/aggsettle/core/types"
)

// BalanceTreeDepth covers a 32-bit origin network followed by a 160-bit
// token address.
const BalanceTreeDepth = 32 + 8*types.AddressLength

// ErrInvalidBalancePath is returned when a balance proof does not open the
// claimed old balance under the current root.
var ErrInvalidBalancePath = errors.New("tree: invalid balance path")

// BalanceKey encodes token as originNetwork ‖ originTokenAddress.
func BalanceKey(token types.TokenInfo) []byte {
	key := make([]byte, BalanceTreeDepth/8)
	binary.BigEndian.PutUint32(key[:4], uint32(token.OriginNetwork))
	copy(key[4:], token.OriginTokenAddress[:])
	return key
}

// BalanceLeaf encodes an amount as a 32-byte big-endian leaf. A zero balance
// is indistinguishable from an unset leaf.
func BalanceLeaf(amount *uint256.Int) types.Hash {
	if amount == nil {
		return types.Hash{}
	}
	return types.Hash(amount.Bytes32())
}

// LocalBalanceTree tracks the balance a network holds of each token not
// native to it.
type LocalBalanceTree struct {
	smt *SparseMerkleTree
}

// NewLocalBalanceTree returns an empty balance tree.
func NewLocalBalanceTree() *LocalBalanceTree {
	return &LocalBalanceTree{smt: NewSparseMerkleTree(BalanceTreeDepth)}
}

// LoadLocalBalanceTree rebuilds a balance tree from persisted nodes.
func LoadLocalBalanceTree(root types.Hash, nodes []NodeEntry) (*LocalBalanceTree, error) {
	smt, err := ImportSparseMerkleTree(BalanceTreeDepth, root, nodes)
	if err != nil {
		return nil, err
	}
	return &LocalBalanceTree{smt: smt}, nil
}

// EmptyBalanceRoot returns the root of a balance tree with no entries.
func EmptyBalanceRoot() types.Hash { return emptyHashes(BalanceTreeDepth)[BalanceTreeDepth] }

// Root returns the current root.
func (t *LocalBalanceTree) Root() types.Hash { return t.smt.Root() }

// Balance returns the balance of token, zero when untracked.
func (t *LocalBalanceTree) Balance(token types.TokenInfo) (*uint256.Int, error) {
	value, _, err := t.smt.Get(BalanceKey(token))
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes32(value[:]), nil
}

// SetBalance overwrites the balance of token.
func (t *LocalBalanceTree) SetBalance(token types.TokenInfo, amount *uint256.Int) error {
	return t.smt.Update(BalanceKey(token), BalanceLeaf(amount))
}

// Proof returns the path opening the current balance of token.
func (t *LocalBalanceTree) Proof(token types.TokenInfo) (SmtProof, error) {
	return t.smt.Proof(BalanceKey(token))
}

// Nodes exports the tree for persistence.
func (t *LocalBalanceTree) Nodes() ([]NodeEntry, error) { return t.smt.Export() }

// Clone returns an independent copy.
func (t *LocalBalanceTree) Clone() *LocalBalanceTree {
	return &LocalBalanceTree{smt: t.smt.Clone()}
}

// VerifyAndUpdateBalance checks that proof opens oldAmount for token under
// root and returns the root with the balance replaced by newAmount.
func VerifyAndUpdateBalance(proof *SmtProof, token types.TokenInfo, oldAmount, newAmount *uint256.Int, root types.Hash) (types.Hash, error) {
	if len(proof.Siblings) != BalanceTreeDepth {
		return types.Hash{}, ErrInvalidBalancePath
	}
	next, ok := proof.VerifyAndUpdate(BalanceKey(token), BalanceLeaf(oldAmount), BalanceLeaf(newAmount), root)
	if !ok {
		return types.Hash{}, ErrInvalidBalancePath
	}
	return next, nil
}
