// Package transition applies certificates to a network's accumulators. It
// builds the witness of a certificate from the full local state, replays it
// against the root-only view and produces the output a pessimistic proof
// attests to.
package transition

import (
	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/tree"
)

// LocalNetworkState is the full state of one network's accumulators. It is
// owned by that network's task and replaced wholesale when a certificate
// settles.
type LocalNetworkState struct {
	ExitTree      tree.LocalExitTree
	BalanceTree   *tree.LocalBalanceTree
	NullifierTree *tree.NullifierTree
	// RootVersion is the encoding of the last settled pessimistic root.
	RootVersion aggchain.Version
}

// NewLocalNetworkState returns the state of a network that never settled.
func NewLocalNetworkState() *LocalNetworkState {
	return &LocalNetworkState{
		ExitTree:      tree.NewLocalExitTree(),
		BalanceTree:   tree.NewLocalBalanceTree(),
		NullifierTree: tree.NewNullifierTree(),
	}
}

// Clone returns an independent copy.
func (s *LocalNetworkState) Clone() *LocalNetworkState {
	return &LocalNetworkState{
		ExitTree:      s.ExitTree,
		BalanceTree:   s.BalanceTree.Clone(),
		NullifierTree: s.NullifierTree.Clone(),
		RootVersion:   s.RootVersion,
	}
}

// Roots returns the root-only view of the state.
func (s *LocalNetworkState) Roots() NetworkState {
	return NetworkState{
		ExitTree:      s.ExitTree,
		BalanceRoot:   s.BalanceTree.Root(),
		NullifierRoot: s.NullifierTree.Root(),
	}
}

// PessimisticRoot returns the root last committed on L1 for this state, or
// the zero hash for a network that never settled.
func (s *LocalNetworkState) PessimisticRoot(network types.NetworkID) types.Hash {
	if s.RootVersion == aggchain.VersionNone {
		return types.Hash{}
	}
	return aggchain.PessimisticRoot(s.RootVersion, s.BalanceTree.Root(), s.NullifierTree.Root(), s.ExitTree.LeafCount, network)
}

// NetworkState is the view of a network the transition rules execute on:
// the exit tree frontier and the roots of the two sparse trees.
type NetworkState struct {
	ExitTree      tree.LocalExitTree
	BalanceRoot   types.Hash
	NullifierRoot types.Hash
}

// StateCommitment is the set of roots after a certificate is applied.
type StateCommitment struct {
	ExitRoot      types.Hash
	LeafCount     uint32
	BalanceRoot   types.Hash
	NullifierRoot types.Hash
}
