// Package testutil builds signed certificates and claim fixtures for tests.
package testutil

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
	"github.com/eth2030/aggsettle/transition"
	"github.com/eth2030/aggsettle/tree"
)

// ForeignToken is minted on mainnet and therefore tracked in the balance
// tree of every rollup.
var ForeignToken = types.TokenInfo{OriginNetwork: types.MainnetNetworkID, OriginTokenAddress: types.HexToAddress("0xe7c0")}

// Exit builds a transfer of amount of token to dest.
func Exit(token types.TokenInfo, dest types.NetworkID, amount uint64) types.BridgeExit {
	return types.BridgeExit{
		LeafType:           types.LeafTypeTransfer,
		TokenInfo:          token,
		DestinationNetwork: dest,
		DestinationAddress: types.HexToAddress("0xde57"),
		Amount:             uint256.NewInt(amount),
	}
}

// MainnetImports claims exits from a mainnet exit tree holding exactly
// exits, under an L1 info tree with a single leaf. It returns the imported
// exits and the L1 info root they verify against.
func MainnetImports(t testing.TB, exits []types.BridgeExit) ([]types.ImportedBridgeExit, types.Hash) {
	t.Helper()
	leaves := make([]types.Hash, len(exits))
	for i := range exits {
		leaves[i] = exits[i].Hash()
	}
	ler, err := tree.RootOf(leaves)
	if err != nil {
		t.Fatalf("mainnet exit root: %v", err)
	}
	l1Leaf := types.L1InfoTreeLeaf{
		L1InfoTreeIndex: 0,
		RollupExitRoot:  types.HexToHash("0x7e7e"),
		MainnetExitRoot: ler,
	}
	l1Leaf.Inner = types.L1InfoTreeLeafInner{
		GlobalExitRoot: l1Leaf.GlobalExitRoot(),
		BlockHash:      types.HexToHash("0xb10c"),
		Timestamp:      1700000000,
	}
	infoLeaves := []types.Hash{l1Leaf.Inner.Hash()}
	infoRoot, _ := tree.RootOf(infoLeaves)
	infoProof, _ := tree.ComputeProof(infoLeaves, 0)

	out := make([]types.ImportedBridgeExit, len(exits))
	for i := range exits {
		proof, err := tree.ComputeProof(leaves, uint32(i))
		if err != nil {
			t.Fatalf("exit proof: %v", err)
		}
		out[i] = types.ImportedBridgeExit{
			BridgeExit:  exits[i],
			GlobalIndex: types.GlobalIndex{MainnetFlag: true, LeafIndex: uint32(i)},
			ClaimData: types.Claim{
				LocalExitRoot:    ler,
				ProofLeafLER:     proof,
				ProofGERToL1Root: infoProof,
				L1Leaf:           l1Leaf,
			},
		}
	}
	return out, infoRoot
}

// Network mirrors the settled state of a network so that consecutive
// certificates can be built against it.
type Network struct {
	ID        types.NetworkID
	Sequencer *crypto.Signer
	State     *transition.LocalNetworkState
	Height    types.Height
}

// NewNetwork creates a network that has never settled.
func NewNetwork(t testing.TB, id types.NetworkID) *Network {
	t.Helper()
	seq, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("sequencer key: %v", err)
	}
	return &Network{ID: id, Sequencer: seq, State: transition.NewLocalNetworkState()}
}

// Context returns the aggchain context registered for the network.
func (n *Network) Context() *aggchain.Context {
	return &aggchain.Context{TrustedSequencer: n.Sequencer.Address()}
}

// Certificate builds the next certificate of the network, signed by its
// sequencer over the V3 commitment.
func (n *Network) Certificate(t testing.TB, exits []types.BridgeExit, imports []types.ImportedBridgeExit) *types.Certificate {
	t.Helper()
	exitTree := n.State.ExitTree
	for i := range exits {
		if _, err := exitTree.AddLeaf(exits[i].Hash()); err != nil {
			t.Fatalf("exit tree: %v", err)
		}
	}
	cert := &types.Certificate{
		NetworkID:           n.ID,
		Height:              n.Height,
		PrevLocalExitRoot:   n.State.ExitTree.Root(),
		NewLocalExitRoot:    exitTree.Root(),
		BridgeExits:         exits,
		ImportedBridgeExits: imports,
	}
	if len(imports) > 0 {
		cert.L1InfoTreeLeafCount = 1
	}
	Sign(t, n.Sequencer, cert, aggchain.VersionV3)
	return cert
}

// Sign attaches a LegacyEcdsa signature over the commitment of version v.
func Sign(t testing.TB, s *crypto.Signer, cert *types.Certificate, v aggchain.Version) {
	t.Helper()
	in := aggchain.NewCommitmentInput(cert)
	sig, err := s.Sign(in.Commitment(v, types.Hash{}))
	if err != nil {
		t.Fatalf("sign certificate: %v", err)
	}
	cert.AggchainData = &types.LegacyEcdsa{Signature: sig}
}

// Advance applies cert to the mirrored state as if it settled.
func (n *Network) Advance(t testing.TB, cert *types.Certificate, l1InfoRoot types.Hash) {
	t.Helper()
	_, next, err := transition.BuildWitness(n.State, cert, l1InfoRoot, n.Context())
	if err != nil {
		t.Fatalf("advance network %d: %v", n.ID, err)
	}
	next.RootVersion = aggchain.VersionV3
	n.State = next
	n.Height = cert.Height.Next()
}
