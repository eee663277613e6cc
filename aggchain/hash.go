package aggchain

import (
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
)

const (
	aggchainTypeECDSA   uint32 = 0
	aggchainTypeGeneric uint32 = 1
)

// Context is the L1-registered configuration a network's aggchain data is
// checked against.
type Context struct {
	// TrustedSequencer signs LegacyEcdsa certificates.
	TrustedSequencer types.Address
	// Signers and Threshold define the multisig, in L1 registration order.
	Signers   []types.Address
	Threshold uint32
	// VKey identifies the verifier of the network's aggchain proofs.
	VKey types.Hash
}

// MultisigHash returns keccak(threshold ‖ signers...).
func (c *Context) MultisigHash() types.Hash {
	parts := make([][]byte, 0, len(c.Signers)+1)
	parts = append(parts, u32(c.Threshold))
	for i := range c.Signers {
		parts = append(parts, c.Signers[i][:])
	}
	return crypto.Keccak256Hash(parts...)
}

// AggchainHash returns the per-variant hash folded into the proof output.
func AggchainHash(data types.AggchainData, ctx *Context) (types.Hash, error) {
	switch d := data.(type) {
	case *types.LegacyEcdsa:
		return crypto.Keccak256Hash(u32(aggchainTypeECDSA), ctx.TrustedSequencer[:]), nil
	case *types.MultisigOnly:
		mh := ctx.MultisigHash()
		return crypto.Keccak256Hash(u32(aggchainTypeGeneric), mh[:]), nil
	case *types.AggchainProofOnly:
		return crypto.Keccak256Hash(u32(aggchainTypeGeneric), ctx.VKey[:], d.Proof.AggchainParams[:]), nil
	case *types.MultisigAndAggchainProof:
		mh := ctx.MultisigHash()
		return crypto.Keccak256Hash(u32(aggchainTypeGeneric), ctx.VKey[:], d.Proof.AggchainParams[:], mh[:]), nil
	default:
		return types.Hash{}, ErrUnknownAggchainData
	}
}
