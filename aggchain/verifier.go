package aggchain

import (
	"fmt"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
)

// ProofVerifier checks an aggchain proof produced for vkey against the
// digest of its public values.
type ProofVerifier interface {
	VerifyAggchainProof(vkey types.Hash, proof *types.AggchainProof, publicValues types.Hash) error
}

// Result is the outcome of a successful verification.
type Result struct {
	AggchainHash types.Hash
	// TargetVersion is the root version the certificate settles under.
	TargetVersion Version
}

// Verifier dispatches over the aggchain data variants.
type Verifier struct {
	proofs ProofVerifier
}

// NewVerifier creates a verifier. proofs may be nil when no network uses
// aggchain proofs; such certificates are then rejected.
func NewVerifier(proofs ProofVerifier) *Verifier {
	return &Verifier{proofs: proofs}
}

// Verify checks data for the certificate summarized by in, given the
// network's registered context and the root version of its last settled
// state.
func (v *Verifier) Verify(data types.AggchainData, ctx *Context, in *CommitmentInput, prev Version) (*Result, error) {
	var (
		target Version
		err    error
	)
	switch d := data.(type) {
	case *types.LegacyEcdsa:
		target, err = v.verifyLegacy(d, ctx, in, prev)
	case *types.MultisigOnly:
		target = VersionV3
		err = VerifyMultisig(&d.Multisig, ctx.Signers, ctx.Threshold, in.Commitment(VersionV3, types.Hash{}))
	case *types.AggchainProofOnly:
		target = VersionV3
		err = v.verifyProof(&d.Proof, ctx, in)
	case *types.MultisigAndAggchainProof:
		target = VersionV3
		if err = VerifyMultisig(&d.Multisig, ctx.Signers, ctx.Threshold, in.Commitment(VersionV3, d.Proof.AggchainParams)); err == nil {
			err = v.verifyProof(&d.Proof, ctx, in)
		}
	default:
		return nil, ErrUnknownAggchainData
	}
	if err != nil {
		return nil, err
	}
	if !IsConsistent(prev, target) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInconsistentSignedPayload, prev, target)
	}
	hash, err := AggchainHash(data, ctx)
	if err != nil {
		return nil, err
	}
	return &Result{AggchainHash: hash, TargetVersion: target}, nil
}

// verifyLegacy accepts a trusted sequencer signature over the V3 commitment,
// or over the V2 commitment for networks that have not migrated yet.
func (v *Verifier) verifyLegacy(d *types.LegacyEcdsa, ctx *Context, in *CommitmentInput, prev Version) (Version, error) {
	for _, version := range []Version{VersionV3, VersionV2} {
		addr, err := crypto.RecoverAddress(in.Commitment(version, types.Hash{}), d.Signature)
		if err != nil {
			return VersionNone, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if addr != ctx.TrustedSequencer {
			continue
		}
		if !IsConsistent(prev, version) {
			return VersionNone, fmt.Errorf("%w: %s to %s", ErrInconsistentSignedPayload, prev, version)
		}
		return version, nil
	}
	return VersionNone, fmt.Errorf("%w: signer is not the trusted sequencer %s", ErrInvalidSignature, ctx.TrustedSequencer)
}

func (v *Verifier) verifyProof(p *types.AggchainProof, ctx *Context, in *CommitmentInput) error {
	if v.proofs == nil {
		return fmt.Errorf("%w: no proof verifier configured", ErrInvalidAggchainProof)
	}
	return v.proofs.VerifyAggchainProof(ctx.VKey, p, in.ProofPublicValues(p.AggchainParams))
}
