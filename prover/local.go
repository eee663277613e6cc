package prover

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
	"github.com/eth2030/aggsettle/transition"
)

// attestation is the RLP layout of a proof produced by Local.
type attestation struct {
	Output       transition.PessimisticProofOutput
	Signature    []byte
	BLSSignature []byte
}

// Local proves certificates by executing the transition natively and
// attesting to the output hash with an ECDSA key, optionally co-signed with
// a BLS key. It stands in for a zero-knowledge backend in development and
// tests.
type Local struct {
	verifier *aggchain.Verifier
	signer   *crypto.Signer
	attester types.Address

	bls       *crypto.BLSSigner
	blsPubkey []byte
}

// NewLocal returns a local prover executing with verifier and attesting
// with signer.
func NewLocal(verifier *aggchain.Verifier, signer *crypto.Signer) *Local {
	return &Local{verifier: verifier, signer: signer, attester: signer.Address()}
}

// WithBLS adds a BLS co-signature to every proof. Verification then
// requires both signatures.
func (l *Local) WithBLS(s *crypto.BLSSigner) *Local {
	l.bls = s
	l.blsPubkey = s.PublicKey()
	return l
}

// Attester returns the address proofs are signed by.
func (l *Local) Attester() types.Address { return l.attester }

// Prove implements Prover.
func (l *Local) Prove(ctx context.Context, w *transition.Witness) (types.Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := transition.Execute(w.InitialState(), w, l.verifier)
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}
	digest := out.Hash()
	sig, err := l.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("prover: attest: %w", err)
	}
	att := attestation{Output: *out, Signature: sig}
	if l.bls != nil {
		if att.BLSSignature, err = l.bls.Sign(digest[:]); err != nil {
			return nil, fmt.Errorf("prover: bls attest: %w", err)
		}
	}
	enc, err := rlp.EncodeToBytes(&att)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofEncoding, err)
	}
	return enc, nil
}

// Verify implements Prover.
func (l *Local) Verify(ctx context.Context, proof types.Proof, out *transition.PessimisticProofOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	att, err := decodeAttestation(proof)
	if err != nil {
		return err
	}
	if att.Output != *out {
		return ErrOutputMismatch
	}
	digest := out.Hash()
	if !crypto.VerifySignature(l.attester, digest, att.Signature) {
		return ErrInvalidAttestation
	}
	if l.blsPubkey != nil && !crypto.BLSVerify(l.blsPubkey, digest[:], att.BLSSignature) {
		return ErrInvalidAttestation
	}
	return nil
}

// DecodeOutput extracts the output a Local proof attests to without
// checking its signatures.
func DecodeOutput(proof types.Proof) (*transition.PessimisticProofOutput, error) {
	att, err := decodeAttestation(proof)
	if err != nil {
		return nil, err
	}
	return &att.Output, nil
}

func decodeAttestation(proof types.Proof) (*attestation, error) {
	var att attestation
	if err := rlp.DecodeBytes(proof, &att); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofDecoding, err)
	}
	return &att, nil
}
