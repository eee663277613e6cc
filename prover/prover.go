// Package prover produces and checks the pessimistic proofs attesting to
// certificate state transitions. Backends sit behind the Prover interface;
// the Dispatcher moves proof generation onto a dedicated worker pool.
package prover

import (
	"context"
	"errors"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/transition"
)

// Prover generates and verifies pessimistic proofs. Verify must be pure:
// checking the same proof against the same output always yields the same
// decision.
type Prover interface {
	Prove(ctx context.Context, w *transition.Witness) (types.Proof, error)
	Verify(ctx context.Context, proof types.Proof, out *transition.PessimisticProofOutput) error
}

// Prover errors.
var (
	ErrProofEncoding      = errors.New("prover: proof encoding failed")
	ErrProofDecoding      = errors.New("prover: proof decoding failed")
	ErrOutputMismatch     = errors.New("prover: proof attests to a different output")
	ErrInvalidAttestation = errors.New("prover: invalid attestation signature")
	ErrDispatcherClosed   = errors.New("prover: dispatcher is closed")
)

// ExecutionError wraps a failure of the native execution a backend runs
// before producing a proof.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return "prover: execution failed: " + e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }
