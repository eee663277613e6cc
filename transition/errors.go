package transition

import (
	"fmt"

	"github.com/eth2030/aggsettle/core/types"
)

// ErrorKind classifies a ProofError.
type ErrorKind uint8

const (
	KindBalanceOverflow ErrorKind = iota + 1
	KindBalanceUnderflow
	KindInvalidInitialLocalExitRoot
	KindInvalidInitialBalanceRoot
	KindInvalidInitialNullifierRoot
	KindInvalidFinalLocalExitRoot
	KindInvalidFinalBalanceRoot
	KindInvalidFinalNullifierRoot
	KindExitToSameNetwork
	KindInvalidImportedBridgeExitNetwork
	KindInvalidImportedBridgeExitMerklePath
	KindInvalidNullifierPath
	KindInvalidBalancePath
	KindMissingTokenBalanceProof
	KindDuplicateTokenBalanceProof
	KindInvalidMultisig
	KindInvalidSignature
	KindInconsistentSignedPayload
	KindInvalidAggchainProof
	KindUnknownAggchainData
	KindExitTreeFull
)

var kindNames = map[ErrorKind]string{
	KindBalanceOverflow:                     "BalanceOverflow",
	KindBalanceUnderflow:                    "BalanceUnderflow",
	KindInvalidInitialLocalExitRoot:         "InvalidInitialLocalExitRoot",
	KindInvalidInitialBalanceRoot:           "InvalidInitialBalanceRoot",
	KindInvalidInitialNullifierRoot:         "InvalidInitialNullifierRoot",
	KindInvalidFinalLocalExitRoot:           "InvalidFinalLocalExitRoot",
	KindInvalidFinalBalanceRoot:             "InvalidFinalBalanceRoot",
	KindInvalidFinalNullifierRoot:           "InvalidFinalNullifierRoot",
	KindExitToSameNetwork:                   "ExitToSameNetwork",
	KindInvalidImportedBridgeExitNetwork:    "InvalidImportedBridgeExitNetwork",
	KindInvalidImportedBridgeExitMerklePath: "InvalidImportedBridgeExitMerklePath",
	KindInvalidNullifierPath:                "InvalidNullifierPath",
	KindInvalidBalancePath:                  "InvalidBalancePath",
	KindMissingTokenBalanceProof:            "MissingTokenBalanceProof",
	KindDuplicateTokenBalanceProof:          "DuplicateTokenBalanceProof",
	KindInvalidMultisig:                     "InvalidMultisig",
	KindInvalidSignature:                    "InvalidSignature",
	KindInconsistentSignedPayload:           "InconsistentSignedPayload",
	KindInvalidAggchainProof:                "InvalidAggchainProof",
	KindUnknownAggchainData:                 "UnknownAggchainData",
	KindExitTreeFull:                        "ExitTreeFull",
}

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// ProofError is a violation of the state transition rules. Two ProofErrors
// match under errors.Is when their kinds are equal, so the sentinels below
// can be compared against errors carrying detail.
type ProofError struct {
	Kind ErrorKind
	// Token is set for balance related kinds.
	Token *types.TokenInfo
	// Index is the position of the offending exit, or -1.
	Index int
	Err   error
}

// Sentinel proof errors, matched by kind.
var (
	ErrBalanceOverflow                     = sentinel(KindBalanceOverflow)
	ErrBalanceUnderflow                    = sentinel(KindBalanceUnderflow)
	ErrInvalidInitialLocalExitRoot         = sentinel(KindInvalidInitialLocalExitRoot)
	ErrInvalidInitialBalanceRoot           = sentinel(KindInvalidInitialBalanceRoot)
	ErrInvalidInitialNullifierRoot         = sentinel(KindInvalidInitialNullifierRoot)
	ErrInvalidFinalLocalExitRoot           = sentinel(KindInvalidFinalLocalExitRoot)
	ErrInvalidFinalBalanceRoot             = sentinel(KindInvalidFinalBalanceRoot)
	ErrInvalidFinalNullifierRoot           = sentinel(KindInvalidFinalNullifierRoot)
	ErrExitToSameNetwork                   = sentinel(KindExitToSameNetwork)
	ErrInvalidImportedBridgeExitNetwork    = sentinel(KindInvalidImportedBridgeExitNetwork)
	ErrInvalidImportedBridgeExitMerklePath = sentinel(KindInvalidImportedBridgeExitMerklePath)
	ErrInvalidNullifierPath                = sentinel(KindInvalidNullifierPath)
	ErrInvalidBalancePath                  = sentinel(KindInvalidBalancePath)
	ErrMissingTokenBalanceProof            = sentinel(KindMissingTokenBalanceProof)
	ErrDuplicateTokenBalanceProof          = sentinel(KindDuplicateTokenBalanceProof)
	ErrInvalidMultisig                     = sentinel(KindInvalidMultisig)
	ErrInvalidSignature                    = sentinel(KindInvalidSignature)
	ErrInconsistentSignedPayload           = sentinel(KindInconsistentSignedPayload)
	ErrInvalidAggchainProof                = sentinel(KindInvalidAggchainProof)
	ErrUnknownAggchainData                 = sentinel(KindUnknownAggchainData)
	ErrExitTreeFull                        = sentinel(KindExitTreeFull)
)

func sentinel(kind ErrorKind) *ProofError {
	return &ProofError{Kind: kind, Index: -1}
}

func proofErr(kind ErrorKind, index int, err error) *ProofError {
	return &ProofError{Kind: kind, Index: index, Err: err}
}

func balanceErr(kind ErrorKind, token types.TokenInfo, err error) *ProofError {
	return &ProofError{Kind: kind, Token: &token, Index: -1, Err: err}
}

// Error implements error.
func (e *ProofError) Error() string {
	msg := "transition: " + e.Kind.String()
	switch {
	case e.Kind == KindBalanceUnderflow && e.Token != nil:
		msg = fmt.Sprintf("transition: token %s has debt", e.Token)
	case e.Token != nil:
		msg += fmt.Sprintf(" (token %s)", e.Token)
	case e.Index >= 0:
		msg += fmt.Sprintf(" (index %d)", e.Index)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ProofError) Unwrap() error { return e.Err }

// Is matches any ProofError of the same kind.
func (e *ProofError) Is(target error) bool {
	t, ok := target.(*ProofError)
	return ok && t.Kind == e.Kind
}

// StatusError implements types.StatusErrorer.
func (e *ProofError) StatusError() *types.CertificateStatusError {
	return &types.CertificateStatusError{
		Kind:      "ProofError." + e.Kind.String(),
		Message:   e.Error(),
		Retryable: true,
	}
}
