package settlement

import (
	"errors"
	"fmt"

	"github.com/eth2030/aggsettle/core/types"
)

// ErrorKind classifies settlement failures.
type ErrorKind uint8

const (
	// KindNoReceipt: the transaction never produced a receipt in time.
	KindNoReceipt ErrorKind = iota
	// KindProviderError: the L1 node rejected or failed a request.
	KindProviderError
	// KindContractError: the settlement transaction reverted.
	KindContractError
	// KindTimeout: the transaction was mined but not confirmed in time.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoReceipt:
		return "NoReceipt"
	case KindProviderError:
		return "ProviderError"
	case KindContractError:
		return "ContractError"
	case KindTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Sentinels matching each kind with errors.Is.
var (
	ErrNoReceipt     = &SettlementError{Kind: KindNoReceipt}
	ErrProviderError = &SettlementError{Kind: KindProviderError}
	ErrContractError = &SettlementError{Kind: KindContractError}
	ErrTimeout       = &SettlementError{Kind: KindTimeout}
)

// ErrReceiptNotFound is returned by RollupContract.TransactionReceipt while a
// transaction is still pending.
var ErrReceiptNotFound = errors.New("settlement: receipt not found")

// SettlementError reports why a certificate could not be settled.
type SettlementError struct {
	Kind   ErrorKind
	TxHash *types.Hash
	Reason string // revert reason for ContractError
	Err    error
}

func (e *SettlementError) Error() string {
	msg := "settlement: " + e.Kind.String()
	if e.TxHash != nil {
		msg += " tx " + e.TxHash.Hex()
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Is matches any SettlementError of the same kind.
func (e *SettlementError) Is(target error) bool {
	t, ok := target.(*SettlementError)
	return ok && t.Kind == e.Kind
}

// resubmittable reports whether sending again with a higher gas price may
// succeed.
func (e *SettlementError) resubmittable() bool {
	return e.Kind == KindProviderError || e.Kind == KindNoReceipt
}

// StatusError implements types.StatusErrorer. NoReceipt and Timeout leave
// a transaction that may still be mined, so they block replacement until
// the listener resolves them.
func (e *SettlementError) StatusError() *types.CertificateStatusError {
	return &types.CertificateStatusError{
		Kind:      "SettlementError." + e.Kind.String(),
		Message:   e.Error(),
		Retryable: e.Kind == KindContractError || e.Kind == KindProviderError,
	}
}
