package certifier

import (
	"errors"
	"fmt"

	"github.com/eth2030/aggsettle/core/types"
)

// ErrorKind classifies certification failures.
type ErrorKind uint8

const (
	KindTrustedSequencerNotFound ErrorKind = iota
	KindL1InfoRootNotFound
	KindProofVerificationFailed
	KindProverExecutionFailed
	KindNativeExecutionFailed
	KindSerialize
	KindDeserialize
	KindStorage
	KindInternalError
)

var kindNames = map[ErrorKind]string{
	KindTrustedSequencerNotFound: "TrustedSequencerNotFound",
	KindL1InfoRootNotFound:       "L1InfoRootNotFound",
	KindProofVerificationFailed:  "ProofVerificationFailed",
	KindProverExecutionFailed:    "ProverExecutionFailed",
	KindNativeExecutionFailed:    "NativeExecutionFailed",
	KindSerialize:                "Serialize",
	KindDeserialize:              "Deserialize",
	KindStorage:                  "Storage",
	KindInternalError:            "InternalError",
}

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// CertificationError is returned by Certify. Compare against the Err*
// sentinels with errors.Is to test the kind.
type CertificationError struct {
	Kind    ErrorKind
	Network types.NetworkID
	Height  types.Height
	Err     error
}

// Certification error sentinels, one per kind.
var (
	ErrTrustedSequencerNotFound = &CertificationError{Kind: KindTrustedSequencerNotFound}
	ErrL1InfoRootNotFound       = &CertificationError{Kind: KindL1InfoRootNotFound}
	ErrProofVerificationFailed  = &CertificationError{Kind: KindProofVerificationFailed}
	ErrProverExecutionFailed    = &CertificationError{Kind: KindProverExecutionFailed}
	ErrNativeExecutionFailed    = &CertificationError{Kind: KindNativeExecutionFailed}
	ErrSerialize                = &CertificationError{Kind: KindSerialize}
	ErrDeserialize              = &CertificationError{Kind: KindDeserialize}
	ErrStorage                  = &CertificationError{Kind: KindStorage}
	ErrInternal                 = &CertificationError{Kind: KindInternalError}
)

func (e *CertificationError) Error() string {
	if e.Err == nil {
		return "certifier: " + e.Kind.String()
	}
	return fmt.Sprintf("certifier: %s for network %d at height %d: %v", e.Kind, e.Network, e.Height, e.Err)
}

func (e *CertificationError) Unwrap() error { return e.Err }

// Is matches any CertificationError of the same kind.
func (e *CertificationError) Is(target error) bool {
	t, ok := target.(*CertificationError)
	return ok && t.Kind == e.Kind
}

// StatusError implements types.StatusErrorer. A certification failure
// leaves the network state untouched, so the network may replace the
// certificate unless the failure was on this side.
func (e *CertificationError) StatusError() *types.CertificateStatusError {
	kind := "CertificationError." + e.Kind.String()
	// Surface the engine's own taxonomy when execution was rejected.
	var se types.StatusErrorer
	if e.Kind == KindNativeExecutionFailed && errors.As(e.Err, &se) {
		kind = kind + "." + se.StatusError().Kind
	}
	return &types.CertificateStatusError{
		Kind:      kind,
		Message:   e.Error(),
		Retryable: e.Kind != KindStorage && e.Kind != KindInternalError,
	}
}

// PreCertificationKind classifies failures detected before certification
// starts.
type PreCertificationKind uint8

const (
	KindCertificateNotFound PreCertificationKind = iota
	KindProofAlreadyExists
	KindPreStorage
)

// String implements fmt.Stringer.
func (k PreCertificationKind) String() string {
	switch k {
	case KindCertificateNotFound:
		return "CertificateNotFound"
	case KindProofAlreadyExists:
		return "ProofAlreadyExists"
	case KindPreStorage:
		return "Storage"
	default:
		return fmt.Sprintf("PreCertificationKind(%d)", uint8(k))
	}
}

// PreCertificationError reports that a queued certificate cannot be handed
// to the certifier.
type PreCertificationError struct {
	Kind          PreCertificationKind
	CertificateID types.CertificateID
	Err           error
}

// Pre-certification error sentinels.
var (
	ErrCertificateNotFound = &PreCertificationError{Kind: KindCertificateNotFound}
	ErrProofAlreadyExists  = &PreCertificationError{Kind: KindProofAlreadyExists}
	ErrPreStorage          = &PreCertificationError{Kind: KindPreStorage}
)

func (e *PreCertificationError) Error() string {
	msg := fmt.Sprintf("certifier: precertification %s for certificate %s", e.Kind, e.CertificateID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreCertificationError) Unwrap() error { return e.Err }

// Is matches any PreCertificationError of the same kind.
func (e *PreCertificationError) Is(target error) bool {
	t, ok := target.(*PreCertificationError)
	return ok && t.Kind == e.Kind
}

// StatusError implements types.StatusErrorer.
func (e *PreCertificationError) StatusError() *types.CertificateStatusError {
	return &types.CertificateStatusError{
		Kind:      "PreCertificationError." + e.Kind.String(),
		Message:   e.Error(),
		Retryable: e.Kind != KindPreStorage,
	}
}
