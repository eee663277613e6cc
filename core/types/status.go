package types

import (
	"errors"
	"fmt"
)

// CertificateStatus is the lifecycle position of a certificate.
type CertificateStatus uint8

const (
	StatusPending CertificateStatus = iota
	StatusProven
	StatusCandidate
	StatusSettled
	StatusFinalized
	StatusInError
)

// String implements fmt.Stringer.
func (s CertificateStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusProven:
		return "Proven"
	case StatusCandidate:
		return "Candidate"
	case StatusSettled:
		return "Settled"
	case StatusFinalized:
		return "Finalized"
	case StatusInError:
		return "InError"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// IsTerminal reports whether no further transition can leave the status.
func (s CertificateStatus) IsTerminal() bool {
	return s == StatusFinalized || s == StatusInError
}

// MarshalText implements encoding.TextMarshaler.
func (s CertificateStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CertificateStatus) UnmarshalText(input []byte) error {
	for c := StatusPending; c <= StatusInError; c++ {
		if c.String() == string(input) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown certificate status %q", input)
}

// CertificateStatusError is the structured cause attached to an InError
// certificate. It is what the API layer exposes to network operators.
type CertificateStatusError struct {
	// Kind is a dotted path naming the error family and variant, such as
	// "ProofError.BalanceUnderflow" or "SettlementError.Timeout".
	Kind string `json:"kind"`
	// Message is the human-readable rendering of the cause.
	Message string `json:"message"`
	// Retryable marks errors after which the network may submit a
	// replacement certificate at the same height.
	Retryable bool `json:"retryable"`
}

// Error implements error.
func (e *CertificateStatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// StatusErrorer is implemented by every error that can put a certificate in
// error, so the cause can be persisted in structured form.
type StatusErrorer interface {
	StatusError() *CertificateStatusError
}

// StatusErrorFrom derives the persisted cause of err. Errors that do not
// carry a structured form are recorded as non-retryable internal errors.
func StatusErrorFrom(err error) *CertificateStatusError {
	if err == nil {
		return nil
	}
	var se StatusErrorer
	if errors.As(err, &se) {
		return se.StatusError()
	}
	var direct *CertificateStatusError
	if errors.As(err, &direct) {
		return direct
	}
	return &CertificateStatusError{Kind: "InternalError", Message: err.Error()}
}
