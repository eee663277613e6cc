package network

import (
	"errors"
	"fmt"

	"github.com/eth2030/aggsettle/core/types"
)

// InitialCheckKind classifies rejected submissions.
type InitialCheckKind uint8

const (
	// KindIllegalReplacement: the height holds a certificate that can no
	// longer be replaced.
	KindIllegalReplacement InitialCheckKind = iota
	// KindUnexpectedHeight: the certificate skips or repeats a height.
	KindUnexpectedHeight
	// KindPrevLocalExitRootMismatch: the certificate does not extend the
	// settled exit tree.
	KindPrevLocalExitRootMismatch
	KindStorage
)

func (k InitialCheckKind) String() string {
	switch k {
	case KindIllegalReplacement:
		return "IllegalReplacement"
	case KindUnexpectedHeight:
		return "UnexpectedHeight"
	case KindPrevLocalExitRootMismatch:
		return "PrevLocalExitRootMismatch"
	case KindStorage:
		return "Storage"
	default:
		return fmt.Sprintf("InitialCheckKind(%d)", uint8(k))
	}
}

// Sentinels matching each kind with errors.Is.
var (
	ErrIllegalReplacement        = &InitialCheckError{Kind: KindIllegalReplacement}
	ErrUnexpectedHeight          = &InitialCheckError{Kind: KindUnexpectedHeight}
	ErrPrevLocalExitRootMismatch = &InitialCheckError{Kind: KindPrevLocalExitRootMismatch}
	ErrStorage                   = &InitialCheckError{Kind: KindStorage}
)

var (
	ErrTaskStopped   = errors.New("network: task stopped")
	ErrNotRunning    = errors.New("network: manager not running")
	ErrWrongNetwork  = errors.New("network: certificate routed to another network")
	ErrUnknownStatus = errors.New("network: unknown certificate status")
)

// InitialCheckError rejects a submitted certificate before it is stored.
type InitialCheckError struct {
	Kind    InitialCheckKind
	Network types.NetworkID
	Height  types.Height

	// Expected is the height the network may submit at, for
	// UnexpectedHeight.
	Expected types.Height
	// Status of the certificate blocking an IllegalReplacement.
	Status types.CertificateStatus
	// Declared and Settled are the mismatching exit roots.
	Declared types.Hash
	Settled  types.Hash

	Err error
}

func (e *InitialCheckError) Error() string {
	prefix := fmt.Sprintf("network %d height %d: ", e.Network, e.Height)
	switch e.Kind {
	case KindIllegalReplacement:
		return prefix + fmt.Sprintf("cannot replace %s certificate", e.Status)
	case KindUnexpectedHeight:
		return prefix + fmt.Sprintf("unexpected height, expected %d", e.Expected)
	case KindPrevLocalExitRootMismatch:
		return prefix + fmt.Sprintf("prev local exit root %s does not match settled root %s", e.Declared, e.Settled)
	default:
		msg := prefix + e.Kind.String()
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}
}

func (e *InitialCheckError) Unwrap() error { return e.Err }

// Is matches any InitialCheckError of the same kind.
func (e *InitialCheckError) Is(target error) bool {
	t, ok := target.(*InitialCheckError)
	return ok && t.Kind == e.Kind
}
