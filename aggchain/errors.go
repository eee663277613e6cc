package aggchain

import (
	"errors"
	"fmt"
)

// Verification errors.
var (
	ErrUnknownAggchainData       = errors.New("aggchain: unknown aggchain data")
	ErrOutOfBoundSignerIndex     = errors.New("aggchain: more signatures than signers")
	ErrUnderThreshold            = errors.New("aggchain: signatures under threshold")
	ErrInvalidMultisigConfig     = errors.New("aggchain: invalid multisig configuration")
	ErrInvalidSignature          = errors.New("aggchain: invalid signature")
	ErrInconsistentSignedPayload = errors.New("aggchain: signed payload inconsistent with root version")
	ErrInvalidAggchainProof      = errors.New("aggchain: invalid aggchain proof")
	ErrUnknownVKey               = errors.New("aggchain: unknown aggchain vkey")
)

// HasInvalidSignatureError reports a present multisig signature that does
// not recover to the signer registered at its index.
type HasInvalidSignatureError struct {
	Index int
}

func (e *HasInvalidSignatureError) Error() string {
	return fmt.Sprintf("aggchain: invalid signature at signer index %d", e.Index)
}

// Is matches ErrInvalidSignature so callers can branch on the family.
func (e *HasInvalidSignatureError) Is(target error) bool {
	return target == ErrInvalidSignature
}
