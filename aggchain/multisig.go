package aggchain

import (
	"fmt"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
)

// VerifyMultisig checks a k-of-n signature set over commitment. Signatures
// are aligned with signers; absent entries are skipped.
func VerifyMultisig(ms *types.Multisig, signers []types.Address, threshold uint32, commitment types.Hash) error {
	if threshold == 0 || int(threshold) > len(signers) {
		return fmt.Errorf("%w: threshold %d of %d signers", ErrInvalidMultisigConfig, threshold, len(signers))
	}
	if len(ms.Signatures) > len(signers) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrOutOfBoundSignerIndex, len(ms.Signatures), len(signers))
	}
	if present := ms.Present(); present < int(threshold) {
		return fmt.Errorf("%w: %d of %d", ErrUnderThreshold, present, threshold)
	}
	for i, sig := range ms.Signatures {
		if len(sig) == 0 {
			continue
		}
		addr, err := crypto.RecoverAddress(commitment, sig)
		if err != nil || addr != signers[i] {
			return &HasInvalidSignatureError{Index: i}
		}
	}
	return nil
}
