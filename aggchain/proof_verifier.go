package aggchain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
)

// AttestationDigest is what an aggchain proof attester signs.
func AttestationDigest(vkey, publicValues types.Hash) types.Hash {
	return crypto.Keccak256Hash(vkey[:], publicValues[:])
}

// AttestedProofVerifier accepts aggchain proofs that are secp256k1
// attestations by the key registered for the vkey.
type AttestedProofVerifier struct {
	mu        sync.RWMutex
	attesters map[types.Hash]types.Address
}

// NewAttestedProofVerifier creates a verifier with no registered vkeys.
func NewAttestedProofVerifier() *AttestedProofVerifier {
	return &AttestedProofVerifier{attesters: make(map[types.Hash]types.Address)}
}

// Register binds vkey to the attester address.
func (a *AttestedProofVerifier) Register(vkey types.Hash, attester types.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attesters[vkey] = attester
}

// VerifyAggchainProof implements ProofVerifier.
func (a *AttestedProofVerifier) VerifyAggchainProof(vkey types.Hash, proof *types.AggchainProof, publicValues types.Hash) error {
	a.mu.RLock()
	attester, ok := a.attesters[vkey]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVKey, vkey)
	}
	if !crypto.VerifySignature(attester, AttestationDigest(vkey, publicValues), proof.Proof) {
		return ErrInvalidAggchainProof
	}
	return nil
}

// BLSProofVerifier accepts aggchain proofs that are BLS signatures by the
// public key registered for the vkey. Every proof is rejected in binaries
// built without the blst tag.
type BLSProofVerifier struct {
	mu      sync.RWMutex
	pubkeys map[types.Hash][]byte
}

// NewBLSProofVerifier creates a verifier with no registered vkeys.
func NewBLSProofVerifier() *BLSProofVerifier {
	return &BLSProofVerifier{pubkeys: make(map[types.Hash][]byte)}
}

// Register binds vkey to a compressed BLS public key.
func (b *BLSProofVerifier) Register(vkey types.Hash, pubkey []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubkeys[vkey] = append([]byte(nil), pubkey...)
}

// VerifyAggchainProof implements ProofVerifier.
func (b *BLSProofVerifier) VerifyAggchainProof(vkey types.Hash, proof *types.AggchainProof, publicValues types.Hash) error {
	b.mu.RLock()
	pubkey, ok := b.pubkeys[vkey]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVKey, vkey)
	}
	digest := AttestationDigest(vkey, publicValues)
	if !crypto.BLSVerify(pubkey, digest[:], proof.Proof) {
		return ErrInvalidAggchainProof
	}
	return nil
}

// MultiProofVerifier tries each verifier in order and accepts the first
// success. Unknown-vkey failures fall through to the next verifier.
type MultiProofVerifier []ProofVerifier

// VerifyAggchainProof implements ProofVerifier.
func (m MultiProofVerifier) VerifyAggchainProof(vkey types.Hash, proof *types.AggchainProof, publicValues types.Hash) error {
	err := fmt.Errorf("%w: %s", ErrUnknownVKey, vkey)
	for _, v := range m {
		err = v.VerifyAggchainProof(vkey, proof, publicValues)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnknownVKey) {
			return err
		}
	}
	return err
}
