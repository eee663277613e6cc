package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/aggsettle/core/types"
)

// SignatureLength is the size of a compact secp256k1 signature: R ‖ S ‖ V.
const SignatureLength = 65

// Errors returned by the secp256k1 helpers.
var (
	ErrSignatureLength = errors.New("crypto: signature must be 65 bytes")
	ErrSignatureV      = errors.New("crypto: invalid recovery id")
	ErrSignatureValues = errors.New("crypto: signature values out of range")
	ErrRecoverFailed   = errors.New("crypto: public key recovery failed")
)

// Signer signs 32-byte digests with a secp256k1 key. Safe for concurrent use.
type Signer struct {
	key     *ecdsa.PrivateKey
	address types.Address
}

// NewSigner wraps an existing private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: types.Address(gethcrypto.PubkeyToAddress(key.PublicKey)),
	}
}

// GenerateSigner creates a signer over a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// SignerFromHex parses a hex-encoded private key, with or without 0x prefix.
func SignerFromHex(hexkey string) (*Signer, error) {
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(hexkey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return NewSigner(key), nil
}

// Address returns the Ethereum address of the signing key.
func (s *Signer) Address() types.Address { return s.address }

// PrivateKey exposes the key for transaction signing.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey { return s.key }

// Sign produces a 65-byte signature over digest with V in {27, 28}.
func (s *Signer) Sign(digest types.Hash) ([]byte, error) {
	sig, err := gethcrypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAddress returns the address that produced sig over digest. V may be
// given either as a raw recovery id (0, 1) or in legacy form (27, 28). S must
// lie in the lower half of the curve order.
func RecoverAddress(digest types.Hash, sig []byte) (types.Address, error) {
	if len(sig) != SignatureLength {
		return types.Address{}, ErrSignatureLength
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	switch v := normalized[64]; v {
	case 0, 1:
	case 27, 28:
		normalized[64] = v - 27
	default:
		return types.Address{}, fmt.Errorf("%w: %d", ErrSignatureV, v)
	}
	r := new(big.Int).SetBytes(normalized[:32])
	sv := new(big.Int).SetBytes(normalized[32:64])
	if !gethcrypto.ValidateSignatureValues(normalized[64], r, sv, true) {
		return types.Address{}, ErrSignatureValues
	}
	pub, err := gethcrypto.SigToPub(digest[:], normalized)
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", ErrRecoverFailed, err)
	}
	return types.Address(gethcrypto.PubkeyToAddress(*pub)), nil
}

// VerifySignature reports whether sig over digest was produced by signer.
func VerifySignature(signer types.Address, digest types.Hash, sig []byte) bool {
	addr, err := RecoverAddress(digest, sig)
	return err == nil && addr == signer
}
