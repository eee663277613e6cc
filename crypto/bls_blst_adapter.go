//go:build blst

// BLS12-381 attestation keys backed by the supranational/blst library.
//
// Uses the MinPk scheme: public keys in G1 (48-byte compressed) and
// signatures in G2 (96-byte compressed).
//
// Build with: go build -tags blst
// Test with:  go test -tags blst ./crypto/ -run BLS
package crypto

import (
	blst "github.com/supranational/blst/bindings/go"
)

// blstDST is the domain separation tag for attestation signatures.
var blstDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// Key and signature sizes for the MinPk scheme.
const (
	blstPubkeySize = 48 // compressed G1
	blstSigSize    = 96 // compressed G2
	blstSecretSize = 32 // scalar field element
)

// BLSAvailable reports whether the binary was built with BLS support.
const BLSAvailable = true

// BLSSigner holds a BLS secret key and its compressed public key.
type BLSSigner struct {
	sk     *blst.SecretKey
	pubkey []byte
}

// NewBLSSigner derives a key pair from input key material of at least 32 bytes.
func NewBLSSigner(ikm []byte) (*BLSSigner, error) {
	if len(ikm) < blstSecretSize {
		return nil, ErrBLSInvalidIKM
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, ErrBLSKeyGenFailed
	}
	pk := new(blst.P1Affine).From(sk)
	return &BLSSigner{sk: sk, pubkey: pk.Compress()}, nil
}

// PublicKey returns the 48-byte compressed public key.
func (s *BLSSigner) PublicKey() []byte { return s.pubkey }

// Sign returns the 96-byte compressed signature over msg.
func (s *BLSSigner) Sign(msg []byte) ([]byte, error) {
	sig := new(blst.P2Affine).Sign(s.sk, msg, blstDST)
	if sig == nil {
		return nil, ErrBLSSignFailed
	}
	return sig.Compress(), nil
}

// BLSVerify checks a single signature. pubkey must be 48-byte compressed G1,
// sig must be 96-byte compressed G2.
func BLSVerify(pubkey, msg, sig []byte) bool {
	if len(pubkey) != blstPubkeySize || len(sig) != blstSigSize {
		return false
	}
	pk := new(blst.P1Affine).Uncompress(pubkey)
	if pk == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, msg, blstDST)
}
