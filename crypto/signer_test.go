package crypto

import (
	"errors"
	"testing"

	"github.com/eth2030/aggsettle/core/types"
)

func TestSignRecover(t *testing.T) {
	s, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	digest := Keccak256Hash([]byte("certificate"))
	sig, err := s.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("signature length = %d, want %d", len(sig), SignatureLength)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("V = %d, want 27 or 28", sig[64])
	}
	addr, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if addr != s.Address() {
		t.Fatalf("recovered %s, want %s", addr, s.Address())
	}

	// Raw recovery ids are accepted too.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	if !VerifySignature(s.Address(), digest, raw) {
		t.Fatal("raw V signature should verify")
	}
}

func TestRecoverAddressErrors(t *testing.T) {
	s, _ := GenerateSigner()
	digest := Keccak256Hash([]byte("x"))
	sig, _ := s.Sign(digest)

	if _, err := RecoverAddress(digest, sig[:64]); !errors.Is(err, ErrSignatureLength) {
		t.Fatalf("short signature: got %v", err)
	}
	bad := append([]byte(nil), sig...)
	bad[64] = 5
	if _, err := RecoverAddress(digest, bad); !errors.Is(err, ErrSignatureV) {
		t.Fatalf("bad V: got %v", err)
	}
	zero := make([]byte, SignatureLength)
	if _, err := RecoverAddress(digest, zero); !errors.Is(err, ErrSignatureValues) {
		t.Fatalf("zero R/S: got %v", err)
	}
	if VerifySignature(s.Address(), Keccak256Hash([]byte("y")), sig) {
		t.Fatal("signature over another digest should not verify")
	}
}

func TestSignerFromHex(t *testing.T) {
	const key = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	s, err := SignerFromHex(key)
	if err != nil {
		t.Fatalf("SignerFromHex: %v", err)
	}
	want := types.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	if s.Address() != want {
		t.Fatalf("address = %s, want %s", s.Address(), want)
	}
	if _, err := SignerFromHex("0xzz"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}
