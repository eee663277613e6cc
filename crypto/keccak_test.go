package crypto

import (
	"sync"
	"testing"

	"github.com/eth2030/aggsettle/core/types"
)

func TestKeccak256Vectors(t *testing.T) {
	tests := []struct {
		in   [][]byte
		want string
	}{
		{nil, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{[][]byte{[]byte("hello")}, "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8"},
		{[][]byte{[]byte("hel"), nil, []byte("lo")}, "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8"},
	}
	for _, tt := range tests {
		if got := Keccak256Hash(tt.in...); got.Hex() != tt.want {
			t.Errorf("Keccak256Hash(%q) = %s, want %s", tt.in, got, tt.want)
		}
		if got := types.BytesToHash(Keccak256(tt.in...)); got.Hex() != tt.want {
			t.Errorf("Keccak256(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestKeccakMatchesTypesHelper(t *testing.T) {
	data := []byte("certificate")
	if Keccak256Hash(data) != types.Keccak256Hash(data) {
		t.Fatal("crypto and types keccak disagree")
	}
}

func TestHashPairOrder(t *testing.T) {
	a, b := types.Hash{1}, types.Hash{2}
	if HashPair(a, b) == HashPair(b, a) {
		t.Fatal("HashPair is symmetric")
	}
	if HashPair(a, b) != Keccak256Hash(a[:], b[:]) {
		t.Fatal("HashPair differs from keccak(left || right)")
	}
}

func TestKeccakConcurrent(t *testing.T) {
	want := Keccak256Hash([]byte("pooled"))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if got := Keccak256Hash([]byte("pooled")); got != want {
					t.Errorf("got %s, want %s", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}
