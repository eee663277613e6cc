package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestHashConversions(t *testing.T) {
	tests := []struct {
		name string
		got  Hash
		want string
	}{
		{"short bytes are left padded", BytesToHash([]byte{1, 2, 3}), "0x" + strings.Repeat("00", 29) + "010203"},
		{"lenient hex without prefix", HexToHash("dead"), "0x" + strings.Repeat("00", 30) + "dead"},
		{"odd hex length", HexToHash("0xabc"), "0x" + strings.Repeat("00", 30) + "0abc"},
	}
	for _, tt := range tests {
		if tt.got.Hex() != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, tt.got.Hex(), tt.want)
		}
	}

	long := make([]byte, 40)
	for i := range long {
		long[i] = byte(i)
	}
	if h := BytesToHash(long); h[0] != 8 || h[HashLength-1] != 39 {
		t.Errorf("long input not truncated from the left: %s", h)
	}
}

func TestHashMatchesGoEthereum(t *testing.T) {
	g := common.HexToHash("0x5c0dd7a8b8ed4a3c8fb0a3f0b5c6a22c6e1c8e6ab0f5a9a4b4a1d2c3e4f50607")
	h := Hash(g)
	if h.Hex() != g.Hex() {
		t.Fatalf("hex mismatch: %s vs %s", h.Hex(), g.Hex())
	}
	if common.Hash(h) != g {
		t.Fatal("conversion does not round trip")
	}
}

func TestHashCmp(t *testing.T) {
	a, b := Hash{0x01}, Hash{0x02}
	if a.Cmp(b) >= 0 || b.Cmp(a) <= 0 || a.Cmp(a) != 0 {
		t.Fatal("Cmp does not order bytewise")
	}
	if !(Hash{}).IsZero() || a.IsZero() {
		t.Fatal("IsZero wrong")
	}
}

func TestAddressForms(t *testing.T) {
	a := HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	if a.Hex() != "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed" {
		t.Errorf("Hex = %s", a.Hex())
	}
	if a.String() != a.Hex() {
		t.Errorf("String = %s", a.String())
	}
	// EIP-55 test vector.
	if a.Checksum() != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Errorf("Checksum = %s", a.Checksum())
	}
	if b := BytesToAddress([]byte{0xab, 0xcd}); b[AddressLength-2] != 0xab || b[AddressLength-1] != 0xcd {
		t.Errorf("BytesToAddress = %s", b)
	}
}

func TestTextEncoding(t *testing.T) {
	type doc struct {
		Root   Hash    `json:"root"`
		Sender Address `json:"sender"`
	}
	in := doc{Root: HexToHash("0x01020304"), Sender: HexToAddress("0xbeef")}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"sender":"0x000000000000000000000000000000000000beef"`) {
		t.Fatalf("unexpected encoding %s", data)
	}
	var out doc
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("round trip: %+v != %+v", out, in)
	}
}

func TestUnmarshalTextStrict(t *testing.T) {
	var h Hash
	for _, bad := range []string{
		"0102",   // no prefix
		"0x0102", // short
		"0x" + strings.Repeat("zz", HashLength),
	} {
		if err := h.UnmarshalText([]byte(bad)); err == nil {
			t.Errorf("UnmarshalText(%q) succeeded", bad)
		}
	}
	var a Address
	if err := a.UnmarshalText([]byte("0x" + strings.Repeat("11", AddressLength+1))); err == nil {
		t.Error("long address accepted")
	}
	if err := a.UnmarshalText([]byte("0x" + strings.Repeat("11", AddressLength))); err != nil {
		t.Errorf("valid address rejected: %v", err)
	}
}
