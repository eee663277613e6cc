// Package types defines the data model of the settlement aggregator:
// certificates, bridge exits, headers and their lifecycle status.
package types

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	HashLength    = common.HashLength
	AddressLength = common.AddressLength
)

// Hash is a 32-byte keccak digest or Merkle root. It shares its layout with
// go-ethereum's common.Hash, so the two convert directly.
type Hash [HashLength]byte

// Address is a 20-byte L1 or L2 account. It converts directly to and from
// common.Address.
type Address [AddressLength]byte

// BytesToHash left-pads b to 32 bytes, keeping the rightmost 32 if longer.
func BytesToHash(b []byte) Hash { return Hash(common.BytesToHash(b)) }

// HexToHash parses s leniently: the 0x prefix is optional and odd lengths
// are padded. Invalid input yields the zero hash.
func HexToHash(s string) Hash { return BytesToHash(common.FromHex(s)) }

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) Hex() string    { return hexutil.Encode(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool   { return h == Hash{} }

// Cmp orders hashes bytewise.
func (h Hash) Cmp(other Hash) int { return bytes.Compare(h[:], other[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

// UnmarshalText requires a 0x prefix and exactly 32 bytes.
func (h *Hash) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Hash", input, h[:])
}

// BytesToAddress left-pads b to 20 bytes, keeping the rightmost 20 if
// longer.
func BytesToAddress(b []byte) Address { return Address(common.BytesToAddress(b)) }

// HexToAddress parses s with the same leniency as HexToHash.
func HexToAddress(s string) Address { return BytesToAddress(common.FromHex(s)) }

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) Hex() string    { return hexutil.Encode(a[:]) }
func (a Address) String() string { return a.Hex() }
func (a Address) IsZero() bool   { return a == Address{} }

// Checksum returns the EIP-55 mixed-case form used by L1 tooling.
func (a Address) Checksum() string { return common.Address(a).Hex() }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return hexutil.Bytes(a[:]).MarshalText()
}

// UnmarshalText requires a 0x prefix and exactly 20 bytes.
func (a *Address) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Address", input, a[:])
}
