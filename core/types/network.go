package types

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// NetworkID identifies a network participating in settlement. Network 0 is
// the L1 itself (mainnet); rollups are numbered from 1.
type NetworkID uint32

// MainnetNetworkID is the network id of the base chain.
const MainnetNetworkID NetworkID = 0

// Height is the per-network sequence number of a certificate.
type Height uint64

// EpochNumber identifies a settlement epoch.
type EpochNumber uint64

// CertificateIndex is the position of a certificate inside an epoch.
type CertificateIndex uint64

// String implements fmt.Stringer.
func (n NetworkID) String() string { return fmt.Sprintf("%d", uint32(n)) }

// Next returns the height that follows h.
func (h Height) Next() Height { return h + 1 }

// TokenInfo identifies a token by the network that minted it and its address
// on that network. It is the key of the balance tree.
type TokenInfo struct {
	OriginNetwork      NetworkID `json:"origin_network"`
	OriginTokenAddress Address   `json:"origin_token_address"`
}

// IsNative reports whether the token was minted on network n. Native tokens
// are not tracked in n's balance tree.
func (t TokenInfo) IsNative(n NetworkID) bool {
	return t.OriginNetwork == n
}

// String implements fmt.Stringer.
func (t TokenInfo) String() string {
	return fmt.Sprintf("%d/%s", uint32(t.OriginNetwork), t.OriginTokenAddress.Hex())
}

// keccak256 hashes the concatenation of the given byte slices.
func keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

// Keccak256Hash is the package-level keccak helper shared with callers that
// cannot depend on the crypto package.
func Keccak256Hash(data ...[]byte) Hash { return keccak256(data...) }

func u32BE(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func u64BE(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
