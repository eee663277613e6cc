// Package crypto provides the hashing and signing primitives of the
// aggregator: keccak, secp256k1 signatures over go-ethereum's crypto package
// and, when built with the blst tag, BLS12-381 attestation keys.
package crypto

import (
	"hash"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/eth2030/aggsettle/core/types"
)

// KeccakState is a sponge that can squeeze its digest without the copy
// made by Sum.
type KeccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// Tree hashing calls into here once per node, so sponges are pooled.
var keccakPool = sync.Pool{
	New: func() any { return sha3.NewLegacyKeccak256().(KeccakState) },
}

// Keccak256Hash returns the Keccak-256 digest of the concatenated inputs.
func Keccak256Hash(data ...[]byte) (h types.Hash) {
	d := keccakPool.Get().(KeccakState)
	d.Reset()
	for _, b := range data {
		d.Write(b)
	}
	d.Read(h[:])
	keccakPool.Put(d)
	return h
}

// Keccak256 is Keccak256Hash returning a slice.
func Keccak256(data ...[]byte) []byte {
	h := Keccak256Hash(data...)
	return h[:]
}

// HashPair returns keccak(left || right), the inner node hash of the exit
// and sparse Merkle trees.
func HashPair(left, right types.Hash) types.Hash {
	return Keccak256Hash(left[:], right[:])
}
