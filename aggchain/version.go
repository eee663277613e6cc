// Package aggchain verifies the authorization a network attaches to its
// certificates and derives the aggchain hash committed in the pessimistic
// proof output.
package aggchain

import (
	"encoding/binary"
	"fmt"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
)

// Version selects the encoding of the signed commitment and of the
// pessimistic root. A network moves from V2 to V3 once and never back.
type Version uint8

const (
	// VersionNone marks a network that has never settled.
	VersionNone Version = iota
	VersionV2
	VersionV3
)

// String implements fmt.Stringer.
func (v Version) String() string {
	switch v {
	case VersionNone:
		return "none"
	case VersionV2:
		return "v2"
	case VersionV3:
		return "v3"
	default:
		return fmt.Sprintf("version(%d)", uint8(v))
	}
}

// IsConsistent reports whether a network whose last settled root used prev
// may settle a root of version target.
func IsConsistent(prev, target Version) bool {
	switch {
	case prev == VersionNone:
		return target == VersionV2 || target == VersionV3
	case prev == VersionV2:
		return target == VersionV2 || target == VersionV3
	case prev == VersionV3:
		return target == VersionV3
	default:
		return false
	}
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// CommitmentInput is the certificate data covered by a signed commitment.
type CommitmentInput struct {
	NetworkID                 types.NetworkID
	Height                    types.Height
	NewLocalExitRoot          types.Hash
	CommitImportedBridgeExits types.Hash
}

// NewCommitmentInput extracts the committed fields of c.
func NewCommitmentInput(c *types.Certificate) CommitmentInput {
	return CommitmentInput{
		NetworkID:                 c.NetworkID,
		Height:                    c.Height,
		NewLocalExitRoot:          c.NewLocalExitRoot,
		CommitImportedBridgeExits: c.CommitImportedBridgeExits(),
	}
}

// Commitment returns the digest signers sign for version v:
//
//	V2: keccak(newLocalExitRoot ‖ commitImportedBridgeExits)
//	V3: keccak(newLocalExitRoot ‖ commitImportedBridgeExits ‖ height ‖ aggchainParams)
func (in *CommitmentInput) Commitment(v Version, aggchainParams types.Hash) types.Hash {
	if v == VersionV2 {
		return crypto.Keccak256Hash(in.NewLocalExitRoot[:], in.CommitImportedBridgeExits[:])
	}
	return crypto.Keccak256Hash(
		in.NewLocalExitRoot[:],
		in.CommitImportedBridgeExits[:],
		u64(uint64(in.Height)),
		aggchainParams[:],
	)
}

// ProofPublicValues is the digest an aggchain proof attests to.
func (in *CommitmentInput) ProofPublicValues(aggchainParams types.Hash) types.Hash {
	c := in.Commitment(VersionV3, aggchainParams)
	return crypto.Keccak256Hash(u32(uint32(in.NetworkID)), c[:])
}

// PessimisticRoot commits to a network's balance and nullifier roots.
//
//	V2: keccak(balanceRoot ‖ nullifierRoot)
//	V3: keccak(balanceRoot ‖ nullifierRoot ‖ leafCount ‖ networkID)
func PessimisticRoot(v Version, balanceRoot, nullifierRoot types.Hash, leafCount uint32, network types.NetworkID) types.Hash {
	if v == VersionV2 {
		return crypto.Keccak256Hash(balanceRoot[:], nullifierRoot[:])
	}
	return crypto.Keccak256Hash(balanceRoot[:], nullifierRoot[:], u32(leafCount), u32(uint32(network)))
}
