package transition

import (
	"encoding/binary"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
)

// PessimisticProofOutput is the public output of a certificate's state
// transition. Proofs attest to its hash and the settlement call carries its
// roots to L1.
type PessimisticProofOutput struct {
	OriginNetwork       types.NetworkID
	Height              types.Height
	PrevLocalExitRoot   types.Hash
	PrevPessimisticRoot types.Hash
	L1InfoRoot          types.Hash
	AggchainHash        types.Hash
	NewLocalExitRoot    types.Hash
	NewPessimisticRoot  types.Hash
	RootVersion         aggchain.Version
}

// Hash returns keccak over the packed fields of the output.
func (o *PessimisticProofOutput) Hash() types.Hash {
	var hdr [13]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(o.OriginNetwork))
	binary.BigEndian.PutUint64(hdr[4:12], uint64(o.Height))
	hdr[12] = uint8(o.RootVersion)
	return crypto.Keccak256Hash(
		hdr[:],
		o.PrevLocalExitRoot[:],
		o.PrevPessimisticRoot[:],
		o.L1InfoRoot[:],
		o.AggchainHash[:],
		o.NewLocalExitRoot[:],
		o.NewPessimisticRoot[:],
	)
}
