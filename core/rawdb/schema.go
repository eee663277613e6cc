package rawdb

import (
	"encoding/binary"

	"github.com/eth2030/aggsettle/core/types"
)

// Key prefixes for the database schema.
var (
	// Certificates awaiting settlement, one per network height.
	pendingCertPrefix = []byte("c") // c + network (4 bytes BE) + height (8 bytes BE) -> certificate RLP

	// Certificate headers
	headerPrefix       = []byte("h") // h + certificate id -> header RLP
	headerHeightPrefix = []byte("H") // H + network + height -> certificate id
	headerStatusPrefix = []byte("x") // x + status (1 byte) + certificate id -> empty

	// Proof artifacts and staged results of certification
	proofPrefix  = []byte("p") // p + certificate id -> proof bytes
	provenPrefix = []byte("P") // P + certificate id -> proven state RLP

	// Per-network settled data
	networkStatePrefix  = []byte("s") // s + network -> local network state RLP
	latestSettledPrefix = []byte("S") // S + network -> settled certificate RLP
	rootIndexPrefix     = []byte("r") // r + network + pessimistic root -> certificate id

	// Epochs
	epochPrefix      = []byte("e") // e + epoch (8 bytes BE) -> certificate count
	epochEntryPrefix = []byte("E") // E + epoch + index (8 bytes BE) -> certificate id
	latestEpochKey   = []byte("le")

	// Settlement listener checkpoint
	latestSettlingBlockKey = []byte("lsb")
)

func encodeUint32(v uint32) []byte {
	enc := make([]byte, 4)
	binary.BigEndian.PutUint32(enc, v)
	return enc
}

func encodeUint64(v uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, v)
	return enc
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// pendingCertKey = pendingCertPrefix + network + height
func pendingCertKey(network types.NetworkID, height types.Height) []byte {
	return concat(pendingCertPrefix, encodeUint32(uint32(network)), encodeUint64(uint64(height)))
}

// headerKey = headerPrefix + id
func headerKey(id types.CertificateID) []byte {
	return concat(headerPrefix, id[:])
}

// headerHeightKey = headerHeightPrefix + network + height
func headerHeightKey(network types.NetworkID, height types.Height) []byte {
	return concat(headerHeightPrefix, encodeUint32(uint32(network)), encodeUint64(uint64(height)))
}

// headerStatusKey = headerStatusPrefix + status + id
func headerStatusKey(status types.CertificateStatus, id types.CertificateID) []byte {
	return concat(headerStatusPrefix, []byte{byte(status)}, id[:])
}

func proofKey(id types.CertificateID) []byte {
	return concat(proofPrefix, id[:])
}

func provenKey(id types.CertificateID) []byte {
	return concat(provenPrefix, id[:])
}

func networkStateKey(network types.NetworkID) []byte {
	return concat(networkStatePrefix, encodeUint32(uint32(network)))
}

func latestSettledKey(network types.NetworkID) []byte {
	return concat(latestSettledPrefix, encodeUint32(uint32(network)))
}

// rootIndexKey = rootIndexPrefix + network + root
func rootIndexKey(network types.NetworkID, root types.Hash) []byte {
	return concat(rootIndexPrefix, encodeUint32(uint32(network)), root[:])
}

func epochKey(epoch types.EpochNumber) []byte {
	return concat(epochPrefix, encodeUint64(uint64(epoch)))
}

// epochEntryKey = epochEntryPrefix + epoch + index
func epochEntryKey(epoch types.EpochNumber, index types.CertificateIndex) []byte {
	return concat(epochEntryPrefix, encodeUint64(uint64(epoch)), encodeUint64(uint64(index)))
}
