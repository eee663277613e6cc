package rawdb

import (
	"encoding/binary"
	"errors"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/transition"
)

// --- Pending certificate accessors ---

// WritePendingCertificate stores the certificate awaiting settlement at its
// network height, replacing any previous one.
func WritePendingCertificate(db Writer, c *types.Certificate) error {
	enc, err := EncodeCertificate(c)
	if err != nil {
		return err
	}
	return db.Put(pendingCertKey(c.NetworkID, c.Height), enc)
}

// ReadPendingCertificate retrieves the certificate stored at a network height.
func ReadPendingCertificate(db Reader, network types.NetworkID, height types.Height) (*types.Certificate, error) {
	enc, err := db.Get(pendingCertKey(network, height))
	if err != nil {
		return nil, err
	}
	return DecodeCertificate(enc)
}

// DeletePendingCertificate removes the certificate stored at a network height.
func DeletePendingCertificate(db Writer, network types.NetworkID, height types.Height) error {
	return db.Delete(pendingCertKey(network, height))
}

// --- Header accessors ---

// WriteHeader stores a header with its network height and status indexes.
// A header leaving a status must also have DeleteHeaderStatus called for it.
func WriteHeader(db Writer, h *types.CertificateHeader) error {
	enc, err := EncodeHeader(h)
	if err != nil {
		return err
	}
	if err := db.Put(headerKey(h.CertificateID), enc); err != nil {
		return err
	}
	if err := db.Put(headerStatusKey(h.Status, h.CertificateID), nil); err != nil {
		return err
	}
	return db.Put(headerHeightKey(h.NetworkID, h.Height), h.CertificateID[:])
}

// ReadHeader retrieves a header by certificate id.
func ReadHeader(db Reader, id types.CertificateID) (*types.CertificateHeader, error) {
	enc, err := db.Get(headerKey(id))
	if err != nil {
		return nil, err
	}
	return DecodeHeader(enc)
}

// ReadHeaderIDByHeight retrieves the id of the latest header written at a
// network height.
func ReadHeaderIDByHeight(db Reader, network types.NetworkID, height types.Height) (types.CertificateID, error) {
	data, err := db.Get(headerHeightKey(network, height))
	if err != nil {
		return types.CertificateID{}, err
	}
	if len(data) != types.HashLength {
		return types.CertificateID{}, ErrNotFound
	}
	return types.BytesToHash(data), nil
}

// DeleteHeader removes a header and its status entry. The height index is
// left to be overwritten by the replacing header.
func DeleteHeader(db Writer, h *types.CertificateHeader) error {
	if err := DeleteHeaderStatus(db, h.CertificateID, h.Status); err != nil {
		return err
	}
	return db.Delete(headerKey(h.CertificateID))
}

// DeleteHeaderStatus drops id from the index of status.
func DeleteHeaderStatus(db Writer, id types.CertificateID, status types.CertificateStatus) error {
	return db.Delete(headerStatusKey(status, id))
}

// IterateHeaders calls fn for every stored header until fn returns false.
func IterateHeaders(db Iterable, fn func(*types.CertificateHeader) bool) error {
	it := db.NewIterator(headerPrefix)
	defer it.Release()
	for it.Next() {
		h, err := DecodeHeader(it.Value())
		if err != nil {
			return err
		}
		if !fn(h) {
			break
		}
	}
	return it.Error()
}

// ReadHeaderIDsByStatus returns the ids indexed under status in key order.
func ReadHeaderIDsByStatus(db Iterable, status types.CertificateStatus) ([]types.CertificateID, error) {
	prefix := concat(headerStatusPrefix, []byte{byte(status)})
	it := db.NewIterator(prefix)
	defer it.Release()
	var ids []types.CertificateID
	for it.Next() {
		key := it.Key()
		if len(key) != len(prefix)+types.HashLength {
			continue
		}
		ids = append(ids, types.BytesToHash(key[len(prefix):]))
	}
	return ids, it.Error()
}

// CountHeadersByStatus counts the index entries of status without decoding
// any header.
func CountHeadersByStatus(db Iterable, status types.CertificateStatus) (uint64, error) {
	it := db.NewIterator(concat(headerStatusPrefix, []byte{byte(status)}))
	defer it.Release()
	var n uint64
	for it.Next() {
		n++
	}
	return n, it.Error()
}

// --- Proof accessors ---

func WriteProof(db Writer, id types.CertificateID, proof types.Proof) error {
	return db.Put(proofKey(id), proof)
}

func ReadProof(db Reader, id types.CertificateID) (types.Proof, error) {
	return db.Get(proofKey(id))
}

func HasProof(db Reader, id types.CertificateID) (bool, error) {
	return db.Has(proofKey(id))
}

func DeleteProof(db Writer, id types.CertificateID) error {
	return db.Delete(proofKey(id))
}

func WriteProven(db Writer, id types.CertificateID, r *ProvenRecord) error {
	enc, err := EncodeProven(r)
	if err != nil {
		return err
	}
	return db.Put(provenKey(id), enc)
}

func ReadProven(db Reader, id types.CertificateID) (*ProvenRecord, error) {
	enc, err := db.Get(provenKey(id))
	if err != nil {
		return nil, err
	}
	return DecodeProven(enc)
}

func DeleteProven(db Writer, id types.CertificateID) error {
	return db.Delete(provenKey(id))
}

// --- Network state accessors ---

// WriteNetworkState stores the settled state of a network.
func WriteNetworkState(db Writer, network types.NetworkID, s *transition.LocalNetworkState) error {
	enc, err := EncodeNetworkState(s)
	if err != nil {
		return err
	}
	return db.Put(networkStateKey(network), enc)
}

// ReadNetworkState retrieves the settled state of a network.
func ReadNetworkState(db Reader, network types.NetworkID) (*transition.LocalNetworkState, error) {
	enc, err := db.Get(networkStateKey(network))
	if err != nil {
		return nil, err
	}
	return DecodeNetworkState(enc)
}

func WriteLatestSettled(db Writer, network types.NetworkID, s *types.SettledCertificate) error {
	enc, err := EncodeSettled(s)
	if err != nil {
		return err
	}
	return db.Put(latestSettledKey(network), enc)
}

func ReadLatestSettled(db Reader, network types.NetworkID) (*types.SettledCertificate, error) {
	enc, err := db.Get(latestSettledKey(network))
	if err != nil {
		return nil, err
	}
	return DecodeSettled(enc)
}

// IterateSettledNetworks calls fn with every network that settled at
// least once.
func IterateSettledNetworks(db Iterable, fn func(types.NetworkID)) error {
	it := db.NewIterator(latestSettledPrefix)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != len(latestSettledPrefix)+4 {
			continue
		}
		fn(types.NetworkID(binary.BigEndian.Uint32(key[len(latestSettledPrefix):])))
	}
	return it.Error()
}

// WriteRootIndex maps a network's pessimistic root to the certificate
// committing to it.
func WriteRootIndex(db Writer, network types.NetworkID, root types.Hash, id types.CertificateID) error {
	return db.Put(rootIndexKey(network, root), id[:])
}

func ReadRootIndex(db Reader, network types.NetworkID, root types.Hash) (types.CertificateID, error) {
	data, err := db.Get(rootIndexKey(network, root))
	if err != nil {
		return types.CertificateID{}, err
	}
	if len(data) != types.HashLength {
		return types.CertificateID{}, ErrNotFound
	}
	return types.BytesToHash(data), nil
}

// --- Epoch accessors ---

// WriteEpoch records the certificates packed into an epoch, indexed by
// position.
func WriteEpoch(db Writer, epoch types.EpochNumber, ids []types.CertificateID) error {
	for i, id := range ids {
		if err := db.Put(epochEntryKey(epoch, types.CertificateIndex(i)), id[:]); err != nil {
			return err
		}
	}
	return db.Put(epochKey(epoch), encodeUint64(uint64(len(ids))))
}

// WriteLatestEpoch stores the latest packed epoch marker.
func WriteLatestEpoch(db Writer, epoch types.EpochNumber) error {
	return db.Put(latestEpochKey, encodeUint64(uint64(epoch)))
}

// HasEpoch reports whether an epoch was packed.
func HasEpoch(db Reader, epoch types.EpochNumber) (bool, error) {
	return db.Has(epochKey(epoch))
}

// ReadEpochSize returns the number of certificates packed into an epoch.
func ReadEpochSize(db Reader, epoch types.EpochNumber) (uint64, error) {
	return readUint64(db, epochKey(epoch))
}

func ReadEpochEntry(db Reader, epoch types.EpochNumber, index types.CertificateIndex) (types.CertificateID, error) {
	data, err := db.Get(epochEntryKey(epoch, index))
	if err != nil {
		return types.CertificateID{}, err
	}
	if len(data) != types.HashLength {
		return types.CertificateID{}, ErrNotFound
	}
	return types.BytesToHash(data), nil
}

// ReadLatestEpoch returns the last packed epoch.
func ReadLatestEpoch(db Reader) (types.EpochNumber, error) {
	v, err := readUint64(db, latestEpochKey)
	return types.EpochNumber(v), err
}

// --- Settlement checkpoint ---

func WriteLatestSettlingBlock(db Writer, block uint64) error {
	return db.Put(latestSettlingBlockKey, encodeUint64(block))
}

func ReadLatestSettlingBlock(db Reader) (uint64, error) {
	return readUint64(db, latestSettlingBlockKey)
}

func readUint64(db Reader, key []byte) (uint64, error) {
	data, err := db.Get(key)
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, errors.New("rawdb: malformed integer record")
	}
	return binary.BigEndian.Uint64(data), nil
}
