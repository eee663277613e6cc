package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/eth2030/aggsettle/core/rawdb"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/transition"
)

var (
	_ StateStore   = (*Store)(nil)
	_ PendingStore = (*Store)(nil)
	_ EpochStore   = (*Store)(nil)
)

// Store implements every store over one key-value database. Multi-record
// updates go through a single batch so a crash never leaves them half
// applied.
type Store struct {
	db rawdb.Database
	mu sync.Mutex // serializes read-modify-write sequences
}

// New wraps db.
func New(db rawdb.Database) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- StateStore ---

func (s *Store) GetCertificateHeader(id types.CertificateID) (*types.CertificateHeader, error) {
	return rawdb.ReadHeader(s.db, id)
}

func (s *Store) GetCertificateHeaderByHeight(network types.NetworkID, height types.Height) (*types.CertificateHeader, error) {
	id, err := rawdb.ReadHeaderIDByHeight(s.db, network, height)
	if err != nil {
		return nil, err
	}
	return rawdb.ReadHeader(s.db, id)
}

func (s *Store) UpdateCertificateStatus(id types.CertificateID, status types.CertificateStatus, cause *types.CertificateStatusError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := rawdb.ReadHeader(s.db, id)
	if err != nil {
		return err
	}
	if h.Status == types.StatusFinalized {
		return ErrFinalized
	}
	prev := h.Status
	h.Status = status
	h.Error = nil
	if status == types.StatusInError {
		h.Error = cause
	}
	batch := s.db.NewBatch()
	if err := putHeader(batch, prev, h); err != nil {
		return err
	}
	return batch.Write()
}

// CountByStatus returns the number of headers in every status, read from
// the status index.
func (s *Store) CountByStatus() (map[types.CertificateStatus]uint64, error) {
	counts := make(map[types.CertificateStatus]uint64, int(types.StatusInError)+1)
	for status := types.StatusPending; status <= types.StatusInError; status++ {
		n, err := rawdb.CountHeadersByStatus(s.db, status)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}

// putHeader writes h and moves its status index entry away from prev.
func putHeader(w rawdb.Writer, prev types.CertificateStatus, h *types.CertificateHeader) error {
	if prev != h.Status {
		if err := rawdb.DeleteHeaderStatus(w, h.CertificateID, prev); err != nil {
			return err
		}
	}
	return rawdb.WriteHeader(w, h)
}

// HeadersByStatus returns the headers in status ordered by network and
// height. Only the status index of status is scanned.
func (s *Store) HeadersByStatus(status types.CertificateStatus) ([]*types.CertificateHeader, error) {
	ids, err := rawdb.ReadHeaderIDsByStatus(s.db, status)
	if err != nil {
		return nil, err
	}
	out := make([]*types.CertificateHeader, 0, len(ids))
	for _, id := range ids {
		h, err := rawdb.ReadHeader(s.db, id)
		if errors.Is(err, rawdb.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if h.Status == status {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NetworkID != out[j].NetworkID {
			return out[i].NetworkID < out[j].NetworkID
		}
		return out[i].Height < out[j].Height
	})
	return out, nil
}

func (s *Store) GetLocalNetworkState(network types.NetworkID) (*transition.LocalNetworkState, error) {
	state, err := rawdb.ReadNetworkState(s.db, network)
	if errors.Is(err, rawdb.ErrNotFound) {
		return transition.NewLocalNetworkState(), nil
	}
	return state, err
}

func (s *Store) GetLatestSettledCertificate(network types.NetworkID) (*types.SettledCertificate, error) {
	settled, err := rawdb.ReadLatestSettled(s.db, network)
	if errors.Is(err, rawdb.ErrNotFound) {
		return nil, nil
	}
	return settled, err
}

func (s *Store) SettledNetworks() ([]types.NetworkID, error) {
	var out []types.NetworkID
	err := rawdb.IterateSettledNetworks(s.db, func(n types.NetworkID) {
		out = append(out, n)
	})
	return out, err
}

// SettleCertificate accepts a Candidate header, or an InError one whose
// staged state is still present, since the settlement transaction may land
// after its sender gave up on it.
func (s *Store) SettleCertificate(id types.CertificateID, txHash types.Hash, block uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := rawdb.ReadHeader(s.db, id)
	if err != nil {
		return false, err
	}
	switch h.Status {
	case types.StatusSettled, types.StatusFinalized:
		return false, nil
	case types.StatusCandidate, types.StatusInError:
	default:
		return false, fmt.Errorf("%w: %s is %s", ErrNotSettleable, id, h.Status)
	}
	proven, err := rawdb.ReadProven(s.db, id)
	if err != nil {
		return false, fmt.Errorf("%w: %s has no staged state: %v", ErrNotSettleable, id, err)
	}
	latest, err := s.GetLatestSettledCertificate(h.NetworkID)
	if err != nil {
		return false, err
	}
	if (latest == nil && h.Height != 0) || (latest != nil && h.Height != latest.Height.Next()) {
		return false, fmt.Errorf("%w: network %d height %d", ErrSettlementOrder, h.NetworkID, h.Height)
	}

	prev := h.Status
	h.Status = types.StatusSettled
	h.Error = nil
	h.SettlementTxHash = &txHash
	h.SettlementBlock = &block
	settled := &types.SettledCertificate{CertificateID: id, Height: h.Height}
	if h.EpochNumber != nil {
		settled.Epoch = *h.EpochNumber
	}
	if h.CertificateIndex != nil {
		settled.Index = *h.CertificateIndex
	}

	batch := s.db.NewBatch()
	if err := putHeader(batch, prev, h); err != nil {
		return false, err
	}
	if err := rawdb.WriteNetworkState(batch, h.NetworkID, proven.State); err != nil {
		return false, err
	}
	if err := rawdb.WriteLatestSettled(batch, h.NetworkID, settled); err != nil {
		return false, err
	}
	if err := rawdb.DeleteProven(batch, id); err != nil {
		return false, err
	}
	if err := batch.Write(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetCertificateIDByRoot(network types.NetworkID, root types.Hash) (types.CertificateID, error) {
	return rawdb.ReadRootIndex(s.db, network, root)
}

// GetLatestSettlingBlock returns the last L1 block scanned for settlement
// events, zero if none was.
func (s *Store) GetLatestSettlingBlock() (uint64, error) {
	block, err := rawdb.ReadLatestSettlingBlock(s.db)
	if errors.Is(err, rawdb.ErrNotFound) {
		return 0, nil
	}
	return block, err
}

func (s *Store) SetLatestSettlingBlock(block uint64) error {
	return rawdb.WriteLatestSettlingBlock(s.db, block)
}

// --- PendingStore ---

// InsertPendingCertificate drops the proof and staged state of the
// certificate it replaces. Resubmitting the same certificate resets it to
// Pending.
func (s *Store) InsertPendingCertificate(cert *types.Certificate) (*types.CertificateHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := types.NewPendingHeader(cert)
	batch := s.db.NewBatch()
	prev, err := s.GetCertificateHeaderByHeight(cert.NetworkID, cert.Height)
	switch {
	case err == nil:
		if prev.CertificateID != header.CertificateID {
			err = rawdb.DeleteHeader(batch, prev)
		} else {
			err = rawdb.DeleteHeaderStatus(batch, prev.CertificateID, prev.Status)
		}
		if err != nil {
			return nil, err
		}
		if err := rawdb.DeleteProof(batch, prev.CertificateID); err != nil {
			return nil, err
		}
		if err := rawdb.DeleteProven(batch, prev.CertificateID); err != nil {
			return nil, err
		}
	case !errors.Is(err, rawdb.ErrNotFound):
		return nil, err
	}
	if err := rawdb.WritePendingCertificate(batch, cert); err != nil {
		return nil, err
	}
	if err := rawdb.WriteHeader(batch, header); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	return header, nil
}

func (s *Store) GetPendingCertificate(network types.NetworkID, height types.Height) (*types.Certificate, error) {
	return rawdb.ReadPendingCertificate(s.db, network, height)
}

// GetCertificate returns the certificate behind a header.
func (s *Store) GetCertificate(id types.CertificateID) (*types.Certificate, error) {
	h, err := rawdb.ReadHeader(s.db, id)
	if err != nil {
		return nil, err
	}
	cert, err := rawdb.ReadPendingCertificate(s.db, h.NetworkID, h.Height)
	if err != nil {
		return nil, err
	}
	if cert.ID() != id {
		return nil, ErrNotFound
	}
	return cert, nil
}

// MarkProven also indexes the new pessimistic root so settlement events can
// be traced back to the certificate.
func (s *Store) MarkProven(id types.CertificateID, proof types.Proof, record *ProvenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := rawdb.ReadHeader(s.db, id)
	if err != nil {
		return err
	}
	prev := h.Status
	h.Status = types.StatusProven
	h.Error = nil
	h.NewPessimisticRoot = record.Output.NewPessimisticRoot

	batch := s.db.NewBatch()
	if err := rawdb.WriteProof(batch, id, proof); err != nil {
		return err
	}
	if err := rawdb.WriteProven(batch, id, record); err != nil {
		return err
	}
	if err := rawdb.WriteRootIndex(batch, h.NetworkID, record.Output.NewPessimisticRoot, id); err != nil {
		return err
	}
	if err := putHeader(batch, prev, h); err != nil {
		return err
	}
	return batch.Write()
}

func (s *Store) GetProof(id types.CertificateID) (types.Proof, error) {
	return rawdb.ReadProof(s.db, id)
}

func (s *Store) HasProof(id types.CertificateID) (bool, error) {
	return rawdb.HasProof(s.db, id)
}

func (s *Store) GetProven(id types.CertificateID) (*ProvenRecord, error) {
	return rawdb.ReadProven(s.db, id)
}

// --- EpochStore ---

func (s *Store) IsPacked(epoch types.EpochNumber) (bool, error) {
	return rawdb.HasEpoch(s.db, epoch)
}

func (s *Store) PackEpoch(epoch types.EpochNumber, ids []types.CertificateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	packed, err := rawdb.HasEpoch(s.db, epoch)
	if err != nil {
		return err
	}
	if packed {
		return fmt.Errorf("%w: %d", ErrEpochPacked, epoch)
	}
	batch := s.db.NewBatch()
	for i, id := range ids {
		h, err := rawdb.ReadHeader(s.db, id)
		if err != nil {
			return fmt.Errorf("storage: pack %s: %w", id, err)
		}
		e, idx := epoch, types.CertificateIndex(i)
		prev := h.Status
		h.EpochNumber = &e
		h.CertificateIndex = &idx
		h.Status = types.StatusCandidate
		h.Error = nil
		if err := putHeader(batch, prev, h); err != nil {
			return err
		}
	}
	if err := rawdb.WriteEpoch(batch, epoch, ids); err != nil {
		return err
	}
	latest, found, err := s.latestPackedEpoch()
	if err != nil {
		return err
	}
	// Epochs may be packed out of order; the marker only moves forward.
	if !found || epoch > latest {
		if err := rawdb.WriteLatestEpoch(batch, epoch); err != nil {
			return err
		}
	}
	return batch.Write()
}

func (s *Store) LatestPackedEpoch() (types.EpochNumber, bool, error) {
	return s.latestPackedEpoch()
}

func (s *Store) latestPackedEpoch() (types.EpochNumber, bool, error) {
	epoch, err := rawdb.ReadLatestEpoch(s.db)
	if errors.Is(err, rawdb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return epoch, true, nil
}

func (s *Store) GetEpochSize(epoch types.EpochNumber) (uint64, error) {
	return rawdb.ReadEpochSize(s.db, epoch)
}

func (s *Store) GetEpochCertificate(epoch types.EpochNumber, index types.CertificateIndex) (types.CertificateID, error) {
	return rawdb.ReadEpochEntry(s.db, epoch, index)
}

func (s *Store) GetEpochProof(epoch types.EpochNumber, index types.CertificateIndex) (types.Proof, error) {
	id, err := rawdb.ReadEpochEntry(s.db, epoch, index)
	if err != nil {
		return nil, err
	}
	return rawdb.ReadProof(s.db, id)
}
