// Package storage defines the stores the aggregator persists certificates,
// network states and epochs through, and implements them over a rawdb
// key-value database.
package storage

import (
	"errors"

	"github.com/eth2030/aggsettle/core/rawdb"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/transition"
)

// Storage errors.
var (
	ErrNotFound        = rawdb.ErrNotFound
	ErrEpochPacked     = errors.New("storage: epoch already packed")
	ErrNotSettleable   = errors.New("storage: certificate is not awaiting settlement")
	ErrSettlementOrder = errors.New("storage: certificate does not follow the latest settled height")
	ErrFinalized       = errors.New("storage: certificate already finalized")
)

// ProvenRecord is the staged result of a certification.
type ProvenRecord = rawdb.ProvenRecord

// StateStore holds certificate headers and the settled state of every
// network.
type StateStore interface {
	GetCertificateHeader(id types.CertificateID) (*types.CertificateHeader, error)
	GetCertificateHeaderByHeight(network types.NetworkID, height types.Height) (*types.CertificateHeader, error)
	// UpdateCertificateStatus moves a header to status, recording cause
	// when the status is InError.
	UpdateCertificateStatus(id types.CertificateID, status types.CertificateStatus, cause *types.CertificateStatusError) error
	HeadersByStatus(status types.CertificateStatus) ([]*types.CertificateHeader, error)

	// GetLocalNetworkState returns the settled state of a network, or the
	// empty state when it never settled.
	GetLocalNetworkState(network types.NetworkID) (*transition.LocalNetworkState, error)
	// GetLatestSettledCertificate returns nil when the network never settled.
	GetLatestSettledCertificate(network types.NetworkID) (*types.SettledCertificate, error)
	SettledNetworks() ([]types.NetworkID, error)

	// SettleCertificate commits the staged state of a certificate together
	// with its Settled header. It reports false when the certificate was
	// already settled.
	SettleCertificate(id types.CertificateID, txHash types.Hash, block uint64) (bool, error)
	GetCertificateIDByRoot(network types.NetworkID, root types.Hash) (types.CertificateID, error)

	GetLatestSettlingBlock() (uint64, error)
	SetLatestSettlingBlock(block uint64) error
}

// PendingStore holds certificates until they settle, along with the proof
// and the state staged by their certification.
type PendingStore interface {
	// InsertPendingCertificate stores cert with a Pending header, replacing
	// whatever occupied its height.
	InsertPendingCertificate(cert *types.Certificate) (*types.CertificateHeader, error)
	GetPendingCertificate(network types.NetworkID, height types.Height) (*types.Certificate, error)
	GetCertificate(id types.CertificateID) (*types.Certificate, error)

	// MarkProven stores the proof and staged state of a certificate and
	// moves its header to Proven in one write.
	MarkProven(id types.CertificateID, proof types.Proof, record *ProvenRecord) error
	GetProof(id types.CertificateID) (types.Proof, error)
	HasProof(id types.CertificateID) (bool, error)
	GetProven(id types.CertificateID) (*ProvenRecord, error)
}

// EpochStore records which certificates each epoch settled.
type EpochStore interface {
	IsPacked(epoch types.EpochNumber) (bool, error)
	// PackEpoch assigns ids to epoch in order and moves their headers to
	// Candidate. It fails with ErrEpochPacked on a second call for the same
	// epoch.
	PackEpoch(epoch types.EpochNumber, ids []types.CertificateID) error
	LatestPackedEpoch() (types.EpochNumber, bool, error)
	GetEpochSize(epoch types.EpochNumber) (uint64, error)
	GetEpochCertificate(epoch types.EpochNumber, index types.CertificateIndex) (types.CertificateID, error)
	GetEpochProof(epoch types.EpochNumber, index types.CertificateIndex) (types.Proof, error)
}
