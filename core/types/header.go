package types

// CertificateHeader is the persisted summary of a certificate. Only status
// transitions mutate it.
type CertificateHeader struct {
	CertificateID      CertificateID           `json:"certificate_id"`
	NetworkID          NetworkID               `json:"network_id"`
	Height             Height                  `json:"height"`
	EpochNumber        *EpochNumber            `json:"epoch_number,omitempty"`
	CertificateIndex   *CertificateIndex       `json:"certificate_index,omitempty"`
	PrevLocalExitRoot  Hash                    `json:"prev_local_exit_root"`
	NewLocalExitRoot   Hash                    `json:"new_local_exit_root"`
	NewPessimisticRoot Hash                    `json:"new_pessimistic_root"`
	Metadata           Hash                    `json:"metadata"`
	Status             CertificateStatus       `json:"status"`
	Error              *CertificateStatusError `json:"error,omitempty"`
	SettlementTxHash   *Hash                   `json:"settlement_tx_hash,omitempty"`
	SettlementBlock    *uint64                 `json:"settlement_block,omitempty"`
}

// NewPendingHeader builds the header written when a certificate is accepted.
func NewPendingHeader(c *Certificate) *CertificateHeader {
	return &CertificateHeader{
		CertificateID:     c.ID(),
		NetworkID:         c.NetworkID,
		Height:            c.Height,
		PrevLocalExitRoot: c.PrevLocalExitRoot,
		NewLocalExitRoot:  c.NewLocalExitRoot,
		Metadata:          c.Metadata,
		Status:            StatusPending,
	}
}

// IsReplaceable reports whether a new certificate may take this header's
// height: the certificate has not gone past Pending, or it failed with a
// retryable cause.
func (h *CertificateHeader) IsReplaceable() bool {
	switch h.Status {
	case StatusPending:
		return true
	case StatusInError:
		return h.Error == nil || h.Error.Retryable
	default:
		return false
	}
}

// Copy returns a deep copy of the header.
func (h *CertificateHeader) Copy() *CertificateHeader {
	cpy := *h
	if h.EpochNumber != nil {
		e := *h.EpochNumber
		cpy.EpochNumber = &e
	}
	if h.CertificateIndex != nil {
		i := *h.CertificateIndex
		cpy.CertificateIndex = &i
	}
	if h.Error != nil {
		e := *h.Error
		cpy.Error = &e
	}
	if h.SettlementTxHash != nil {
		tx := *h.SettlementTxHash
		cpy.SettlementTxHash = &tx
	}
	if h.SettlementBlock != nil {
		b := *h.SettlementBlock
		cpy.SettlementBlock = &b
	}
	return &cpy
}

// SettledCertificate records the latest settled certificate of a network.
type SettledCertificate struct {
	CertificateID CertificateID    `json:"certificate_id"`
	Height        Height           `json:"height"`
	Epoch         EpochNumber      `json:"epoch"`
	Index         CertificateIndex `json:"index"`
}

// Proof is the opaque artifact produced by the prover. The core only ever
// hands it back to the prover for verification and forwards it to L1.
type Proof []byte
