// Package settlement settles packed epochs on L1 and follows the chain to
// promote certificates to Settled and Finalized.
package settlement

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/metrics"
	"github.com/eth2030/aggsettle/orchestrator"
	"github.com/eth2030/aggsettle/storage"
)

var _ orchestrator.EpochPacker = (*Packer)(nil)

// Store is the storage the settlement components use.
type Store interface {
	storage.StateStore
	storage.PendingStore
	storage.EpochStore
}

// Notifier is told the settlement outcome of every packed certificate. A
// nil err means the certificate is Settled.
type Notifier interface {
	SettlementOutcome(network types.NetworkID, id types.CertificateID, err error)
}

// Packer settles the certificates of an epoch, each in its own
// transaction.
type Packer struct {
	store    Store
	settler  *Settler
	ids      IDSource
	notifier Notifier
	limit    int
	log      *log.Logger
}

// NewPacker creates a packer submitting up to limit transactions at once;
// zero means no limit.
func NewPacker(store Store, settler *Settler, ids IDSource, notifier Notifier, limit int, logger *log.Logger) *Packer {
	if logger == nil {
		logger = log.Default()
	}
	return &Packer{
		store:    store,
		settler:  settler,
		ids:      ids,
		notifier: notifier,
		limit:    limit,
		log:      logger.Module("settlement"),
	}
}

// Pack records the epoch, moves its certificates to Candidate and settles
// them concurrently. An epoch already recorded is not packed again.
func (p *Packer) Pack(ctx context.Context, epoch types.EpochNumber, certs []orchestrator.ProvenCertificate) error {
	ctx, span := otel.Tracer("aggsettle/settlement").Start(ctx, "pack")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("epoch", int64(epoch)),
		attribute.Int("certificates", len(certs)),
	)

	err := p.pack(ctx, epoch, certs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Packer) pack(ctx context.Context, epoch types.EpochNumber, certs []orchestrator.ProvenCertificate) error {
	packed, err := p.store.IsPacked(epoch)
	if err != nil {
		return err
	}
	if packed {
		p.log.Warn("epoch already packed", "epoch", epoch)
		return nil
	}
	ids := make([]types.CertificateID, len(certs))
	for i, c := range certs {
		ids[i] = c.CertificateID
	}
	if err := p.store.PackEpoch(epoch, ids); err != nil {
		err = fmt.Errorf("settlement: pack epoch %d: %w", epoch, err)
		for _, c := range certs {
			p.notifier.SettlementOutcome(c.NetworkID, c.CertificateID, err)
		}
		return err
	}
	metrics.EpochsPacked.Inc()
	metrics.EpochCertificates.Observe(float64(len(certs)))
	p.log.Info("epoch packed", "epoch", epoch, "certificates", len(certs))

	var g errgroup.Group
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for i := range certs {
		c := certs[i]
		index := types.CertificateIndex(i)
		g.Go(func() error { return p.settleOne(ctx, epoch, index, c) })
	}
	return g.Wait()
}

// settleOne only returns storage failures; settlement failures end in the
// certificate header.
func (p *Packer) settleOne(ctx context.Context, epoch types.EpochNumber, index types.CertificateIndex, c orchestrator.ProvenCertificate) error {
	logger := p.log.With("epoch", epoch, "index", index, "network", c.NetworkID, "height", c.Height)

	call, err := p.buildCall(c)
	if err != nil {
		p.notifier.SettlementOutcome(c.NetworkID, c.CertificateID, err)
		return err
	}
	receipt, err := p.settler.Settle(ctx, call)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("settlement aborted", "id", c.CertificateID)
			return nil
		}
		metrics.SettlementFailures.Inc()
		metrics.CertificatesInError.Inc()
		logger.Warn("settlement failed", "id", c.CertificateID, "err", err)
		if uerr := p.store.UpdateCertificateStatus(c.CertificateID, types.StatusInError, types.StatusErrorFrom(err)); uerr != nil {
			p.notifier.SettlementOutcome(c.NetworkID, c.CertificateID, uerr)
			return uerr
		}
		p.notifier.SettlementOutcome(c.NetworkID, c.CertificateID, err)
		return nil
	}

	settled, err := p.store.SettleCertificate(c.CertificateID, receipt.TxHash, receipt.BlockNumber)
	if err != nil {
		p.notifier.SettlementOutcome(c.NetworkID, c.CertificateID, err)
		return err
	}
	if settled {
		metrics.CertificatesSettled.Inc()
		logger.Info("certificate settled", "id", c.CertificateID, "tx", receipt.TxHash, "block", receipt.BlockNumber)
	}
	p.notifier.SettlementOutcome(c.NetworkID, c.CertificateID, nil)
	return nil
}

func (p *Packer) buildCall(c orchestrator.ProvenCertificate) (*Call, error) {
	cert, err := p.store.GetCertificate(c.CertificateID)
	if err != nil {
		return nil, fmt.Errorf("settlement: certificate %s: %w", c.CertificateID, err)
	}
	proof, err := p.store.GetProof(c.CertificateID)
	if err != nil {
		return nil, fmt.Errorf("settlement: proof %s: %w", c.CertificateID, err)
	}
	proven, err := p.store.GetProven(c.CertificateID)
	if err != nil {
		return nil, fmt.Errorf("settlement: staged state %s: %w", c.CertificateID, err)
	}
	return &Call{
		JobID:               p.ids.NextID(),
		NetworkID:           c.NetworkID,
		Height:              c.Height,
		L1InfoTreeLeafCount: cert.L1InfoTreeLeafCount,
		NewLocalExitRoot:    proven.Output.NewLocalExitRoot,
		NewPessimisticRoot:  proven.Output.NewPessimisticRoot,
		Proof:               proof,
		CustomChainData:     cert.CustomChainData,
	}, nil
}
