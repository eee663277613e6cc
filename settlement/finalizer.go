package settlement

import (
	"context"
	"time"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/metrics"
)

// Finalizer promotes Settled certificates once their settlement block is
// final on L1.
type Finalizer struct {
	store     Store
	contract  RollupContract
	interval  time.Duration
	finalized uint64
	log       *log.Logger
}

// NewFinalizer creates a finalizer polling every interval.
func NewFinalizer(store Store, contract RollupContract, interval time.Duration, logger *log.Logger) *Finalizer {
	if interval <= 0 {
		interval = 12 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Finalizer{store: store, contract: contract, interval: interval, log: logger.Module("finalizer")}
}

// Run polls until ctx is cancelled. Failures are logged and retried on the
// next tick.
func (f *Finalizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		if err := f.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("finalization poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll finalizes every Settled certificate at or below the L1 finalized
// block. Certificates settled below an already seen finalized block are
// picked up on the next poll.
func (f *Finalizer) Poll(ctx context.Context) error {
	finalized, err := f.contract.FinalizedBlock(ctx)
	if err != nil {
		return err
	}
	if finalized < f.finalized {
		f.log.Warn("finalized block went backwards", "block", finalized, "seen", f.finalized)
		finalized = f.finalized
	}
	headers, err := f.store.HeadersByStatus(types.StatusSettled)
	if err != nil {
		return err
	}
	for _, h := range headers {
		if h.SettlementBlock == nil || *h.SettlementBlock > finalized {
			continue
		}
		if err := f.store.UpdateCertificateStatus(h.CertificateID, types.StatusFinalized, nil); err != nil {
			return err
		}
		metrics.CertificatesFinalized.Inc()
		f.log.Info("certificate finalized", "network", h.NetworkID, "height", h.Height, "id", h.CertificateID, "block", *h.SettlementBlock)
	}
	f.finalized = finalized
	metrics.FinalizedBlock.Set(int64(finalized))
	return nil
}
