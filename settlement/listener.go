package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/metrics"
	"github.com/eth2030/aggsettle/storage"
)

// ListenerConfig tunes the settlement event scan.
type ListenerConfig struct {
	StartBlock   uint64        `mapstructure:"start_block"` // first block scanned when no checkpoint exists
	MaxRange     uint64        `mapstructure:"max_range"`   // blocks per event query
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultListenerConfig scans from genesis in ranges of 1000 blocks, once
// per L1 slot.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{MaxRange: 1000, PollInterval: 12 * time.Second}
}

// Listener scans L1 for settlement events, settles the certificates they
// commit and checkpoints the last scanned block.
type Listener struct {
	store    Store
	contract RollupContract
	notifier Notifier
	config   ListenerConfig
	log      *log.Logger
}

// NewListener creates a listener.
func NewListener(store Store, contract RollupContract, notifier Notifier, config ListenerConfig, logger *log.Logger) *Listener {
	if config.MaxRange == 0 {
		config.MaxRange = 1000
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 12 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Listener{
		store:    store,
		contract: contract,
		notifier: notifier,
		config:   config,
		log:      logger.Module("listener"),
	}
}

// Run polls until ctx is cancelled. A failed poll is logged and retried on
// the next tick.
func (l *Listener) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()
	for {
		if err := l.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn("settlement event scan failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll scans the blocks following the checkpoint up to the head, at most
// MaxRange at a time. The checkpoint only advances past a range once every
// event in it was applied.
func (l *Listener) Poll(ctx context.Context) error {
	checkpoint, err := l.store.GetLatestSettlingBlock()
	if err != nil {
		return err
	}
	from := checkpoint + 1
	if checkpoint == 0 && l.config.StartBlock > 0 {
		from = l.config.StartBlock
	}
	head, err := l.contract.BlockNumber(ctx)
	if err != nil {
		return err
	}
	for from <= head {
		to := min(head, from+l.config.MaxRange-1)
		events, err := l.contract.SettlementEvents(ctx, from, to)
		if err != nil {
			return err
		}
		for i := range events {
			if err := l.apply(&events[i]); err != nil {
				return err
			}
		}
		if err := l.store.SetLatestSettlingBlock(to); err != nil {
			return err
		}
		metrics.SettlementLatestBlock.Set(int64(to))
		from = to + 1
	}
	return nil
}

// apply settles the certificate committed by ev. Events for unknown roots
// or certificates that cannot settle are skipped; only storage failures are
// returned.
func (l *Listener) apply(ev *Event) error {
	logger := l.log.With("network", ev.NetworkID, "root", ev.NewPessimisticRoot, "tx", ev.TxHash, "block", ev.BlockNumber)
	id, err := l.store.GetCertificateIDByRoot(ev.NetworkID, ev.NewPessimisticRoot)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Debug("settlement event for unknown root")
		return nil
	}
	if err != nil {
		return err
	}
	settled, err := l.store.SettleCertificate(id, ev.TxHash, ev.BlockNumber)
	switch {
	case errors.Is(err, storage.ErrNotSettleable), errors.Is(err, storage.ErrSettlementOrder), errors.Is(err, storage.ErrNotFound):
		logger.Warn("cannot settle certificate from event", "id", id, "err", err)
		return nil
	case err != nil:
		return err
	}
	if settled {
		metrics.CertificatesSettled.Inc()
		logger.Info("certificate settled from event", "id", id)
		l.notifier.SettlementOutcome(ev.NetworkID, id, nil)
	}
	return nil
}
