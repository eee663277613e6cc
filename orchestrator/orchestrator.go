// Package orchestrator collects proven certificates from every network and
// hands them to the epoch packer once per epoch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/epoch"
	"github.com/eth2030/aggsettle/log"
)

var ErrStopped = errors.New("orchestrator: stopped")

// ProvenCertificate announces a certificate ready for settlement.
type ProvenCertificate struct {
	CertificateID types.CertificateID
	NetworkID     types.NetworkID
	Height        types.Height
}

// EpochPacker settles the certificates collected during an epoch. Pack is
// called at most once per epoch, possibly with no certificates.
type EpochPacker interface {
	Pack(ctx context.Context, epoch types.EpochNumber, certs []ProvenCertificate) error
}

// Orchestrator is a single actor: only Run touches the accumulator, and
// certificates reach it through Submit.
type Orchestrator struct {
	packer EpochPacker
	events <-chan epoch.Ended
	in     chan ProvenCertificate
	errs   chan error
	quit   chan struct{}

	// Owned by Run.
	received   []ProvenCertificate
	lastPacked *types.EpochNumber

	mu      sync.RWMutex
	cursors map[types.NetworkID]types.Height

	wg  sync.WaitGroup
	log *log.Logger
}

// New creates an orchestrator packing on every event read from events.
func New(packer EpochPacker, events <-chan epoch.Ended, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		packer:  packer,
		events:  events,
		in:      make(chan ProvenCertificate),
		errs:    make(chan error, 1),
		quit:    make(chan struct{}),
		cursors: make(map[types.NetworkID]types.Height),
		log:     logger.Module("orchestrator"),
	}
}

// Resume marks every epoch up to and including last as already packed. It
// must be called before Run.
func (o *Orchestrator) Resume(last types.EpochNumber) {
	o.lastPacked = &last
}

// Submit hands a proven certificate to the orchestrator. It returns once the
// certificate joined the accumulator of the current epoch.
func (o *Orchestrator) Submit(ctx context.Context, cert ProvenCertificate) error {
	select {
	case o.in <- cert:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.quit:
		return ErrStopped
	}
}

// Cursor returns the height of the last certificate of network handed to
// the packer.
func (o *Orchestrator) Cursor(network types.NetworkID) (types.Height, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.cursors[network]
	return h, ok
}

// Run processes certificates and epoch events until ctx is cancelled or a
// pack fails, then waits for in-flight packs.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer o.wg.Wait()
	defer cancel()
	defer close(o.quit)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-o.errs:
			return err
		case cert := <-o.in:
			o.receive(cert)
		case ev := <-o.events:
			o.epochEnded(ctx, ev.Epoch)
		}
	}
}

func (o *Orchestrator) receive(cert ProvenCertificate) {
	// A certificate at the cursor height is a retry after a failed
	// settlement; anything below it is stale.
	if cursor, ok := o.Cursor(cert.NetworkID); ok && cert.Height < cursor {
		o.log.Debug("dropping stale certificate", "network", cert.NetworkID, "height", cert.Height, "cursor", cursor)
		return
	}
	for i := range o.received {
		if o.received[i].NetworkID == cert.NetworkID {
			o.log.Warn("replacing collected certificate", "network", cert.NetworkID,
				"old", o.received[i].CertificateID, "new", cert.CertificateID)
			o.received[i] = cert
			return
		}
	}
	o.log.Debug("certificate collected", "network", cert.NetworkID, "height", cert.Height, "id", cert.CertificateID)
	o.received = append(o.received, cert)
}

// epochEnded packs what was collected so far into e. Certificates received
// after this point belong to the next epoch.
func (o *Orchestrator) epochEnded(ctx context.Context, e types.EpochNumber) {
	if o.lastPacked != nil && e <= *o.lastPacked {
		o.log.Debug("epoch already packed", "epoch", e)
		return
	}
	batch := o.received
	o.received = nil
	o.lastPacked = &e

	o.mu.Lock()
	for _, c := range batch {
		o.cursors[c.NetworkID] = c.Height
	}
	o.mu.Unlock()

	o.log.Info("epoch ended", "epoch", e, "certificates", len(batch))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := o.packer.Pack(ctx, e, batch)
		if err == nil || ctx.Err() != nil {
			return
		}
		o.log.Error("failed to pack epoch", "epoch", e, "err", err)
		select {
		case o.errs <- fmt.Errorf("orchestrator: pack epoch %d: %w", e, err):
		default:
		}
	}()
}
