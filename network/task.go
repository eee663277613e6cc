// Package network runs one task per network. A task accepts the network's
// certificates, certifies them one height at a time and follows each
// through settlement before moving to the next height.
package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/eth2030/aggsettle/certifier"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/metrics"
	"github.com/eth2030/aggsettle/orchestrator"
	"github.com/eth2030/aggsettle/storage"
	"github.com/eth2030/aggsettle/transition"
)

// Store is the storage a task reads and writes.
type Store interface {
	storage.StateStore
	storage.PendingStore
}

// Certifier certifies a certificate against the settled state.
type Certifier interface {
	Certify(ctx context.Context, state *transition.LocalNetworkState, cert *types.Certificate) (*certifier.Output, error)
}

// ProvenSink receives certificates ready to be packed.
type ProvenSink interface {
	Submit(ctx context.Context, cert orchestrator.ProvenCertificate) error
}

type submission struct {
	cert  *types.Certificate
	reply chan error
}

type certifyResult struct {
	seq uint64
	id  types.CertificateID
	out *certifier.Output
	err error
}

type outcome struct {
	id  types.CertificateID
	err error
}

type certification struct {
	seq    uint64
	id     types.CertificateID
	height types.Height
	cancel context.CancelFunc
}

// Task is the actor owning one network. Everything below the channels is
// only touched by Run.
type Task struct {
	network   types.NetworkID
	store     Store
	certifier Certifier
	sink      ProvenSink

	submissions chan submission
	results     chan certifyResult
	outcomes    chan outcome
	quit        chan struct{}

	log *log.Logger

	expected types.Height         // next height to settle
	inflight *certification       // certification in progress
	settling *types.CertificateID // certificate handed to settlement
	seq      uint64               // last certification started
}

// NewTask creates the task of network. It does nothing until Run.
func NewTask(network types.NetworkID, store Store, c Certifier, sink ProvenSink, logger *log.Logger) *Task {
	if logger == nil {
		logger = log.Default()
	}
	return &Task{
		network:     network,
		store:       store,
		certifier:   c,
		sink:        sink,
		submissions: make(chan submission),
		results:     make(chan certifyResult, 1),
		outcomes:    make(chan outcome, 16),
		quit:        make(chan struct{}),
		log:         logger.Module("network").With("network", network),
	}
}

// Submit queues cert behind the task's current work and returns the result
// of its prechecks.
func (t *Task) Submit(ctx context.Context, cert *types.Certificate) error {
	reply := make(chan error, 1)
	select {
	case t.submissions <- submission{cert: cert, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.quit:
		return ErrTaskStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.quit:
		return ErrTaskStopped
	}
}

// SettlementOutcome reports how the settlement of id ended. A nil err means
// it settled.
func (t *Task) SettlementOutcome(id types.CertificateID, err error) {
	select {
	case t.outcomes <- outcome{id: id, err: err}:
	case <-t.quit:
	}
}

// Run resumes whatever the store says is in flight, then serves the task
// until ctx is cancelled. Storage failures end the task.
func (t *Task) Run(ctx context.Context) error {
	defer close(t.quit)
	defer t.stopCertification()

	if err := t.refresh(); err != nil {
		return err
	}
	t.log.Info("network task started", "expected", t.expected)
	if err := t.process(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sub := <-t.submissions:
			err := t.accept(sub.cert)
			sub.reply <- err
			if err != nil {
				continue
			}
			if err := t.process(ctx); err != nil {
				return err
			}

		case res := <-t.results:
			if err := t.certified(ctx, res); err != nil {
				return err
			}

		case o := <-t.outcomes:
			if err := t.settled(ctx, o); err != nil {
				return err
			}
		}
	}
}

// RunPrechecks decides whether cert may be stored as Pending when the
// network is expected to submit at expectedHeight.
func (t *Task) RunPrechecks(cert *types.Certificate, expectedHeight types.Height) error {
	fail := func(kind InitialCheckKind) *InitialCheckError {
		return &InitialCheckError{Kind: kind, Network: cert.NetworkID, Height: cert.Height}
	}
	storageErr := func(err error) error {
		e := fail(KindStorage)
		e.Err = err
		return e
	}

	settled, err := t.store.GetLatestSettledCertificate(cert.NetworkID)
	if err != nil {
		return storageErr(err)
	}
	existing, err := t.store.GetCertificateHeaderByHeight(cert.NetworkID, cert.Height)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		existing = nil
	case err != nil:
		return storageErr(err)
	}
	if existing != nil && !existing.IsReplaceable() {
		e := fail(KindIllegalReplacement)
		e.Status = existing.Status
		return e
	}
	if existing == nil && settled != nil && cert.Height <= settled.Height {
		e := fail(KindIllegalReplacement)
		e.Status = types.StatusSettled
		return e
	}
	if cert.Height != expectedHeight {
		e := fail(KindUnexpectedHeight)
		e.Expected = expectedHeight
		return e
	}

	state, err := t.store.GetLocalNetworkState(cert.NetworkID)
	if err != nil {
		return storageErr(err)
	}
	if root := state.ExitTree.Root(); root != cert.PrevLocalExitRoot {
		e := fail(KindPrevLocalExitRootMismatch)
		e.Declared, e.Settled = cert.PrevLocalExitRoot, root
		return e
	}
	return nil
}

// accept prechecks cert and stores it as Pending, abandoning whatever was
// in flight at its height.
func (t *Task) accept(cert *types.Certificate) error {
	if cert.NetworkID != t.network {
		return fmt.Errorf("%w: %d", ErrWrongNetwork, cert.NetworkID)
	}
	if err := cert.ValidateBasic(); err != nil {
		metrics.CertificatesRejected.Inc()
		return err
	}
	if err := t.refresh(); err != nil {
		return &InitialCheckError{Kind: KindStorage, Network: cert.NetworkID, Height: cert.Height, Err: err}
	}
	if err := t.RunPrechecks(cert, t.expected); err != nil {
		metrics.CertificatesRejected.Inc()
		t.log.Info("certificate rejected", "height", cert.Height, "err", err)
		return err
	}
	header, err := t.store.InsertPendingCertificate(cert)
	if err != nil {
		return &InitialCheckError{Kind: KindStorage, Network: cert.NetworkID, Height: cert.Height, Err: err}
	}
	if t.inflight != nil && t.inflight.height == cert.Height {
		t.log.Info("replacing certificate in certification", "old", t.inflight.id, "new", header.CertificateID)
		t.stopCertification()
	}
	// A replaced certificate can only be InError, so settlement is over.
	t.settling = nil
	metrics.CertificatesSubmitted.Inc()
	t.log.Info("certificate accepted", "height", cert.Height, "id", header.CertificateID)
	return nil
}

// process advances the certificate at the expected height as far as the
// task can take it on its own.
func (t *Task) process(ctx context.Context) error {
	if t.inflight != nil || t.settling != nil {
		return nil
	}
	for {
		h, err := t.store.GetCertificateHeaderByHeight(t.network, t.expected)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		switch h.Status {
		case types.StatusPending:
			return t.startCertification(ctx, h)
		case types.StatusProven:
			return t.handOff(ctx, h)
		case types.StatusCandidate:
			id := h.CertificateID
			t.settling = &id
			return nil
		case types.StatusInError:
			return nil
		case types.StatusSettled, types.StatusFinalized:
			before := t.expected
			if err := t.refresh(); err != nil {
				return err
			}
			if t.expected == before {
				return nil
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnknownStatus, h.Status)
		}
	}
}

func (t *Task) startCertification(ctx context.Context, h *types.CertificateHeader) error {
	id := h.CertificateID
	exists, err := t.store.HasProof(id)
	if err != nil {
		return err
	}
	if exists {
		return t.fail(id, &certifier.PreCertificationError{Kind: certifier.KindProofAlreadyExists, CertificateID: id})
	}
	cert, err := t.store.GetPendingCertificate(t.network, h.Height)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return t.fail(id, &certifier.PreCertificationError{Kind: certifier.KindCertificateNotFound, CertificateID: id, Err: err})
	case err != nil:
		return err
	case cert.ID() != id:
		return t.fail(id, &certifier.PreCertificationError{Kind: certifier.KindCertificateNotFound, CertificateID: id})
	}
	state, err := t.store.GetLocalNetworkState(t.network)
	if err != nil {
		return err
	}

	// The same ID may be certified again after a resubmission, so results
	// are matched on seq.
	t.seq++
	seq := t.seq
	cctx, cancel := context.WithCancel(ctx)
	t.inflight = &certification{seq: seq, id: id, height: h.Height, cancel: cancel}
	t.log.Debug("certifying", "height", h.Height, "id", id, "seq", seq)
	go func() {
		out, err := t.certifier.Certify(cctx, state, cert)
		if cctx.Err() != nil {
			return
		}
		select {
		case t.results <- certifyResult{seq: seq, id: id, out: out, err: err}:
		case <-cctx.Done():
		}
	}()
	return nil
}

func (t *Task) stopCertification() {
	if t.inflight != nil {
		t.inflight.cancel()
		t.inflight = nil
	}
}

func (t *Task) certified(ctx context.Context, res certifyResult) error {
	if t.inflight == nil || t.inflight.seq != res.seq {
		t.log.Debug("dropping stale certification result", "id", res.id, "seq", res.seq)
		return nil
	}
	t.stopCertification()
	if res.err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Cancellation says nothing about the certificate.
		if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
			t.log.Warn("certification interrupted, left pending", "id", res.id, "err", res.err)
			return nil
		}
		return t.fail(res.id, res.err)
	}
	record := &storage.ProvenRecord{State: res.out.NewState, Output: res.out.Output}
	if err := t.store.MarkProven(res.id, res.out.Proof, record); err != nil {
		return err
	}
	metrics.CertificatesProven.Inc()
	t.log.Info("certificate proven", "height", res.out.Height, "id", res.id)
	return t.process(ctx)
}

func (t *Task) handOff(ctx context.Context, h *types.CertificateHeader) error {
	id := h.CertificateID
	t.settling = &id
	err := t.sink.Submit(ctx, orchestrator.ProvenCertificate{
		CertificateID: id,
		NetworkID:     h.NetworkID,
		Height:        h.Height,
	})
	if err != nil {
		return fmt.Errorf("network: hand off %s: %w", id, err)
	}
	return nil
}

func (t *Task) settled(ctx context.Context, o outcome) error {
	if t.settling != nil && *t.settling == o.id {
		t.settling = nil
		if o.err != nil {
			// A certificate still Proven was never packed and is handed
			// off again.
			t.log.Warn("settlement failed", "id", o.id, "err", o.err)
			return t.process(ctx)
		}
	} else if o.err != nil {
		return nil
	}
	if err := t.refresh(); err != nil {
		return err
	}
	t.log.Info("certificate settled", "id", o.id, "expected", t.expected)
	return t.process(ctx)
}

// fail moves id to InError. Only the status write can fail the task.
func (t *Task) fail(id types.CertificateID, cause error) error {
	metrics.CertificatesInError.Inc()
	t.log.Warn("certificate in error", "id", id, "err", cause)
	return t.store.UpdateCertificateStatus(id, types.StatusInError, types.StatusErrorFrom(cause))
}

// refresh derives the expected height from the latest settled certificate.
func (t *Task) refresh() error {
	settled, err := t.store.GetLatestSettledCertificate(t.network)
	if err != nil {
		return err
	}
	if settled == nil {
		t.expected = 0
	} else {
		t.expected = settled.Height.Next()
	}
	return nil
}
