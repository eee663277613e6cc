package prover

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/metrics"
	"github.com/eth2030/aggsettle/tracing"
	"github.com/eth2030/aggsettle/transition"
)

// DispatcherConfig configures the proving worker pool.
type DispatcherConfig struct {
	// Workers is the number of concurrent proof generations.
	Workers int `mapstructure:"workers"`

	// QueueSize is the number of witnesses that may wait for a worker.
	QueueSize int `mapstructure:"queue_size"`
}

// DefaultDispatcherConfig returns a config with sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:   4,
		QueueSize: 256,
	}
}

// proveResult is the outcome of a single proof generation.
type proveResult struct {
	proof    types.Proof
	err      error
	duration time.Duration
}

// proveJob is an internal work item for the worker pool.
type proveJob struct {
	ctx     context.Context
	witness *transition.Witness
	result  chan proveResult
}

// Dispatcher runs a backend's Prove on a bounded worker pool so that a
// long proof only blocks the caller that asked for it. Verification is
// forwarded to the backend directly. Thread-safe.
type Dispatcher struct {
	backend Prover
	config  DispatcherConfig
	jobs    chan proveJob
	quit    chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
	log     *log.Logger
}

// NewDispatcher creates and starts a dispatcher in front of backend.
func NewDispatcher(backend Prover, config DispatcherConfig, logger *log.Logger) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if logger == nil {
		logger = log.Default()
	}

	d := &Dispatcher{
		backend: backend,
		config:  config,
		jobs:    make(chan proveJob, config.QueueSize),
		quit:    make(chan struct{}),
		log:     logger.Module("prover"),
	}

	d.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go d.worker()
	}
	return d
}

// Prove implements Prover. It waits for a free queue slot and then for the
// result, giving up when ctx is done or the dispatcher closes.
func (d *Dispatcher) Prove(ctx context.Context, w *transition.Witness) (types.Proof, error) {
	if d.closed.Load() {
		return nil, ErrDispatcherClosed
	}
	job := proveJob{ctx: ctx, witness: w, result: make(chan proveResult, 1)}

	select {
	case d.jobs <- job:
		metrics.ProverQueueDepth.Inc()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.quit:
		return nil, ErrDispatcherClosed
	}

	select {
	case res := <-job.result:
		return res.proof, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.quit:
		return nil, ErrDispatcherClosed
	}
}

// Verify implements Prover.
func (d *Dispatcher) Verify(ctx context.Context, proof types.Proof, out *transition.PessimisticProofOutput) error {
	return d.backend.Verify(ctx, proof, out)
}

// Close stops the workers. Proofs in flight run to completion; queued ones
// are dropped and their callers get ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	if d.closed.CompareAndSwap(false, true) {
		close(d.quit)
		d.wg.Wait()
	}
}

// worker is the main loop for a proving goroutine.
func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.quit:
			return
		case job := <-d.jobs:
			metrics.ProverQueueDepth.Dec()
			job.result <- d.run(job)
		}
	}
}

func (d *Dispatcher) run(job proveJob) proveResult {
	// The caller may have given up while the job was queued.
	if err := job.ctx.Err(); err != nil {
		return proveResult{err: err}
	}
	ctx, span := tracing.Start(job.ctx, "prover", "prove",
		attribute.Int64("network", int64(job.witness.OriginNetwork)),
		attribute.Int64("height", int64(job.witness.Height)))
	start := time.Now()
	proof, err := d.backend.Prove(ctx, job.witness)
	duration := metrics.ProverLatency.ObserveSince(start)
	tracing.End(span, err)
	if err != nil {
		metrics.ProverFailures.Inc()
		d.log.Warn("proof generation failed", "network", job.witness.OriginNetwork, "height", job.witness.Height, "err", err)
	} else {
		d.log.Debug("proof generated", "network", job.witness.OriginNetwork, "height", job.witness.Height, "elapsed", duration)
	}
	return proveResult{proof: proof, err: err, duration: duration}
}
