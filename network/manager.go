package network

import (
	"context"
	"errors"
	"sync"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
)

// recoverable lists the statuses that leave work for a network task after
// a restart.
var recoverable = []types.CertificateStatus{
	types.StatusPending,
	types.StatusProven,
	types.StatusCandidate,
	types.StatusInError,
}

// Manager spawns a task per network on first use and routes submissions
// and settlement outcomes to it.
type Manager struct {
	store     Store
	certifier Certifier
	sink      ProvenSink
	base      *log.Logger
	log       *log.Logger

	mu    sync.Mutex
	tasks map[types.NetworkID]*Task
	ctx   context.Context
	wg    sync.WaitGroup
}

// NewManager creates a manager. Tasks start once Run is called.
func NewManager(store Store, c Certifier, sink ProvenSink, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		store:     store,
		certifier: c,
		sink:      sink,
		base:      logger,
		log:       logger.Module("network"),
		tasks:     make(map[types.NetworkID]*Task),
	}
}

// Run restarts a task for every network with unsettled certificates, then
// serves until ctx is cancelled and all tasks have stopped.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	seen := make(map[types.NetworkID]bool)
	for _, status := range recoverable {
		headers, err := m.store.HeadersByStatus(status)
		if err != nil {
			return err
		}
		for _, h := range headers {
			if seen[h.NetworkID] {
				continue
			}
			seen[h.NetworkID] = true
			if _, err := m.task(h.NetworkID); err != nil {
				return err
			}
		}
	}
	if len(seen) > 0 {
		m.log.Info("recovered network tasks", "count", len(seen))
	}

	<-ctx.Done()
	m.wg.Wait()
	return ctx.Err()
}

// Submit hands cert to its network's task and returns its id once the
// certificate is stored as Pending.
func (m *Manager) Submit(ctx context.Context, cert *types.Certificate) (types.CertificateID, error) {
	t, err := m.task(cert.NetworkID)
	if err != nil {
		return types.CertificateID{}, err
	}
	if err := t.Submit(ctx, cert); err != nil {
		return types.CertificateID{}, err
	}
	return cert.ID(), nil
}

// SettlementOutcome implements settlement.Notifier.
func (m *Manager) SettlementOutcome(network types.NetworkID, id types.CertificateID, err error) {
	t, terr := m.task(network)
	if terr != nil {
		m.log.Warn("dropping settlement outcome", "network", network, "id", id, "err", terr)
		return
	}
	t.SettlementOutcome(id, err)
}

// task returns the running task of network, spawning it if needed.
func (m *Manager) task(network types.NetworkID) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil, ErrNotRunning
	}
	if err := m.ctx.Err(); err != nil {
		return nil, ErrNotRunning
	}
	if t, ok := m.tasks[network]; ok {
		return t, nil
	}
	t := NewTask(network, m.store, m.certifier, m.sink, m.base)
	m.tasks[network] = t
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := t.Run(m.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("network task failed", "network", network, "err", err)
		}
		m.mu.Lock()
		if m.tasks[network] == t {
			delete(m.tasks, network)
		}
		m.mu.Unlock()
	}()
	return t, nil
}
