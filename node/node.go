package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/api"
	"github.com/eth2030/aggsettle/certifier"
	"github.com/eth2030/aggsettle/core/rawdb"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/crypto"
	"github.com/eth2030/aggsettle/epoch"
	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/metrics"
	"github.com/eth2030/aggsettle/network"
	"github.com/eth2030/aggsettle/orchestrator"
	"github.com/eth2030/aggsettle/prover"
	"github.com/eth2030/aggsettle/settlement"
	"github.com/eth2030/aggsettle/settlement/l1"
	"github.com/eth2030/aggsettle/storage"
	"github.com/eth2030/aggsettle/tracing"
)

// L1 is the settlement layer as the node uses it.
type L1 interface {
	settlement.RollupContract
	certifier.L1InfoRootFetcher
	certifier.AggchainContextFetcher
}

// resumableClock is an epoch clock that can skip epochs already packed.
type resumableClock interface {
	epoch.Clock
	Resume(types.EpochNumber)
}

// Node is a running aggregator.
type Node struct {
	config *Config
	log    *log.Logger

	store   *storage.Store
	chain   L1
	closeL1 func()

	dispatcher   *prover.Dispatcher
	manager      *network.Manager
	orchestrator *orchestrator.Orchestrator
	clock        resumableClock
	events       *epoch.Subscription
	listener     *settlement.Listener
	finalizer    *settlement.Finalizer
	router       http.Handler
	server       *api.Server
	health       *HealthChecker
	components   *componentStates
}

// maxEpochLag is the number of epochs packing may trail the clock before
// the node reports itself degraded.
const maxEpochLag = 2

// New dials L1 with the settler key and creates a node over it.
func New(ctx context.Context, config *Config, logger *log.Logger) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(config.L1.SettlerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("settler key: %w", err)
	}
	contract, client, err := l1.Dial(ctx, config.L1.RPCURL, config.contractConfig(), key)
	if err != nil {
		return nil, err
	}
	n, err := NewWithL1(config, contract, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	n.closeL1 = client.Close
	return n, nil
}

// NewWithL1 creates a node settling on chain. It opens storage and wires
// every component but starts nothing.
func NewWithL1(config *Config, chain L1, logger *log.Logger) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	n := &Node{config: config, log: logger.Module("node"), chain: chain}

	db, err := n.openDatabase()
	if err != nil {
		return nil, err
	}
	n.store = storage.New(db)
	if err := n.wire(logger); err != nil {
		n.store.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) openDatabase() (rawdb.Database, error) {
	switch n.config.Storage.Engine {
	case StorageMemory:
		n.log.Warn("using in-memory storage, state is lost on exit")
		return rawdb.NewMemoryDB(), nil
	default:
		path := n.config.ResolvePath(n.config.Storage.Path)
		db, err := rawdb.NewLevelDB(path, n.config.Storage.LevelDBConfig)
		if err != nil {
			return nil, fmt.Errorf("open database %s: %w", path, err)
		}
		n.log.Info("opened database", "path", path)
		return db, nil
	}
}

func (n *Node) wire(logger *log.Logger) error {
	config := n.config

	proofs, err := proofVerifier(config.Networks)
	if err != nil {
		return err
	}
	for _, nc := range config.Networks {
		n.log.Info("network configured", "network", nc.ID, "sequencer", nc.TrustedSequencer.Checksum(),
			"signers", len(nc.Signers), "threshold", nc.Threshold)
	}
	verifier := aggchain.NewVerifier(proofs)
	local, err := n.localProver(verifier)
	if err != nil {
		return err
	}
	n.dispatcher = prover.NewDispatcher(local, config.Prover.DispatcherConfig, logger)
	contexts := newContextFetcher(config.Networks, n.chain)
	cert := certifier.New(n.dispatcher, verifier, n.chain, contexts, logger)

	n.manager = network.NewManager(n.store, cert, provenSink{n}, logger)

	settler := settlement.NewSettler(n.chain, config.Settlement.SettlerConfig, logger)
	ids := settlement.NewCounter(uint64(time.Now().UnixNano()))
	packer := settlement.NewPacker(n.store, settler, ids, n.manager, config.Settlement.Concurrency, logger)

	switch config.Epoch.Mode {
	case EpochModeBlock:
		n.clock, err = epoch.NewBlockClock(config.Epoch.Block, n.chain, logger)
	default:
		tc := config.Epoch.Time
		if tc.Genesis.IsZero() {
			tc.Genesis = time.Unix(0, 0)
		}
		n.clock, err = epoch.NewTimeClock(tc, logger)
	}
	if err != nil {
		n.dispatcher.Close()
		return err
	}
	n.events = n.clock.Subscribe()
	n.orchestrator = orchestrator.New(packer, n.events.C(), logger)

	last, found, err := n.store.LatestPackedEpoch()
	if err != nil {
		n.dispatcher.Close()
		return fmt.Errorf("read last packed epoch: %w", err)
	}
	if found {
		n.orchestrator.Resume(last)
		n.clock.Resume(last + 1)
		n.log.Info("resuming after packed epoch", "epoch", last)
	}

	n.listener = settlement.NewListener(n.store, n.chain, n.manager, config.L1.Listener, logger)
	n.finalizer = settlement.NewFinalizer(n.store, n.chain, config.L1.FinalityInterval, logger)

	exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())
	exporter.RegisterCollector(&statusCollector{store: n.store, log: n.log})
	n.components = newComponentStates()
	n.health = NewHealthChecker(5 * time.Second)
	n.health.RegisterSubsystem("components", n.components)
	n.health.RegisterSubsystem("l1", CheckFunc(n.checkL1))
	n.health.RegisterSubsystem("epochs", CheckFunc(n.checkEpochs))

	handler := api.NewHandler(n.manager, n.store, config.API.MaxBodySize, logger).WithHealth(n.health)
	n.router = api.NewRouter(handler, exporter)
	n.server = api.NewServer(config.API, n.router, logger)
	return nil
}

func (n *Node) localProver(verifier *aggchain.Verifier) (*prover.Local, error) {
	var (
		signer *crypto.Signer
		err    error
	)
	if n.config.Prover.Key == "" {
		n.log.Warn("no prover key configured, attesting with an ephemeral key")
		signer, err = crypto.GenerateSigner()
	} else {
		signer, err = crypto.SignerFromHex(n.config.Prover.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("prover key: %w", err)
	}
	local := prover.NewLocal(verifier, signer)
	if n.config.Prover.BLSSeed == "" {
		return local, nil
	}
	seed, err := hexutil.Decode(n.config.Prover.BLSSeed)
	if err != nil {
		return nil, fmt.Errorf("prover bls seed: %w", err)
	}
	bls, err := crypto.NewBLSSigner(seed)
	if err != nil {
		return nil, fmt.Errorf("prover bls key: %w", err)
	}
	return local.WithBLS(bls), nil
}

// Handler returns the admin API handler.
func (n *Node) Handler() http.Handler { return n.router }

// Store returns the node's storage.
func (n *Node) Store() *storage.Store { return n.store }

// Run starts every component and blocks until ctx is cancelled or one of
// them fails. It returns nil on a clean shutdown.
func (n *Node) Run(ctx context.Context) error {
	shutdownTracing, err := tracing.Setup(ctx, n.config.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			n.log.Warn("tracing shutdown failed", "err", err)
		}
	}()

	n.log.Info("starting aggregator", "epoch_mode", n.config.Epoch.Mode, "networks", len(n.config.Networks))
	g, gctx := errgroup.WithContext(ctx)
	start := func(name string, run func(context.Context) error) {
		n.components.started(name)
		g.Go(func() error {
			err := run(gctx)
			n.components.stopped(name, err)
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	start("network", n.manager.Run)
	start("orchestrator", n.orchestrator.Run)
	start("epoch", n.clock.Run)
	start("listener", n.listener.Run)
	start("finalizer", n.finalizer.Run)
	start("api", n.server.Run)
	err = g.Wait()

	n.events.Unsubscribe()
	n.dispatcher.Close()
	if err != nil {
		n.log.Error("aggregator stopped", "err", err)
		return err
	}
	n.log.Info("aggregator stopped")
	return nil
}

// Close releases the prover, storage and the L1 connection. It must be
// called after Run returns.
func (n *Node) Close() error {
	n.dispatcher.Close()
	if n.closeL1 != nil {
		n.closeL1()
	}
	return n.store.Close()
}

func (n *Node) checkL1(ctx context.Context) *SubsystemHealth {
	head, err := n.chain.BlockNumber(ctx)
	if err != nil {
		return &SubsystemHealth{Status: StatusUnhealthy, Message: err.Error()}
	}
	return &SubsystemHealth{Status: StatusHealthy, Message: fmt.Sprintf("head %d", head)}
}

func (n *Node) checkEpochs(context.Context) *SubsystemHealth {
	last, found, err := n.store.LatestPackedEpoch()
	if err != nil {
		return &SubsystemHealth{Status: StatusUnhealthy, Message: err.Error()}
	}
	current := n.clock.Current()
	if !found {
		return &SubsystemHealth{Status: StatusHealthy, Message: fmt.Sprintf("epoch %d, nothing packed", current)}
	}
	if current > last && current-last > maxEpochLag {
		return &SubsystemHealth{Status: StatusDegraded, Message: fmt.Sprintf("packing %d epochs behind", current-last)}
	}
	return &SubsystemHealth{Status: StatusHealthy, Message: fmt.Sprintf("epoch %d, last packed %d", current, last)}
}

// provenSink forwards proven certificates to the orchestrator, which is
// created after the network manager that feeds it.
type provenSink struct {
	n *Node
}

func (s provenSink) Submit(ctx context.Context, cert orchestrator.ProvenCertificate) error {
	return s.n.orchestrator.Submit(ctx, cert)
}

// contractConfig locates the L1 contracts.
func (c *Config) contractConfig() l1.Config {
	aggchains := make(map[types.NetworkID]common.Address)
	for _, nc := range c.Networks {
		if nc.Aggchain != (common.Address{}) {
			aggchains[nc.ID] = nc.Aggchain
		}
	}
	return l1.Config{
		RollupManager:  c.L1.RollupManager,
		GlobalExitRoot: c.L1.GlobalExitRoot,
		Aggchains:      aggchains,
		GasLimit:       c.L1.GasLimit,
	}
}

// proofVerifier registers the aggchain proof keys of every network.
func proofVerifier(networks []NetworkConfig) (aggchain.ProofVerifier, error) {
	attested := aggchain.NewAttestedProofVerifier()
	bls := aggchain.NewBLSProofVerifier()
	for _, nc := range networks {
		if !nc.ProofAttester.IsZero() {
			attested.Register(nc.VKey, nc.ProofAttester)
		}
		if nc.ProofBLSKey != "" {
			pubkey, err := hexutil.Decode(nc.ProofBLSKey)
			if err != nil {
				return nil, fmt.Errorf("network %d: bls key: %w", nc.ID, err)
			}
			bls.Register(nc.VKey, pubkey)
		}
	}
	return aggchain.MultiProofVerifier{attested, bls}, nil
}

// contextFetcher serves aggchain contexts from the configured networks and
// reads the trusted sequencer from L1 when the configuration omits it.
type contextFetcher struct {
	networks map[types.NetworkID]NetworkConfig
	l1       certifier.AggchainContextFetcher
}

func newContextFetcher(networks []NetworkConfig, chain certifier.AggchainContextFetcher) *contextFetcher {
	f := &contextFetcher{networks: make(map[types.NetworkID]NetworkConfig, len(networks)), l1: chain}
	for _, nc := range networks {
		f.networks[nc.ID] = nc
	}
	return f
}

func (f *contextFetcher) AggchainContext(ctx context.Context, id types.NetworkID) (*aggchain.Context, error) {
	nc, ok := f.networks[id]
	if !ok {
		return f.l1.AggchainContext(ctx, id)
	}
	actx := &aggchain.Context{
		TrustedSequencer: nc.TrustedSequencer,
		Signers:          append([]types.Address(nil), nc.Signers...),
		Threshold:        nc.Threshold,
		VKey:             nc.VKey,
	}
	if actx.TrustedSequencer != (types.Address{}) {
		return actx, nil
	}
	remote, err := f.l1.AggchainContext(ctx, id)
	if err != nil {
		if errors.Is(err, certifier.ErrNoAggchainContext) && len(actx.Signers) > 0 {
			// Multisig-only networks need no sequencer.
			return actx, nil
		}
		return nil, err
	}
	actx.TrustedSequencer = remote.TrustedSequencer
	return actx, nil
}

// statusCollector reports how many certificates sit in each status.
type statusCollector struct {
	store interface {
		CountByStatus() (map[types.CertificateStatus]uint64, error)
	}
	log *log.Logger
}

func (c *statusCollector) Describe() (string, string) {
	return "certificates.by_status", "Certificates currently in each lifecycle status"
}

func (c *statusCollector) Collect() []metrics.MetricLine {
	counts, err := c.store.CountByStatus()
	if err != nil {
		c.log.Warn("status count failed", "err", err)
		return nil
	}
	lines := make([]metrics.MetricLine, 0, len(counts))
	for s := types.StatusPending; s <= types.StatusInError; s++ {
		lines = append(lines, metrics.MetricLine{
			Labels: map[string]string{"status": s.String()},
			Value:  float64(counts[s]),
		})
	}
	return lines
}
