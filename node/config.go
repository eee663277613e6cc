// Package node wires the aggregator together: storage, the L1 contract,
// the prover, per-network tasks, the epoch clock, the orchestrator, the
// settlement pipeline and the admin API.
package node

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/aggsettle/api"
	"github.com/eth2030/aggsettle/core/rawdb"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/epoch"
	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/prover"
	"github.com/eth2030/aggsettle/settlement"
	"github.com/eth2030/aggsettle/tracing"
)

// Epoch clock modes.
const (
	EpochModeTime  = "time"
	EpochModeBlock = "block"
)

// Storage engines.
const (
	StorageLevelDB = "leveldb"
	StorageMemory  = "memory"
)

// Config holds all configuration of an aggregator node.
type Config struct {
	// DataDir is the root directory for persistent data.
	DataDir string `mapstructure:"datadir"`

	L1         L1Config         `mapstructure:"l1"`
	Epoch      EpochConfig      `mapstructure:"epoch"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Prover     ProverConfig     `mapstructure:"prover"`
	Storage    StorageConfig    `mapstructure:"storage"`
	API        api.Config       `mapstructure:"api"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    tracing.Config   `mapstructure:"tracing"`

	// Networks lists networks whose aggchain parameters are configured
	// locally rather than read from L1.
	Networks []NetworkConfig `mapstructure:"networks"`
}

// L1Config locates the settlement layer.
type L1Config struct {
	RPCURL         string         `mapstructure:"rpc_url"`
	RollupManager  common.Address `mapstructure:"rollup_manager"`
	GlobalExitRoot common.Address `mapstructure:"global_exit_root"`
	GasLimit       uint64         `mapstructure:"gas_limit"`

	// SettlerKey is the hex private key signing settlement transactions.
	SettlerKey string `mapstructure:"settler_key"`

	Listener settlement.ListenerConfig `mapstructure:"listener"`

	// FinalityInterval is how often settled certificates are checked
	// against the finalized L1 head.
	FinalityInterval time.Duration `mapstructure:"finality_interval"`
}

// EpochConfig selects and tunes the epoch clock.
type EpochConfig struct {
	Mode  string                 `mapstructure:"mode"`
	Time  epoch.TimeClockConfig  `mapstructure:"time"`
	Block epoch.BlockClockConfig `mapstructure:"block"`
}

// SettlementConfig tunes settlement transactions.
type SettlementConfig struct {
	settlement.SettlerConfig `mapstructure:",squash"`

	// Concurrency bounds the settlement transactions in flight per epoch.
	// Zero means no bound.
	Concurrency int `mapstructure:"concurrency"`
}

// ProverConfig configures the local prover.
type ProverConfig struct {
	prover.DispatcherConfig `mapstructure:",squash"`

	// Key is the hex ECDSA key attesting proofs. A random key is used when
	// empty, which makes proofs unverifiable across restarts.
	Key string `mapstructure:"key"`
	// BLSSeed is hex key material for the optional BLS co-signature.
	BLSSeed string `mapstructure:"bls_seed"`
}

// StorageConfig selects the storage engine.
type StorageConfig struct {
	rawdb.LevelDBConfig `mapstructure:",squash"`

	Engine string `mapstructure:"engine"`
	// Path is the LevelDB directory, relative to DataDir unless absolute.
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NetworkConfig registers the aggchain parameters of one network.
type NetworkConfig struct {
	ID               types.NetworkID `mapstructure:"id"`
	TrustedSequencer types.Address   `mapstructure:"trusted_sequencer"`
	Signers          []types.Address `mapstructure:"signers"`
	Threshold        uint32          `mapstructure:"threshold"`
	VKey             types.Hash      `mapstructure:"vkey"`

	// Aggchain is the network's aggchain contract on L1. The trusted
	// sequencer is read from it when TrustedSequencer is unset.
	Aggchain common.Address `mapstructure:"aggchain"`

	// ProofAttester signs aggchain proofs for VKey.
	ProofAttester types.Address `mapstructure:"proof_attester"`
	// ProofBLSKey is the hex compressed BLS public key signing aggchain
	// proofs for VKey.
	ProofBLSKey string `mapstructure:"proof_bls_key"`
}

// DefaultConfig returns a Config with sensible defaults. The L1 endpoint,
// contract addresses and settler key have no default.
func DefaultConfig() Config {
	return Config{
		DataDir: "aggsettle-data",
		L1: L1Config{
			Listener:         settlement.DefaultListenerConfig(),
			FinalityInterval: 30 * time.Second,
		},
		Epoch: EpochConfig{
			Mode: EpochModeTime,
			Time: epoch.TimeClockConfig{Duration: time.Minute},
			Block: epoch.BlockClockConfig{
				BlocksPerEpoch: 5,
				PollInterval:   4 * time.Second,
			},
		},
		Settlement: SettlementConfig{
			SettlerConfig: settlement.DefaultSettlerConfig(),
			Concurrency:   8,
		},
		Prover: ProverConfig{DispatcherConfig: prover.DefaultDispatcherConfig()},
		Storage: StorageConfig{
			LevelDBConfig: rawdb.DefaultLevelDBConfig(),
			Engine:        StorageLevelDB,
			Path:          "db",
		},
		API:     api.DefaultConfig(),
		Log:     LogConfig{Level: "info", Format: string(log.FormatText)},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case StorageLevelDB:
		if c.DataDir == "" && !filepath.IsAbs(c.Storage.Path) {
			return errors.New("config: datadir must not be empty")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.L1.RPCURL == "" {
		return errors.New("config: l1 rpc url must not be empty")
	}
	if c.L1.RollupManager == (common.Address{}) {
		return errors.New("config: rollup manager address must be set")
	}
	if c.L1.SettlerKey == "" {
		return errors.New("config: settler key must be set")
	}
	if c.L1.FinalityInterval <= 0 {
		return fmt.Errorf("config: invalid finality interval: %s", c.L1.FinalityInterval)
	}
	switch c.Epoch.Mode {
	case EpochModeTime:
		if c.Epoch.Time.Duration <= 0 {
			return fmt.Errorf("config: invalid epoch duration: %s", c.Epoch.Time.Duration)
		}
	case EpochModeBlock:
		if c.Epoch.Block.BlocksPerEpoch == 0 {
			return errors.New("config: blocks per epoch must be positive")
		}
	default:
		return fmt.Errorf("config: unknown epoch mode %q", c.Epoch.Mode)
	}
	if c.Settlement.MaxAttempts <= 0 {
		return fmt.Errorf("config: invalid max attempts: %d", c.Settlement.MaxAttempts)
	}
	if c.Settlement.Concurrency < 0 {
		return fmt.Errorf("config: invalid settlement concurrency: %d", c.Settlement.Concurrency)
	}
	if c.Prover.Workers <= 0 {
		return fmt.Errorf("config: invalid prover workers: %d", c.Prover.Workers)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := log.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[types.NetworkID]bool, len(c.Networks))
	for i := range c.Networks {
		n := &c.Networks[i]
		if seen[n.ID] {
			return fmt.Errorf("config: network %d configured twice", n.ID)
		}
		seen[n.ID] = true
		if int(n.Threshold) > len(n.Signers) {
			return fmt.Errorf("config: network %d threshold %d exceeds %d signers", n.ID, n.Threshold, len(n.Signers))
		}
		if (n.ProofAttester != (types.Address{}) || n.ProofBLSKey != "") && n.VKey == (types.Hash{}) {
			return fmt.Errorf("config: network %d has a proof key but no vkey", n.ID)
		}
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}
