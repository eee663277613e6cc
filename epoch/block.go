package epoch

import (
	"context"
	"time"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
)

// HeadSource reports the latest L1 block number.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// BlockClockConfig configures an L1 block driven epoch clock.
type BlockClockConfig struct {
	GenesisBlock   uint64        `mapstructure:"genesis_block"`    // first block of epoch 0
	BlocksPerEpoch uint64        `mapstructure:"blocks_per_epoch"` // epoch length in blocks
	PollInterval   time.Duration `mapstructure:"poll_interval"`    // head polling period
}

// BlockClock ends epoch n once the L1 head reaches
// GenesisBlock + (n+1)*BlocksPerEpoch. A head that jumps several epochs
// produces one event per epoch.
type BlockClock struct {
	config BlockClockConfig
	head   HeadSource
	b      *broadcaster
	c      *counter
	log    *log.Logger

	started bool // first head observed
	resumed bool
}

// NewBlockClock creates a block clock. The first head it observes sets the
// epoch in progress unless Resume says otherwise.
func NewBlockClock(config BlockClockConfig, head HeadSource, logger *log.Logger) (*BlockClock, error) {
	if config.BlocksPerEpoch == 0 {
		return nil, ErrZeroBlocks
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 12 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	b := newBroadcaster()
	return &BlockClock{
		config: config,
		head:   head,
		b:      b,
		c:      &counter{b: b},
		log:    logger.Module("epoch"),
	}, nil
}

// Resume makes epoch the next one to be reported as ended. It must be
// called before Run.
func (bc *BlockClock) Resume(epoch types.EpochNumber) {
	bc.c.resume(epoch)
	bc.resumed = true
}

func (bc *BlockClock) Subscribe() *Subscription { return bc.b.subscribe() }

func (bc *BlockClock) Current() types.EpochNumber { return bc.c.load() }

// Run polls the head and emits the boundaries it crossed. Head lookup
// failures are logged and retried on the next poll.
func (bc *BlockClock) Run(ctx context.Context) error {
	bc.log.Info("epoch clock started", "kind", "block", "blocks", bc.config.BlocksPerEpoch)
	ticker := time.NewTicker(bc.config.PollInterval)
	defer ticker.Stop()
	for {
		if err := bc.poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (bc *BlockClock) poll(ctx context.Context) error {
	head, err := bc.head.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bc.log.Warn("failed to fetch L1 head", "err", err)
		return nil
	}
	current := bc.epochAt(head)
	if !bc.started {
		bc.started = true
		if !bc.resumed {
			bc.c.resume(current)
		}
	}
	return bc.c.advance(ctx, current)
}

func (bc *BlockClock) epochAt(block uint64) types.EpochNumber {
	if block < bc.config.GenesisBlock {
		return 0
	}
	return types.EpochNumber((block - bc.config.GenesisBlock) / bc.config.BlocksPerEpoch)
}
