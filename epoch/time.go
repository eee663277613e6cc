package epoch

import (
	"context"
	"time"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
)

// TimeClockConfig configures a wall-clock driven epoch clock.
type TimeClockConfig struct {
	Genesis  time.Time     `mapstructure:"genesis"`  // start of epoch 0
	Duration time.Duration `mapstructure:"duration"` // length of every epoch
}

// TimeClock ends epoch n at Genesis + (n+1)*Duration. When it wakes late it
// emits every boundary it slept through, in order.
type TimeClock struct {
	config TimeClockConfig
	now    func() time.Time
	b      *broadcaster
	c      *counter
	log    *log.Logger
}

// NewTimeClock creates a clock whose first emitted boundary ends the epoch
// in progress at construction.
func NewTimeClock(config TimeClockConfig, logger *log.Logger) (*TimeClock, error) {
	if config.Duration <= 0 {
		return nil, ErrZeroDuration
	}
	if logger == nil {
		logger = log.Default()
	}
	b := newBroadcaster()
	tc := &TimeClock{
		config: config,
		now:    time.Now,
		b:      b,
		log:    logger.Module("epoch"),
	}
	start := tc.epochAt(tc.now())
	tc.c = &counter{next: start, current: start, b: b}
	return tc, nil
}

// Resume makes epoch the next one to be reported as ended, so boundaries
// that passed while the node was down are emitted on the first tick.
func (tc *TimeClock) Resume(epoch types.EpochNumber) { tc.c.resume(epoch) }

func (tc *TimeClock) Subscribe() *Subscription { return tc.b.subscribe() }

func (tc *TimeClock) Current() types.EpochNumber { return tc.c.load() }

// Run sleeps until each boundary and emits it.
func (tc *TimeClock) Run(ctx context.Context) error {
	tc.log.Info("epoch clock started", "kind", "time", "duration", tc.config.Duration, "epoch", tc.Current())
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		now := tc.now()
		if err := tc.c.advance(ctx, tc.epochAt(now)); err != nil {
			return err
		}
		timer.Reset(tc.untilNext(now))
	}
}

// epochAt returns the epoch containing t. Times before genesis belong to
// epoch 0.
func (tc *TimeClock) epochAt(t time.Time) types.EpochNumber {
	if t.Before(tc.config.Genesis) {
		return 0
	}
	return types.EpochNumber(t.Sub(tc.config.Genesis) / tc.config.Duration)
}

// untilNext returns the delay from t to the start of the following epoch.
func (tc *TimeClock) untilNext(t time.Time) time.Duration {
	next := tc.config.Genesis.Add(time.Duration(tc.epochAt(t)+1) * tc.config.Duration)
	if d := next.Sub(t); d > 0 {
		return d
	}
	return time.Millisecond
}
