// Package epoch emits epoch boundary events driven by wall-clock time or by
// L1 block height.
package epoch

import (
	"context"
	"errors"
	"sync"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/metrics"
)

var (
	ErrZeroDuration = errors.New("epoch: epoch duration must be > 0")
	ErrZeroBlocks   = errors.New("epoch: blocks per epoch must be > 0")
)

// subscriptionBuffer is the number of boundaries a subscriber may lag
// before the clock blocks on it.
const subscriptionBuffer = 16

// Ended reports that an epoch closed. Every epoch produces exactly one
// Ended event, in increasing order.
type Ended struct {
	Epoch types.EpochNumber
}

// Clock is the source of epoch boundaries.
type Clock interface {
	// Subscribe registers a consumer of boundary events.
	Subscribe() *Subscription
	// Current returns the epoch in progress.
	Current() types.EpochNumber
	// Run drives the clock until ctx is cancelled.
	Run(ctx context.Context) error
}

// Subscription delivers boundary events to one consumer.
type Subscription struct {
	ch   chan Ended
	quit chan struct{}
	once sync.Once
	b    *broadcaster
}

// C returns the event channel. It is never closed.
func (s *Subscription) C() <-chan Ended { return s.ch }

// Unsubscribe stops delivery. Pending events are dropped.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.b.remove(s)
	})
}

// broadcaster fans boundary events out to subscribers. Sends block until
// the subscriber receives, unsubscribes or the context ends, so no
// boundary is skipped.
type broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*Subscription]struct{})}
}

func (b *broadcaster) subscribe() *Subscription {
	s := &Subscription{
		ch:   make(chan Ended, subscriptionBuffer),
		quit: make(chan struct{}),
		b:    b,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *broadcaster) emit(ctx context.Context, ev Ended) error {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.quit:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// counter tracks the next epoch due to end and emits every boundary
// between it and the observed current epoch.
type counter struct {
	mu      sync.Mutex
	next    types.EpochNumber // next epoch to end
	current types.EpochNumber
	b       *broadcaster
}

func (c *counter) resume(epoch types.EpochNumber) {
	c.mu.Lock()
	c.next = epoch
	c.mu.Unlock()
}

func (c *counter) load() types.EpochNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// advance records current as the epoch in progress and emits Ended for
// every epoch before it that has not ended yet, one event each.
func (c *counter) advance(ctx context.Context, current types.EpochNumber) error {
	c.mu.Lock()
	c.current = current
	next := c.next
	c.mu.Unlock()
	metrics.EpochCurrent.Set(int64(current))

	for ; next < current; next++ {
		if err := c.b.emit(ctx, Ended{Epoch: next}); err != nil {
			return err
		}
		c.mu.Lock()
		c.next = next + 1
		c.mu.Unlock()
	}
	return nil
}
