package epoch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eth2030/aggsettle/core/types"
)

func collect(t *testing.T, sub *Subscription, n int) []types.EpochNumber {
	t.Helper()
	out := make([]types.EpochNumber, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-sub.C():
			out = append(out, ev.Epoch)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func expectEpochs(t *testing.T, got []types.EpochNumber, want ...types.EpochNumber) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTimeClockCatchUpEmitsEveryBoundary(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	tc, err := NewTimeClock(TimeClockConfig{Genesis: genesis, Duration: time.Minute}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tc.Resume(0)
	sub := tc.Subscribe()
	defer sub.Unsubscribe()

	late := genesis.Add(3*time.Minute + time.Second)
	if err := tc.c.advance(context.Background(), tc.epochAt(late)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	expectEpochs(t, collect(t, sub, 3), 0, 1, 2)
	if tc.Current() != 3 {
		t.Fatalf("current = %d, want 3", tc.Current())
	}

	// The same instant again emits nothing new.
	if err := tc.c.advance(context.Background(), tc.epochAt(late)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %d", ev.Epoch)
	default:
	}
}

func TestTimeClockEpochMath(t *testing.T) {
	genesis := time.Unix(1000, 0)
	tc, _ := NewTimeClock(TimeClockConfig{Genesis: genesis, Duration: 10 * time.Second}, nil)
	tests := []struct {
		at    time.Time
		epoch types.EpochNumber
		until time.Duration
	}{
		{genesis.Add(-time.Hour), 0, time.Hour + 10*time.Second},
		{genesis, 0, 10 * time.Second},
		{genesis.Add(9 * time.Second), 0, time.Second},
		{genesis.Add(10 * time.Second), 1, 10 * time.Second},
		{genesis.Add(35 * time.Second), 3, 5 * time.Second},
	}
	for i, tt := range tests {
		if got := tc.epochAt(tt.at); got != tt.epoch {
			t.Errorf("case %d: epoch = %d, want %d", i, got, tt.epoch)
		}
		if got := tc.untilNext(tt.at); got != tt.until {
			t.Errorf("case %d: until = %v, want %v", i, got, tt.until)
		}
	}
}

func TestTimeClockRun(t *testing.T) {
	d := 20 * time.Millisecond
	tc, err := NewTimeClock(TimeClockConfig{Genesis: time.Now(), Duration: d}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sub := tc.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tc.Run(ctx) }()

	expectEpochs(t, collect(t, sub, 3), 0, 1, 2)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
}

func TestUnsubscribedConsumerDoesNotBlock(t *testing.T) {
	tc, _ := NewTimeClock(TimeClockConfig{Genesis: time.Unix(0, 0), Duration: time.Second}, nil)
	tc.Resume(0)
	idle := tc.Subscribe()
	idle.Unsubscribe()
	idle.Unsubscribe()

	live := tc.Subscribe()
	errc := make(chan error, 1)
	go func() { errc <- tc.c.advance(context.Background(), 2*subscriptionBuffer) }()
	got := collect(t, live, 2*subscriptionBuffer)
	if err := <-errc; err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got[len(got)-1] != 2*subscriptionBuffer-1 {
		t.Fatalf("live subscriber got %v", got)
	}
}

func TestSlowConsumerBlocksUntilCancelled(t *testing.T) {
	tc, _ := NewTimeClock(TimeClockConfig{Genesis: time.Unix(0, 0), Duration: time.Second}, nil)
	tc.Resume(0)
	sub := tc.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tc.c.advance(ctx, subscriptionBuffer+4)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("advance returned %v", err)
	}
	// Nothing was skipped: the undelivered boundary is retried next time.
	if tc.c.next != subscriptionBuffer {
		t.Fatalf("next = %d, want %d", tc.c.next, subscriptionBuffer)
	}
	expectEpochs(t, collect(t, sub, 1), 0)
}

type fakeHead struct {
	mu    sync.Mutex
	heads []uint64
	err   error
}

func (f *fakeHead) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	h := f.heads[0]
	if len(f.heads) > 1 {
		f.heads = f.heads[1:]
	}
	return h, nil
}

func TestBlockClock(t *testing.T) {
	head := &fakeHead{heads: []uint64{250, 260, 420}}
	bc, err := NewBlockClock(BlockClockConfig{GenesisBlock: 100, BlocksPerEpoch: 50}, head, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sub := bc.Subscribe()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := bc.poll(ctx); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	expectEpochs(t, collect(t, sub, 3), 3, 4, 5)
	if bc.Current() != 6 {
		t.Fatalf("current = %d, want 6", bc.Current())
	}

	head.err = errors.New("rpc down")
	if err := bc.poll(ctx); err != nil {
		t.Fatalf("head failure should not stop the clock: %v", err)
	}
}

func TestBlockClockResume(t *testing.T) {
	head := &fakeHead{heads: []uint64{100 + 2*50}}
	bc, _ := NewBlockClock(BlockClockConfig{GenesisBlock: 100, BlocksPerEpoch: 50}, head, nil)
	bc.Resume(0)
	sub := bc.Subscribe()
	if err := bc.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	expectEpochs(t, collect(t, sub, 2), 0, 1)
}

func TestClockConfigErrors(t *testing.T) {
	if _, err := NewTimeClock(TimeClockConfig{}, nil); !errors.Is(err, ErrZeroDuration) {
		t.Fatalf("time clock: %v", err)
	}
	if _, err := NewBlockClock(BlockClockConfig{}, &fakeHead{}, nil); !errors.Is(err, ErrZeroBlocks) {
		t.Fatalf("block clock: %v", err)
	}
}
