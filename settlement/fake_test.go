package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/eth2030/aggsettle/core/types"
)

type sentTx struct {
	call     *Call
	gasPrice *big.Int
	hash     types.Hash
}

// fakeContract mines every transaction it accepts in the current head
// block unless told otherwise. The head advances by one on every
// BlockNumber call unless frozen.
type fakeContract struct {
	mu         sync.Mutex
	gasPrice   *big.Int
	sendErrs   []error
	sent       []sentTx
	receipts   map[types.Hash]*Receipt
	noMine     bool
	revert     bool
	head       uint64
	frozen     bool
	finalized  uint64
	events     []Event
	eventErr   error
	queries    [][2]uint64
	headErr    error
	finalErr   error
	reasonText string
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		gasPrice: big.NewInt(100),
		receipts: make(map[types.Hash]*Receipt),
		head:     10,
	}
}

func (f *fakeContract) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeContract) SendSettlement(_ context.Context, call *Call, gasPrice *big.Int) (types.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return types.Hash{}, err
		}
	}
	hash := types.BytesToHash([]byte{0x7a, byte(len(f.sent) + 1)})
	f.sent = append(f.sent, sentTx{call: call, gasPrice: gasPrice, hash: hash})
	if !f.noMine {
		f.receipts[hash] = &Receipt{TxHash: hash, BlockNumber: f.head, Succeeded: !f.revert}
	}
	return hash, nil
}

func (f *fakeContract) TransactionReceipt(_ context.Context, tx types.Hash) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[tx]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cpy := *r
	return &cpy, nil
}

func (f *fakeContract) RevertReason(context.Context, types.Hash) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reasonText == "" {
		return "", errors.New("no reason")
	}
	return f.reasonText, nil
}

func (f *fakeContract) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return 0, f.headErr
	}
	if !f.frozen {
		f.head++
	}
	return f.head, nil
}

func (f *fakeContract) FinalizedBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized, f.finalErr
}

func (f *fakeContract) SettlementEvents(_ context.Context, from, to uint64) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, [2]uint64{from, to})
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	var out []Event
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeContract) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type outcome struct {
	network types.NetworkID
	id      types.CertificateID
	err     error
}

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []outcome
}

func (n *recordingNotifier) SettlementOutcome(network types.NetworkID, id types.CertificateID, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, outcome{network, id, err})
}

func (n *recordingNotifier) all() []outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]outcome(nil), n.outcomes...)
}
