package l1

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/eth2030/aggsettle/certifier"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/settlement"
)

var (
	managerAddr  = common.HexToAddress("0x1000")
	gerAddr      = common.HexToAddress("0x2000")
	aggchainAddr = common.HexToAddress("0x3000")
	sequencer    = common.HexToAddress("0x5e9")
)

type fakeBackend struct {
	sent      []*gethtypes.Transaction
	receipts  map[common.Hash]*gethtypes.Receipt
	logs      []gethtypes.Log
	query     ethereum.FilterQuery
	finalized *big.Int
	infoRoots map[uint32][32]byte
	nonce     uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		receipts:  make(map[common.Hash]*gethtypes.Receipt),
		infoRoots: make(map[uint32][32]byte),
		finalized: big.NewInt(77),
	}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func (b *fakeBackend) HeaderByNumber(_ context.Context, number *big.Int) (*gethtypes.Header, error) {
	if number == nil || number.Int64() != int64(rpc.FinalizedBlockNumber) {
		return nil, errors.New("unexpected block tag")
	}
	return &gethtypes.Header{Number: b.finalized}, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(7), nil }

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 210_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	b.sent = append(b.sent, tx)
	b.nonce++
	return nil
}

func (b *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error) {
	for _, tx := range b.sent {
		if tx.Hash() == hash {
			return tx, false, nil
		}
	}
	return nil, false, ethereum.NotFound
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch *msg.To {
	case gerAddr:
		args, err := globalExitRoot.Methods[methodL1InfoRootMap].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		return globalExitRoot.Methods[methodL1InfoRootMap].Outputs.Pack(b.infoRoots[args[0].(uint32)])
	case aggchainAddr:
		return aggchainContract.Methods[methodTrustedSequencer].Outputs.Pack(sequencer)
	case managerAddr:
		return nil, errors.New("execution reverted")
	}
	return nil, errors.New("unknown contract")
}

func (b *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	b.query = q
	return b.logs, nil
}

func newContract(t *testing.T, b *fakeBackend) *Contract {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	c, err := New(context.Background(), b, Config{
		RollupManager:  managerAddr,
		GlobalExitRoot: gerAddr,
		Aggchains:      map[types.NetworkID]common.Address{3: aggchainAddr},
	}, key)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c
}

func TestSendSettlement(t *testing.T) {
	b := newFakeBackend()
	c := newContract(t, b)
	call := &settlement.Call{
		NetworkID:           3,
		L1InfoTreeLeafCount: 12,
		NewLocalExitRoot:    types.HexToHash("0x1e"),
		NewPessimisticRoot:  types.HexToHash("0x9e"),
		Proof:               types.Proof{1, 2, 3},
	}
	hash, err := c.SendSettlement(context.Background(), call, big.NewInt(42))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(b.sent) != 1 {
		t.Fatalf("sent %d transactions", len(b.sent))
	}
	tx := b.sent[0]
	if types.Hash(tx.Hash()) != hash || *tx.To() != managerAddr || tx.GasPrice().Int64() != 42 || tx.Gas() != 210_000 {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(1337)), tx)
	if err != nil || from != c.From() {
		t.Fatalf("sender = %s, %v; want %s", from, err, c.From())
	}
	method := rollupManager.Methods[methodVerifyPessimistic]
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack call: %v", err)
	}
	if args[0].(uint32) != 3 || args[1].(uint32) != 12 || types.Hash(args[3].([32]byte)) != call.NewPessimisticRoot {
		t.Fatalf("unexpected arguments %v", args)
	}

	if _, err := c.SendSettlement(context.Background(), call, big.NewInt(42)); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if b.sent[1].Nonce() != 1 {
		t.Fatalf("nonce = %d, want 1", b.sent[1].Nonce())
	}
}

func TestSendWithoutKey(t *testing.T) {
	c, err := New(context.Background(), newFakeBackend(), Config{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.SendSettlement(context.Background(), &settlement.Call{}, big.NewInt(1)); !errors.Is(err, ErrNoSigner) {
		t.Fatalf("got %v", err)
	}
}

func TestTransactionReceipt(t *testing.T) {
	b := newFakeBackend()
	c := newContract(t, b)
	hash := common.HexToHash("0xaa")
	if _, err := c.TransactionReceipt(context.Background(), types.Hash(hash)); !errors.Is(err, settlement.ErrReceiptNotFound) {
		t.Fatalf("pending receipt: %v", err)
	}
	b.receipts[hash] = &gethtypes.Receipt{TxHash: hash, BlockNumber: big.NewInt(55), Status: gethtypes.ReceiptStatusFailed}
	r, err := c.TransactionReceipt(context.Background(), types.Hash(hash))
	if err != nil || r.BlockNumber != 55 || r.Succeeded {
		t.Fatalf("receipt = %+v, %v", r, err)
	}
}

func TestSettlementEvents(t *testing.T) {
	b := newFakeBackend()
	c := newContract(t, b)
	ev := rollupManager.Events[eventVerifyPessimistic]
	newRoot := [32]byte{0x9e}
	data, err := ev.Inputs.NonIndexed().Pack([32]byte{1}, newRoot, [32]byte{2}, [32]byte{0x1e}, [32]byte{3})
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	rollup := common.BigToHash(big.NewInt(3))
	b.logs = []gethtypes.Log{
		{Topics: []common.Hash{ev.ID, rollup, common.Hash{}}, Data: data, BlockNumber: 21, TxHash: common.HexToHash("0x71")},
		{Topics: []common.Hash{ev.ID, rollup, common.Hash{}}, Data: data, BlockNumber: 22, Removed: true},
	}
	events, err := c.SettlementEvents(context.Background(), 20, 30)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.NetworkID != 3 || got.NewPessimisticRoot != types.Hash(newRoot) || got.NewLocalExitRoot != types.Hash([32]byte{0x1e}) ||
		got.BlockNumber != 21 || got.TxHash != types.HexToHash("0x71") {
		t.Fatalf("unexpected event %+v", got)
	}
	if b.query.FromBlock.Uint64() != 20 || b.query.ToBlock.Uint64() != 30 || b.query.Addresses[0] != managerAddr {
		t.Fatalf("unexpected query %+v", b.query)
	}

	b.logs = []gethtypes.Log{{Topics: []common.Hash{ev.ID}}}
	if _, err := c.SettlementEvents(context.Background(), 0, 1); err == nil {
		t.Fatal("expected error for log without rollup topic")
	}
}

func TestFinalizedBlock(t *testing.T) {
	c := newContract(t, newFakeBackend())
	if n, err := c.FinalizedBlock(context.Background()); err != nil || n != 77 {
		t.Fatalf("finalized = %d, %v", n, err)
	}
}

func TestReadFetchers(t *testing.T) {
	b := newFakeBackend()
	b.infoRoots[4] = [32]byte{0x44}
	c := newContract(t, b)
	ctx := context.Background()

	root, err := c.L1InfoRoot(ctx, 4)
	if err != nil || root != types.Hash([32]byte{0x44}) {
		t.Fatalf("l1 info root = %s, %v", root, err)
	}
	if _, err := c.L1InfoRoot(ctx, 5); !errors.Is(err, certifier.ErrNoL1InfoRoot) {
		t.Fatalf("missing root: %v", err)
	}
	actx, err := c.AggchainContext(ctx, 3)
	if err != nil || actx.TrustedSequencer != types.Address(sequencer) {
		t.Fatalf("context = %+v, %v", actx, err)
	}
	if _, err := c.AggchainContext(ctx, 8); !errors.Is(err, certifier.ErrNoAggchainContext) {
		t.Fatalf("unknown network: %v", err)
	}
}

func TestRevertReason(t *testing.T) {
	b := newFakeBackend()
	c := newContract(t, b)
	hash, err := c.SendSettlement(context.Background(), &settlement.Call{NetworkID: 3}, big.NewInt(1))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	b.receipts[common.Hash(hash)] = &gethtypes.Receipt{TxHash: common.Hash(hash), BlockNumber: big.NewInt(9)}
	reason, err := c.RevertReason(context.Background(), hash)
	if err != nil || reason != "execution reverted" {
		t.Fatalf("reason = %q, %v", reason, err)
	}
}
