package settlement

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/eth2030/aggsettle/core/types"
)

// Call is one settlement of a certificate on the rollup manager contract.
type Call struct {
	JobID               uint64
	NetworkID           types.NetworkID
	Height              types.Height
	L1InfoTreeLeafCount uint32
	NewLocalExitRoot    types.Hash
	NewPessimisticRoot  types.Hash
	Proof               types.Proof
	CustomChainData     []byte
}

// Receipt is the outcome of a mined settlement transaction.
type Receipt struct {
	TxHash      types.Hash
	BlockNumber uint64
	Succeeded   bool
}

// Event is a pessimistic state transition verified on L1.
type Event struct {
	NetworkID          types.NetworkID
	NewPessimisticRoot types.Hash
	NewLocalExitRoot   types.Hash
	TxHash             types.Hash
	BlockNumber        uint64
}

// RollupContract is the L1 surface settlement depends on.
type RollupContract interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendSettlement(ctx context.Context, call *Call, gasPrice *big.Int) (types.Hash, error)
	// TransactionReceipt returns ErrReceiptNotFound while tx is pending.
	TransactionReceipt(ctx context.Context, tx types.Hash) (*Receipt, error)
	RevertReason(ctx context.Context, tx types.Hash) (string, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FinalizedBlock(ctx context.Context) (uint64, error)
	// SettlementEvents returns the events emitted in blocks [from, to].
	SettlementEvents(ctx context.Context, from, to uint64) ([]Event, error)
}

// IDSource hands out settlement job identifiers.
type IDSource interface {
	NextID() uint64
}

// Counter is a monotonic IDSource starting after its initial value.
type Counter struct {
	n atomic.Uint64
}

// NewCounter returns a counter whose first id is start+1.
func NewCounter(start uint64) *Counter {
	c := new(Counter)
	c.n.Store(start)
	return c
}

func (c *Counter) NextID() uint64 { return c.n.Add(1) }
