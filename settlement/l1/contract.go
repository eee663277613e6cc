// Package l1 implements the settlement contract surface over an Ethereum
// JSON-RPC endpoint.
package l1

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/eth2030/aggsettle/aggchain"
	"github.com/eth2030/aggsettle/certifier"
	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/settlement"
)

var (
	_ settlement.RollupContract       = (*Contract)(nil)
	_ certifier.L1InfoRootFetcher      = (*Contract)(nil)
	_ certifier.AggchainContextFetcher = (*Contract)(nil)
)

var ErrNoSigner = errors.New("l1: no settlement key configured")

// Backend is the JSON-RPC surface the contract uses. *ethclient.Client
// implements it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Config locates the contracts on L1.
type Config struct {
	RollupManager  common.Address
	GlobalExitRoot common.Address
	// Aggchains maps a network to its aggchain contract, which names the
	// trusted sequencer.
	Aggchains map[types.NetworkID]common.Address
	// GasLimit overrides gas estimation when non-zero.
	GasLimit uint64
}

// Contract talks to the rollup manager, the global exit root manager and
// the aggchain contracts.
type Contract struct {
	backend Backend
	config  Config
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	nonceMu sync.Mutex
}

// Dial connects to url and creates a contract client. key may be nil for a
// read-only client.
func Dial(ctx context.Context, url string, config Config, key *ecdsa.PrivateKey) (*Contract, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("l1: dial %s: %w", url, err)
	}
	c, err := New(ctx, client, config, key)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return c, client, nil
}

// New creates a contract client over backend.
func New(ctx context.Context, backend Backend, config Config, key *ecdsa.PrivateKey) (*Contract, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("l1: chain id: %w", err)
	}
	c := &Contract{backend: backend, config: config, chainID: chainID, key: key}
	if key != nil {
		c.from = gethcrypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// From returns the address settlement transactions are sent from.
func (c *Contract) From() common.Address { return c.from }

func (c *Contract) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.backend.SuggestGasPrice(ctx)
}

func (c *Contract) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// FinalizedBlock returns the number of the latest finalized L1 block.
func (c *Contract) FinalizedBlock(ctx context.Context) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

// SendSettlement signs and broadcasts verifyPessimisticTrustedAggregator.
func (c *Contract) SendSettlement(ctx context.Context, call *settlement.Call, gasPrice *big.Int) (types.Hash, error) {
	if c.key == nil {
		return types.Hash{}, ErrNoSigner
	}
	data, err := rollupManager.Pack(methodVerifyPessimistic,
		uint32(call.NetworkID),
		call.L1InfoTreeLeafCount,
		[32]byte(call.NewLocalExitRoot),
		[32]byte(call.NewPessimisticRoot),
		[]byte(call.Proof),
		nonNil(call.CustomChainData),
	)
	if err != nil {
		return types.Hash{}, fmt.Errorf("l1: pack settlement: %w", err)
	}
	to := c.config.RollupManager

	gas := c.config.GasLimit
	if gas == 0 {
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, GasPrice: gasPrice, Data: data})
		if err != nil {
			return types.Hash{}, fmt.Errorf("l1: estimate gas: %w", err)
		}
	}

	// Concurrent settlements must not pick the same nonce.
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return types.Hash{}, fmt.Errorf("l1: nonce: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return types.Hash{}, fmt.Errorf("l1: sign: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return types.Hash{}, err
	}
	return types.Hash(signed.Hash()), nil
}

// TransactionReceipt maps a missing receipt to settlement.ErrReceiptNotFound.
func (c *Contract) TransactionReceipt(ctx context.Context, tx types.Hash) (*settlement.Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, common.Hash(tx))
	if errors.Is(err, ethereum.NotFound) {
		return nil, settlement.ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settlement.Receipt{
		TxHash:      types.Hash(r.TxHash),
		BlockNumber: r.BlockNumber.Uint64(),
		Succeeded:   r.Status == gethtypes.ReceiptStatusSuccessful,
	}, nil
}

// RevertReason replays tx on the state it executed against and decodes the
// revert message.
func (c *Contract) RevertReason(ctx context.Context, hash types.Hash) (string, error) {
	tx, _, err := c.backend.TransactionByHash(ctx, common.Hash(hash))
	if err != nil {
		return "", err
	}
	receipt, err := c.backend.TransactionReceipt(ctx, common.Hash(hash))
	if err != nil {
		return "", err
	}
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return "", err
	}
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	parent := new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	_, err = c.backend.CallContract(ctx, msg, parent)
	if err == nil {
		return "", nil
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason, nil
				}
			}
		}
	}
	return err.Error(), nil
}

// SettlementEvents returns the VerifyPessimisticStateTransition events of
// blocks [from, to]. Logs removed by a reorg are skipped.
func (c *Contract) SettlementEvents(ctx context.Context, from, to uint64) ([]settlement.Event, error) {
	ev := rollupManager.Events[eventVerifyPessimistic]
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.config.RollupManager},
		Topics:    [][]common.Hash{{ev.ID}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]settlement.Event, 0, len(logs))
	for i := range logs {
		if logs[i].Removed {
			continue
		}
		decoded, err := decodeSettlementEvent(&logs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *decoded)
	}
	return out, nil
}

func decodeSettlementEvent(l *gethtypes.Log) (*settlement.Event, error) {
	if len(l.Topics) < 2 {
		return nil, fmt.Errorf("l1: malformed %s log in tx %s", eventVerifyPessimistic, l.TxHash)
	}
	fields := make(map[string]interface{})
	if err := rollupManager.UnpackIntoMap(fields, eventVerifyPessimistic, l.Data); err != nil {
		return nil, fmt.Errorf("l1: decode %s: %w", eventVerifyPessimistic, err)
	}
	newRoot, ok := fields["newPessimisticRoot"].([32]byte)
	if !ok {
		return nil, fmt.Errorf("l1: %s without newPessimisticRoot", eventVerifyPessimistic)
	}
	newLER, _ := fields["newLocalExitRoot"].([32]byte)
	rollupID := new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()
	return &settlement.Event{
		NetworkID:          types.NetworkID(rollupID),
		NewPessimisticRoot: types.Hash(newRoot),
		NewLocalExitRoot:   types.Hash(newLER),
		TxHash:             types.Hash(l.TxHash),
		BlockNumber:        l.BlockNumber,
	}, nil
}

// L1InfoRoot reads the L1 info root recorded for leafCount leaves.
func (c *Contract) L1InfoRoot(ctx context.Context, leafCount uint32) (types.Hash, error) {
	out, err := c.call(ctx, globalExitRoot, c.config.GlobalExitRoot, methodL1InfoRootMap, leafCount)
	if err != nil {
		return types.Hash{}, err
	}
	root, ok := out[0].([32]byte)
	if !ok {
		return types.Hash{}, fmt.Errorf("l1: unexpected %s output %T", methodL1InfoRootMap, out[0])
	}
	if root == ([32]byte{}) {
		return types.Hash{}, fmt.Errorf("%w: %d", certifier.ErrNoL1InfoRoot, leafCount)
	}
	return types.Hash(root), nil
}

// AggchainContext reads the trusted sequencer of network.
func (c *Contract) AggchainContext(ctx context.Context, network types.NetworkID) (*aggchain.Context, error) {
	addr, ok := c.config.Aggchains[network]
	if !ok {
		return nil, fmt.Errorf("%w: %d", certifier.ErrNoAggchainContext, network)
	}
	out, err := c.call(ctx, aggchainContract, addr, methodTrustedSequencer)
	if err != nil {
		return nil, err
	}
	seq, ok := out[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("l1: unexpected %s output %T", methodTrustedSequencer, out[0])
	}
	if seq == (common.Address{}) {
		return nil, fmt.Errorf("%w: %d has no trusted sequencer", certifier.ErrNoAggchainContext, network)
	}
	return &aggchain.Context{TrustedSequencer: types.Address(seq)}, nil
}

func (c *Contract) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("l1: call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("l1: decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("l1: empty %s output", method)
	}
	return out, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
