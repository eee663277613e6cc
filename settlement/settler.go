package settlement

import (
	"context"
	"errors"
	"math/big"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/eth2030/aggsettle/core/types"
	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/metrics"
	"github.com/eth2030/aggsettle/tracing"
)

// SettlerConfig tunes transaction submission.
type SettlerConfig struct {
	GasPriceMultiplier float64       `mapstructure:"gas_price_multiplier"` // applied to the node's suggestion
	GasPriceBump       float64       `mapstructure:"gas_price_bump"`       // extra factor per resubmission
	GasPriceFloor      uint64        `mapstructure:"gas_price_floor"`      // wei
	GasPriceCeiling    uint64        `mapstructure:"gas_price_ceiling"`    // wei, zero for no ceiling
	Confirmations      uint64        `mapstructure:"confirmations"`
	SettlementTimeout  time.Duration `mapstructure:"settlement_timeout"` // overall budget of one settlement
	AttemptTimeout     time.Duration `mapstructure:"attempt_timeout"`    // receipt wait of one transaction
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
}

// DefaultSettlerConfig returns the submission defaults.
func DefaultSettlerConfig() SettlerConfig {
	return SettlerConfig{
		GasPriceMultiplier: 1.0,
		GasPriceBump:       1.2,
		GasPriceFloor:      0,
		GasPriceCeiling:    0,
		Confirmations:      1,
		SettlementTimeout:  20 * time.Minute,
		AttemptTimeout:     5 * time.Minute,
		PollInterval:       2 * time.Second,
		MaxAttempts:        3,
	}
}

// Settler sends settlement transactions and waits for their confirmation.
type Settler struct {
	contract RollupContract
	config   SettlerConfig
	log      *log.Logger
}

// NewSettler creates a settler.
func NewSettler(contract RollupContract, config SettlerConfig, logger *log.Logger) *Settler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Confirmations == 0 {
		config.Confirmations = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Settler{contract: contract, config: config, log: logger.Module("settlement")}
}

// Settle submits call and returns the receipt once it has the configured
// number of confirmations. Failed sends and transactions that never get a
// receipt are resubmitted with a bumped gas price. Cancelling ctx returns
// ctx.Err() without classifying the outcome.
func (s *Settler) Settle(ctx context.Context, call *Call) (receipt *Receipt, err error) {
	ctx, span := tracing.Start(ctx, "settlement", "settle",
		attribute.Int64("network", int64(call.NetworkID)),
		attribute.Int64("height", int64(call.Height)),
		attribute.Int64("job", int64(call.JobID)))
	defer func() { tracing.End(span, err) }()
	return s.settle(ctx, call)
}

func (s *Settler) settle(ctx context.Context, call *Call) (*Receipt, error) {
	deadline := ctx
	if s.config.SettlementTimeout > 0 {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(ctx, s.config.SettlementTimeout)
		defer cancel()
	}
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		receipt, err := s.attempt(ctx, deadline, call, attempt)
		if err == nil {
			metrics.SettlementLatency.ObserveSince(start)
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		var se *SettlementError
		if !errors.As(err, &se) || !se.resubmittable() || deadline.Err() != nil {
			break
		}
		s.log.Warn("settlement attempt failed", "job", call.JobID, "network", call.NetworkID,
			"height", call.Height, "attempt", attempt+1, "err", err)
		select {
		case <-time.After(s.config.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (s *Settler) attempt(ctx, deadline context.Context, call *Call, attempt int) (*Receipt, error) {
	suggested, err := s.contract.SuggestGasPrice(deadline)
	if err != nil {
		return nil, &SettlementError{Kind: KindProviderError, Err: err}
	}
	price := s.GasPrice(suggested, attempt)
	tx, err := s.contract.SendSettlement(deadline, call, price)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SettlementError{Kind: KindProviderError, Err: err}
	}
	metrics.SettlementTxSent.Inc()
	s.log.Info("settlement transaction sent", "job", call.JobID, "network", call.NetworkID,
		"height", call.Height, "tx", tx, "gasPrice", price)

	wait := deadline
	if s.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(deadline, s.config.AttemptTimeout)
		defer cancel()
	}
	return s.waitConfirmed(ctx, wait, tx)
}

// waitConfirmed polls until tx has enough confirmations, reverts, or wait
// expires.
func (s *Settler) waitConfirmed(ctx, wait context.Context, tx types.Hash) (*Receipt, error) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	var seen *Receipt
	for {
		receipt, err := s.contract.TransactionReceipt(wait, tx)
		switch {
		case err == nil:
			seen = receipt
			if !receipt.Succeeded {
				reason, rerr := s.contract.RevertReason(ctx, tx)
				if rerr != nil {
					reason = "unknown"
				}
				return nil, &SettlementError{Kind: KindContractError, TxHash: &tx, Reason: reason}
			}
			head, err := s.contract.BlockNumber(wait)
			if err == nil && head+1 >= receipt.BlockNumber+s.config.Confirmations {
				return receipt, nil
			}
		case errors.Is(err, ErrReceiptNotFound):
			// Still pending, or reorged out.
			seen = nil
		default:
			s.log.Debug("receipt lookup failed", "tx", tx, "err", err)
		}

		select {
		case <-wait.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if seen == nil {
				return nil, &SettlementError{Kind: KindNoReceipt, TxHash: &tx, Err: wait.Err()}
			}
			return nil, &SettlementError{Kind: KindTimeout, TxHash: &tx, Err: wait.Err()}
		case <-ticker.C:
		}
	}
}

// GasPrice returns suggested × multiplier × bump^attempt clamped to the
// configured floor and ceiling.
func (s *Settler) GasPrice(suggested *big.Int, attempt int) *big.Int {
	factor := s.config.GasPriceMultiplier
	if factor <= 0 {
		factor = 1
	}
	for i := 0; i < attempt; i++ {
		if s.config.GasPriceBump > 1 {
			factor *= s.config.GasPriceBump
		}
	}
	f := new(big.Float).SetInt(suggested)
	f.Mul(f, big.NewFloat(factor))
	price, _ := f.Int(nil)

	if floor := new(big.Int).SetUint64(s.config.GasPriceFloor); price.Cmp(floor) < 0 {
		price = floor
	}
	if s.config.GasPriceCeiling > 0 {
		if ceiling := new(big.Int).SetUint64(s.config.GasPriceCeiling); price.Cmp(ceiling) > 0 {
			price = ceiling
		}
	}
	return price
}
