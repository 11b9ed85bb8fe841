// Package l1sender builds and (in dry-run mode) simulates the L1
// transactions that commit, prove, and execute batches. Live sending
// (signing and awaiting mining) belongs to the embedding node, not this
// package.
package l1sender

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/rollupnode/sequencer/pipeline"
)

// Stage tags which milestone a Command has reached, applied in place by
// the dry-run sender once a simulation completes.
type Stage int

const (
	StageSent Stage = iota
	StageMined
)

// Command is one commit/prove/execute call awaiting submission to L1.
// Implementations own the batch envelope they wrap; MarkStage lets the
// sender annotate it without the sender needing to know its shape.
type Command interface {
	// Name identifies the call kind ("commitBatch", "proveBatch", ...)
	// for logging.
	Name() string
	// To is the L1 contract address this call targets.
	To() common.Address
	// CallData ABI-encodes the call.
	CallData() ([]byte, error)
	// MarkStage records that the command has reached stage.
	MarkStage(stage Stage)
}

// Provider is the subset of an L1 JSON-RPC client the sender needs:
// fee estimation and eth_call simulation. Satisfied by
// *github.com/ethereum/go-ethereum/ethclient.Client.
type Provider interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config carries the per-deployment gas and operator settings.
type Config struct {
	MaxFeePerGas          *big.Int
	MaxPriorityFeePerGas  *big.Int
	GasLimit              uint64
	DryRunOperatorAddress *common.Address
	OperatorAddress       common.Address // derived from the operator key when DryRunOperatorAddress is nil
	// CommandLimit caps how many commands may be submitted per
	// PollInterval window; zero means unpaced.
	CommandLimit int
	// PollInterval is the pacing window for CommandLimit. Zero disables
	// pacing (commands are processed as fast as they arrive).
	PollInterval time.Duration
}

// DefaultConfig matches the defaults a dry-run operator would start from.
var DefaultConfig = Config{
	MaxFeePerGas:         big.NewInt(100_000_000_000), // 100 gwei
	MaxPriorityFeePerGas: big.NewInt(2_000_000_000),   // 2 gwei
	GasLimit:             15_000_000,
	CommandLimit:         8,
	PollInterval:         time.Second,
}

// TxRequest is the resolved EIP-1559 transaction request for one
// Command.
type TxRequest struct {
	From                 common.Address
	To                   common.Address
	Data                 []byte
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasLimit             uint64
}

// buildTxRequest estimates the network's current EIP-1559 fees and warns
// (does not fail) if the configured caps are below the estimate.
func buildTxRequest(ctx context.Context, provider Provider, from common.Address, cfg Config) (TxRequest, error) {
	header, err := provider.HeaderByNumber(ctx, nil)
	if err != nil {
		return TxRequest{}, fmt.Errorf("fetch latest header: %w", err)
	}
	tip, err := provider.SuggestGasTipCap(ctx)
	if err != nil {
		return TxRequest{}, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	estimatedMaxFee := new(big.Int).Add(new(big.Int).Mul(header.BaseFee, big.NewInt(2)), tip)

	if estimatedMaxFee.Cmp(cfg.MaxFeePerGas) > 0 {
		log.Warn("l1sender: configured maxFeePerGas is lower than network estimate",
			"configured", cfg.MaxFeePerGas, "estimated", estimatedMaxFee)
	}
	if tip.Cmp(cfg.MaxPriorityFeePerGas) > 0 {
		log.Warn("l1sender: configured maxPriorityFeePerGas is lower than network estimate",
			"configured", cfg.MaxPriorityFeePerGas, "estimated", tip)
	}

	return TxRequest{
		From:                 from,
		MaxFeePerGas:         cfg.MaxFeePerGas,
		MaxPriorityFeePerGas: cfg.MaxPriorityFeePerGas,
		GasLimit:             cfg.GasLimit,
	}, nil
}

// operatorAddress resolves the dry-run sender's "from" address: the
// configured override if present, else the address derived from the
// operator key at construction time.
func operatorAddress(cfg Config) common.Address {
	if cfg.DryRunOperatorAddress != nil {
		return *cfg.DryRunOperatorAddress
	}
	return cfg.OperatorAddress
}

// DryRunSender simulates each inbound Command via eth_call and forwards
// it downstream unchanged, marked Sent and Mined. Implements
// pipeline.Stage[Command, Command].
type DryRunSender struct {
	provider Provider
	cfg      Config
}

// NewDryRunSender builds a DryRunSender against provider, using cfg's
// gas settings and operator address.
func NewDryRunSender(provider Provider, cfg Config) *DryRunSender {
	return &DryRunSender{provider: provider, cfg: cfg}
}

func (s *DryRunSender) Name() string { return "l1sender-dry-run" }

func (s *DryRunSender) OutputBufferSize() int { return 8 }

// Run processes one Command at a time (no parallel submission),
// simulating each via eth_call and logging the result before forwarding
// downstream. With a non-zero PollInterval, submission is paced to at
// most CommandLimit commands per interval.
func (s *DryRunSender) Run(ctx context.Context, in *pipeline.PeekableReceiver[Command], out chan<- Command) error {
	from := operatorAddress(s.cfg)
	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.cfg.PollInterval > 0 && s.cfg.CommandLimit > 0 {
		limiter = rate.NewLimiter(rate.Every(s.cfg.PollInterval/time.Duration(s.cfg.CommandLimit)), s.cfg.CommandLimit)
	}
	for {
		cmd, ok := in.Recv(ctx)
		if !ok {
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		req, err := buildTxRequest(ctx, s.provider, from, s.cfg)
		if err != nil {
			return fmt.Errorf("build tx request for %s: %w", cmd.Name(), err)
		}
		data, err := cmd.CallData()
		if err != nil {
			return fmt.Errorf("encode call data for %s: %w", cmd.Name(), err)
		}
		req.To = cmd.To()
		req.Data = data

		log.Info("l1sender: simulating L1 transaction (dry-run mode)", "command", cmd.Name(), "from", req.From, "to", req.To)

		result, callErr := s.provider.CallContract(ctx, ethereum.CallMsg{
			From: req.From,
			To:   &req.To,
			Data: req.Data,
		}, nil)
		if callErr != nil {
			log.Warn("l1sender: dry-run eth_call failed, sending batch downstream regardless", "command", cmd.Name(), "err", callErr)
			metricsCallFailed.Mark(1)
		} else {
			log.Info("l1sender: dry-run eth_call succeeded", "command", cmd.Name(), "resultBytes", len(result))
			metricsCallSucceeded.Mark(1)
		}

		cmd.MarkStage(StageSent)
		cmd.MarkStage(StageMined)

		select {
		case out <- cmd:
		case <-ctx.Done():
			return nil
		}
	}
}
