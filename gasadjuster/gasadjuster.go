// Package gasadjuster samples L1 base-fee and blob-fee history on a timer
// and maintains sliding-window medians used to price L2 transactions'
// L1-bound gas and pubdata.
package gasadjuster

import (
	"context"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

func less(a, b *uint256.Int) bool { return a.Lt(b) }

// GasAdjuster maintains base-fee and blob-base-fee medians and derives
// gas_price / pubdata_price from them.
type GasAdjuster struct {
	cfg      Config
	provider FeeHistoryProvider

	baseFee     *GasStatistics[*uint256.Int]
	blobBaseFee *GasStatistics[*uint256.Int]

	consecutiveFailures int
}

// New constructs a GasAdjuster with empty statistics windows, starting
// sample collection from lastProcessedBlock (exclusive).
func New(cfg Config, provider FeeHistoryProvider, lastProcessedBlock uint64) *GasAdjuster {
	return &GasAdjuster{
		cfg:         cfg,
		provider:    provider,
		baseFee:     newUint256Statistics(cfg.MaxBaseFeeSamples, lastProcessedBlock, nil),
		blobBaseFee: newUint256Statistics(cfg.NumSamplesForBlobBaseFeeEstimate, lastProcessedBlock, nil),
	}
}

// newUint256Statistics is a *uint256.Int-specialized constructor wrapping
// the generic GasStatistics, since Go can't partially apply type parameters.
func newUint256Statistics(maxSamples int, lastProcessedBlock uint64, initial []*uint256.Int) *GasStatistics[*uint256.Int] {
	return NewGasStatistics(maxSamples, lastProcessedBlock, initial, less)
}

// Run polls the provider on cfg.PollPeriod until ctx is cancelled. It
// never returns on sampling errors, only escalating the log level after
// 5 consecutive failures, so readers always see a stale-but-valid median
// rather than a dead adjuster.
func (g *GasAdjuster) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.PollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.tick(ctx); err != nil {
				g.consecutiveFailures++
				metricsUpdateFailure()
				if g.consecutiveFailures >= 5 {
					log.Error("gas adjuster update failing repeatedly", "consecutiveFailures", g.consecutiveFailures, "err", err)
				} else {
					log.Debug("gas adjuster update failed", "err", err)
				}
				continue
			}
			g.consecutiveFailures = 0
		}
	}
}

func (g *GasAdjuster) tick(ctx context.Context) error {
	head, err := g.provider.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	if head == 0 {
		return nil
	}
	// Subtract 1 for safety against reorgs at the L1 chain tip.
	safeHead := head - 1

	baseFees, blobBaseFees, err := fetchSince(ctx, g.provider, g.baseFee.LastProcessedBlock(), safeHead)
	if err != nil {
		return err
	}
	if len(baseFees) > 0 {
		g.baseFee.Append(baseFees...)
	}
	if len(blobBaseFees) > 0 {
		g.blobBaseFee.Append(blobBaseFees...)
	}
	g.baseFee.SetLastProcessedBlock(safeHead)
	g.blobBaseFee.SetLastProcessedBlock(safeHead)
	log.Debug("gas adjuster sampled fee history", "safeHead", safeHead, "newSamples", len(baseFees), "baseFeeMedian", g.baseFee.Median(), "blobBaseFeeMedian", g.blobBaseFee.Median())
	metricsUpdateSuccess(g.BaseFeeMedian().Uint64(), g.BlobBaseFeeMedian().Uint64(), len(baseFees))
	return nil
}

// GasPrice returns (median base fee + MaxPriorityFeePerGas) *
// L1GasPricingMultiplier.
func (g *GasAdjuster) GasPrice() *uint256.Int {
	median := g.baseFee.Median()
	if median == nil {
		median = uint256.NewInt(0)
	}
	sum := new(uint256.Int).Add(median, uint256.NewInt(g.cfg.MaxPriorityFeePerGas))
	return mulFloat(sum, g.cfg.L1GasPricingMultiplier)
}

// PubdataPrice returns pubdata_price according to cfg.PubdataPricingMode.
func (g *GasAdjuster) PubdataPrice() *uint256.Int {
	switch g.cfg.PubdataPricingMode {
	case PubdataModeBlobs:
		median := g.blobBaseFee.Median()
		if median == nil {
			median = uint256.NewInt(0)
		}
		return mulFloat(median, g.cfg.PubdataPricingMultiplier)
	case PubdataModeCalldata:
		gasPrice := g.GasPrice()
		product, overflow := new(uint256.Int).MulOverflow(gasPrice, uint256.NewInt(17))
		if overflow {
			return new(uint256.Int).SetAllOne()
		}
		return product
	case PubdataModeValidium:
		return uint256.NewInt(0)
	default:
		return uint256.NewInt(0)
	}
}

// mulFloat scales x by a non-negative float multiplier, rounding down.
func mulFloat(x *uint256.Int, multiplier float64) *uint256.Int {
	if multiplier == 1 {
		return new(uint256.Int).Set(x)
	}
	// Scale by a fixed-point factor to avoid float64 precision loss on the
	// u256 magnitude itself: result = x * round(multiplier*1e6) / 1e6.
	const scale = 1_000_000
	scaledMultiplier := uint64(math.Round(multiplier * scale))
	product, overflow := new(uint256.Int).MulOverflow(x, uint256.NewInt(scaledMultiplier))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return product.Div(product, uint256.NewInt(scale))
}

// BaseFeeMedian exposes the current base-fee median for readers (e.g. the
// sequencer's Produce context construction).
func (g *GasAdjuster) BaseFeeMedian() *uint256.Int {
	median := g.baseFee.Median()
	if median == nil {
		return uint256.NewInt(0)
	}
	return median
}

// BlobBaseFeeMedian exposes the current blob-base-fee median.
func (g *GasAdjuster) BlobBaseFeeMedian() *uint256.Int {
	median := g.blobBaseFee.Median()
	if median == nil {
		return uint256.NewInt(0)
	}
	return median
}
