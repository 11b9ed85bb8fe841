package gasadjuster

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
)

// maxFeeHistoryChunk bounds a single fee-history RPC request.
const maxFeeHistoryChunk = 1023

// FeeHistory is the subset of an eth_feeHistory response the adjuster needs:
// per-block base fee and blob base fee, oldest block first.
type FeeHistory struct {
	OldestBlock       uint64
	BaseFeePerGas     []*uint256.Int
	BaseFeePerBlobGas []*uint256.Int
}

// FeeHistoryProvider is the L1 client the adjuster samples from. Kept as
// its own interface (rather than folding it into the adjuster) so the
// adjuster is testable against a fake.
type FeeHistoryProvider interface {
	// LatestBlockNumber returns the current L1 head block number.
	LatestBlockNumber(ctx context.Context) (uint64, error)
	// FeeHistory returns blockCount blocks of fee history ending at
	// (inclusive) newestBlock.
	FeeHistory(ctx context.Context, blockCount uint64, newestBlock uint64) (FeeHistory, error)
}

// fetchSince pulls fee history for (lastProcessed, through] in chunks of
// at most maxFeeHistoryChunk blocks, oldest first. It returns an error,
// and no samples, if the provider ever reports an oldestBlock
// inconsistent with the requested window; the caller retries on its next
// tick.
func fetchSince(ctx context.Context, provider FeeHistoryProvider, lastProcessed, through uint64) ([]*uint256.Int, []*uint256.Int, error) {
	if through <= lastProcessed {
		return nil, nil, nil
	}
	var baseFees, blobBaseFees []*uint256.Int
	next := lastProcessed + 1
	for next <= through {
		count := through - next + 1
		if count > maxFeeHistoryChunk {
			count = maxFeeHistoryChunk
		}
		newest := next + count - 1
		hist, err := provider.FeeHistory(ctx, count, newest)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch fee history [%d,%d]: %w", next, newest, err)
		}
		if hist.OldestBlock != next {
			return nil, nil, fmt.Errorf("fee history inconsistent: requested oldest block %d, provider returned %d", next, hist.OldestBlock)
		}
		baseFees = append(baseFees, hist.BaseFeePerGas...)
		blobBaseFees = append(blobBaseFees, hist.BaseFeePerBlobGas...)
		next = newest + 1
	}
	return baseFees, blobBaseFees, nil
}
