package gasadjuster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	latest          uint64
	baseFeePerBlock map[uint64]uint64
	blobFeePerBlock map[uint64]uint64
	failFeeHistory  bool
}

func (f *fakeProvider) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeProvider) FeeHistory(ctx context.Context, blockCount uint64, newestBlock uint64) (FeeHistory, error) {
	if f.failFeeHistory {
		return FeeHistory{}, errors.New("provider unavailable")
	}
	oldest := newestBlock - blockCount + 1
	hist := FeeHistory{OldestBlock: oldest}
	for b := oldest; b <= newestBlock; b++ {
		hist.BaseFeePerGas = append(hist.BaseFeePerGas, uint256.NewInt(f.baseFeePerBlock[b]))
		hist.BaseFeePerBlobGas = append(hist.BaseFeePerBlobGas, uint256.NewInt(f.blobFeePerBlock[b]))
	}
	return hist, nil
}

func newFakeProvider(latest uint64, baseFees, blobFees map[uint64]uint64) *fakeProvider {
	return &fakeProvider{latest: latest, baseFeePerBlock: baseFees, blobFeePerBlock: blobFees}
}

func TestTickSamplesFeeHistoryAndUpdatesMedian(t *testing.T) {
	baseFees := map[uint64]uint64{1: 10, 2: 20, 3: 30}
	blobFees := map[uint64]uint64{1: 1, 2: 2, 3: 3}
	provider := newFakeProvider(4, baseFees, blobFees) // safeHead = 3

	cfg := DefaultConfig
	cfg.MaxBaseFeeSamples = 10
	cfg.NumSamplesForBlobBaseFeeEstimate = 10
	adjuster := New(cfg, provider, 0)

	require.NoError(t, adjuster.tick(context.Background()))
	require.Equal(t, uint64(20), adjuster.BaseFeeMedian().Uint64())
	require.Equal(t, uint64(2), adjuster.BlobBaseFeeMedian().Uint64())
	require.Equal(t, uint64(3), adjuster.baseFee.LastProcessedBlock())
}

func TestTickIsNoOpWithoutNewL1Blocks(t *testing.T) {
	provider := newFakeProvider(1, nil, nil) // safeHead = 0, lastProcessed already 0
	adjuster := New(DefaultConfig, provider, 0)

	require.NoError(t, adjuster.tick(context.Background()))
	require.Equal(t, uint64(0), adjuster.BaseFeeMedian().Uint64())
}

func TestTickPropagatesProviderErrorWithoutMutatingState(t *testing.T) {
	provider := newFakeProvider(4, map[uint64]uint64{1: 10}, nil)
	provider.failFeeHistory = true
	adjuster := New(DefaultConfig, provider, 0)

	err := adjuster.tick(context.Background())
	require.Error(t, err)
	require.Equal(t, uint64(0), adjuster.baseFee.LastProcessedBlock())
}

func TestGasPriceCombinesMedianAndPriorityFee(t *testing.T) {
	adjuster := New(DefaultConfig, newFakeProvider(0, nil, nil), 0)
	adjuster.baseFee.Append(uint256.NewInt(100))
	adjuster.cfg.MaxPriorityFeePerGas = 10
	adjuster.cfg.L1GasPricingMultiplier = 1

	require.Equal(t, uint64(110), adjuster.GasPrice().Uint64())
}

func TestPubdataPriceValidiumModeIsZero(t *testing.T) {
	cfg := DefaultConfig
	cfg.PubdataPricingMode = PubdataModeValidium
	adjuster := New(cfg, newFakeProvider(0, nil, nil), 0)
	adjuster.baseFee.Append(uint256.NewInt(100))

	require.True(t, adjuster.PubdataPrice().IsZero())
}

func TestPubdataPriceCalldataModeIsSeventeenTimesGasPrice(t *testing.T) {
	cfg := DefaultConfig
	cfg.PubdataPricingMode = PubdataModeCalldata
	cfg.L1GasPricingMultiplier = 1
	cfg.MaxPriorityFeePerGas = 0
	adjuster := New(cfg, newFakeProvider(0, nil, nil), 0)
	adjuster.baseFee.Append(uint256.NewInt(5))

	require.Equal(t, uint64(85), adjuster.PubdataPrice().Uint64())
}

func TestPubdataPriceBlobsModeUsesBlobMedian(t *testing.T) {
	cfg := DefaultConfig
	cfg.PubdataPricingMode = PubdataModeBlobs
	cfg.PubdataPricingMultiplier = 1
	adjuster := New(cfg, newFakeProvider(0, nil, nil), 0)
	adjuster.blobBaseFee.Append(uint256.NewInt(7))

	require.Equal(t, uint64(7), adjuster.PubdataPrice().Uint64())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := DefaultConfig
	cfg.PollPeriod = time.Millisecond
	adjuster := New(cfg, newFakeProvider(0, nil, nil), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		adjuster.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
