package gasadjuster

import "github.com/ethereum/go-ethereum/metrics"

var (
	baseFeeMedianGauge     = metrics.NewRegisteredGauge("gasadjuster/basefee/median", nil)
	blobBaseFeeMedianGauge = metrics.NewRegisteredGauge("gasadjuster/blobbasefee/median", nil)
	sampledBlocksMeter     = metrics.NewRegisteredMeter("gasadjuster/sampled_blocks", nil)
	updateFailureMeter     = metrics.NewRegisteredMeter("gasadjuster/update_failures", nil)
)

func metricsUpdateSuccess(baseFeeMedian, blobBaseFeeMedian uint64, newSamples int) {
	baseFeeMedianGauge.Update(int64(baseFeeMedian))
	blobBaseFeeMedianGauge.Update(int64(blobBaseFeeMedian))
	sampledBlocksMeter.Mark(int64(newSamples))
}

func metricsUpdateFailure() {
	updateFailureMeter.Mark(1)
}
