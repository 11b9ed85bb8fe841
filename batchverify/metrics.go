package batchverify

import "github.com/ethereum/go-ethereum/metrics"

var (
	signersConnectedGauge = metrics.NewRegisteredGauge("batchverify/signers_connected", nil)
	blockCacheSizeGauge   = metrics.NewRegisteredGauge("batchverify/client/block_cache_size", nil)
)

func metricsSignerConnected() {
	signersConnectedGauge.Inc(1)
}

func metricsSignerDisconnected() {
	signersConnectedGauge.Dec(1)
}

func metricsBlockCacheSize(n int) {
	blockCacheSizeGauge.Update(int64(n))
}
