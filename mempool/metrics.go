package mempool

import "github.com/ethereum/go-ethereum/metrics"

var (
	metricsPending  = metrics.NewRegisteredCounter("mempool/pending", nil)
	metricsReplaced = metrics.NewRegisteredMeter("mempool/replaced", nil)
)
