package l1sender

import "github.com/ethereum/go-ethereum/metrics"

var (
	metricsCallSucceeded = metrics.NewRegisteredMeter("l1sender/dryrun/call_succeeded", nil)
	metricsCallFailed    = metrics.NewRegisteredMeter("l1sender/dryrun/call_failed", nil)
)
