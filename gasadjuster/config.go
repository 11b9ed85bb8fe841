package gasadjuster

import (
	"fmt"
	"time"
)

// PubdataPricingMode selects how the pubdata price is derived.
type PubdataPricingMode string

const (
	PubdataModeBlobs    PubdataPricingMode = "blobs"
	PubdataModeCalldata PubdataPricingMode = "calldata"
	PubdataModeValidium PubdataPricingMode = "validium"
)

// DefaultConfig mirrors the defaults a conservative L1-anchored rollup would
// ship with.
var DefaultConfig = Config{
	PubdataPricingMode:               PubdataModeCalldata,
	MaxBaseFeeSamples:                50,
	NumSamplesForBlobBaseFeeEstimate: 50,
	MaxPriorityFeePerGas:             2_000_000_000, // 2 gwei
	PollPeriod:                       5 * time.Second,
	L1GasPricingMultiplier:           1.2,
	PubdataPricingMultiplier:         1.0,
}

// Config configures the gas adjuster.
type Config struct {
	PubdataPricingMode               PubdataPricingMode
	MaxBaseFeeSamples                int
	NumSamplesForBlobBaseFeeEstimate int
	MaxPriorityFeePerGas             uint64
	PollPeriod                       time.Duration
	L1GasPricingMultiplier           float64
	PubdataPricingMultiplier         float64
}

func (c Config) String() string {
	return fmt.Sprintf(
		"pubdataMode=%s maxBaseFeeSamples=%d blobSamples=%d maxPriorityFeePerGas=%d pollPeriod=%s l1Multiplier=%g pubdataMultiplier=%g",
		c.PubdataPricingMode, c.MaxBaseFeeSamples, c.NumSamplesForBlobBaseFeeEstimate,
		c.MaxPriorityFeePerGas, c.PollPeriod, c.L1GasPricingMultiplier, c.PubdataPricingMultiplier,
	)
}
