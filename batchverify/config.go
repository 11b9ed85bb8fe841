package batchverify

import (
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
)

// Config carries the batch-verification settings shared by the server
// and client sides.
type Config struct {
	// Enabled gates whether batches require signatures at all (server
	// side) or whether this process signs requests (client side).
	Enabled bool
	// Address is the listen address (server) or dial address (client).
	Address string
	// Threshold is the minimum number of unique validated signers
	// required before a batch may proceed.
	Threshold int
	// AcceptedSigners restricts which recovered signer addresses count
	// toward Threshold; a response from any other address is dropped.
	// An empty list accepts any recovered signer.
	AcceptedSigners []common.Address
	// RequestTimeout bounds one verification attempt.
	RequestTimeout time.Duration
	// RetryDelay separates attempts.
	RetryDelay time.Duration
	// TotalTimeout bounds the whole envelope across retries.
	TotalTimeout time.Duration
	// SigningKey is the client-side secret this node signs commit data
	// with. Unused on the server side.
	SigningKey *secp256k1.PrivateKey
}

// DefaultConfig holds the defaults a single-signer deployment starts
// from; verification itself stays off until explicitly enabled.
var DefaultConfig = Config{
	Enabled:        false,
	Address:        "0.0.0.0:3072",
	Threshold:      1,
	RequestTimeout: 5 * time.Second,
	RetryDelay:     time.Second,
	TotalTimeout:   300 * time.Second,
}

func (c Config) String() string {
	return fmt.Sprintf(
		"enabled=%t address=%s threshold=%d acceptedSigners=%d requestTimeout=%s retryDelay=%s totalTimeout=%s",
		c.Enabled, c.Address, c.Threshold, len(c.AcceptedSigners),
		c.RequestTimeout, c.RetryDelay, c.TotalTimeout,
	)
}
