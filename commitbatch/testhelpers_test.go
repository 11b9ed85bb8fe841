package commitbatch

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func newTestKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	var raw [32]byte
	raw[31] = 1 // any nonzero scalar < curve order is a valid private key
	key := secp256k1.PrivKeyFromBytes(raw[:])
	return key
}
