package replaywal

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rollupnode/sequencer/rolluptypes"
)

// blockNumberKey encodes a block number as an 8-byte big-endian key, the
// on-disk key shape for every CF except latestKey.
func blockNumberKey(n uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(n >> (8 * i))
	}
	return buf[:]
}

func decodeBlockNumberKey(key []byte) (uint64, error) {
	if len(key) != 8 {
		return 0, fmt.Errorf("malformed block number key: got %d bytes, want 8", len(key))
	}
	var n uint64
	for _, b := range key {
		n = n<<8 | uint64(b)
	}
	return n, nil
}

// gobContext mirrors the exported fields of rolluptypes.BlockContext but
// with fixed 32-byte arrays in place of *uint256.Int, since gob cannot
// encode unexported pointer internals portably across process restarts
// without registering a codec. This is the WAL's private on-disk
// encoding, never exchanged with peers.
type gobContext struct {
	ChainID          uint64
	BlockNumber      uint64
	Timestamp        uint64
	EIP1559BaseFee   [32]byte
	PubdataPrice     [32]byte
	NativePrice      [32]byte
	Coinbase         common.Address
	GasLimit         uint64
	PubdataLimit     uint64
	MixHash          common.Hash
	ExecutionVersion uint32
	BlockHashes      [rolluptypes.NumBlockHashes]common.Hash
}

func toGobContext(c rolluptypes.BlockContext) gobContext {
	return gobContext{
		ChainID:          c.ChainID,
		BlockNumber:      c.BlockNumber,
		Timestamp:        c.Timestamp,
		EIP1559BaseFee:   c.EIP1559BaseFee.Bytes32(),
		PubdataPrice:     c.PubdataPrice.Bytes32(),
		NativePrice:      c.NativePrice.Bytes32(),
		Coinbase:         c.Coinbase,
		GasLimit:         c.GasLimit,
		PubdataLimit:     c.PubdataLimit,
		MixHash:          c.MixHash,
		ExecutionVersion: c.ExecutionVersion,
		BlockHashes:      c.BlockHashes,
	}
}

func fromGobContext(g gobContext) rolluptypes.BlockContext {
	return rolluptypes.BlockContext{
		ChainID:          g.ChainID,
		BlockNumber:      g.BlockNumber,
		Timestamp:        g.Timestamp,
		EIP1559BaseFee:   new(uint256.Int).SetBytes(g.EIP1559BaseFee[:]),
		PubdataPrice:     new(uint256.Int).SetBytes(g.PubdataPrice[:]),
		NativePrice:      new(uint256.Int).SetBytes(g.NativePrice[:]),
		Coinbase:         g.Coinbase,
		GasLimit:         g.GasLimit,
		PubdataLimit:     g.PubdataLimit,
		MixHash:          g.MixHash,
		ExecutionVersion: g.ExecutionVersion,
		BlockHashes:      g.BlockHashes,
	}
}

func encodeContext(c rolluptypes.BlockContext) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toGobContext(c)); err != nil {
		return nil, fmt.Errorf("encode block context: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeContext(data []byte) (rolluptypes.BlockContext, error) {
	var g gobContext
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return rolluptypes.BlockContext{}, fmt.Errorf("decode block context: %w", err)
	}
	return fromGobContext(g), nil
}

func encodeUint64(v uint64) []byte {
	var buf bytes.Buffer
	gob.NewEncoder(&buf).Encode(v) //nolint:errcheck // encoding a uint64 cannot fail
	return buf.Bytes()
}

func decodeUint64(data []byte) (uint64, error) {
	var v uint64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return 0, fmt.Errorf("decode uint64: %w", err)
	}
	return v, nil
}

func encodeTransactions(txs []rolluptypes.TxEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(txs); err != nil {
		return nil, fmt.Errorf("encode transactions: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeTransactions(data []byte) ([]rolluptypes.TxEnvelope, error) {
	var txs []rolluptypes.TxEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&txs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return txs, nil
}

func encodeNodeVersion(v *semver.Version) []byte {
	if v == nil {
		return nil
	}
	return []byte(v.String())
}

func decodeNodeVersion(data []byte) (*semver.Version, error) {
	if len(data) == 0 {
		return nil, nil
	}
	v, err := semver.NewVersion(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse node version %q: %w", data, err)
	}
	return v, nil
}
