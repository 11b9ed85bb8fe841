// Package replaytransport lets a main node stream its canonical
// ReplayRecord sequence to external-node replicas over TCP: the same
// fake-HTTP handshake batchverify uses, then length-prefixed frames
// carrying records in ascending block order.
//
// The frame and handshake shape duplicates batchverify's; each package
// keeps its own copy rather than sharing one, since the two wire formats
// diverge in their payload (ReplayRecord vs Request/Response) and merging
// them behind a shared generic would obscure each protocol's framing
// rather than simplify it.
package replaytransport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Masterminds/semver"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/rollupnode/sequencer/rolluptypes"
)

// WireFormatVersion is written once by the server, u32_be, before any
// frames.
const WireFormatVersion uint32 = 1

// HandshakePath is the fake-HTTP request line path used to make the
// connection look like an HTTP POST to load balancers that require one.
const HandshakePath = "/replay_transport"

// wireContext mirrors rolluptypes.BlockContext but with RLP-friendly
// fixed-size byte arrays in place of *uint256.Int: encoding a bare
// *uint256.Int field through a generic codec without a fixed word-count
// hint is needlessly fragile across a wire boundary.
type wireContext struct {
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
	BlockHashes      []common.Hash
}

func toWireContext(c rolluptypes.BlockContext) wireContext {
	return wireContext{
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
		BlockHashes:      c.BlockHashes[:],
	}
}

func fromWireContext(w wireContext) (rolluptypes.BlockContext, error) {
	if len(w.BlockHashes) != rolluptypes.NumBlockHashes {
		return rolluptypes.BlockContext{}, fmt.Errorf("block context: got %d block hashes, want %d", len(w.BlockHashes), rolluptypes.NumBlockHashes)
	}
	ctx := rolluptypes.BlockContext{
		ChainID:          w.ChainID,
		BlockNumber:      w.BlockNumber,
		Timestamp:        w.Timestamp,
		EIP1559BaseFee:   new(uint256.Int).SetBytes(w.EIP1559BaseFee[:]),
		PubdataPrice:     new(uint256.Int).SetBytes(w.PubdataPrice[:]),
		NativePrice:      new(uint256.Int).SetBytes(w.NativePrice[:]),
		Coinbase:         w.Coinbase,
		GasLimit:         w.GasLimit,
		PubdataLimit:     w.PubdataLimit,
		MixHash:          w.MixHash,
		ExecutionVersion: w.ExecutionVersion,
	}
	copy(ctx.BlockHashes[:], w.BlockHashes)
	return ctx, nil
}

type wireRecord struct {
	Context                wireContext
	StartingL1PriorityID   uint64
	Transactions           []rolluptypes.TxEnvelope
	PreviousBlockTimestamp uint64
	NodeVersion            string
	BlockOutputHash        common.Hash
}

func encodeRecord(record rolluptypes.ReplayRecord) ([]byte, error) {
	var nodeVersion string
	if record.NodeVersion != nil {
		nodeVersion = record.NodeVersion.String()
	}
	return rlp.EncodeToBytes(wireRecord{
		Context:                toWireContext(record.BlockContext),
		StartingL1PriorityID:   record.StartingL1PriorityID,
		Transactions:           record.Transactions,
		PreviousBlockTimestamp: record.PreviousBlockTimestamp,
		NodeVersion:            nodeVersion,
		BlockOutputHash:        record.BlockOutputHash,
	})
}

func decodeRecord(data []byte) (rolluptypes.ReplayRecord, error) {
	var w wireRecord
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return rolluptypes.ReplayRecord{}, fmt.Errorf("decode replay record: %w", err)
	}
	ctx, err := fromWireContext(w.Context)
	if err != nil {
		return rolluptypes.ReplayRecord{}, err
	}
	var nodeVersion *semver.Version
	if w.NodeVersion != "" {
		nodeVersion, err = semver.NewVersion(w.NodeVersion)
		if err != nil {
			return rolluptypes.ReplayRecord{}, fmt.Errorf("parse node version %q: %w", w.NodeVersion, err)
		}
	}
	return rolluptypes.ReplayRecord{
		BlockContext:           ctx,
		StartingL1PriorityID:   w.StartingL1PriorityID,
		Transactions:           w.Transactions,
		PreviousBlockTimestamp: w.PreviousBlockTimestamp,
		NodeVersion:            nodeVersion,
		BlockOutputHash:        w.BlockOutputHash,
	}, nil
}

// encodeStartRequest/decodeStartRequest carry the single piece of
// client->server control data this protocol needs: which block number
// to start streaming from.
func encodeStartRequest(startBlockNumber uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], startBlockNumber)
	return buf[:]
}

func decodeStartRequest(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("start request: got %d bytes, want 8", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// writeFrame writes a u32_be length prefix followed by payload. The
// framing itself is pure fixed-width integer encoding, not a domain
// wire format, so encoding/binary is used directly rather than a
// third-party codec.
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeVersion(w io.Writer, version uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], version)
	_, err := w.Write(buf[:])
	return err
}

func readVersion(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
