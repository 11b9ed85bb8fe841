package replaytransport

import (
	"bytes"
	"testing"

	"github.com/Masterminds/semver"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/rollupnode/sequencer/rolluptypes"
)

func sampleRecord() rolluptypes.ReplayRecord {
	ctx := rolluptypes.BlockContext{
		ChainID:        1,
		BlockNumber:    42,
		Timestamp:      1000,
		EIP1559BaseFee: uint256.NewInt(7),
		PubdataPrice:   uint256.NewInt(8),
		NativePrice:    uint256.NewInt(9),
		Coinbase:       common.HexToAddress("0x01"),
		GasLimit:       30_000_000,
		PubdataLimit:   1_000_000,
	}
	version, err := semver.NewVersion("1.2.3")
	if err != nil {
		panic(err)
	}
	return rolluptypes.ReplayRecord{
		BlockContext:           ctx,
		StartingL1PriorityID:   5,
		Transactions:           []rolluptypes.TxEnvelope{{Kind: rolluptypes.TxKindL2, Raw: []byte{1, 2, 3}}},
		PreviousBlockTimestamp: 999,
		NodeVersion:            version,
		BlockOutputHash:        common.HexToHash("0xabc"),
	}
}

func TestRecordRoundTrip(t *testing.T) {
	record := sampleRecord()
	encoded, err := encodeRecord(record)
	require.NoError(t, err)

	decoded, err := decodeRecord(encoded)
	require.NoError(t, err)

	require.Equal(t, record.BlockContext.BlockNumber, decoded.BlockContext.BlockNumber)
	require.Equal(t, record.BlockContext.EIP1559BaseFee.Uint64(), decoded.BlockContext.EIP1559BaseFee.Uint64())
	require.Equal(t, record.Transactions, decoded.Transactions)
	require.Equal(t, record.NodeVersion.String(), decoded.NodeVersion.String())
	require.Equal(t, record.BlockOutputHash, decoded.BlockOutputHash)
}

func TestRecordRoundTripNilNodeVersion(t *testing.T) {
	record := sampleRecord()
	record.NodeVersion = nil

	encoded, err := encodeRecord(record)
	require.NoError(t, err)
	decoded, err := decodeRecord(encoded)
	require.NoError(t, err)
	require.Nil(t, decoded.NodeVersion)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("hello")))
	require.NoError(t, writeFrame(&buf, []byte("world!")))

	first, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(first))

	second, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "world!", string(second))
}

func TestVersionRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeVersion(&buf, WireFormatVersion))
	version, err := readVersion(&buf)
	require.NoError(t, err)
	require.Equal(t, WireFormatVersion, version)
}

func TestStartRequestRoundTrip(t *testing.T) {
	decoded, err := decodeStartRequest(encodeStartRequest(123456))
	require.NoError(t, err)
	require.Equal(t, uint64(123456), decoded)
}
