package commitbatch

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func sampleInfo() CommitBatchInfo {
	return CommitBatchInfo{
		BatchNumber:            7,
		FirstBlockNumber:       100,
		LastBlockNumber:        150,
		ChainID:                270,
		NewStateCommitment:     common.HexToHash("0x01"),
		PriorityOperationsHash: common.HexToHash("0x02"),
		NumberOfLayer1Txs:      3,
		DACommitment:           common.HexToHash("0x03"),
		FirstBlockTimestamp:    1000,
		LastBlockTimestamp:     1500,
		OperatorDAInput:        []byte("da-input"),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	info := sampleInfo()
	encoded, err := info.Encode()
	require.NoError(t, err)

	decoded, err := DecodeCommitBatchInfo(encoded)
	require.NoError(t, err)
	require.Equal(t, info, decoded)
}

func TestDiffDetectsFirstMismatchingField(t *testing.T) {
	local := sampleInfo()
	remote := sampleInfo()
	remote.BatchNumber = 8

	field, differs := Diff(local, remote)
	require.True(t, differs)
	require.Equal(t, "batchNumber: local=7, remote=8", field)
}

func TestDiffNoMismatch(t *testing.T) {
	local := sampleInfo()
	remote := sampleInfo()

	_, differs := Diff(local, remote)
	require.False(t, differs)
}

func TestBatchSignatureSetRejectsDuplicateSigner(t *testing.T) {
	set := NewBatchSignatureSet()
	signer := common.HexToAddress("0xaaaa000000000000000000000000000000aaaa")

	require.NoError(t, set.Push(ValidatedBatchSignature{Signer: signer}))
	require.Equal(t, 1, set.Len())

	err := set.Push(ValidatedBatchSignature{Signer: signer})
	require.ErrorIs(t, err, ErrDuplicatedSignature)
	require.Equal(t, 1, set.Len())
}

func TestSignAndRecoverRoundTrip(t *testing.T) {
	key := newTestKey(t)
	info := sampleInfo()

	sig, err := Sign(info, key)
	require.NoError(t, err)

	signer, err := sig.Recover(info)
	require.NoError(t, err)
	require.Equal(t, pubkeyToAddress(key.PubKey()), signer)
}
