// Package commitbatch defines the batch-commitment struct signed by
// remote verifiers and committed to L1, together with the threshold
// signature set collected for it.
package commitbatch

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// CommitBatchInfo is the ABI-encodable struct committed to L1 describing
// a batch's state transition. Field layout mirrors the on-chain
// IExecutor.CommitBatchInfo tuple: a fixed scalar prefix followed by the
// operator-supplied DA input blob.
type CommitBatchInfo struct {
	BatchNumber            uint64
	FirstBlockNumber       uint64
	LastBlockNumber        uint64
	ChainID                uint64
	NewStateCommitment     common.Hash
	PriorityOperationsHash common.Hash
	NumberOfLayer1Txs      uint64
	DACommitment           common.Hash
	FirstBlockTimestamp    uint64
	LastBlockTimestamp     uint64
	OperatorDAInput        []byte
}

var commitBatchInfoArgs abi.Arguments

func init() {
	uint64T, err := abi.NewType("uint64", "", nil)
	if err != nil {
		panic(err)
	}
	bytes32T, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}
	bytesT, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	commitBatchInfoArgs = abi.Arguments{
		{Type: uint64T},  // BatchNumber
		{Type: uint64T},  // FirstBlockNumber
		{Type: uint64T},  // LastBlockNumber
		{Type: uint64T},  // ChainID
		{Type: bytes32T}, // NewStateCommitment
		{Type: bytes32T}, // PriorityOperationsHash
		{Type: uint64T},  // NumberOfLayer1Txs
		{Type: bytes32T}, // DACommitment
		{Type: uint64T},  // FirstBlockTimestamp
		{Type: uint64T},  // LastBlockTimestamp
		{Type: bytesT},   // OperatorDAInput
	}
}

// Encode ABI-encodes the batch info in the fixed field order above.
func (c CommitBatchInfo) Encode() ([]byte, error) {
	return commitBatchInfoArgs.Pack(
		c.BatchNumber,
		c.FirstBlockNumber,
		c.LastBlockNumber,
		c.ChainID,
		c.NewStateCommitment,
		c.PriorityOperationsHash,
		c.NumberOfLayer1Txs,
		c.DACommitment,
		c.FirstBlockTimestamp,
		c.LastBlockTimestamp,
		c.OperatorDAInput,
	)
}

// DecodeCommitBatchInfo reverses Encode.
func DecodeCommitBatchInfo(data []byte) (CommitBatchInfo, error) {
	values, err := commitBatchInfoArgs.Unpack(data)
	if err != nil {
		return CommitBatchInfo{}, fmt.Errorf("unpack commit batch info: %w", err)
	}
	if len(values) != 11 {
		return CommitBatchInfo{}, fmt.Errorf("unpack commit batch info: expected 11 fields, got %d", len(values))
	}
	return CommitBatchInfo{
		BatchNumber:            values[0].(uint64),
		FirstBlockNumber:       values[1].(uint64),
		LastBlockNumber:        values[2].(uint64),
		ChainID:                values[3].(uint64),
		NewStateCommitment:     values[4].([32]byte),
		PriorityOperationsHash: values[5].([32]byte),
		NumberOfLayer1Txs:      values[6].(uint64),
		DACommitment:           values[7].([32]byte),
		FirstBlockTimestamp:    values[8].(uint64),
		LastBlockTimestamp:     values[9].(uint64),
		OperatorDAInput:        values[10].([]byte),
	}, nil
}

// Diff describes the first field by which two CommitBatchInfo values
// differ, in the "local=X, remote=Y" shape the batch-verification
// client uses in its Refused reason.
func Diff(local, remote CommitBatchInfo) (field string, differs bool) {
	switch {
	case local.BatchNumber != remote.BatchNumber:
		return fmt.Sprintf("batchNumber: local=%d, remote=%d", local.BatchNumber, remote.BatchNumber), true
	case local.FirstBlockNumber != remote.FirstBlockNumber:
		return fmt.Sprintf("firstBlockNumber: local=%d, remote=%d", local.FirstBlockNumber, remote.FirstBlockNumber), true
	case local.LastBlockNumber != remote.LastBlockNumber:
		return fmt.Sprintf("lastBlockNumber: local=%d, remote=%d", local.LastBlockNumber, remote.LastBlockNumber), true
	case local.ChainID != remote.ChainID:
		return fmt.Sprintf("chainId: local=%d, remote=%d", local.ChainID, remote.ChainID), true
	case local.NewStateCommitment != remote.NewStateCommitment:
		return fmt.Sprintf("newStateCommitment: local=%s, remote=%s", local.NewStateCommitment, remote.NewStateCommitment), true
	case local.PriorityOperationsHash != remote.PriorityOperationsHash:
		return fmt.Sprintf("priorityOperationsHash: local=%s, remote=%s", local.PriorityOperationsHash, remote.PriorityOperationsHash), true
	case local.NumberOfLayer1Txs != remote.NumberOfLayer1Txs:
		return fmt.Sprintf("numberOfLayer1Txs: local=%d, remote=%d", local.NumberOfLayer1Txs, remote.NumberOfLayer1Txs), true
	case local.DACommitment != remote.DACommitment:
		return fmt.Sprintf("daCommitment: local=%s, remote=%s", local.DACommitment, remote.DACommitment), true
	case local.FirstBlockTimestamp != remote.FirstBlockTimestamp:
		return fmt.Sprintf("firstBlockTimestamp: local=%d, remote=%d", local.FirstBlockTimestamp, remote.FirstBlockTimestamp), true
	case local.LastBlockTimestamp != remote.LastBlockTimestamp:
		return fmt.Sprintf("lastBlockTimestamp: local=%d, remote=%d", local.LastBlockTimestamp, remote.LastBlockTimestamp), true
	case string(local.OperatorDAInput) != string(remote.OperatorDAInput):
		return "operatorDAInput: mismatch", true
	default:
		return "", false
	}
}
