package rolluptypes

import (
	"github.com/Masterminds/semver"
	"github.com/ethereum/go-ethereum/common"
)

// TxKind distinguishes the three envelope kinds a ReplayRecord's
// transaction list may contain: signed L2, L1-originated, and upgrade
// transactions. The execution engine, not the WAL, is responsible for
// decoding Raw according to Kind.
type TxKind uint8

const (
	TxKindL2 TxKind = iota
	TxKindL1
	TxKindUpgrade
)

func (k TxKind) String() string {
	switch k {
	case TxKindL2:
		return "l2"
	case TxKindL1:
		return "l1"
	case TxKindUpgrade:
		return "upgrade"
	default:
		return "unknown"
	}
}

// TxEnvelope is an opaque, pre-encoded signed transaction plus a tag for
// which decoder applies. The WAL stores and replays these verbatim; it
// never interprets Raw.
type TxEnvelope struct {
	Kind TxKind
	Raw  []byte
}

// ReplayRecord is the WAL's unit of canonical truth: everything needed to
// deterministically re-execute block BlockContext.BlockNumber.
type ReplayRecord struct {
	BlockContext           BlockContext
	StartingL1PriorityID   uint64
	Transactions           []TxEnvelope
	PreviousBlockTimestamp uint64
	NodeVersion            *semver.Version
	BlockOutputHash        common.Hash
}

// NewGenesisReplayRecord builds the single, well-known record at block 0:
// empty transactions, zero BlockOutputHash.
func NewGenesisReplayRecord(ctx BlockContext, nodeVersion *semver.Version) ReplayRecord {
	if ctx.BlockNumber != 0 {
		panic("genesis replay record must have block number 0")
	}
	return ReplayRecord{
		BlockContext:           ctx,
		StartingL1PriorityID:   0,
		Transactions:           nil,
		PreviousBlockTimestamp: ctx.Timestamp,
		NodeVersion:            nodeVersion,
		BlockOutputHash:        common.Hash{},
	}
}

// IsGenesis reports whether r is the block-0 genesis record.
func (r *ReplayRecord) IsGenesis() bool {
	return r.BlockContext.BlockNumber == 0
}
