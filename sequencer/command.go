// Package sequencer converts BlockCommands into executed, persisted
// blocks: Prepare -> Execute -> Persist -> Emit.
package sequencer

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/rollupnode/sequencer/rolluptypes"
)

// BlockCommand is the Sequencer stage's input type.
type BlockCommand struct {
	Kind      BlockCommandKind
	Replay    *rolluptypes.ReplayRecord // set for KindReplay and KindRebuild
	Produce   *ProduceParams            // set for KindProduce
	MakeEmpty bool                      // KindRebuild only
}

// BlockCommandKind tags which variant of BlockCommand is populated.
type BlockCommandKind uint8

const (
	KindReplay BlockCommandKind = iota
	KindProduce
	KindRebuild
)

func (k BlockCommandKind) String() string {
	switch k {
	case KindReplay:
		return "replay"
	case KindProduce:
		return "produce"
	case KindRebuild:
		return "rebuild"
	default:
		return "unknown"
	}
}

// ProduceParams carries the per-command parameters cmdsource's Produce
// stream attaches.
type ProduceParams struct {
	BlockNumber            uint64
	BlockTime              uint64
	MaxTransactionsInBlock int
}

// SealPolicy governs when the execution engine stops admitting
// transactions into the block it is building.
type SealPolicy struct {
	// Decide is used for Produce: seal once blockTime has elapsed or
	// maxTxs transactions have been admitted, whichever comes first.
	Decide *DecideSealPolicy
	// UntilExhausted is used for Replay/Rebuild: seal only once the tx
	// stream is exhausted, regardless of elapsed time or count.
	UntilExhausted bool
}

// DecideSealPolicy parameterizes SealPolicy.Decide.
type DecideSealPolicy struct {
	BlockTimeMillis uint64
	MaxTxs          int
}

// InvalidTxPolicy governs what happens when a transaction fails
// execution.
type InvalidTxPolicy uint8

const (
	// RejectAndContinue drops the invalid transaction (and evicts it from
	// the mempool) and keeps building the block. Used for Produce.
	RejectAndContinue InvalidTxPolicy = iota
	// Abort fails the whole command. Used for Replay: a replayed block
	// must execute exactly as it did the first time.
	Abort
)

// PreparedBlockCommand is the fully-resolved input to the execution
// engine, produced from a BlockCommand during the prepare step.
type PreparedBlockCommand struct {
	Context              rolluptypes.BlockContext
	Transactions         []rolluptypes.TxEnvelope
	SealPolicy           SealPolicy
	InvalidTxPolicy      InvalidTxPolicy
	ExpectedOutputHash   *common.Hash // present for Replay/Rebuild, nil for Produce
	StartingL1PriorityID uint64

	// sourceEntries records, for Produce commands, which mempool entry
	// each Transactions[i] came from. Nothing reads it: the hashes
	// reported to OnCanonicalStateChange come from the engine's
	// BlockOutput.AdmittedHashes. Empty for Replay/Rebuild commands.
	sourceEntries []txSource
}

// txSource records the sender and nonce for a Produce-sourced
// transaction, recovered from the mempool entry it was pulled from
// rather than by decoding Raw (that remains the execution engine's job).
type txSource struct {
	Hash  common.Hash
	From  common.Address
	Nonce uint64
}
