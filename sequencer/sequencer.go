package sequencer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/rollupnode/sequencer/mempool"
	"github.com/rollupnode/sequencer/rolluptypes"
)

// Output is what the Sequencer stage emits downstream.
type Output struct {
	BlockOutput BlockOutput
	Record      rolluptypes.ReplayRecord
}

// StateWriter persists a block's storage writes and published preimages
// at blockNumber. Backed in production by the versioned state view; its
// storage engine lives outside this module.
type StateWriter interface {
	ApplyBlock(blockNumber uint64, writes []StorageWrite, preimages []PublishedPreimage) error
}

// TreeWriter forwards a block's tree-input diffs to the Merkle tree
// implementation (write side of the merkleview.MerkleTreeVersion
// contract).
type TreeWriter interface {
	ApplyTreeInputs(blockNumber uint64, inputs []TreeInput) error
}

// Repository records executed blocks for RPC-layer queries. The RPC
// front-end itself lives outside this module; this hook exists purely so
// persist has somewhere to put results an RPC layer would read. A nil
// Repository is valid and silently skipped.
type Repository interface {
	AppendBlock(blockNumber uint64, output BlockOutput) error
}

// WriteReplay is the WAL's write side the sequencer appends to.
// Satisfied by *replaywal.WAL.
type WriteReplay interface {
	Append(record rolluptypes.ReplayRecord) (bool, error)
}

// MempoolSource supplies the Produce tx stream and is notified of the
// canonical state change after a block persists. Satisfied by
// *mempool.Mempool.
type MempoolSource interface {
	Stream(maxTxs int) []mempool.Entry
	OnCanonicalStateChange(included []common.Hash, newNonces map[common.Address]uint64)
}

// GasPricer supplies the Produce context's base-fee/pubdata-price fields.
// Satisfied by *gasadjuster.GasAdjuster.
type GasPricer interface {
	BaseFeeMedian() *uint256.Int
	PubdataPrice() *uint256.Int
}

// AcceptanceReporter is signaled when block production is throttled off
// (MaxBlocksToProduce reached), so the RPC layer can reject incoming
// transactions with a structured reason instead of silently queuing
// them forever.
type AcceptanceReporter interface {
	SetNotAccepting(reason string)
}

// Config configures a Sequencer instance.
type Config struct {
	// MaxBlocksToProduce, if non-zero, throttles Produce commands once
	// this many blocks have been produced in this process's lifetime.
	MaxBlocksToProduce uint64
	// DumpPath, if set, receives a JSON dump of the PreparedBlockCommand
	// that caused a fatal execution error, for offline debugging.
	DumpPath     string
	ChainID      uint64
	GasLimit     uint64
	PubdataLimit uint64
	Coinbase     common.Address
}

// Sequencer converts BlockCommands into executed, persisted blocks.
// Implements pipeline.Stage[BlockCommand, Output].
type Sequencer struct {
	cfg         Config
	engine      ExecutionEngine
	stateWriter StateWriter
	treeWriter  TreeWriter
	repository  Repository
	wal         WriteReplay
	mempool     MempoolSource
	gasPricer   GasPricer
	acceptance  AcceptanceReporter

	produced          uint64
	previousContextFn previousContextFunc
}

// New builds a Sequencer. repository and acceptance may be nil.
func New(cfg Config, engine ExecutionEngine, stateWriter StateWriter, treeWriter TreeWriter, repository Repository, wal WriteReplay, pool MempoolSource, gasPricer GasPricer, acceptance AcceptanceReporter) *Sequencer {
	return &Sequencer{
		cfg:         cfg,
		engine:      engine,
		stateWriter: stateWriter,
		treeWriter:  treeWriter,
		repository:  repository,
		wal:         wal,
		mempool:     pool,
		gasPricer:   gasPricer,
		acceptance:  acceptance,
	}
}

func (s *Sequencer) Name() string { return "sequencer" }

func (s *Sequencer) OutputBufferSize() int { return 16 }

// HandleCommand runs one BlockCommand through prepare -> execute ->
// persist -> emit, returning the (BlockOutput, ReplayRecord) pair on
// success. Any execution error is fatal: a dump is written (if
// configured) and the error is returned for the caller (the pipeline
// stage loop) to treat as a fatal stage error.
func (s *Sequencer) HandleCommand(ctx context.Context, cmd BlockCommand) (Output, error) {
	if cmd.Kind == KindProduce && s.throttled() {
		if s.acceptance != nil {
			s.acceptance.SetNotAccepting("BlockProductionDisabled")
		}
		<-ctx.Done()
		return Output{}, ctx.Err()
	}

	prepared, err := s.prepare(cmd)
	if err != nil {
		return Output{}, fmt.Errorf("prepare block command: %w", err)
	}

	output, err := s.engine.RunBlock(ctx, prepared)
	if err != nil {
		s.dumpOnFatal(prepared, err)
		return Output{}, fmt.Errorf("run block %d: %w", prepared.Context.BlockNumber, err)
	}

	if prepared.ExpectedOutputHash != nil && output.Hash != *prepared.ExpectedOutputHash {
		dumpErr := fmt.Errorf("block output hash mismatch: expected %s, got %s", prepared.ExpectedOutputHash, output.Hash)
		s.dumpOnFatal(prepared, dumpErr)
		return Output{}, dumpErr
	}

	record, err := s.persist(prepared, output)
	if err != nil {
		s.dumpOnFatal(prepared, err)
		return Output{}, fmt.Errorf("persist block %d: %w", prepared.Context.BlockNumber, err)
	}

	if cmd.Kind == KindProduce {
		s.produced++
	}
	metricsBlockHandled(cmd.Kind.String())
	return Output{BlockOutput: output, Record: record}, nil
}

func (s *Sequencer) throttled() bool {
	return s.cfg.MaxBlocksToProduce != 0 && s.produced >= s.cfg.MaxBlocksToProduce
}

// prepare resolves a BlockCommand into a PreparedBlockCommand.
func (s *Sequencer) prepare(cmd BlockCommand) (PreparedBlockCommand, error) {
	switch cmd.Kind {
	case KindProduce:
		return s.prepareProduce(cmd.Produce)
	case KindReplay:
		return s.prepareReplay(*cmd.Replay, false)
	case KindRebuild:
		return s.prepareReplay(*cmd.Replay, cmd.MakeEmpty)
	default:
		return PreparedBlockCommand{}, fmt.Errorf("unknown block command kind %v", cmd.Kind)
	}
}

func (s *Sequencer) prepareProduce(params *ProduceParams) (PreparedBlockCommand, error) {
	if params == nil {
		return PreparedBlockCommand{}, fmt.Errorf("produce command missing params")
	}
	prevCtx, ok := s.previousContext(params.BlockNumber)
	if !ok {
		return PreparedBlockCommand{}, fmt.Errorf("no previous context for produce block %d", params.BlockNumber)
	}

	timestamp := uint64(time.Now().Unix())
	if timestamp < prevCtx.Timestamp+1 {
		timestamp = prevCtx.Timestamp + 1
	}

	ctx := rolluptypes.BlockContext{
		ChainID:          s.cfg.ChainID,
		BlockNumber:      params.BlockNumber,
		Timestamp:        timestamp,
		EIP1559BaseFee:   s.gasPricer.BaseFeeMedian(),
		PubdataPrice:     s.gasPricer.PubdataPrice(),
		NativePrice:      uint256.NewInt(0),
		Coinbase:         s.cfg.Coinbase,
		GasLimit:         s.cfg.GasLimit,
		PubdataLimit:     s.cfg.PubdataLimit,
		ExecutionVersion: prevCtx.ExecutionVersion,
		BlockHashes:      shiftBlockHashes(prevCtx),
	}

	entries := s.mempool.Stream(params.MaxTransactionsInBlock)
	txs := make([]rolluptypes.TxEnvelope, len(entries))
	sources := make([]txSource, len(entries))
	for i, e := range entries {
		txs[i] = e.Envelope
		sources[i] = txSource{Hash: e.Hash, From: e.From, Nonce: e.Nonce}
	}

	return PreparedBlockCommand{
		Context:      ctx,
		Transactions: txs,
		SealPolicy: SealPolicy{Decide: &DecideSealPolicy{
			BlockTimeMillis: params.BlockTime,
			MaxTxs:          params.MaxTransactionsInBlock,
		}},
		InvalidTxPolicy: RejectAndContinue,
		sourceEntries:   sources,
	}, nil
}

func (s *Sequencer) prepareReplay(record rolluptypes.ReplayRecord, makeEmpty bool) (PreparedBlockCommand, error) {
	txs := record.Transactions
	if makeEmpty {
		txs = nil
	}
	outputHash := record.BlockOutputHash
	return PreparedBlockCommand{
		Context:              record.BlockContext,
		Transactions:         txs,
		SealPolicy:           SealPolicy{UntilExhausted: true},
		InvalidTxPolicy:      Abort,
		ExpectedOutputHash:   &outputHash,
		StartingL1PriorityID: record.StartingL1PriorityID,
	}, nil
}

// previousContext looks up the context of the preceding block (the
// WAL's GetContext fast path); modeled as a settable function so tests
// can stub it without wiring a full WAL.
func (s *Sequencer) previousContext(blockNumber uint64) (rolluptypes.BlockContext, bool) {
	if s.previousContextFn != nil {
		return s.previousContextFn(blockNumber - 1)
	}
	return rolluptypes.BlockContext{}, false
}

// previousContextFn, when set, is consulted by previousContext instead of
// a real WAL; SetPreviousContextSource wires it at construction time in
// production.
type previousContextFunc = func(blockNumber uint64) (rolluptypes.BlockContext, bool)

// SetPreviousContextSource wires the function the sequencer uses to look
// up the context of the block immediately preceding a Produce command
// (typically replaywal.WAL.GetContext).
func (s *Sequencer) SetPreviousContextSource(fn func(blockNumber uint64) (rolluptypes.BlockContext, bool)) {
	s.previousContextFn = fn
}

// shiftBlockHashes slides prev's BlockHashes window forward by one,
// inserting prev's own block hash (derived from its context) at index
// 255, the last-recent-hash convention. The execution engine's BLOCKHASH
// windowing must agree with this placement.
func shiftBlockHashes(prev rolluptypes.BlockContext) [rolluptypes.NumBlockHashes]common.Hash {
	var out [rolluptypes.NumBlockHashes]common.Hash
	copy(out[:rolluptypes.NumBlockHashes-1], prev.BlockHashes[1:])
	out[rolluptypes.NumBlockHashes-1] = prev.MixHash
	return out
}

// persist applies storage writes/preimages, records the block in the
// (optional) repository, updates the mempool, and appends a ReplayRecord
// to the WAL.
func (s *Sequencer) persist(prepared PreparedBlockCommand, output BlockOutput) (rolluptypes.ReplayRecord, error) {
	blockNumber := prepared.Context.BlockNumber

	if err := s.stateWriter.ApplyBlock(blockNumber, output.StorageWrites, output.Preimages); err != nil {
		return rolluptypes.ReplayRecord{}, fmt.Errorf("apply state writes: %w", err)
	}
	if s.treeWriter != nil {
		if err := s.treeWriter.ApplyTreeInputs(blockNumber, output.TreeInputs); err != nil {
			return rolluptypes.ReplayRecord{}, fmt.Errorf("apply tree inputs: %w", err)
		}
	}
	if s.repository != nil {
		if err := s.repository.AppendBlock(blockNumber, output); err != nil {
			return rolluptypes.ReplayRecord{}, fmt.Errorf("append to repository: %w", err)
		}
	}

	included := output.AdmittedHashes()
	s.mempool.OnCanonicalStateChange(included, output.NonceDiffs())

	record := rolluptypes.ReplayRecord{
		BlockContext:           prepared.Context,
		StartingL1PriorityID:   prepared.StartingL1PriorityID,
		Transactions:           admittedEnvelopes(prepared, output),
		PreviousBlockTimestamp: 0, // filled in by the WAL on read, per replaywal's convention
		NodeVersion:            nil,
		BlockOutputHash:        output.Hash,
	}
	if _, err := s.wal.Append(record); err != nil {
		return rolluptypes.ReplayRecord{}, fmt.Errorf("append replay record: %w", err)
	}
	return record, nil
}

// admittedEnvelopes filters prepared.Transactions down to those the
// engine actually admitted, for Produce commands (Replay/Rebuild already
// carry the authoritative list and are expected to admit everything).
func admittedEnvelopes(prepared PreparedBlockCommand, output BlockOutput) []rolluptypes.TxEnvelope {
	if prepared.InvalidTxPolicy == Abort {
		return prepared.Transactions
	}
	invalid := make(map[int]bool, len(output.TxResults))
	for i, r := range output.TxResults {
		if r.Invalid {
			invalid[i] = true
		}
	}
	out := make([]rolluptypes.TxEnvelope, 0, len(prepared.Transactions))
	for i, tx := range prepared.Transactions {
		if !invalid[i] {
			out = append(out, tx)
		}
	}
	return out
}

// dumpOnFatal writes prepared to cfg.DumpPath as JSON for offline
// debugging. Best-effort: a dump failure is logged, not propagated,
// since the caller is already on the fatal-error path.
func (s *Sequencer) dumpOnFatal(prepared PreparedBlockCommand, cause error) {
	log.Error("sequencer: fatal execution error", "blockNumber", prepared.Context.BlockNumber, "err", cause)
	if s.cfg.DumpPath == "" {
		return
	}
	name := fmt.Sprintf("prepared-block-%d-%d.json", prepared.Context.BlockNumber, time.Now().UnixNano())
	path := filepath.Join(s.cfg.DumpPath, name)
	data, err := json.MarshalIndent(prepared, "", "  ")
	if err != nil {
		log.Error("sequencer: failed to marshal dump", "err", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error("sequencer: failed to write dump", "path", path, "err", err)
		return
	}
	log.Error("sequencer: wrote prepared block command dump", "path", path)
}
