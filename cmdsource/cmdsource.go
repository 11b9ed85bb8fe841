// Package cmdsource is the pipeline's root stage: it has no upstream
// producer and instead assembles the sequencer's infinite BlockCommand
// stream from the replay WAL and, once caught up, from freshly minted
// Produce commands. External-node replicas substitute the WAL with a
// replay stream pulled from the main node.
package cmdsource

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupnode/sequencer/pipeline"
	"github.com/rollupnode/sequencer/rolluptypes"
	"github.com/rollupnode/sequencer/sequencer"
)

// ReadReplay is the WAL's read side cmdsource drives. Satisfied by
// *replaywal.WAL.
type ReadReplay interface {
	LatestRecord() uint64
	StreamFrom(start, end uint64, stop <-chan struct{}) <-chan rolluptypes.ReplayRecord
}

// Config parameterizes MainNodeCommandSource.
type Config struct {
	// BlockToStart is the first block replayed from the WAL.
	BlockToStart uint64
	// RebuildFrom, if non-nil, adds a second replay pass over
	// [*RebuildFrom, latest_record] emitting KindRebuild commands, only
	// honored when BlockToStart <= *RebuildFrom <= latest_record.
	RebuildFrom *uint64
	// MakeEmpty is carried onto every emitted Rebuild command.
	MakeEmpty              bool
	BlockTime              time.Duration
	MaxTransactionsInBlock int
}

// MainNodeCommandSource implements pipeline.Stage[struct{}, sequencer.BlockCommand]
// for a node that owns its own WAL: replay, optional rebuild, then an
// infinite produce stream.
type MainNodeCommandSource struct {
	wal ReadReplay
	cfg Config
}

// NewMainNodeCommandSource builds a MainNodeCommandSource over wal.
func NewMainNodeCommandSource(wal ReadReplay, cfg Config) *MainNodeCommandSource {
	return &MainNodeCommandSource{wal: wal, cfg: cfg}
}

func (s *MainNodeCommandSource) Name() string { return "command_source" }

func (s *MainNodeCommandSource) OutputBufferSize() int { return 5 }

// Run has no real input: the caller passes pipeline.Connect an in that is
// never sent on, so Run ignores in entirely. After the replay (and
// optional rebuild) ranges it produces forever, returning only on an
// error or ctx cancellation.
func (s *MainNodeCommandSource) Run(ctx context.Context, in *pipeline.PeekableReceiver[struct{}], out chan<- sequencer.BlockCommand) error {
	latest := s.wal.LatestRecord()
	log.Info("starting command source", "lastBlockInWAL", latest, "blockToStart", s.cfg.BlockToStart)

	stop := make(chan struct{})
	defer close(stop)

	if err := s.streamReplay(ctx, s.cfg.BlockToStart, latest, sequencer.KindReplay, false, out, stop); err != nil {
		return err
	}

	if rebuildFrom := s.cfg.RebuildFrom; rebuildFrom != nil {
		if *rebuildFrom < s.cfg.BlockToStart || *rebuildFrom > latest {
			log.Warn("rebuild_from out of [block_to_start, latest_record] range, skipping rebuild pass",
				"rebuildFrom", *rebuildFrom, "blockToStart", s.cfg.BlockToStart, "latest", latest)
		} else {
			if err := s.streamReplay(ctx, *rebuildFrom, latest, sequencer.KindRebuild, s.cfg.MakeEmpty, out, stop); err != nil {
				return err
			}
		}
	}

	return s.produceForever(ctx, latest+1, out)
}

func (s *MainNodeCommandSource) streamReplay(ctx context.Context, start, end uint64, kind sequencer.BlockCommandKind, makeEmpty bool, out chan<- sequencer.BlockCommand, stop chan struct{}) error {
	if start > end {
		return nil
	}
	records := s.wal.StreamFrom(start, end, stop)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-records:
			if !ok {
				return nil
			}
			cmd := sequencer.BlockCommand{Kind: kind, Replay: &record, MakeEmpty: makeEmpty}
			if !sendCommand(ctx, out, cmd) {
				return ctx.Err()
			}
		}
	}
}

func (s *MainNodeCommandSource) produceForever(ctx context.Context, startBlockNumber uint64, out chan<- sequencer.BlockCommand) error {
	blockNumber := startBlockNumber
	for {
		cmd := sequencer.BlockCommand{
			Kind: sequencer.KindProduce,
			Produce: &sequencer.ProduceParams{
				BlockNumber:            blockNumber,
				BlockTime:              uint64(s.cfg.BlockTime.Milliseconds()),
				MaxTransactionsInBlock: s.cfg.MaxTransactionsInBlock,
			},
		}
		if !sendCommand(ctx, out, cmd) {
			return ctx.Err()
		}
		blockNumber++
	}
}

// sendCommand sends cmd to out, returning false if ctx was cancelled
// first instead of blocking forever against a stalled downstream stage.
func sendCommand(ctx context.Context, out chan<- sequencer.BlockCommand, cmd sequencer.BlockCommand) bool {
	select {
	case out <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

// ReplayPuller is the subset of replaytransport.Client's behavior that
// ExternalNodeCommandSource depends on: a single blocking call that
// streams ReplayRecords starting at a given block number until ctx is
// cancelled or the connection fails.
type ReplayPuller interface {
	Pull(ctx context.Context, startBlockNumber uint64, onRecord func(rolluptypes.ReplayRecord) error) error
}

// ExternalNodeCommandSource is the replica-node variant: rather than
// owning a WAL it pulls the canonical replay stream from the main node
// over the same framing as batch verification (replaytransport.Client),
// re-emitting every received record as a KindReplay command.
type ExternalNodeCommandSource struct {
	puller        ReplayPuller
	startingBlock uint64
}

// NewExternalNodeCommandSource builds an ExternalNodeCommandSource that
// pulls from puller starting at startingBlock.
func NewExternalNodeCommandSource(puller ReplayPuller, startingBlock uint64) *ExternalNodeCommandSource {
	return &ExternalNodeCommandSource{puller: puller, startingBlock: startingBlock}
}

func (s *ExternalNodeCommandSource) Name() string { return "external_node_command_source" }

func (s *ExternalNodeCommandSource) OutputBufferSize() int { return 5 }

func (s *ExternalNodeCommandSource) Run(ctx context.Context, in *pipeline.PeekableReceiver[struct{}], out chan<- sequencer.BlockCommand) error {
	err := s.puller.Pull(ctx, s.startingBlock, func(record rolluptypes.ReplayRecord) error {
		cmd := sequencer.BlockCommand{Kind: sequencer.KindReplay, Replay: &record}
		if !sendCommand(ctx, out, cmd) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pull replay stream from main node: %w", err)
	}
	return nil
}
