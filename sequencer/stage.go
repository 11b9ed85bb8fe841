package sequencer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupnode/sequencer/pipeline"
)

// Run implements pipeline.Stage[BlockCommand, Output]: it drains cmd from
// in, converting each into an Output via HandleCommand, until in is
// exhausted or ctx is cancelled. Any error from HandleCommand is fatal
// and terminates the stage.
func (s *Sequencer) Run(ctx context.Context, in *pipeline.PeekableReceiver[BlockCommand], out chan<- Output) error {
	for {
		cmd, ok := in.Recv(ctx)
		if !ok {
			return nil
		}
		result, err := s.HandleCommand(ctx, cmd)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handle %s command: %w", cmd.Kind, err)
		}
		log.Debug("sequencer: produced block", "blockNumber", result.Record.BlockContext.BlockNumber, "kind", cmd.Kind.String())
		select {
		case out <- result:
		case <-ctx.Done():
			return nil
		}
	}
}
