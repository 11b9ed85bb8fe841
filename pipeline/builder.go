package pipeline

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// Builder accumulates wired stages and runs them under a shared
// errgroup-derived context, so that any one stage's failure cancels the
// rest of the pipeline. Stages are connected one at a time as their
// concrete In/Out types are known at the call site, and the whole chain
// is driven to completion with a single Wait.
type Builder struct {
	ctx context.Context
	eg  *errgroup.Group
}

// NewBuilder starts a pipeline rooted at ctx. The context threaded through
// to stages is cancelled as soon as any stage returns an error.
func NewBuilder(ctx context.Context) *Builder {
	eg, ctx := errgroup.WithContext(ctx)
	return &Builder{ctx: ctx, eg: eg}
}

// Connect wires stage onto in, spawning it under the builder's errgroup and
// returning a receiver for its output. The returned receiver becomes the
// input to the next stage in the chain.
func Connect[In, Out any](b *Builder, stage Stage[In, Out], in *PeekableReceiver[In]) *PeekableReceiver[Out] {
	out := make(chan Out, stage.OutputBufferSize())
	name := stage.Name()
	b.eg.Go(func() error {
		defer close(out)
		err := stage.Run(b.ctx, in, out)
		if err != nil {
			log.Error("pipeline stage failed", "stage", name, "err", err)
			return fmt.Errorf("stage %s: %w", name, err)
		}
		log.Warn("pipeline stage unexpectedly exited", "stage", name)
		return nil
	})
	return NewPeekableReceiver[Out](out)
}

// PipeOpt conditionally wires stage onto in, preserving T either way.
// Pass a nil stage to skip it.
func PipeOpt[T any](b *Builder, stage Stage[T, T], in *PeekableReceiver[T]) *PeekableReceiver[T] {
	if stage == nil {
		return in
	}
	return Connect[T, T](b, stage, in)
}

// Wait blocks until every stage has exited, returning the first non-nil
// error (if any) and cancelling the remaining stages' context.
func (b *Builder) Wait() error {
	return b.eg.Wait()
}
