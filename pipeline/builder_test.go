package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// doubleStage multiplies every int it receives by two.
type doubleStage struct{}

func (doubleStage) Name() string          { return "double" }
func (doubleStage) OutputBufferSize() int { return 4 }
func (doubleStage) Run(ctx context.Context, in *PeekableReceiver[int], out chan<- int) error {
	for {
		item, ok := in.Recv(ctx)
		if !ok {
			return nil
		}
		select {
		case out <- item * 2:
		case <-ctx.Done():
			return nil
		}
	}
}

// toStringStage renders each int as a string.
type toStringStage struct{}

func (toStringStage) Name() string          { return "stringify" }
func (toStringStage) OutputBufferSize() int { return 4 }
func (toStringStage) Run(ctx context.Context, in *PeekableReceiver[int], out chan<- string) error {
	for {
		item, ok := in.Recv(ctx)
		if !ok {
			return nil
		}
		select {
		case out <- string(rune('0' + item)):
		case <-ctx.Done():
			return nil
		}
	}
}

// failingStage always errors on its first item.
type failingStage struct{}

func (failingStage) Name() string          { return "failing" }
func (failingStage) OutputBufferSize() int { return 1 }
func (failingStage) Run(ctx context.Context, in *PeekableReceiver[int], out chan<- int) error {
	if _, ok := in.Recv(ctx); ok {
		return errors.New("boom")
	}
	return nil
}

func TestBuilderConnectsHeterogeneousStages(t *testing.T) {
	source := make(chan int, 3)
	source <- 1
	source <- 2
	source <- 3
	close(source)

	b := NewBuilder(context.Background())
	doubled := Connect[int, int](b, doubleStage{}, NewPeekableReceiver[int](source))
	_ = Connect[int, string](b, toStringStage{}, doubled)

	require.NoError(t, b.Wait())
}

func TestBuilderWaitPropagatesStageError(t *testing.T) {
	source := make(chan int, 1)
	source <- 1
	close(source)

	b := NewBuilder(context.Background())
	_ = Connect[int, int](b, failingStage{}, NewPeekableReceiver[int](source))

	err := b.Wait()
	require.Error(t, err)
}

func TestPipeOptNilStagePassesThrough(t *testing.T) {
	source := make(chan int, 1)
	source <- 7
	close(source)

	b := NewBuilder(context.Background())
	in := NewPeekableReceiver[int](source)
	out := PipeOpt[int](b, nil, in)

	require.Same(t, in, out)
	item, ok := out.Recv(context.Background())
	require.True(t, ok)
	require.Equal(t, 7, item)
}

func TestPipeOptPresentStageRuns(t *testing.T) {
	source := make(chan int, 1)
	source <- 7
	close(source)

	b := NewBuilder(context.Background())
	in := NewPeekableReceiver[int](source)
	out := PipeOpt[int](b, doubleStage{}, in)

	require.NotSame(t, in, out)
	item, ok := out.Recv(context.Background())
	require.True(t, ok)
	require.Equal(t, 14, item)
	require.NoError(t, b.Wait())
}

func TestBuilderStageRespectsContextCancellation(t *testing.T) {
	source := make(chan int) // never produces, never closes
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBuilder(ctx)
	_ = Connect[int, int](b, doubleStage{}, NewPeekableReceiver[int](source))

	done := make(chan struct{})
	go func() {
		_ = b.Wait()
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("builder did not wind down after context cancellation")
	}
}
