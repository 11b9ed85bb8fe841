package pipeline

import "context"

// Stage transforms a stream of In items into a stream of Out items. Run
// drains in until it is exhausted or ctx is cancelled, sending zero or more
// Out items to out for each In it consumes; it returns nil on clean
// exhaustion and a non-nil error on failure.
type Stage[In, Out any] interface {
	// Name identifies the stage in logs and metrics.
	Name() string
	// OutputBufferSize sizes the bounded channel Run's output is collected
	// on, bounding how far downstream stages may lag behind this one.
	OutputBufferSize() int
	// Run consumes from in and produces to out until in is exhausted or ctx
	// is done. Run must not close out; the caller does that once Run
	// returns.
	Run(ctx context.Context, in *PeekableReceiver[In], out chan<- Out) error
}
