package pipeline

import "context"

// PeekableReceiver wraps a receive-only channel with non-destructive peek
// and the ability to push a finite sequence back onto the front.
// Prepended/peeked items are held in an internal FIFO ahead of the
// channel so Recv always drains them first.
type PeekableReceiver[T any] struct {
	ch    <-chan T
	front []T
}

// NewPeekableReceiver wraps ch.
func NewPeekableReceiver[T any](ch <-chan T) *PeekableReceiver[T] {
	return &PeekableReceiver[T]{ch: ch}
}

// Recv returns the next item, blocking until one is available, the channel
// is closed (ok=false), or ctx is cancelled (ok=false).
func (r *PeekableReceiver[T]) Recv(ctx context.Context) (item T, ok bool) {
	if len(r.front) > 0 {
		item, r.front = r.front[0], r.front[1:]
		return item, true
	}
	select {
	case <-ctx.Done():
		var zero T
		return zero, false
	case item, ok := <-r.ch:
		return item, ok
	}
}

// Peek returns the front item without consuming it. A subsequent Recv or
// Peek observes the same item.
func (r *PeekableReceiver[T]) Peek(ctx context.Context) (item T, ok bool) {
	if len(r.front) > 0 {
		return r.front[0], true
	}
	select {
	case <-ctx.Done():
		var zero T
		return zero, false
	case item, ok := <-r.ch:
		if !ok {
			var zero T
			return zero, false
		}
		r.front = append(r.front, item)
		return item, true
	}
}

// Prepend pushes items back onto the front, ahead of anything already
// buffered or waiting on the channel. Used by stages that pull an item,
// decide it belongs to a later round, and need to reschedule it.
func (r *PeekableReceiver[T]) Prepend(items []T) {
	if len(items) == 0 {
		return
	}
	merged := make([]T, 0, len(items)+len(r.front))
	merged = append(merged, items...)
	merged = append(merged, r.front...)
	r.front = merged
}
