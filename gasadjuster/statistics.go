package gasadjuster

import "sort"

// GasStatistics maintains a sliding window of up to maxSamples values and a
// cached lower-median, recomputed after every Append. T is any totally
// ordered sample type (uint64 for tests, *uint256.Int in production); the
// caller supplies the comparator since Go generics can't assume an operator
// on arbitrary T.
type GasStatistics[T any] struct {
	samples            []T
	maxSamples         int
	cachedMedian       T
	lastProcessedBlock uint64
	less               func(a, b T) bool
}

// NewGasStatistics builds a GasStatistics seeded with initial (oldest
// first), capped to maxSamples (older entries beyond the cap are dropped,
// newest kept).
func NewGasStatistics[T any](maxSamples int, lastProcessedBlock uint64, initial []T, less func(a, b T) bool) *GasStatistics[T] {
	g := &GasStatistics[T]{
		maxSamples:         maxSamples,
		lastProcessedBlock: lastProcessedBlock,
		less:               less,
	}
	g.Append(initial...)
	return g
}

// Append adds samples (oldest first) to the window, evicting the oldest
// entries beyond maxSamples, and recomputes the cached median.
func (g *GasStatistics[T]) Append(samples ...T) {
	if len(samples) == 0 {
		return
	}
	g.samples = append(g.samples, samples...)
	if len(g.samples) > g.maxSamples {
		excess := len(g.samples) - g.maxSamples
		g.samples = g.samples[excess:]
	}
	g.cachedMedian = g.computeMedian()
}

// Median returns the cached lower-median of the current window.
func (g *GasStatistics[T]) Median() T {
	return g.cachedMedian
}

// Len returns the number of samples currently held.
func (g *GasStatistics[T]) Len() int {
	return len(g.samples)
}

// LastProcessedBlock returns the L1 block number up to which samples have
// been ingested.
func (g *GasStatistics[T]) LastProcessedBlock() uint64 {
	return g.lastProcessedBlock
}

// SetLastProcessedBlock records the L1 block number up to which samples
// have been ingested.
func (g *GasStatistics[T]) SetLastProcessedBlock(n uint64) {
	g.lastProcessedBlock = n
}

// computeMedian selects the lower-median over a scratch copy of the window,
// leaving the window itself in insertion order.
func (g *GasStatistics[T]) computeMedian() T {
	var zero T
	if len(g.samples) == 0 {
		return zero
	}
	scratch := make([]T, len(g.samples))
	copy(scratch, g.samples)
	sort.Slice(scratch, func(i, j int) bool { return g.less(scratch[i], scratch[j]) })
	return scratch[(len(scratch)-1)/2]
}
