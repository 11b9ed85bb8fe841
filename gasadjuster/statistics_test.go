package gasadjuster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lessUint64(a, b uint64) bool { return a < b }

func TestMedianOfFive(t *testing.T) {
	stats := NewGasStatistics(5, 5, []uint64{6, 4, 7, 8, 4}, lessUint64)
	require.Equal(t, uint64(6), stats.Median())

	stats.Append(18, 18, 18)
	require.Equal(t, uint64(18), stats.Median())
}

func TestMedianEvictsOldestBeyondCap(t *testing.T) {
	stats := NewGasStatistics(3, 0, nil, lessUint64)
	stats.Append(1, 2, 3)
	require.Equal(t, uint64(2), stats.Median())

	stats.Append(100)
	require.Equal(t, uint64(3), stats.Median())
}

func TestMedianEmptyWindow(t *testing.T) {
	stats := NewGasStatistics(5, 0, nil, lessUint64)
	require.Equal(t, uint64(0), stats.Median())
}
