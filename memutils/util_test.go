package memutils

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, AlignUp(0, 8))
	require.Equal(t, 8, AlignUp(1, 8))
	require.Equal(t, 8, AlignUp(8, 8))
	require.Equal(t, 4096, AlignUp(4095, 4096))
	require.Equal(t, uint(16), AlignUp(uint(9), uint(8)))
	require.Equal(t, 8, AlignDown(15, 8))
}

func TestRoundUp(t *testing.T) {
	require.Equal(t, 30, RoundUp(21, 10))
	require.Equal(t, 30, RoundUp(30, 10))
	require.Equal(t, 7, RoundUp(7, 0))
}

func TestLog2(t *testing.T) {
	require.Equal(t, -1, Log2(0))
	require.Equal(t, 0, Log2(1))
	require.Equal(t, 7, Log2(144))
	require.Equal(t, 10, Log2(1024))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(4096, "page size"))
	err := CheckPow2(3000, "page size")
	require.Error(t, err)
	require.True(t, errors.Is(err, PowerOfTwoError))
	require.Error(t, CheckPow2(0, "zero"))
}

func TestDetailedStatistics(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()
	require.Equal(t, math.MaxInt, stats.BlockSizeMin)

	stats.AddBlock(32)
	stats.AddBlock(64)
	stats.AddFreeBlock(128)

	var total DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&stats)
	total.AddDetailedStatistics(&stats)

	require.Equal(t, 4, total.BlockCount)
	require.Equal(t, 192, total.BlockBytes)
	require.Equal(t, 32, total.BlockSizeMin)
	require.Equal(t, 64, total.BlockSizeMax)
	require.Equal(t, 2, total.FreeBlockCount)
	require.Equal(t, 128, total.FreeBlockSizeMin)
	require.Equal(t, 128, total.FreeBlockSizeMax)
}
