package pam

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func freeBlocksOfSizes(sizes ...int) []*block {
	blocks := make([]*block, len(sizes))
	for i, size := range sizes {
		blocks[i] = &block{size: size, free: true}
	}
	return blocks
}

func TestIntervalIndex(t *testing.T) {
	require.Equal(t, 0, intervalIndex(MinVariableBlockSize))
	require.Equal(t, 0, intervalIndex(1))
	require.Equal(t, 0, intervalIndex(1<<(intervalShift+1)-1))
	require.Equal(t, 1, intervalIndex(1<<(intervalShift+1)))
	require.Equal(t, 3, intervalIndex(1<<(intervalShift+3)+17))
	require.Equal(t, intervalCount-1, intervalIndex(int(^uint(0)>>1)))
}

func TestFixedBucketsAreLIFO(t *testing.T) {
	var buckets fixedBuckets

	blocks := freeBlocksOfSizes(HeaderSize+PointerWidth, HeaderSize+PointerWidth, HeaderSize+3*PointerWidth)
	for _, b := range blocks {
		buckets.Push(b)
	}
	require.NoError(t, buckets.Validate())
	require.Equal(t, 3, buckets.Count())

	require.Same(t, blocks[1], buckets.Pop(1))
	require.Same(t, blocks[0], buckets.Pop(1))
	require.Nil(t, buckets.Pop(1))
	require.Nil(t, buckets.Pop(2))
	require.Same(t, blocks[2], buckets.Pop(3))
	require.Equal(t, 0, buckets.Count())
}

func TestSortedFreeListTakesSmallestFit(t *testing.T) {
	list := &sortedFreeList{}

	blocks := freeBlocksOfSizes(1024, 256, 4096, 256, 512)
	for _, b := range blocks {
		list.Insert(b)
		require.NoError(t, list.Validate())
	}
	require.Equal(t, 5, list.Count())

	var visited []int
	list.Visit(func(b *block) {
		visited = append(visited, b.size)
	})
	require.Equal(t, []int{256, 256, 512, 1024, 4096}, visited)

	require.Same(t, blocks[4], list.Take(300))
	require.Same(t, blocks[2], list.Take(2000))
	require.Nil(t, list.Take(5000))

	taken := list.Take(200)
	require.Equal(t, 256, taken.size)
	require.Nil(t, taken.next)
	require.Equal(t, 2, list.Count())
	require.NoError(t, list.Validate())
}

func TestIndexedFreeListChainsEqualSizes(t *testing.T) {
	list := newIndexedFreeList()

	blocks := freeBlocksOfSizes(512, 512, 512, 300, 2048)
	for _, b := range blocks {
		list.Insert(b)
		require.NoError(t, list.Validate())
	}
	require.Equal(t, 5, list.Count())

	var backbone []int
	for current := list.head; current != nil; current = current.next {
		backbone = append(backbone, current.size)
	}
	require.Equal(t, []int{300, 512, 2048}, backbone)

	// The first 512 stays on the backbone while its chain drains
	require.Same(t, blocks[2], list.Take(400))
	require.Same(t, blocks[1], list.Take(400))
	require.Same(t, blocks[0], list.Take(400))
	require.NoError(t, list.Validate())

	require.Same(t, blocks[4], list.Take(400))
	require.Same(t, blocks[3], list.Take(200))
	require.Nil(t, list.Take(1))
	require.Equal(t, 0, list.Count())
	require.NoError(t, list.Validate())

	for _, b := range blocks {
		require.Nil(t, b.next)
		require.Nil(t, b.previous)
		require.Nil(t, b.nextSameSize)
	}
}

func TestIndexedFreeListIntervalBounds(t *testing.T) {
	list := newIndexedFreeList()

	low := freeBlocksOfSizes(200, 160, 240)
	high := freeBlocksOfSizes(3000, 2100)
	for _, b := range append(low, high...) {
		list.Insert(b)
	}
	require.NoError(t, list.Validate())

	lowInterval := intervalIndex(200)
	highInterval := intervalIndex(3000)
	require.Same(t, low[1], list.start[lowInterval])
	require.Same(t, low[2], list.end[lowInterval])
	require.Same(t, high[1], list.start[highInterval])
	require.Same(t, high[0], list.end[highInterval])

	// Nothing in between, so a mid-sized request comes from the next non-empty interval
	require.Same(t, high[1], list.Take(700))
	require.Same(t, high[0], list.start[highInterval])
	require.NoError(t, list.Validate())

	// A request larger than everything in its own interval walks into the next one
	require.Same(t, high[0], list.Take(2500))
	require.Nil(t, list.start[highInterval])
	require.Nil(t, list.end[highInterval])

	require.Same(t, low[2], list.Take(210))
	require.Same(t, low[0], list.end[lowInterval])
	require.NoError(t, list.Validate())

	require.Equal(t, map[int]int{1 << (lowInterval + intervalShift): 2}, list.IntervalCounts())
}

func TestVariableFreeListsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	sorted := &sortedFreeList{}
	indexed := newIndexedFreeList()

	for i := 0; i < 5000; i++ {
		if rng.Intn(2) == 0 {
			size := MinVariableBlockSize + PointerWidth*rng.Intn(512)
			sorted.Insert(&block{size: size, free: true})
			indexed.Insert(&block{size: size, free: true})
		} else {
			request := MinVariableBlockSize + PointerWidth*rng.Intn(512)
			fromSorted := sorted.Take(request)
			fromIndexed := indexed.Take(request)

			if fromSorted == nil {
				require.Nil(t, fromIndexed)
			} else {
				require.NotNil(t, fromIndexed)
				require.Equal(t, fromSorted.size, fromIndexed.size)
			}
		}

		if i%100 == 0 {
			require.NoError(t, sorted.Validate())
			require.NoError(t, indexed.Validate())
		}
		require.Equal(t, sorted.Count(), indexed.Count())
	}

	require.NoError(t, indexed.Validate())
	indexed.Clear()
	require.Equal(t, 0, indexed.Count())
	require.NoError(t, indexed.Validate())
}
