package memutils

import "math"

// Statistics summarizes the memory held by an allocator. Segments are the ranges obtained
// from a segment provider, blocks are the live allocations carved from them.
type Statistics struct {
	SegmentCount int
	BlockCount   int
	SegmentBytes int
	BlockBytes   int
}

func (s *Statistics) Clear() {
	s.SegmentCount = 0
	s.BlockCount = 0
	s.SegmentBytes = 0
	s.BlockBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.SegmentCount += other.SegmentCount
	s.BlockCount += other.BlockCount
	s.SegmentBytes += other.SegmentBytes
	s.BlockBytes += other.BlockBytes
}

// DetailedStatistics extends Statistics with free block accounting and size ranges
type DetailedStatistics struct {
	Statistics
	FreeBlockCount   int
	FreeBlockBytes   int
	UncarvedBytes    int
	BlockSizeMin     int
	BlockSizeMax     int
	FreeBlockSizeMin int
	FreeBlockSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeBlockCount = 0
	s.FreeBlockBytes = 0
	s.UncarvedBytes = 0
	s.BlockSizeMin = math.MaxInt
	s.BlockSizeMax = 0
	s.FreeBlockSizeMin = math.MaxInt
	s.FreeBlockSizeMax = 0
}

func (s *DetailedStatistics) AddFreeBlock(size int) {
	s.FreeBlockCount++
	s.FreeBlockBytes += size

	if size < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = size
	}

	if size > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddBlock(size int) {
	s.BlockCount++
	s.BlockBytes += size

	if size < s.BlockSizeMin {
		s.BlockSizeMin = size
	}

	if size > s.BlockSizeMax {
		s.BlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeBlockCount += other.FreeBlockCount
	s.FreeBlockBytes += other.FreeBlockBytes
	s.UncarvedBytes += other.UncarvedBytes

	if other.FreeBlockSizeMin < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = other.FreeBlockSizeMin
	}

	if other.FreeBlockSizeMax > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = other.FreeBlockSizeMax
	}

	if other.BlockSizeMin < s.BlockSizeMin {
		s.BlockSizeMin = other.BlockSizeMin
	}

	if other.BlockSizeMax > s.BlockSizeMax {
		s.BlockSizeMax = other.BlockSizeMax
	}
}
