package pam

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/pam/memutils"
)

// AddStatistics adds this allocator's segment and live block totals to stats
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.lockAll()
	defer a.unlockAll()

	a.addStatistics(stats)
}

func (a *Allocator) addStatistics(stats *memutils.Statistics) {
	for _, seg := range a.segments {
		stats.SegmentCount++
		stats.SegmentBytes += seg.Size()
	}

	a.blocks.visit(func(b *block) bool {
		if !b.free {
			stats.BlockCount++
			stats.BlockBytes += b.size
		}
		return true
	})
}

// AddDetailedStatistics adds this allocator's totals to stats, along with free block totals,
// block size ranges, and the bytes that have not been carved out of any segment yet
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.lockAll()
	defer a.unlockAll()

	a.addDetailedStatistics(stats)
}

func (a *Allocator) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, seg := range a.segments {
		stats.SegmentCount++
		stats.SegmentBytes += seg.Size()
		stats.UncarvedBytes += seg.Remaining()
	}

	a.blocks.visit(func(b *block) bool {
		if b.free {
			stats.AddFreeBlock(b.size)
		} else {
			stats.AddBlock(b.size)
		}
		return true
	})
}

// BuildStatsString returns a JSON document describing this allocator. When detailed is true,
// the document also lists every segment and the population of every free list.
func (a *Allocator) BuildStatsString(detailed bool) string {
	a.lockAll()
	defer a.unlockAll()

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.addDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	objState := writer.Object()

	objState.Name("Category").String(a.category.String())
	objState.Name("Flags").String(a.createFlags.String())
	objState.Name("SegmentRequests").Int(a.SegmentRequests())

	totalObj := objState.Name("Total").Object()
	printDetailedStatistics(&totalObj, &stats)
	totalObj.End()

	if detailed {
		a.printSegments(&objState)
		a.printFreeLists(&objState)
	}

	objState.End()
	return string(writer.Bytes())
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("SegmentCount").Int(stats.SegmentCount)
	json.Name("SegmentBytes").Int(stats.SegmentBytes)
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("FreeBlockCount").Int(stats.FreeBlockCount)
	json.Name("FreeBlockBytes").Int(stats.FreeBlockBytes)
	json.Name("UncarvedBytes").Int(stats.UncarvedBytes)

	if stats.BlockCount > 0 {
		json.Name("BlockSizeMin").Int(stats.BlockSizeMin)
		json.Name("BlockSizeMax").Int(stats.BlockSizeMax)
	}
	if stats.FreeBlockCount > 0 {
		json.Name("FreeBlockSizeMin").Int(stats.FreeBlockSizeMin)
		json.Name("FreeBlockSizeMax").Int(stats.FreeBlockSizeMax)
	}
}

func (a *Allocator) printSegments(json *jwriter.ObjectState) {
	arrayState := json.Name("Segments").Array()
	defer arrayState.End()

	for _, seg := range a.segments {
		obj := arrayState.Object()
		obj.Name("Base").String("0x" + strconv.FormatUint(uint64(seg.Base()), 16))
		obj.Name("Size").Int(seg.Size())
		obj.Name("Used").Int(seg.Used())
		obj.End()
	}
}

func (a *Allocator) printFreeLists(json *jwriter.ObjectState) {
	freeObj := json.Name("FreeLists").Object()
	defer freeObj.End()

	bucketArray := freeObj.Name("Buckets").Array()
	for index, count := range a.buckets.counts {
		if count == 0 {
			continue
		}

		obj := bucketArray.Object()
		obj.Name("BlockSize").Int(HeaderSize + index*PointerWidth)
		obj.Name("Count").Int(count)
		obj.End()
	}
	bucketArray.End()

	variableObj := freeObj.Name("Variable").Object()
	defer variableObj.End()

	var variableBytes int
	a.variable.Visit(func(freeBlock *block) {
		variableBytes += freeBlock.size
	})
	variableObj.Name("Count").Int(a.variable.Count())
	variableObj.Name("Bytes").Int(variableBytes)

	indexed, isIndexed := a.variable.(*indexedFreeList)
	if !isIndexed {
		return
	}

	counts := indexed.IntervalCounts()
	intervalObj := variableObj.Name("Intervals").Object()
	for interval := 0; interval < intervalCount; interval++ {
		minSize := 1 << (interval + intervalShift)
		count, ok := counts[minSize]
		if !ok {
			continue
		}

		intervalObj.Name(strconv.Itoa(minSize)).Int(count)
	}
	intervalObj.End()
}
