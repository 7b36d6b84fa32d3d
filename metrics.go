package pam

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vkngwrapper/arsenal/pam/memutils"
)

// Collector exports an Allocator's statistics as Prometheus metrics. Every collection walks the
// allocator's block table under all of its locks, so scrape intervals should stay modest.
type Collector struct {
	allocator *Allocator

	segments        *prometheus.Desc
	segmentBytes    *prometheus.Desc
	blocks          *prometheus.Desc
	blockBytes      *prometheus.Desc
	freeBlocks      *prometheus.Desc
	freeBlockBytes  *prometheus.Desc
	uncarvedBytes   *prometheus.Desc
	segmentRequests *prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

// NewCollector creates a Collector. The allocator's category is attached to every metric as the
// "category" label.
func NewCollector(allocator *Allocator, namespace string) *Collector {
	labels := prometheus.Labels{"category": allocator.Category().String()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "allocator", name), help, nil, labels)
	}

	return &Collector{
		allocator:       allocator,
		segments:        desc("segments", "Segments held by the allocator."),
		segmentBytes:    desc("segment_bytes", "Bytes held in segments."),
		blocks:          desc("live_blocks", "Blocks handed out and not yet freed."),
		blockBytes:      desc("live_block_bytes", "Bytes in live blocks, headers included."),
		freeBlocks:      desc("free_blocks", "Blocks waiting on a free list."),
		freeBlockBytes:  desc("free_block_bytes", "Bytes in free blocks, headers included."),
		uncarvedBytes:   desc("uncarved_bytes", "Segment bytes not yet carved into blocks."),
		segmentRequests: desc("segment_requests_total", "Segments requested from the provider."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.segments
	ch <- c.segmentBytes
	ch <- c.blocks
	ch <- c.blockBytes
	ch <- c.freeBlocks
	ch <- c.freeBlockBytes
	ch <- c.uncarvedBytes
	ch <- c.segmentRequests
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	c.allocator.AddDetailedStatistics(&stats)

	ch <- prometheus.MustNewConstMetric(c.segments, prometheus.GaugeValue, float64(stats.SegmentCount))
	ch <- prometheus.MustNewConstMetric(c.segmentBytes, prometheus.GaugeValue, float64(stats.SegmentBytes))
	ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(stats.BlockCount))
	ch <- prometheus.MustNewConstMetric(c.blockBytes, prometheus.GaugeValue, float64(stats.BlockBytes))
	ch <- prometheus.MustNewConstMetric(c.freeBlocks, prometheus.GaugeValue, float64(stats.FreeBlockCount))
	ch <- prometheus.MustNewConstMetric(c.freeBlockBytes, prometheus.GaugeValue, float64(stats.FreeBlockBytes))
	ch <- prometheus.MustNewConstMetric(c.uncarvedBytes, prometheus.GaugeValue, float64(stats.UncarvedBytes))
	ch <- prometheus.MustNewConstMetric(c.segmentRequests, prometheus.CounterValue, float64(c.allocator.SegmentRequests()))
}
