package segment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SystemProviderCollector exports a SystemProvider's accounting as Prometheus gauges
type SystemProviderCollector struct {
	provider *SystemProvider

	systemBytes     *prometheus.Desc
	carvedBytes     *prometheus.Desc
	allocationLimit *prometheus.Desc
	freeSegments    *prometheus.Desc
	systemSegments  *prometheus.Desc
}

var _ prometheus.Collector = &SystemProviderCollector{}

func NewSystemProviderCollector(provider *SystemProvider, namespace string, constLabels prometheus.Labels) *SystemProviderCollector {
	return &SystemProviderCollector{
		provider: provider,
		systemBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "system_segment", "bytes"),
			"Bytes held in system segments acquired from the backing provider.",
			nil, constLabels),
		carvedBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "system_segment", "carved_bytes"),
			"Bytes carved out of system segments into sub-segments.",
			nil, constLabels),
		allocationLimit: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "system_segment", "allocation_limit_bytes"),
			"Ceiling on carved bytes.",
			nil, constLabels),
		freeSegments: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "system_segment", "free_sub_segments"),
			"Default-size sub-segments waiting to be recycled.",
			nil, constLabels),
		systemSegments: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "system_segment", "count"),
			"System segments held from the backing provider.",
			nil, constLabels),
	}
}

func (c *SystemProviderCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.systemBytes
	ch <- c.carvedBytes
	ch <- c.allocationLimit
	ch <- c.freeSegments
	ch <- c.systemSegments
}

func (c *SystemProviderCollector) Collect(ch chan<- prometheus.Metric) {
	p := c.provider
	p.mutex.Lock()
	systemBytes := p.systemBytes
	carvedBytes := p.carvedBytes
	limit := p.allocationLimit
	freeCount := p.freeCount
	systemCount := len(p.systemSegments)
	p.mutex.Unlock()

	ch <- prometheus.MustNewConstMetric(c.systemBytes, prometheus.GaugeValue, float64(systemBytes))
	ch <- prometheus.MustNewConstMetric(c.carvedBytes, prometheus.GaugeValue, float64(carvedBytes))
	ch <- prometheus.MustNewConstMetric(c.allocationLimit, prometheus.GaugeValue, float64(limit))
	ch <- prometheus.MustNewConstMetric(c.freeSegments, prometheus.GaugeValue, float64(freeCount))
	ch <- prometheus.MustNewConstMetric(c.systemSegments, prometheus.GaugeValue, float64(systemCount))
}
