package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeCollector exposes Go runtime and process health. Values are read
// once per scrape, so there is no background sampler to start or stop.
type RuntimeCollector struct {
	start time.Time

	goroutines  *prometheus.Desc
	heapAlloc   *prometheus.Desc
	heapInuse   *prometheus.Desc
	heapIdle    *prometheus.Desc
	sysBytes    *prometheus.Desc
	gcCycles    *prometheus.Desc
	lastGCPause *prometheus.Desc
	uptime      *prometheus.Desc
	startTime   *prometheus.Desc
}

// NewRuntimeCollector builds the collector. Register it on the engine's
// metrics registry.
func NewRuntimeCollector() *RuntimeCollector {
	return &RuntimeCollector{
		start: time.Now(),
		goroutines: prometheus.NewDesc("sentinel_goroutines",
			"Number of live goroutines", nil, nil),
		heapAlloc: prometheus.NewDesc("sentinel_heap_alloc_bytes",
			"Bytes of allocated heap objects", nil, nil),
		heapInuse: prometheus.NewDesc("sentinel_heap_inuse_bytes",
			"Bytes in in-use heap spans", nil, nil),
		heapIdle: prometheus.NewDesc("sentinel_heap_idle_bytes",
			"Bytes in idle heap spans", nil, nil),
		sysBytes: prometheus.NewDesc("sentinel_memory_sys_bytes",
			"Total bytes of memory obtained from the OS", nil, nil),
		gcCycles: prometheus.NewDesc("sentinel_gc_cycles_total",
			"Completed GC cycles", nil, nil),
		lastGCPause: prometheus.NewDesc("sentinel_gc_last_pause_seconds",
			"Duration of the most recent GC pause", nil, nil),
		uptime: prometheus.NewDesc("sentinel_process_uptime_seconds",
			"Seconds since the process started", nil, nil),
		startTime: prometheus.NewDesc("sentinel_process_start_time_seconds",
			"Process start time in unix seconds", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *RuntimeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.goroutines
	ch <- c.heapAlloc
	ch <- c.heapInuse
	ch <- c.heapIdle
	ch <- c.sysBytes
	ch <- c.gcCycles
	ch <- c.lastGCPause
	ch <- c.uptime
	ch <- c.startTime
}

// Collect implements prometheus.Collector.
func (c *RuntimeCollector) Collect(ch chan<- prometheus.Metric) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue,
		float64(runtime.NumGoroutine()))
	ch <- prometheus.MustNewConstMetric(c.heapAlloc, prometheus.GaugeValue,
		float64(m.HeapAlloc))
	ch <- prometheus.MustNewConstMetric(c.heapInuse, prometheus.GaugeValue,
		float64(m.HeapInuse))
	ch <- prometheus.MustNewConstMetric(c.heapIdle, prometheus.GaugeValue,
		float64(m.HeapIdle))
	ch <- prometheus.MustNewConstMetric(c.sysBytes, prometheus.GaugeValue,
		float64(m.Sys))
	ch <- prometheus.MustNewConstMetric(c.gcCycles, prometheus.CounterValue,
		float64(m.NumGC))

	var pause float64
	if m.NumGC > 0 {
		pause = float64(m.PauseNs[(m.NumGC+255)%256]) / 1e9
	}
	ch <- prometheus.MustNewConstMetric(c.lastGCPause, prometheus.GaugeValue, pause)

	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue,
		time.Since(c.start).Seconds())
	ch <- prometheus.MustNewConstMetric(c.startTime, prometheus.GaugeValue,
		float64(c.start.Unix()))
}

var _ prometheus.Collector = (*RuntimeCollector)(nil)
