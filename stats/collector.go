package stats

import "github.com/prometheus/client_golang/prometheus"

// Collector adapts an Aggregator to prometheus.Collector. Collect takes a
// single point-in-time snapshot up front rather than scattering per-call
// atomic reads across the Describe/Collect pair.
type Collector struct {
	agg   *Aggregator
	descs []*prometheus.Desc
}

// NewCollector wraps agg for Prometheus registration under the
// "hidstream_" metric namespace.
func NewCollector(agg *Aggregator) *Collector {
	return &Collector{
		agg: agg,
		descs: []*prometheus.Desc{
			prometheus.NewDesc("hidstream_frames_queued_total", "Total frames queued for presentation.", nil, nil),
			prometheus.NewDesc("hidstream_frames_sent_total", "Total frames successfully transmitted.", nil, nil),
			prometheus.NewDesc("hidstream_frames_dropped_total", "Total frames dropped.", nil, nil),
			prometheus.NewDesc("hidstream_retries_total", "Total retransmission attempts.", nil, nil),
			prometheus.NewDesc("hidstream_present_attempts_total", "Total present dispatch attempts.", nil, nil),
			prometheus.NewDesc("hidstream_presented_total", "Total successful presents.", nil, nil),
			prometheus.NewDesc("hidstream_realtime_enable_total", "Total real-time mode enable transitions.", nil, nil),
			prometheus.NewDesc("hidstream_realtime_disable_total", "Total real-time mode disable transitions.", nil, nil),
			prometheus.NewDesc("hidstream_effective_fps", "Current effective frames per second.", nil, nil),
			prometheus.NewDesc("hidstream_success_rate", "Current send success rate.", nil, nil),
			prometheus.NewDesc("hidstream_drop_rate", "Current frame drop rate.", nil, nil),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector, emitting one sample per metric
// from a single consistent-enough snapshot of the aggregator.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Snapshot()

	counter := func(i int, v int64) {
		ch <- prometheus.MustNewConstMetric(c.descs[i], prometheus.CounterValue, float64(v))
	}
	gauge := func(i int, v float64) {
		ch <- prometheus.MustNewConstMetric(c.descs[i], prometheus.GaugeValue, v)
	}

	counter(0, s.FramesQueued)
	counter(1, s.FramesSent)
	counter(2, s.FramesDropped)
	counter(3, s.Retries)
	counter(4, s.PresentAttempts)
	counter(5, s.Presented)
	counter(6, s.RealtimeEnableCount)
	counter(7, s.RealtimeDisableCount)
	gauge(8, s.EffectiveFPS)
	gauge(9, s.SuccessRate)
	gauge(10, s.DropRate)
}
