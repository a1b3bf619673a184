package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorDescribeMatchesCollect(t *testing.T) {
	a := New()
	a.IncFramesQueued()
	a.IncFramesSent()
	c := NewCollector(a)

	descCh := make(chan *prometheus.Desc, 32)
	c.Describe(descCh)
	close(descCh)
	var descCount int
	for range descCh {
		descCount++
	}

	metricCh := make(chan prometheus.Metric, 32)
	c.Collect(metricCh)
	close(metricCh)
	var metricCount int
	for range metricCh {
		metricCount++
	}

	if descCount != metricCount {
		t.Fatalf("Describe emitted %d descs, Collect emitted %d metrics", descCount, metricCount)
	}
}
