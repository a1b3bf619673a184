package txqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbndr/hidstream/hidproto"
)

type scriptedTransport struct {
	mu       sync.Mutex
	failN    int // number of leading calls that fail
	calls    int
	lastSeen []byte
}

func (t *scriptedTransport) TransferData(ctx context.Context, payload []byte, transferID int) (hidproto.DeviceResults, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	t.lastSeen = payload
	if t.calls <= t.failN {
		return hidproto.DeviceResults{"d0": false}, nil
	}
	return hidproto.DeviceResults{"d0": true}, nil
}

func (t *scriptedTransport) SetRealtimeMode(ctx context.Context, enable bool) (hidproto.DeviceResults, error) {
	return hidproto.DeviceResults{"d0": true}, nil
}

func (t *scriptedTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func newTestQueue(transport hidproto.Transport, cfg hidproto.QueueConfig) *Queue {
	q := New(transport, cfg)
	q.Start(context.Background())
	return q
}

func TestEnqueueAndDrainSucceeds(t *testing.T) {
	transport := &scriptedTransport{}
	cfg := hidproto.DefaultQueueConfig()
	cfg.ProcessingIntervalMs = 5
	q := newTestQueue(transport, cfg)
	defer q.Dispose()

	q.Enqueue([]byte("hello"), 0, "meta")

	deadline := time.After(time.Second)
	for q.GetStatistics().FramesSent == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for drain")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEnqueueDefensiveCopy(t *testing.T) {
	transport := &scriptedTransport{}
	cfg := hidproto.DefaultQueueConfig()
	cfg.ProcessingIntervalMs = 5
	q := newTestQueue(transport, cfg)
	defer q.Dispose()

	payload := []byte("abc")
	q.Enqueue(payload, 0, "meta")
	payload[0] = 'z' // mutate after enqueue; the queue must not observe this

	deadline := time.After(time.Second)
	for transport.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for transport call")
		case <-time.After(5 * time.Millisecond):
		}
	}
	transport.mu.Lock()
	seen := string(transport.lastSeen)
	transport.mu.Unlock()
	if seen != "abc" {
		t.Fatalf("transport saw %q, want %q (defensive copy was not made)", seen, "abc")
	}
}

func TestEnqueueOverflowDropsOldest(t *testing.T) {
	transport := &scriptedTransport{}
	cfg := hidproto.DefaultQueueConfig()
	cfg.MaxQueue = 2
	cfg.ProcessingIntervalMs = 10_000 // effectively disable draining during this test
	q := New(transport, cfg)
	defer q.Dispose()

	q.Enqueue([]byte("a"), 0, "")
	q.Enqueue([]byte("b"), 0, "")
	q.Enqueue([]byte("c"), 0, "")

	if q.Len() != 2 {
		t.Fatalf("queue len = %d, want 2", q.Len())
	}
	if q.GetStatistics().FramesDropped != 1 {
		t.Fatalf("dropped = %d, want 1", q.GetStatistics().FramesDropped)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	transport := &scriptedTransport{failN: 3}
	cfg := hidproto.DefaultQueueConfig()
	cfg.MaxRetries = 3
	cfg.ProcessingIntervalMs = 5
	q := newTestQueue(transport, cfg)
	defer q.Dispose()

	q.Enqueue([]byte("x"), 0, "")

	deadline := time.After(2 * time.Second)
	for q.GetStatistics().FramesSent == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out; stats=%+v calls=%d", q.GetStatistics(), transport.callCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
	snap := q.GetStatistics()
	if snap.Retries != 3 {
		t.Fatalf("retries = %d, want 3", snap.Retries)
	}
	if snap.FramesDropped != 0 {
		t.Fatalf("dropped = %d, want 0", snap.FramesDropped)
	}
}

func TestPersistentFailureDropsAfterMaxRetries(t *testing.T) {
	transport := &scriptedTransport{failN: 1_000_000}
	cfg := hidproto.DefaultQueueConfig()
	cfg.MaxRetries = 3
	cfg.ProcessingIntervalMs = 5
	q := newTestQueue(transport, cfg)
	defer q.Dispose()

	events, unsubscribe := q.Events(8)
	defer unsubscribe()

	q.Enqueue([]byte("x"), 0, "")

	deadline := time.After(2 * time.Second)
	var gotTxError bool
	for !gotTxError {
		select {
		case ev := <-events:
			if ev.Kind == hidproto.KindTransmissionError {
				gotTxError = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for TransmissionError event")
		}
	}

	snap := q.GetStatistics()
	if snap.FramesDropped != 1 {
		t.Fatalf("dropped = %d, want 1", snap.FramesDropped)
	}
	if snap.FramesSent != 0 {
		t.Fatalf("sent = %d, want 0", snap.FramesSent)
	}
}

func TestClearCountsItemsAsDropped(t *testing.T) {
	transport := &scriptedTransport{}
	cfg := hidproto.DefaultQueueConfig()
	cfg.ProcessingIntervalMs = 10_000
	q := New(transport, cfg)
	defer q.Dispose()

	q.Enqueue([]byte("a"), 0, "")
	q.Enqueue([]byte("b"), 0, "")
	q.Clear()

	if q.Len() != 0 {
		t.Fatalf("len = %d, want 0", q.Len())
	}
	if q.GetStatistics().FramesDropped != 2 {
		t.Fatalf("dropped = %d, want 2", q.GetStatistics().FramesDropped)
	}
}

func TestMonitorSnapshotReportsQueueDepth(t *testing.T) {
	transport := &scriptedTransport{}
	cfg := hidproto.DefaultQueueConfig()
	cfg.ProcessingIntervalMs = 10_000
	q := New(transport, cfg)
	defer q.Dispose()

	q.Enqueue([]byte("a"), 0, "")
	snap := q.MonitorSnapshot()
	if !snap.HasData || snap.Size != 1 {
		t.Fatalf("snapshot = %+v, want HasData=true Size=1", snap)
	}
}

func TestStatsCollectorEmitsMetrics(t *testing.T) {
	transport := &scriptedTransport{}
	q := New(transport, hidproto.DefaultQueueConfig())
	defer q.Dispose()

	q.Enqueue([]byte("a"), 0, "")
	c := q.StatsCollector()

	ch := make(chan prometheus.Metric, 32)
	c.Collect(ch)
	close(ch)
	var n int
	for range ch {
		n++
	}
	if n == 0 {
		t.Fatal("expected the collector to emit at least one metric")
	}
}

func TestResetStatsZeroes(t *testing.T) {
	transport := &scriptedTransport{}
	q := New(transport, hidproto.DefaultQueueConfig())
	defer q.Dispose()

	q.Enqueue([]byte("a"), 0, "")
	q.ResetStats()
	if q.GetStatistics().FramesQueued != 0 {
		t.Fatal("expected ResetStats to zero FramesQueued")
	}
}
