// Package txqueue implements a bounded FIFO for callers that want to
// enqueue raw bytes without managing a FrameBuffer, with an adaptive drain
// loop and integrated retry/drop policy.
//
// The drop-oldest-on-overflow behavior follows a non-blocking
// "enqueue, drop oldest on overflow" channel pattern, generalized here from
// a bounded channel to an explicit slice-backed FIFO because the drain loop
// needs to re-append retried items at the tail out of band from the
// producer's own enqueue calls.
package txqueue

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/mbndr/hidstream/hidproto"
	"github.com/mbndr/hidstream/internal/clock"
	"github.com/mbndr/hidstream/internal/xcorr"
	"github.com/mbndr/hidstream/realtime"
	"github.com/mbndr/hidstream/stats"
)

// item is one queued transmission unit. Payload is always a defensive copy
// of what the producer passed to Enqueue, since the producer may recycle its
// buffer before the drain loop runs.
type item struct {
	payload       []byte
	priority      int
	metadata      string
	correlationID string
	enqueuedAt    int64
	retryCount    int
}

// Queue is a bounded, buffer-less transmission queue with its own drain
// loop, retry policy, and real-time mode controller.
type Queue struct {
	transport hidproto.Transport
	bus       *hidproto.Bus
	ids       *hidproto.TransferIDAllocator
	stats     *stats.Aggregator
	ctl       *realtime.Controller

	cfg hidproto.QueueConfig

	mu           sync.Mutex
	items        []*item
	lastActivity int64
	wake         chan struct{} // buffered 1, used to nudge the drain loop out of an idle base-period sleep

	disposed bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New constructs a Queue. cfg zero-values fall back to
// hidproto.DefaultQueueConfig.
func New(transport hidproto.Transport, cfg hidproto.QueueConfig) *Queue {
	def := hidproto.DefaultQueueConfig()
	if cfg.ProcessingIntervalMs <= 0 {
		cfg.ProcessingIntervalMs = def.ProcessingIntervalMs
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MonitorIntervalMs <= 0 {
		cfg.MonitorIntervalMs = def.MonitorIntervalMs
	}
	if cfg.RealtimeTimeoutMs <= 0 {
		cfg.RealtimeTimeoutMs = def.RealtimeTimeoutMs
	}

	q := &Queue{
		transport: transport,
		bus:       hidproto.NewBus(),
		ids:       hidproto.NewTransferIDAllocator(hidproto.MaxTransferID),
		stats:     stats.New(),
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
	}
	q.ctl = realtime.New(transport, q.bus, q, cfg.MonitorIntervalMs, cfg.RealtimeTimeoutMs)
	return q
}

// Events returns a subscription to the queue's event bus.
func (q *Queue) Events(buffer int) (<-chan hidproto.Event, func()) {
	return q.bus.Subscribe(buffer)
}

// QueueNonEmpty implements realtime.Activity.
func (q *Queue) QueueNonEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

// LastActivityNanos implements realtime.Activity.
func (q *Queue) LastActivityNanos() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastActivity
}

// Start launches the controller and drain loop.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.ctl.Start(ctx)
	go q.drainLoop(ctx)
}

// Enqueue copies payload defensively, timestamps it, and appends it to the
// tail. On overflow, the oldest item is dropped (counted, event emitted)
// before the new item is appended.
func (q *Queue) Enqueue(payload []byte, priority int, metadata string) bool {
	if q.isDisposed() || len(payload) == 0 {
		return false
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	it := &item{
		payload:       cp,
		priority:      priority,
		metadata:      metadata,
		correlationID: xcorr.New(),
		enqueuedAt:    clock.Now(),
	}

	q.mu.Lock()
	if len(q.items) >= q.cfg.MaxQueue {
		victim := q.items[0]
		q.items = q.items[1:]
		q.reportDroppedLocked(victim, "Queue overflow")
	}
	q.items = append(q.items, it)
	q.lastActivity = clock.Now()
	size := len(q.items)
	q.mu.Unlock()

	q.publishQueueStatus(size)
	q.stats.IncFramesQueued()
	q.nudge()
	return true
}

// Clear removes all queued items, counting each as dropped with reason
// "queue cleared".
func (q *Queue) Clear() {
	q.mu.Lock()
	rest := q.items
	q.items = nil
	q.mu.Unlock()
	for _, it := range rest {
		q.reportDroppedUnlocked(it, "queue cleared")
	}
	q.publishQueueStatus(0)
}

// ResetStats zeroes the aggregator.
func (q *Queue) ResetStats() {
	q.stats.Reset()
}

// DisableRealtimeMode forces the transport into non-real-time mode
// immediately, bypassing the controller's own sampling cadence.
func (q *Queue) DisableRealtimeMode(ctx context.Context) {
	q.ctl.Disable(ctx)
}

// GetStatistics returns a point-in-time snapshot of the aggregator.
func (q *Queue) GetStatistics() stats.Snapshot {
	return q.stats.Snapshot()
}

// StatsCollector exposes a prometheus.Collector for this queue's aggregator.
func (q *Queue) StatsCollector() *stats.Collector {
	return stats.NewCollector(q.stats)
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) isDisposed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disposed
}

// drainLoop runs the adaptive-tick drain: while non-empty, pop one item and
// attempt a transport call; the tick period scales with queue fill and only
// changes when the delta exceeds 5 ms, to avoid thrashing.
func (q *Queue) drainLoop(ctx context.Context) {
	defer close(q.done)

	base := time.Duration(q.cfg.ProcessingIntervalMs) * time.Millisecond
	current := base
	timer := time.NewTimer(current)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(0)
		case <-timer.C:
			q.drainOne(ctx)
			next := q.nextPeriod(base)
			if diff := next - current; diff > 5*time.Millisecond || diff < -5*time.Millisecond {
				current = next
			}
			timer.Reset(current)
		}
	}
}

// nextPeriod computes the adaptive tick period from current fill level.
func (q *Queue) nextPeriod(base time.Duration) time.Duration {
	q.mu.Lock()
	size := len(q.items)
	maxQueue := q.cfg.MaxQueue
	q.mu.Unlock()

	if maxQueue <= 0 {
		return base
	}
	fill := float64(size) / float64(maxQueue)

	switch {
	case fill > 0.8:
		p := base / 2
		if p < 10*time.Millisecond {
			p = 10 * time.Millisecond
		}
		return p
	case fill > 0.5:
		return time.Duration(float64(base) * 0.8)
	case fill < 0.2:
		p := base * 2
		if p > 100*time.Millisecond {
			p = 100 * time.Millisecond
		}
		return p
	default:
		return base
	}
}

// drainOne pops a single item, if any, and dispatches it to the transport.
// Nothing is popped while the controller reports real-time mode off; queued
// items wait until the controller's next sample enables it.
func (q *Queue) drainOne(ctx context.Context) {
	if !q.ctl.Enabled() {
		return
	}
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	it := q.items[0]
	q.items = q.items[1:]
	q.mu.Unlock()
	q.publishQueueStatus(q.Len())

	q.stats.IncPresentAttempt()
	transferID := q.ids.Alloc()
	res, err := hidproto.SafeTransferData(ctx, q.transport, it.payload, transferID)

	if err == nil && res.AnySucceeded() {
		q.stats.IncFramesSent()
		q.stats.IncPresented()
		q.bus.Publish(hidproto.Event{
			Kind: hidproto.KindFramePresented,
			At:   clock.WallClock(),
			FramePresented: &hidproto.FramePresentedData{
				TransferID:    transferID,
				Metadata:      it.metadata,
				CorrelationID: it.correlationID,
			},
		})
		return
	}

	q.applyRetryPolicy(it, err)
}

// applyRetryPolicy implements : increment retry_count; if
// still within max_retries, re-append to the tail after a 100 ms delay with
// a fresh transfer_id on the next attempt; otherwise drop with "max retries
// exceeded" and emit TransmissionError.
func (q *Queue) applyRetryPolicy(it *item, lastErr error) {
	it.retryCount++
	if it.retryCount <= q.cfg.MaxRetries {
		q.stats.IncRetries()
		go func() {
			time.Sleep(100 * time.Millisecond)
			q.mu.Lock()
			if q.disposed {
				q.mu.Unlock()
				return
			}
			q.items = append(q.items, it)
			size := len(q.items)
			q.mu.Unlock()
			q.publishQueueStatus(size)
			q.nudge()
		}()
		return
	}

	q.stats.IncFramesDropped()
	reason := "max retries exceeded"
	q.bus.Publish(hidproto.Event{
		Kind: hidproto.KindFrameDropped,
		At:   clock.WallClock(),
		FrameDropped: &hidproto.FrameDroppedData{
			Reason:        reason,
			Metadata:      it.metadata,
			CorrelationID: it.correlationID,
		},
	})
	errContext := "Transmission failed after retries"
	if lastErr == nil {
		lastErr = hidproto.ErrNoDevices
	}
	log.Warnf("txqueue: %s: %s", errContext, lastErr)
	q.bus.Publish(hidproto.Event{
		Kind: hidproto.KindTransmissionError,
		At:   clock.WallClock(),
		TransmissionError: &hidproto.TransmissionErrorData{
			Err:     lastErr,
			Context: errContext,
		},
	})
}

func (q *Queue) reportDroppedLocked(it *item, reason string) {
	q.mu.Unlock()
	q.reportDroppedUnlocked(it, reason)
	q.mu.Lock()
}

func (q *Queue) reportDroppedUnlocked(it *item, reason string) {
	q.stats.IncFramesDropped()
	log.Debugf("txqueue: dropped item queued %s ago: %s", clock.Since(it.enqueuedAt), reason)
	q.bus.Publish(hidproto.Event{
		Kind: hidproto.KindFrameDropped,
		At:   clock.WallClock(),
		FrameDropped: &hidproto.FrameDroppedData{
			Reason:        reason,
			Metadata:      it.metadata,
			CorrelationID: it.correlationID,
		},
	})
}

func (q *Queue) publishQueueStatus(size int) {
	q.bus.Publish(hidproto.Event{
		Kind: hidproto.KindQueueStatusChanged,
		At:   clock.WallClock(),
		QueueStatusChanged: &hidproto.QueueStatusChangedData{
			CurrentSize: size,
			MaxSize:     q.cfg.MaxQueue,
		},
	})
}

// MonitorSnapshot reports drain-loop health for diagnostics, mirroring the
// QueueMonitorUpdate event payload.
func (q *Queue) MonitorSnapshot() hidproto.QueueMonitorUpdateData {
	q.mu.Lock()
	size := len(q.items)
	last := q.lastActivity
	q.mu.Unlock()
	return hidproto.QueueMonitorUpdateData{
		Size:         size,
		HasData:      size > 0,
		RealtimeOn:   q.ctl.Enabled(),
		ProcessingOn: !q.isDisposed(),
		IdleDuration: clock.Since(last),
	}
}

// Dispose stops the drain loop and controller, attempts a best-effort
// set_realtime_mode(false), and drops any remaining queued items. Dispose is
// idempotent.
func (q *Queue) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	q.ctl.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := hidproto.SafeSetRealtimeMode(ctx, q.transport, false); err != nil {
		log.Warnf("txqueue: dispose: best-effort realtime-off failed: %s", err)
	}

	q.Clear()
	q.bus.Close()
}
