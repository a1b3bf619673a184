// Package swapchain implements the buffer-backed presentation path: a
// swap-chain-style FrameBuffer pool coupled to a present pacer, a real-time
// mode controller, and a stats aggregator.
//
// Its lifecycle follows an Open/Start/Stop device shape with a
// buffer-lock-guarded state transition pattern, generalized from a single
// capture device to an N-device HID fan-out transport.
package swapchain

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/mbndr/hidstream/frame"
	"github.com/mbndr/hidstream/hidproto"
	"github.com/mbndr/hidstream/internal/clock"
	"github.com/mbndr/hidstream/internal/xcorr"
	"github.com/mbndr/hidstream/pacer"
	"github.com/mbndr/hidstream/realtime"
	"github.com/mbndr/hidstream/stats"
)

// Option configures a SwapChain via the functional-options pattern.
type Option func(*hidproto.SwapChainConfig)

func WithBufferCount(n int) Option    { return func(c *hidproto.SwapChainConfig) { c.BufferCount = n } }
func WithStarvationMode(m hidproto.StarvationMode) Option {
	return func(c *hidproto.SwapChainConfig) { c.Mode = m }
}
func WithPresentMode(m hidproto.PresentMode) Option {
	return func(c *hidproto.SwapChainConfig) { c.PresentMode = m }
}
func WithRefreshHz(hz int) Option { return func(c *hidproto.SwapChainConfig) { c.RefreshHz = hz } }

// SwapChain is the Core API exposed by 's "Swap-chain API".
type SwapChain struct {
	cfg       hidproto.SwapChainConfig
	transport hidproto.Transport
	bus       *hidproto.Bus

	pool  *frame.Pool
	pacer *pacer.Pacer
	ids   *hidproto.TransferIDAllocator
	stats *stats.Aggregator
	ctl   *realtime.Controller

	transportGate chan struct{}
	immediateSem  chan struct{}

	mu           sync.Mutex
	lastActivity int64
	queuedCount  int // count of outstanding PendingPresent entries, for Activity

	disposed bool
	cancel   context.CancelFunc
}

// New constructs a SwapChain talking to transport, applying opts over
// hidproto.DefaultSwapChainConfig.
func New(transport hidproto.Transport, opts ...Option) *SwapChain {
	cfg := hidproto.DefaultSwapChainConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.BufferCount < 2 {
		cfg.BufferCount = 2
	}
	if cfg.BufferCount > 4 {
		cfg.BufferCount = 4
	}

	sc := &SwapChain{
		cfg:           cfg,
		transport:     transport,
		bus:           hidproto.NewBus(),
		pool:          frame.NewPool(cfg.BufferCount, cfg.Mode),
		ids:           hidproto.NewTransferIDAllocator(hidproto.MaxTransferID),
		stats:         stats.New(),
		transportGate: make(chan struct{}, 1),
		immediateSem:  make(chan struct{}, 1),
	}
	sc.pacer = pacer.New(transport, sc.bus, cfg.PresentMode, cfg.RefreshHz, cfg.BufferCount, sc.transportGate)
	sc.ctl = realtime.New(transport, sc.bus, sc, 500, 3000)
	return sc
}

// Events returns a subscription to the swap chain's event bus; see
// hidproto.Bus.Subscribe.
func (sc *SwapChain) Events(buffer int) (<-chan hidproto.Event, func()) {
	return sc.bus.Subscribe(buffer)
}

// QueueNonEmpty implements realtime.Activity.
func (sc *SwapChain) QueueNonEmpty() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.queuedCount > 0
}

// LastActivityNanos implements realtime.Activity.
func (sc *SwapChain) LastActivityNanos() int64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.lastActivity
}

// Initialize allocates the buffer pool (already done in New) and asks the
// transport to enter real-time mode for every known device. It succeeds if
// at least one device acknowledged.
func (sc *SwapChain) Initialize(ctx context.Context) bool {
	ctx, cancel := context.WithCancel(ctx)
	sc.cancel = cancel

	sc.pacer.Start(ctx)
	sc.ctl.Start(ctx)

	res, err := hidproto.SafeSetRealtimeMode(ctx, sc.transport, true)
	if err != nil {
		log.Warnf("swapchain: initialize: %s", err)
		sc.publishError(err, "initialize")
		return false
	}
	ok := res.AnySucceeded()
	if ok {
		sc.mu.Lock()
		sc.lastActivity = clock.Now()
		sc.mu.Unlock()
	}
	return ok
}

// AcquireBackBuffer hands out an Available buffer, transitioning it to
// Rendering. Never blocks.
func (sc *SwapChain) AcquireBackBuffer() (*frame.Buffer, bool) {
	if sc.isDisposed() {
		return nil, false
	}
	b, ok := sc.pool.Acquire()
	sc.publishBufferStatus()
	return b, ok
}

// Present transitions buffer from Rendering to PendingPresent, assigns a
// transfer ID, and enqueues it on the pacer. Rejects with false and leaves
// the buffer untouched on any contract violation.
func (sc *SwapChain) Present(buf *frame.Buffer, priority int, metadata string) bool {
	if sc.isDisposed() {
		return false
	}
	if buf.State() != hidproto.Rendering || len(buf.Payload()) == 0 {
		return false
	}
	buf.SetMetadata(metadata)
	if !sc.pool.MarkPendingPresent(buf) {
		return false
	}

	sc.stats.IncFramesQueued()
	sc.mu.Lock()
	sc.lastActivity = clock.Now()
	sc.queuedCount++
	sc.mu.Unlock()
	sc.publishBufferStatus()

	transferID := sc.ids.Alloc()
	corr := xcorr.New()

	sc.pacer.Submit(&pacer.Request{
		Payload:       buf.Payload(),
		TransferID:    transferID,
		Priority:      priority,
		Metadata:      metadata,
		CorrelationID: corr,
		RequestTime:   clock.Now(),
		OnResult: func(res hidproto.DeviceResults, err error) {
			sc.onPresentResult(buf, transferID, metadata, corr, res, err)
		},
	})
	return true
}

func (sc *SwapChain) onPresentResult(buf *frame.Buffer, transferID int, metadata, corr string, res hidproto.DeviceResults, err error) {
	sc.mu.Lock()
	if sc.queuedCount > 0 {
		sc.queuedCount--
	}
	sc.mu.Unlock()
	sc.stats.IncPresentAttempt()

	if err == nil && res.AnySucceeded() {
		sc.pool.MarkPresented(buf)
		sc.stats.IncPresented()
		sc.stats.IncFramesSent()
		sc.bus.Publish(hidproto.Event{
			Kind: hidproto.KindFramePresented,
			At:   clock.WallClock(),
			FramePresented: &hidproto.FramePresentedData{
				BufferIndex:   buf.Index(),
				TransferID:    transferID,
				Metadata:      metadata,
				CorrelationID: corr,
			},
		})
	} else {
		sc.pool.MarkDroppedFromPending(buf)
		sc.stats.IncFramesDropped()
		reason := "transport failure"
		if err != nil {
			reason = err.Error()
		}
		sc.bus.Publish(hidproto.Event{
			Kind: hidproto.KindFrameDropped,
			At:   clock.WallClock(),
			FrameDropped: &hidproto.FrameDroppedData{
				BufferIndex:   buf.Index(),
				Reason:        reason,
				Metadata:      metadata,
				CorrelationID: corr,
			},
		})
	}
	sc.stats.SetAvgFrameTimeMs(sc.pacer.AvgIntervalMs())
	sc.publishBufferStatus()
}

// PresentImmediate bypasses the present queue under a single-slot semaphore,
// calling the transport synchronously from the caller's perspective.
func (sc *SwapChain) PresentImmediate(ctx context.Context, buf *frame.Buffer, metadata string) bool {
	if sc.isDisposed() {
		return false
	}
	if buf.State() != hidproto.Rendering || len(buf.Payload()) == 0 {
		return false
	}

	select {
	case sc.immediateSem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	defer func() { <-sc.immediateSem }()

	select {
	case sc.transportGate <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	transferID := sc.ids.Alloc()
	res, err := hidproto.SafeTransferData(ctx, sc.transport, buf.Payload(), transferID)
	<-sc.transportGate

	sc.stats.IncPresentAttempt()
	if err == nil && res.AnySucceeded() {
		if sc.pool.MarkPendingPresent(buf) {
			sc.pool.MarkPresented(buf)
		}
		sc.stats.IncPresented()
		sc.stats.IncFramesSent()
		sc.bus.Publish(hidproto.Event{
			Kind: hidproto.KindFramePresented,
			At:   clock.WallClock(),
			FramePresented: &hidproto.FramePresentedData{
				BufferIndex: buf.Index(),
				TransferID:  transferID,
				Metadata:    metadata,
			},
		})
		sc.publishBufferStatus()
		return true
	}

	sc.pool.Release(buf)
	sc.stats.IncFramesDropped()
	reason := "transport failure"
	if err != nil {
		reason = err.Error()
	}
	sc.bus.Publish(hidproto.Event{
		Kind: hidproto.KindFrameDropped,
		At:   clock.WallClock(),
		FrameDropped: &hidproto.FrameDroppedData{
			BufferIndex: buf.Index(),
			Reason:      reason,
			Metadata:    metadata,
		},
	})
	sc.publishBufferStatus()
	return false
}

// Release forces buf to Available. Idempotent.
func (sc *SwapChain) Release(buf *frame.Buffer) {
	sc.pool.Release(buf)
	sc.publishBufferStatus()
}

// WaitForAvailable blocks until a buffer becomes Available or timeout
// elapses; it does not itself guarantee acquisition.
func (sc *SwapChain) WaitForAvailable(timeout time.Duration) bool {
	return sc.pool.WaitForAvailable(timeout)
}

// Statistics is the point-in-time snapshot returned by GetStatistics.
type Statistics struct {
	Stats    stats.Snapshot
	Buffers  frame.Histogram
	Realtime bool
}

// GetStatistics returns counters and a buffer-state histogram.
func (sc *SwapChain) GetStatistics() Statistics {
	return Statistics{
		Stats:    sc.stats.Snapshot(),
		Buffers:  sc.pool.Stats(),
		Realtime: sc.ctl.Enabled(),
	}
}

// StatsCollector exposes a prometheus.Collector for this swap chain's
// stats aggregator.
func (sc *SwapChain) StatsCollector() *stats.Collector {
	return stats.NewCollector(sc.stats)
}

func (sc *SwapChain) publishBufferStatus() {
	h := sc.pool.Stats()
	sc.bus.Publish(hidproto.Event{
		Kind: hidproto.KindBufferStatusChanged,
		At:   clock.WallClock(),
		BufferStatusChanged: &hidproto.BufferStatusChangedData{
			Total:     h.Total,
			Available: h.Available,
			Devices:   0, // device count is owned by the transport, not tracked here
		},
	})
}

func (sc *SwapChain) publishError(err error, errContext string) {
	sc.bus.Publish(hidproto.Event{
		Kind: hidproto.KindSwapChainError,
		At:   clock.WallClock(),
		SwapChainError: &hidproto.SwapChainErrorData{
			Err:     err,
			Context: errContext,
		},
	})
}

func (sc *SwapChain) isDisposed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.disposed
}

// Dispose stops the pacer and controller, attempts a best-effort
// set_realtime_mode(false) with a 5-second ceiling, and releases resources.
// Dispose is idempotent (, §5).
func (sc *SwapChain) Dispose() {
	sc.mu.Lock()
	if sc.disposed {
		sc.mu.Unlock()
		return
	}
	sc.disposed = true
	sc.mu.Unlock()

	if sc.cancel != nil {
		sc.cancel()
	}
	sc.pacer.Stop()
	sc.ctl.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := hidproto.SafeSetRealtimeMode(ctx, sc.transport, false); err != nil {
		log.Warnf("swapchain: dispose: best-effort realtime-off failed: %s", err)
	}

	for _, b := range sc.pool.Buffers() {
		sc.pool.Release(b)
	}
	sc.bus.Close()
}
