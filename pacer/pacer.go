// Package pacer implements a timer-driven dispatcher that drains a present
// queue at a target rate, supporting Immediate/Adaptive and VSync dispatch
// modes, serialized behind a single-permit transport semaphore.
//
// The dispatch loop is a goroutine selecting over a ticking wait condition
// and ctx.Done(), dequeuing one unit of work per wake and never blocking on
// a slow consumer, with a non-blocking "drop and report" channel send for
// anything that can't be handed off immediately.
package pacer

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/mbndr/hidstream/hidproto"
	"github.com/mbndr/hidstream/internal/clock"
)

// Request is one unit of work submitted to the pacer's present queue. It is
// deliberately ignorant of FrameBuffer — swapchain.SwapChain builds Requests
// from its own PresentRequest/Buffer pairing and interprets the OnResult
// callback to drive buffer-state transitions.
type Request struct {
	Payload       []byte
	TransferID    int
	Priority      int
	Metadata      string
	CorrelationID string
	RequestTime   int64

	// OnResult is invoked exactly once, off any lock, with the transport
	// outcome (or a non-nil err if the transport call itself failed/panicked).
	OnResult func(hidproto.DeviceResults, error)
}

// Pacer drains a bounded present queue at a configured rate. Submit is
// non-blocking: a full queue drops the oldest entry, consistent with
// TransmissionQueue's own overflow policy, since a present queue under a
// swap chain is bounded by BufferCount and should never meaningfully back up.
type Pacer struct {
	transport hidproto.Transport
	bus       *hidproto.Bus

	mu       sync.Mutex
	queue    []*Request
	maxQueue int

	mode      hidproto.PresentMode
	refreshHz int

	sem chan struct{} // single-permit transport semaphore

	avgIntervalMs float64
	lastPresentAt int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Pacer. maxQueue bounds the present queue depth (typically
// the swap chain's BufferCount, since at most one PresentRequest may exist
// per buffer at a time, ). transportGate, if non-nil, is a
// shared single-permit semaphore (capacity 1) that serializes this pacer's
// transport calls against another caller's — the swap chain's
// PresentImmediate bypass shares its gate here so that "at most one in-
// flight transfer_data" holds across both paths. If nil, a
// private permit is allocated.
func New(transport hidproto.Transport, bus *hidproto.Bus, mode hidproto.PresentMode, refreshHz, maxQueue int, transportGate chan struct{}) *Pacer {
	if refreshHz <= 0 {
		refreshHz = 30
	}
	if maxQueue <= 0 {
		maxQueue = 4
	}
	if transportGate == nil {
		transportGate = make(chan struct{}, 1)
	}
	return &Pacer{
		transport: transport,
		bus:       bus,
		mode:      mode,
		refreshHz: refreshHz,
		maxQueue:  maxQueue,
		sem:       transportGate,
	}
}

// Submit enqueues req for dispatch on the next present tick. If the queue is
// already at maxQueue, the oldest entry is dropped (its OnResult is invoked
// with ErrQueueFull so the caller can still react) to make room.
func (p *Pacer) Submit(req *Request) {
	p.mu.Lock()
	if len(p.queue) >= p.maxQueue {
		victim := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		if victim.OnResult != nil {
			victim.OnResult(nil, hidproto.ErrQueueFull)
		}
		p.mu.Lock()
	}
	p.queue = append(p.queue, req)
	p.mu.Unlock()
}

// Start begins the present/vsync timers. It returns immediately; the
// dispatch loop runs on its own goroutine until ctx is canceled or Stop is
// called.
func (p *Pacer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	period := time.Duration(1000/p.refreshHz) * time.Millisecond
	if period <= 0 {
		period = 33 * time.Millisecond
	}

	go p.run(ctx, period)
}

func (p *Pacer) run(ctx context.Context, period time.Duration) {
	defer close(p.done)

	presentTimer := time.NewTicker(period)
	defer presentTimer.Stop()

	var vsyncTimer *time.Ticker
	var vsyncC <-chan time.Time
	if p.mode == hidproto.VSync {
		// phase-offset by half a period, per 
		time.Sleep(period / 2)
		vsyncTimer = time.NewTicker(period)
		defer vsyncTimer.Stop()
		vsyncC = vsyncTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case now := <-presentTimer.C:
			p.tick(ctx, now)
		case now := <-vsyncC:
			p.tick(ctx, now)
			if p.bus != nil {
				p.bus.Publish(hidproto.Event{
					Kind: hidproto.KindVsyncOccurred,
					At:   clock.WallClock(),
					VsyncOccurred: &hidproto.VsyncOccurredData{
						Timestamp: now,
						RefreshHz: p.refreshHz,
					},
				})
			}
		}
	}
}

// tick dequeues at most one Request and dispatches it under the single
// transport permit.
func (p *Pacer) tick(ctx context.Context, now time.Time) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	req := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	default:
		// a transport call is already in flight; requeue for the next tick
		// rather than stacking a second concurrent call.
		p.mu.Lock()
		p.queue = append([]*Request{req}, p.queue...)
		p.mu.Unlock()
		return
	}

	start := clock.Now()
	res, err := hidproto.SafeTransferData(ctx, p.transport, req.Payload, req.TransferID)
	<-p.sem

	p.updateAvg(start)

	if req.OnResult != nil {
		req.OnResult(res, err)
	}
}

// updateAvg applies an EWMA: avg := 0.9*avg + 0.1*dt (milliseconds).
func (p *Pacer) updateAvg(presentStart int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastPresentAt != 0 {
		dtMs := float64(presentStart-p.lastPresentAt) / float64(time.Millisecond)
		if p.avgIntervalMs == 0 {
			p.avgIntervalMs = dtMs
		} else {
			p.avgIntervalMs = 0.9*p.avgIntervalMs + 0.1*dtMs
		}
	}
	p.lastPresentAt = presentStart
}

// AvgIntervalMs returns the current EWMA of inter-present interval.
func (p *Pacer) AvgIntervalMs() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avgIntervalMs
}

// drain empties the present queue on shutdown; queued-but-undispatched
// requests are reported to their callers as dropped rather than silently
// discarded.
func (p *Pacer) drain() {
	p.mu.Lock()
	rest := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, req := range rest {
		if req.OnResult != nil {
			req.OnResult(nil, context.Canceled)
		}
	}
}

// Stop cancels the dispatch loop and waits for in-flight work to wind down.
// Stop is safe to call multiple times.
func (p *Pacer) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	log.Debugf("pacer: stopped, avg interval %.2fms", p.AvgIntervalMs())
}

// QueueLen returns the current present-queue depth.
func (p *Pacer) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
