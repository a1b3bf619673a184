package frame

import (
	"sync"
	"time"

	"github.com/mbndr/hidstream/hidproto"
	"github.com/mbndr/hidstream/internal/clock"
)

// Pool owns a fixed set of Buffers and serializes every state transition
// behind a single lock covering all transitions. It does not
// itself enqueue PresentRequests or talk to a transport — that's
// swapchain.SwapChain's job; Pool is purely the state machine and
// starvation policy.
type Pool struct {
	mu      sync.Mutex
	bufs    []*Buffer
	mode    hidproto.StarvationMode
	current int // rolling scan start for AcquireBackBuffer

	available int // count of buffers currently Available, maintained incrementally

	dropped int64 // buffers force-reclaimed by the starvation policy

	// availSig is closed and replaced every time a buffer transitions to
	// Available, letting WaitForAvailable select on it alongside a timeout
	// without the "Wait() never wakes past the deadline" hazard of
	// sync.Cond.
	availSig chan struct{}
}

// NewPool allocates count Buffers, all Available, governed by mode.
func NewPool(count int, mode hidproto.StarvationMode) *Pool {
	if count < 2 {
		count = 2
	}
	p := &Pool{
		bufs:      make([]*Buffer, count),
		mode:      mode,
		available: count,
		availSig:  make(chan struct{}),
	}
	now := clock.Now()
	for i := range p.bufs {
		p.bufs[i] = &Buffer{index: i, state: hidproto.Available, createdAt: now}
	}
	return p
}

// Count returns the total number of buffers in the pool.
func (p *Pool) Count() int {
	return len(p.bufs)
}

// Acquire scans starting at the rolling current index for an Available
// buffer, transitions it to Rendering, and returns it. If none is Available,
// it consults the starvation policy and always returns (nil, false) to the
// current caller — Discard/FlipDiscard reclaim a victim for a *subsequent*
// call, never the one that found no buffer.
func (p *Pool) Acquire() (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.bufs)
	for i := 0; i < n; i++ {
		idx := (p.current + i) % n
		b := p.bufs[idx]
		if b.state == hidproto.Available {
			b.state = hidproto.Rendering
			b.acquiredAt = clock.Now()
			p.available--
			p.current = (idx + 1) % n
			return b, true
		}
	}

	p.applyStarvationLocked()
	return nil, false
}

// applyStarvationLocked must be called with p.mu held. It implements the
// Discard/FlipDiscard policy (force the oldest non-Available buffer back to
// Available, counted as dropped) or does nothing for Sequential.
func (p *Pool) applyStarvationLocked() {
	if p.mode == hidproto.Sequential {
		return
	}

	var victim *Buffer
	for _, b := range p.bufs {
		if b.state == hidproto.Available {
			continue
		}
		if victim == nil || b.acquiredAt < victim.acquiredAt {
			victim = b
		}
	}
	if victim == nil {
		return
	}
	victim.state = hidproto.Available
	victim.payload = victim.payload[:0]
	victim.releasedAt = clock.Now()
	p.available++
	p.dropped++
	p.signalAvailableLocked()
}

// MarkPendingPresent transitions b from Rendering to PendingPresent. It
// requires b currently be Rendering and carry a non-empty payload; ok is
// false and the buffer is untouched on any contract violation.
func (p *Pool) MarkPendingPresent(b *Buffer) (ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.state != hidproto.Rendering || len(b.payload) == 0 {
		return false
	}
	b.state = hidproto.PendingPresent
	return true
}

// MarkPresented transitions b from PendingPresent to Presented, recording
// its presentation timestamp. The pool does not track a front-buffer index.
// Returns false if b was not PendingPresent.
func (p *Pool) MarkPresented(b *Buffer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.state != hidproto.PendingPresent {
		return false
	}
	b.state = hidproto.Presented
	b.presentedAt = clock.Now()
	return true
}

// MarkDroppedFromPending transitions b from PendingPresent back to
// Available without retry, counted as a dropped frame by the caller.
// Returns false if b was not PendingPresent.
func (p *Pool) MarkDroppedFromPending(b *Buffer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.state != hidproto.PendingPresent {
		return false
	}
	b.state = hidproto.Available
	b.payload = b.payload[:0]
	b.releasedAt = clock.Now()
	p.available++
	p.signalAvailableLocked()
	return true
}

// Release forces b to Available and clears its payload, from any state.
// Release is idempotent: releasing an already-Available buffer is a no-op
// beyond re-broadcasting the availability signal.
func (p *Pool) Release(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wasAvailable := b.state == hidproto.Available
	b.state = hidproto.Available
	b.payload = b.payload[:0]
	b.metadata = ""
	b.releasedAt = clock.Now()
	if !wasAvailable {
		p.available++
	}
	p.signalAvailableLocked()
}

// signalAvailableLocked wakes every current WaitForAvailable caller. Must be
// called with p.mu held, after p.available has been incremented.
func (p *Pool) signalAvailableLocked() {
	close(p.availSig)
	p.availSig = make(chan struct{})
}

// WaitForAvailable blocks until the availability signal fires or timeout
// elapses, then returns whether a buffer was Available at that moment. It
// does not acquire anything itself — another waiter, or the caller's own
// subsequent Acquire, may still lose the race.
func (p *Pool) WaitForAvailable(timeout time.Duration) bool {
	p.mu.Lock()
	if p.available > 0 {
		p.mu.Unlock()
		return true
	}
	sig := p.availSig
	p.mu.Unlock()

	select {
	case <-sig:
	case <-time.After(timeout):
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available > 0
}

// Histogram counts buffers in each state at a point in time.
type Histogram struct {
	Total          int
	Available      int
	Rendering      int
	PendingPresent int
	Presented      int
	Dropped        int64
}

// Stats returns a point-in-time state histogram of the pool.
func (p *Pool) Stats() Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := Histogram{Total: len(p.bufs), Dropped: p.dropped}
	for _, b := range p.bufs {
		switch b.state {
		case hidproto.Available:
			h.Available++
		case hidproto.Rendering:
			h.Rendering++
		case hidproto.PendingPresent:
			h.PendingPresent++
		case hidproto.Presented:
			h.Presented++
		}
	}
	return h
}

// Buffers returns the pool's Buffer slots, in stable index order. The
// returned slice itself is a copy of the header; the Buffers it points to
// are still governed by the pool's lock for state transitions.
func (p *Pool) Buffers() []*Buffer {
	out := make([]*Buffer, len(p.bufs))
	copy(out, p.bufs)
	return out
}
