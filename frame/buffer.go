// Package frame implements a swap-chain-style buffer pool: a fixed-size set
// of reusable byte containers, each carrying an explicit state machine,
// handed out to producers as back buffers and returned to the pool once
// presented.
//
// Ownership follows a pooled-buffer pattern with idempotent release, adapted
// from an unbounded pool of anonymous buffers into a fixed-size, indexed
// pool where each slot additionally tracks its own state machine.
package frame

import (
	"github.com/mbndr/hidstream/hidproto"
)

// Buffer is one slot in a Pool. Its index is stable for the lifetime of the
// pool; only its state, payload, and timestamps change over time.
//
// Buffer is not safe for concurrent use on its own — all state transitions
// are serialized by the owning Pool's lock.
type Buffer struct {
	index int
	state hidproto.BufferState

	payload  []byte
	metadata string

	createdAt   int64
	acquiredAt  int64
	presentedAt int64
	releasedAt  int64
}

// Index returns the buffer's stable slot index in [0, BufferCount).
func (b *Buffer) Index() int { return b.index }

// State returns the buffer's current state. Safe to call from outside the
// pool's lock for diagnostics, but the value may be stale the instant it's
// read; callers that need a consistency guarantee should use Pool methods.
func (b *Buffer) State() hidproto.BufferState { return b.state }

// Payload returns the buffer's current byte content. The returned slice
// aliases the buffer's internal storage and must not be retained past the
// buffer's next acquire.
func (b *Buffer) Payload() []byte { return b.payload }

// Metadata returns the buffer's diagnostic metadata string.
func (b *Buffer) Metadata() string { return b.metadata }

// Write copies data into the buffer's payload. It is a contract violation to
// call Write on a buffer that is not Rendering; the caller (normally only
// Pool.AcquireBackBuffer's caller) is responsible for holding the buffer in
// that state while writing.
func (b *Buffer) Write(data []byte) {
	if cap(b.payload) < len(data) {
		b.payload = make([]byte, len(data))
	} else {
		b.payload = b.payload[:len(data)]
	}
	copy(b.payload, data)
}

// SetMetadata attaches a short diagnostic string to the buffer.
func (b *Buffer) SetMetadata(md string) { b.metadata = md }

// AcquiredAt, PresentedAt, ReleasedAt, CreatedAt expose the buffer's
// lifecycle timestamps (monotonic clock ticks, see internal/clock) for
// diagnostics and the Discard starvation policy's "oldest" comparison.
func (b *Buffer) AcquiredAt() int64  { return b.acquiredAt }
func (b *Buffer) PresentedAt() int64 { return b.presentedAt }
func (b *Buffer) ReleasedAt() int64  { return b.releasedAt }
func (b *Buffer) CreatedAt() int64   { return b.createdAt }

// Snapshot is a consistent point-in-time view of a Buffer's fields, copied
// out from under the pool lock for callers that need more than State().
type Snapshot struct {
	Index      int
	State      hidproto.BufferState
	Metadata   string
	PayloadLen int
	CreatedAt  int64
	AcquiredAt int64
}
