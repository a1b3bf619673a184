package hidproto

import "errors"

// Sentinel errors for the pipeline. None of these are ever panicked across a
// public API. Contract violations on the public swap-chain and queue methods
// are reported as a false result, not as one of these values.
var (
	// ErrDisposed names the disposed-component condition. Public methods
	// called after disposal return false; they do not return this value.
	ErrDisposed = errors.New("hidstream: component disposed")

	// ErrInvalidBufferState names a FrameBuffer whose state does not satisfy
	// an operation's precondition. Present and PresentImmediate report this
	// case as false; they do not return this value.
	ErrInvalidBufferState = errors.New("hidstream: invalid buffer state")

	// ErrEmptyPayload names a zero-length payload given to a present/enqueue
	// call. Present and Enqueue report this case as false; they do not return
	// this value.
	ErrEmptyPayload = errors.New("hidstream: empty payload")

	// ErrQueueFull is passed to the OnResult callback of a pacer request that
	// is dropped to make room when the present queue is full.
	ErrQueueFull = errors.New("hidstream: queue full")

	// ErrNoDevices is returned when a transport call succeeded vacuously
	// (returned a result) but acknowledged zero devices.
	ErrNoDevices = errors.New("hidstream: no device acknowledged")
)
