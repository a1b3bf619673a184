package hidproto

import "fmt"

// BufferState is a state in the FrameBuffer state machine.
//
// Valid transitions:
//
//	Available      -> Rendering      (acquire)
//	Rendering      -> PendingPresent (present)
//	Rendering      -> Available      (release, producer abort)
//	PendingPresent -> Presented      (pacer success)
//	PendingPresent -> Available      (pacer failure, no retry)
//	Presented      -> Available      (release)
//
// Every path back into the pool ends in Available.
type BufferState int

const (
	// Available means the buffer is idle and may be acquired.
	Available BufferState = iota
	// Rendering means a producer owns the buffer and is writing into it.
	Rendering
	// PendingPresent means the buffer has been handed to the present queue
	// and is waiting for the pacer to dispatch it to the transport.
	PendingPresent
	// Presented means the buffer was the most recent successful transport
	// call; it has not yet been released back to the pool.
	Presented
)

func (s BufferState) String() string {
	switch s {
	case Available:
		return "Available"
	case Rendering:
		return "Rendering"
	case PendingPresent:
		return "PendingPresent"
	case Presented:
		return "Presented"
	default:
		return fmt.Sprintf("BufferState(%d)", int(s))
	}
}

// StarvationMode selects the buffer starvation policy consulted by
// AcquireBackBuffer when no buffer is Available.
type StarvationMode int

const (
	// Discard forces the oldest non-Available buffer back to Available and
	// counts it as dropped; the current acquire call still returns none.
	Discard StarvationMode = iota
	// Sequential does nothing on starvation; the caller must retry later.
	Sequential
	// FlipDiscard behaves identically to Discard; the distinction is
	// informational only, the two have the same effect at this design
	// level.
	FlipDiscard
)

func (m StarvationMode) String() string {
	switch m {
	case Discard:
		return "Discard"
	case Sequential:
		return "Sequential"
	case FlipDiscard:
		return "FlipDiscard"
	default:
		return fmt.Sprintf("StarvationMode(%d)", int(m))
	}
}

// PresentMode selects the pacer's dispatch behavior.
type PresentMode int

const (
	// Immediate dispatches at most one present per present-timer tick.
	Immediate PresentMode = iota
	// VSync additionally runs a phase-offset vsync timer that drains one
	// request per tick and emits a Vsync event.
	VSync
	// Adaptive is treated as Immediate for correctness; it may skip ticks
	// under transport backpressure.
	Adaptive
)

func (m PresentMode) String() string {
	switch m {
	case Immediate:
		return "Immediate"
	case VSync:
		return "VSync"
	case Adaptive:
		return "Adaptive"
	default:
		return fmt.Sprintf("PresentMode(%d)", int(m))
	}
}

// MaxTransferID is the device-protocol ceiling on transfer identifiers
//. TransferIDAllocator defaults to it but
// accepts an override for devices with a different in-flight window.
const MaxTransferID = 59

// SwapChainConfig configures a SwapChain. Zero-value fields are filled in
// with defaults by swapchain.New via a functional-options pattern.
type SwapChainConfig struct {
	// BufferCount is the number of FrameBuffers in the pool: 2, 3, or 4.
	BufferCount int
	// Mode selects the buffer starvation policy.
	Mode StarvationMode
	// PresentMode selects the pacer's dispatch behavior.
	PresentMode PresentMode
	// RefreshHz is the target present rate, 1..120.
	RefreshHz int
}

// DefaultSwapChainConfig returns the configuration used when New is called
// with no options.
func DefaultSwapChainConfig() SwapChainConfig {
	return SwapChainConfig{
		BufferCount: 2,
		Mode:        Discard,
		PresentMode: Immediate,
		RefreshHz:   30,
	}
}

// QueueConfig configures a TransmissionQueue.
type QueueConfig struct {
	// ProcessingIntervalMs is the drain loop's base tick period; it must be
	// >= 1 and is adapted at runtime by queue fill level.
	ProcessingIntervalMs int
	// MaxQueue is the bound past which enqueue drops the oldest item.
	MaxQueue int
	// MaxRetries is the number of retry attempts after the first, before an
	// item is dropped as "max retries exceeded".
	MaxRetries int
	// MonitorIntervalMs is the RealtimeModeController's sampling period.
	MonitorIntervalMs int
	// RealtimeTimeoutMs is the idle duration, after the last enqueue, before
	// the controller disables real-time mode.
	RealtimeTimeoutMs int
}

// DefaultQueueConfig returns the values txqueue.New substitutes for
// zero-valued fields of the QueueConfig it is given.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		ProcessingIntervalMs: 33,
		MaxQueue:             32,
		MaxRetries:           3,
		MonitorIntervalMs:    500,
		RealtimeTimeoutMs:    3000,
	}
}
