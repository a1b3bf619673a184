package hidproto

import (
	"sync"
	"time"
)

// EventKind identifies the concrete type of an Event, following an
// enum-with-name-table style for the pipeline's own event surface rather
// than a kernel event set.
type EventKind int

const (
	KindFramePresented EventKind = iota
	KindFrameDropped
	KindSwapChainError
	KindBufferStatusChanged
	KindVsyncOccurred
	KindRealtimeModeChanged
	KindQueueStatusChanged
	KindQueueMonitorUpdate
	KindTransmissionError
)

// EventKindNames maps each EventKind to its wire/log name.
var EventKindNames = map[EventKind]string{
	KindFramePresented:      "FramePresented",
	KindFrameDropped:        "FrameDropped",
	KindSwapChainError:      "SwapChainError",
	KindBufferStatusChanged: "BufferStatusChanged",
	KindVsyncOccurred:       "VsyncOccurred",
	KindRealtimeModeChanged: "RealtimeModeChanged",
	KindQueueStatusChanged:  "QueueStatusChanged",
	KindQueueMonitorUpdate:  "QueueMonitorUpdate",
	KindTransmissionError:   "TransmissionError",
}

func (k EventKind) String() string {
	if n, ok := EventKindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// Event is the single tagged-variant type replacing the source's EventArgs
// subclass hierarchy. Exactly one of the typed fields below
// is populated, selected by Kind.
type Event struct {
	Kind EventKind
	At   time.Time

	FramePresented      *FramePresentedData
	FrameDropped        *FrameDroppedData
	SwapChainError      *SwapChainErrorData
	BufferStatusChanged *BufferStatusChangedData
	VsyncOccurred       *VsyncOccurredData
	RealtimeModeChanged *RealtimeModeChangedData
	QueueStatusChanged  *QueueStatusChangedData
	QueueMonitorUpdate  *QueueMonitorUpdateData
	TransmissionError   *TransmissionErrorData
}

type FramePresentedData struct {
	BufferIndex   int
	TransferID    int
	Metadata      string
	CorrelationID string
}

type FrameDroppedData struct {
	BufferIndex   int
	Reason        string
	Metadata      string
	CorrelationID string
}

type SwapChainErrorData struct {
	Err     error
	Context string
}

type BufferStatusChangedData struct {
	Total     int
	Available int
	Devices   int
}

type VsyncOccurredData struct {
	Timestamp time.Time
	RefreshHz int
}

type RealtimeModeChangedData struct {
	Enabled      bool
	SuccessCount int
	TotalDevices int
}

type QueueStatusChangedData struct {
	CurrentSize int
	MaxSize     int
}

type QueueMonitorUpdateData struct {
	Size         int
	HasData      bool
	RealtimeOn   bool
	ProcessingOn bool
	IdleDuration time.Duration
}

type TransmissionErrorData struct {
	Err     error
	Context string
}

// Bus is a multi-consumer broadcast channel for Events. Publish never blocks
// the critical section that produced the event — a subscriber whose
// buffer is full simply misses the event rather than stalling the producer,
// using a non-blocking channel-send-with-default pattern throughout.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener with the given buffer depth and returns
// a receive-only channel plus an unsubscribe function. Callers must drain
// the channel promptly; a slow consumer only loses events, it never blocks
// publishers.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish fans ev out to every current subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// subscriber too slow; drop rather than block the publisher.
		}
	}
}

// Close unsubscribes and closes every listener channel. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
