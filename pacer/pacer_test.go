package pacer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbndr/hidstream/hidproto"
)

type countingTransport struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (t *countingTransport) TransferData(ctx context.Context, payload []byte, transferID int) (hidproto.DeviceResults, error) {
	t.mu.Lock()
	t.calls++
	fail := t.fail
	t.mu.Unlock()
	return hidproto.DeviceResults{"d0": !fail}, nil
}

func (t *countingTransport) SetRealtimeMode(ctx context.Context, enable bool) (hidproto.DeviceResults, error) {
	return hidproto.DeviceResults{"d0": true}, nil
}

func (t *countingTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func TestPacerDispatchesOnTick(t *testing.T) {
	transport := &countingTransport{}
	p := New(transport, nil, hidproto.Immediate, 100, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	var resultErr atomic.Value
	done := make(chan struct{})
	p.Submit(&Request{
		Payload:    []byte("x"),
		TransferID: 1,
		OnResult: func(res hidproto.DeviceResults, err error) {
			if err != nil {
				resultErr.Store(err)
			}
			close(done)
		},
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for present dispatch")
	}
	if transport.Calls() != 1 {
		t.Fatalf("calls = %d, want 1", transport.Calls())
	}
}

func TestPacerSubmitDropsOldestOnOverflow(t *testing.T) {
	transport := &countingTransport{}
	p := New(transport, nil, hidproto.Immediate, 1, 1, nil)

	var dropped atomic.Bool
	p.Submit(&Request{Payload: []byte("a"), OnResult: func(res hidproto.DeviceResults, err error) {
		if err == hidproto.ErrQueueFull {
			dropped.Store(true)
		}
	}})
	p.Submit(&Request{Payload: []byte("b"), OnResult: func(hidproto.DeviceResults, error) {}})

	if p.QueueLen() != 1 {
		t.Fatalf("queue len = %d, want 1", p.QueueLen())
	}
	if !dropped.Load() {
		t.Fatal("expected the oldest submission to be dropped with ErrQueueFull")
	}
}

func TestPacerDrainOnStop(t *testing.T) {
	transport := &countingTransport{}
	// refresh rate of 1Hz so the tick never fires before Stop is called.
	p := New(transport, nil, hidproto.Immediate, 1, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	var gotCanceled atomic.Bool
	done := make(chan struct{})
	p.Submit(&Request{Payload: []byte("x"), OnResult: func(res hidproto.DeviceResults, err error) {
		if err == context.Canceled {
			gotCanceled.Store(true)
		}
		close(done)
	}})

	cancel()
	p.Stop()
	<-done
	if !gotCanceled.Load() {
		t.Fatal("expected drained request to be reported as context.Canceled")
	}
}

func TestPacerUpdateAvgEWMA(t *testing.T) {
	p := New(&countingTransport{}, nil, hidproto.Immediate, 30, 4, nil)
	p.updateAvg(1_000_000_000)
	if p.AvgIntervalMs() != 0 {
		t.Fatalf("first sample should not set avg, got %v", p.AvgIntervalMs())
	}
	p.updateAvg(1_100_000_000) // 100ms later
	if p.AvgIntervalMs() != 100 {
		t.Fatalf("avg after second sample = %v, want 100", p.AvgIntervalMs())
	}
	p.updateAvg(1_150_000_000) // 50ms later
	want := 0.9*100 + 0.1*50
	if p.AvgIntervalMs() != want {
		t.Fatalf("avg = %v, want %v", p.AvgIntervalMs(), want)
	}
}
