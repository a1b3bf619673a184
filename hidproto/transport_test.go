package hidproto

import (
	"context"
	"errors"
	"testing"
)

type panicTransport struct{}

func (panicTransport) TransferData(ctx context.Context, payload []byte, transferID int) (DeviceResults, error) {
	panic("boom")
}

func (panicTransport) SetRealtimeMode(ctx context.Context, enable bool) (DeviceResults, error) {
	panic(errors.New("boom"))
}

func TestSafeTransferDataRecoversPanic(t *testing.T) {
	_, err := SafeTransferData(context.Background(), panicTransport{}, []byte("x"), 1)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestSafeSetRealtimeModeRecoversPanic(t *testing.T) {
	_, err := SafeSetRealtimeMode(context.Background(), panicTransport{}, true)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestDeviceResultsAnySucceeded(t *testing.T) {
	r := DeviceResults{"a": false, "b": true}
	if !r.AnySucceeded() {
		t.Fatal("expected AnySucceeded true")
	}
	if r.SuccessCount() != 1 {
		t.Fatalf("SuccessCount = %d, want 1", r.SuccessCount())
	}

	empty := DeviceResults{"a": false}
	if empty.AnySucceeded() {
		t.Fatal("expected AnySucceeded false")
	}
}
