package frame

import "testing"

func TestBufferWriteReplacesPayload(t *testing.T) {
	b := &Buffer{}
	b.Write([]byte("hello"))
	if string(b.Payload()) != "hello" {
		t.Fatalf("Payload() = %q, want %q", b.Payload(), "hello")
	}
	b.Write([]byte("hi"))
	if string(b.Payload()) != "hi" {
		t.Fatalf("Payload() = %q, want %q", b.Payload(), "hi")
	}
}

func TestBufferWriteReusesCapacity(t *testing.T) {
	b := &Buffer{}
	b.Write([]byte("0123456789"))
	backing := b.Payload()
	b.Write([]byte("abc"))
	if cap(b.Payload()) != cap(backing) {
		t.Fatal("expected Write to reuse backing array when capacity suffices")
	}
}

func TestBufferMetadata(t *testing.T) {
	b := &Buffer{}
	b.SetMetadata("seq=1")
	if b.Metadata() != "seq=1" {
		t.Fatalf("Metadata() = %q, want %q", b.Metadata(), "seq=1")
	}
}
