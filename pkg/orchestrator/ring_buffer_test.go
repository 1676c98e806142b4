package orchestrator

import "testing"

func TestRingBufferAppendWithinCapacity(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Append([]float32{1, 2, 3})
	if rb.Len() != 3 {
		t.Fatalf("expected len 3, got %d", rb.Len())
	}
	if rb.Offset() != 0 {
		t.Fatalf("expected offset 0, got %d", rb.Offset())
	}
}

func TestRingBufferDropsOldestPrefix(t *testing.T) {
	rb := NewRingBuffer(5)
	rb.Append([]float32{1, 2, 3, 4, 5})
	rb.Append([]float32{6, 7})

	if rb.Len() != 5 {
		t.Fatalf("expected len capped at 5, got %d", rb.Len())
	}
	if rb.Offset() != 2 {
		t.Fatalf("expected offset 2 (2 samples dropped), got %d", rb.Offset())
	}

	window := rb.DrainWindow(5)
	want := []float32{3, 4, 5, 6, 7}
	for i, v := range want {
		if window[i] != v {
			t.Fatalf("window[%d] = %v, want %v", i, window[i], v)
		}
	}
}

func TestRingBufferNeverExceedsMax(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 100; i++ {
		rb.Append([]float32{float32(i)})
		if rb.Len() > 4 {
			t.Fatalf("buffer exceeded max: len=%d", rb.Len())
		}
	}
}

func TestRingBufferDrainWindowShorterThanBuffer(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Append([]float32{1, 2, 3})
	window := rb.DrainWindow(10)
	if len(window) != 3 {
		t.Fatalf("expected 3 samples when window exceeds buffer length, got %d", len(window))
	}
}

func TestRingBufferDrainAllResets(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Append([]float32{1, 2, 3})
	all := rb.DrainAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(all))
	}
	if rb.Len() != 0 {
		t.Fatalf("expected buffer empty after drain, got len %d", rb.Len())
	}
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := NewRingBuffer(10)
	if rb.DrainAll() != nil {
		t.Fatal("expected nil drain from empty buffer")
	}
	if rb.DrainWindow(5) != nil {
		t.Fatal("expected nil window from empty buffer")
	}
}
