package orchestrator

// RingBuffer is a bounded float32 PCM accumulator with a drop-oldest policy.
// Unlike a classic circular buffer it exposes absolute sample
// indices via offset, so a caller that recorded "speech started at sample
// N" can still make sense of N after older samples have been dropped.
type RingBuffer struct {
	samples []float32
	offset  int64 // absolute index of samples[0]
	max     int
}

// NewRingBuffer creates a buffer bounded at maxSamples (default: 30s of
// audio, i.e. 30*sampleRate).
func NewRingBuffer(maxSamples int) *RingBuffer {
	return &RingBuffer{
		samples: make([]float32, 0, maxSamples),
		max:     maxSamples,
	}
}

// Append adds frame to the buffer, dropping the oldest prefix if the
// buffer would exceed its capacity; Len never exceeds the bound, even
// transiently.
func (r *RingBuffer) Append(frame []float32) {
	r.samples = append(r.samples, frame...)
	if over := len(r.samples) - r.max; over > 0 {
		r.offset += int64(over)
		// Reuse the backing array: shift the kept tail down instead of
		// reallocating, so steady-state push stays allocation-free once
		// capacity has grown to max.
		copy(r.samples, r.samples[over:])
		r.samples = r.samples[:len(r.samples)-over]
	}
}

// Len returns the number of samples currently held.
func (r *RingBuffer) Len() int {
	return len(r.samples)
}

// Offset returns the absolute sample index of the first sample currently
// held (i.e. how many samples have been dropped so far).
func (r *RingBuffer) Offset() int64 {
	return r.offset
}

// DrainWindow returns a copy of the last lastN samples (or everything held,
// if fewer than lastN samples are buffered). It does not mutate the buffer.
func (r *RingBuffer) DrainWindow(lastN int) []float32 {
	if lastN <= 0 || len(r.samples) == 0 {
		return nil
	}
	start := len(r.samples) - lastN
	if start < 0 {
		start = 0
	}
	out := make([]float32, len(r.samples)-start)
	copy(out, r.samples[start:])
	return out
}

// DrainAll returns a copy of every sample currently held and clears the
// buffer.
func (r *RingBuffer) DrainAll() []float32 {
	if len(r.samples) == 0 {
		return nil
	}
	out := make([]float32, len(r.samples))
	copy(out, r.samples)
	r.offset += int64(len(r.samples))
	r.samples = r.samples[:0]
	return out
}
