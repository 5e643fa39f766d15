package capture

// PreRollBuffer keeps the most recent frames seen while no voice was
// detected, so the onset of an utterance can be recovered once detection
// fires. It is owned by the capture goroutine and is not safe for
// concurrent use.
type PreRollBuffer struct {
	frames [][]byte
	head   int
	size   int
}

// NewPreRollBuffer creates a buffer holding at most capacity frames.
// A capacity of zero or less disables buffering.
func NewPreRollBuffer(capacity int) *PreRollBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &PreRollBuffer{frames: make([][]byte, capacity)}
}

// Push appends frame, evicting the oldest frame when full
func (b *PreRollBuffer) Push(frame []byte) {
	if len(b.frames) == 0 {
		return
	}
	tail := (b.head + b.size) % len(b.frames)
	b.frames[tail] = frame
	if b.size < len(b.frames) {
		b.size++
		return
	}
	b.head = (b.head + 1) % len(b.frames)
}

// Drain returns the buffered frames oldest first. The buffer is left
// untouched; call Clear to empty it.
func (b *PreRollBuffer) Drain() [][]byte {
	out := make([][]byte, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.frames[(b.head+i)%len(b.frames)])
	}
	return out
}

// Clear drops all buffered frames
func (b *PreRollBuffer) Clear() {
	for i := range b.frames {
		b.frames[i] = nil
	}
	b.head = 0
	b.size = 0
}

// Len returns the number of buffered frames
func (b *PreRollBuffer) Len() int {
	return b.size
}

// Cap returns the configured capacity
func (b *PreRollBuffer) Cap() int {
	return len(b.frames)
}
