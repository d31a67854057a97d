package video

import (
	"errors"

	"genlock/video/source"
)

var ErrBufferEmpty = errors.New("frame buffer is empty")

// FrameBuffer holds captured frames awaiting write, oldest first. It grows
// without bound; the MemoryGuardian keeps it in check. It is owned by the
// capture goroutine and is not safe for concurrent use.
type FrameBuffer struct {
	frames    []*source.Frame
	head      int
	written   uint64
	discarded uint64
	metrics   *Metrics
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Enqueue appends f as the newest frame.
func (b *FrameBuffer) Enqueue(f *source.Frame) {
	b.frames = append(b.frames, f)
	b.metrics.buffered(b.Len())
}

func (b *FrameBuffer) Len() int {
	return len(b.frames) - b.head
}

// Peek returns the oldest frame without removing it.
func (b *FrameBuffer) Peek() (*source.Frame, error) {
	if b.Len() == 0 {
		return nil, ErrBufferEmpty
	}
	return b.frames[b.head], nil
}

// Dequeue removes and returns the oldest frame. The caller owns the frame.
func (b *FrameBuffer) Dequeue() (*source.Frame, error) {
	f, err := b.Peek()
	if err != nil {
		return nil, err
	}
	b.frames[b.head] = nil
	b.head++
	if b.head == len(b.frames) {
		// Empty; reuse the backing array from the start.
		b.frames = b.frames[:0]
		b.head = 0
	} else if b.head > len(b.frames)/2 && b.head > 64 {
		n := copy(b.frames, b.frames[b.head:])
		b.frames = b.frames[:n]
		b.head = 0
	}
	b.metrics.buffered(b.Len())
	return f, nil
}

// Written is the number of frames written out through this buffer.
func (b *FrameBuffer) Written() uint64 {
	return b.written
}

// Discarded is the number of frames dropped by Clear.
func (b *FrameBuffer) Discarded() uint64 {
	return b.discarded
}

// Total is every frame ever enqueued.
func (b *FrameBuffer) Total() uint64 {
	return b.written + b.discarded + uint64(b.Len())
}

// WriteOldest writes the oldest frame with the next sequence number. On
// error the frame stays buffered.
func (b *FrameBuffer) WriteOldest(w *FrameWriter) error {
	f, err := b.Peek()
	if err != nil {
		return err
	}
	if err := w.Write(f, b.written+1); err != nil {
		return err
	}
	b.Dequeue()
	b.written++
	return nil
}

// Flush writes every buffered frame, oldest first, stopping at the first
// failure.
func (b *FrameBuffer) Flush(w *FrameWriter) error {
	for b.Len() > 0 {
		if err := b.WriteOldest(w); err != nil {
			return err
		}
	}
	return nil
}

// Clear releases every buffered frame without writing it.
func (b *FrameBuffer) Clear() {
	for b.Len() > 0 {
		f, _ := b.Dequeue()
		if !f.Released() {
			f.Release()
		}
		b.discarded++
	}
}
