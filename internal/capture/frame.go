// Package capture provides stream ingestion and motion detection using GoCV (OpenCV).
package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Frame is a decoded BGR image and the time it was captured.
// A Frame is never modified after it has been published.
type Frame struct {
	Mat       gocv.Mat
	Timestamp time.Time
}

// NewFrame wraps mat, taking ownership of it.
func NewFrame(mat gocv.Mat, ts time.Time) *Frame {
	return &Frame{Mat: mat, Timestamp: ts}
}

// Size returns the frame dimensions.
func (f *Frame) Size() image.Point {
	return image.Point{X: f.Mat.Cols(), Y: f.Mat.Rows()}
}

// Close releases the underlying Mat.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// FrameBuffer holds the single most recent frame.
//
// Publish swaps the slot under the write lock; Latest clones under the read
// lock, so a reader never sees a partially replaced frame and a replaced Mat
// is only released once no clone of it can be in progress.
type FrameBuffer struct {
	mu    sync.RWMutex
	frame *Frame
	seq   uint64
}

// NewFrameBuffer creates an empty FrameBuffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Publish stores f as the latest frame, taking ownership of it.
// The previously stored frame is released.
func (b *FrameBuffer) Publish(f *Frame) {
	b.mu.Lock()
	old := b.frame
	b.frame = f
	b.seq++
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Latest returns a copy of the latest frame. The caller owns the copy and
// must Close it. The second result is false if the buffer is empty.
func (b *FrameBuffer) Latest() (*Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.frame == nil || b.frame.Mat.Empty() {
		return nil, false
	}

	return &Frame{Mat: b.frame.Mat.Clone(), Timestamp: b.frame.Timestamp}, true
}

// Seq returns the number of frames published so far.
func (b *FrameBuffer) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Clear drops the stored frame.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	old := b.frame
	b.frame = nil
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}
}
