package capture

import (
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func TestFrameBuffer_Empty(t *testing.T) {
	b := NewFrameBuffer()

	if f, ok := b.Latest(); ok || f != nil {
		t.Error("Latest() on empty buffer should return nil, false")
	}
	if b.Seq() != 0 {
		t.Errorf("Seq() = %d, want 0", b.Seq())
	}
}

func TestFrameBuffer_PublishLatest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	b := NewFrameBuffer()
	defer b.Clear()

	ts := time.Now()
	mat := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	b.Publish(NewFrame(mat, ts))

	f, ok := b.Latest()
	if !ok {
		t.Fatal("Latest() should return the published frame")
	}
	defer f.Close()

	if !f.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", f.Timestamp, ts)
	}
	if got := f.Size(); got.X != 64 || got.Y != 48 {
		t.Errorf("Size() = %v, want (64,48)", got)
	}
	if b.Seq() != 1 {
		t.Errorf("Seq() = %d, want 1", b.Seq())
	}
}

func TestFrameBuffer_LatestIsIndependentCopy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	b := NewFrameBuffer()
	defer b.Clear()

	b.Publish(NewFrame(gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3), time.Now()))

	copy1, _ := b.Latest()
	defer copy1.Close()

	// Replacing the stored frame must not invalidate a copy already handed out.
	b.Publish(NewFrame(gocv.NewMatWithSize(20, 20, gocv.MatTypeCV8UC3), time.Now()))

	if copy1.Mat.Empty() || copy1.Mat.Rows() != 10 {
		t.Errorf("earlier copy changed after Publish: rows = %d", copy1.Mat.Rows())
	}

	copy2, _ := b.Latest()
	defer copy2.Close()
	if copy2.Mat.Rows() != 20 {
		t.Errorf("Latest() rows = %d, want 20", copy2.Mat.Rows())
	}
}

func TestFrameBuffer_Clear(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	b := NewFrameBuffer()
	b.Publish(NewFrame(gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3), time.Now()))
	b.Clear()

	if _, ok := b.Latest(); ok {
		t.Error("Latest() after Clear() should report empty")
	}

	// Clear on an empty buffer is a no-op.
	b.Clear()
}

func TestFrameBuffer_ConcurrentPublishAndRead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	b := NewFrameBuffer()
	defer b.Clear()

	const rounds = 200
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			// Alternate sizes so a torn read would show up as a size mismatch.
			size := 16 + (i%2)*16
			mat := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC3)
			b.Publish(NewFrame(mat, time.Now()))
		}
	}()

	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				f, ok := b.Latest()
				if !ok {
					continue
				}
				if f.Mat.Rows() != f.Mat.Cols() {
					t.Errorf("torn frame: %dx%d", f.Mat.Cols(), f.Mat.Rows())
				}
				f.Close()
			}
		}()
	}

	wg.Wait()

	if b.Seq() != rounds {
		t.Errorf("Seq() = %d, want %d", b.Seq(), rounds)
	}
}
