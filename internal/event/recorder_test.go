package event

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/vigia/internal/capture"
	"github.com/ayusman/vigia/internal/fixture"
	"gocv.io/x/gocv"
)

// fakeWriter records the size of every frame written to it.
type fakeWriter struct {
	mu      sync.Mutex
	sizes   []image.Point
	closed  bool
	failAt  int
	failErr error
}

func (w *fakeWriter) Write(img gocv.Mat) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failErr != nil && len(w.sizes) == w.failAt {
		return w.failErr
	}
	w.sizes = append(w.sizes, image.Pt(img.Cols(), img.Rows()))
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) frames() []image.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]image.Point(nil), w.sizes...)
}

func factoryFor(w *fakeWriter) WriterFactory {
	return func(path string, fps float64, size image.Point) (ClipWriter, error) {
		return w, nil
	}
}

// scriptedSource returns frames according to a script: true yields a frame
// of the scripted size, false yields nothing. Past the end of the script
// the last entry repeats.
type scriptedSource struct {
	mu     sync.Mutex
	script []bool
	sizes  []image.Point
	calls  int
}

func (s *scriptedSource) Latest() (*capture.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++

	if !s.script[i] {
		return nil, false
	}

	size := image.Pt(64, 48)
	if i < len(s.sizes) && s.sizes[i] != (image.Point{}) {
		size = s.sizes[i]
	}
	return capture.NewFrame(fixture.SolidFrame(size.X, size.Y, fixture.Black), time.Now()), true
}

func always(n int) []bool {
	script := make([]bool, n)
	for i := range script {
		script[i] = true
	}
	return script
}

func TestNewRecorder_Defaults(t *testing.T) {
	r := NewRecorder(RecorderConfig{Dir: t.TempDir()})

	if r.config.FPS != DefaultFPS {
		t.Errorf("FPS = %v, want %v", r.config.FPS, DefaultFPS)
	}
	if r.config.Frames != DefaultFrames {
		t.Errorf("Frames = %d, want %d", r.config.Frames, DefaultFrames)
	}
	if r.config.Codec != DefaultCodec || r.config.Extension != DefaultExtension {
		t.Errorf("codec/ext = %s/%s", r.config.Codec, r.config.Extension)
	}
	if r.config.NewWriter == nil {
		t.Error("NewWriter should default to the OpenCV writer")
	}
}

func TestRecorder_FrameCount(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	const target = 10

	tests := []struct {
		name   string
		script []bool
		want   int
	}{
		{name: "populated buffer", script: always(target), want: target},
		{
			name:   "empty samples are skipped",
			script: []bool{true, false, true, true, false, true, false, true, true, true},
			want:   target - 3,
		},
		{name: "buffer always empty", script: []bool{false}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			var completed *RecordingJob

			r := NewRecorder(RecorderConfig{
				Dir:        t.TempDir(),
				FPS:        200,
				Frames:     target,
				Extension:  "avi",
				Source:     &scriptedSource{script: tt.script},
				NewWriter:  factoryFor(w),
				OnComplete: func(job *RecordingJob) { completed = job },
			})

			job := r.Start(time.Now(), image.Pt(64, 48))
			r.Wait()

			if err := job.Err(); err != nil {
				t.Fatalf("job error = %v", err)
			}
			if completed != job {
				t.Fatal("OnComplete was not called with the job")
			}
			if got := len(w.frames()); got != tt.want {
				t.Errorf("frames written = %d, want %d", got, tt.want)
			}
			if job.Written() != tt.want {
				t.Errorf("Written() = %d, want %d", job.Written(), tt.want)
			}
			if job.Written()+job.Skipped() != target {
				t.Errorf("written %d + skipped %d != %d samples", job.Written(), job.Skipped(), target)
			}
			if !w.closed {
				t.Error("writer should be closed")
			}
		})
	}
}

func TestRecorder_ClipNaming(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 1, 14, 3, 7, 0, time.Local)

	r := NewRecorder(RecorderConfig{
		Dir:       dir,
		FPS:       200,
		Frames:    1,
		Extension: "mp4",
		Source:    &scriptedSource{script: []bool{false}},
		NewWriter: factoryFor(&fakeWriter{}),
	})

	first := r.Start(at, image.Pt(64, 48))
	second := r.Start(at, image.Pt(64, 48))
	r.Wait()

	// Both jobs reserve in the background, so either may get the suffix.
	got := map[string]bool{first.Path: true, second.Path: true}
	for _, want := range []string{
		filepath.Join(dir, "movimento_20240501_140307.mp4"),
		filepath.Join(dir, "movimento_20240501_140307_1.mp4"),
	} {
		if !got[want] {
			t.Errorf("clip paths = %s, %s; missing %s", first.Path, second.Path, want)
		}
	}
	if !filepath.IsAbs(first.Path) {
		t.Errorf("clip path %s should be absolute", first.Path)
	}
}

func TestRecorder_ResizesMismatchedFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	w := &fakeWriter{}
	src := &scriptedSource{
		script: always(3),
		sizes:  []image.Point{{}, image.Pt(128, 96), image.Pt(32, 24)},
	}

	r := NewRecorder(RecorderConfig{
		Dir:       t.TempDir(),
		FPS:       200,
		Frames:    3,
		Source:    src,
		NewWriter: factoryFor(w),
	})
	r.Start(time.Now(), image.Pt(64, 48))
	r.Wait()

	frames := w.frames()
	if len(frames) != 3 {
		t.Fatalf("frames written = %d, want 3", len(frames))
	}
	for i, size := range frames {
		if size != image.Pt(64, 48) {
			t.Errorf("frame %d size = %v, want (64,48)", i, size)
		}
	}
}

func TestRecorder_WriteFailureAbandons(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	errDisk := errors.New("disk full")
	w := &fakeWriter{failAt: 2, failErr: errDisk}
	called := false

	r := NewRecorder(RecorderConfig{
		Dir:        t.TempDir(),
		FPS:        200,
		Frames:     10,
		Source:     &scriptedSource{script: always(10)},
		NewWriter:  factoryFor(w),
		OnComplete: func(*RecordingJob) { called = true },
	})
	job := r.Start(time.Now(), image.Pt(64, 48))
	r.Wait()

	if !errors.Is(job.Err(), errDisk) {
		t.Errorf("job error = %v, want %v", job.Err(), errDisk)
	}
	if called {
		t.Error("OnComplete should not be called for an abandoned job")
	}
	if len(w.frames()) != 2 {
		t.Errorf("frames written = %d, want 2", len(w.frames()))
	}
	if !w.closed {
		t.Error("writer should be closed after a failure")
	}
	if _, err := os.Stat(job.Path); !os.IsNotExist(err) {
		t.Error("partial clip should be removed")
	}
}

func TestRecorder_WriterOpenFailure(t *testing.T) {
	errCodec := errors.New("no codec")
	r := NewRecorder(RecorderConfig{
		Dir:    t.TempDir(),
		Frames: 1,
		NewWriter: func(string, float64, image.Point) (ClipWriter, error) {
			return nil, errCodec
		},
	})

	job := r.Start(time.Now(), image.Pt(64, 48))
	r.Wait()

	if !errors.Is(job.Err(), errCodec) {
		t.Errorf("job error = %v, want %v", job.Err(), errCodec)
	}
}

func TestRecorder_InvalidSize(t *testing.T) {
	r := NewRecorder(RecorderConfig{Dir: t.TempDir(), NewWriter: factoryFor(&fakeWriter{})})

	job := r.Start(time.Now(), image.Point{})
	select {
	case <-job.Done():
	case <-time.After(time.Second):
		t.Fatal("job with an invalid size should finish immediately")
	}
	if job.Err() == nil {
		t.Error("expected an error for an empty frame size")
	}
}

func TestRecorder_StartReturnsImmediately(t *testing.T) {
	r := NewRecorder(RecorderConfig{
		Dir:       t.TempDir(),
		FPS:       5,
		Frames:    3,
		Source:    &scriptedSource{script: []bool{false}},
		NewWriter: factoryFor(&fakeWriter{}),
	})

	start := time.Now()
	job := r.Start(start, image.Pt(64, 48))
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Start() took %v", elapsed)
	}

	select {
	case <-job.Done():
		t.Error("job finished before its sampling interval elapsed")
	default:
	}

	r.Wait()
	// Three samples at 5 fps take two intervals.
	if elapsed := time.Since(start); elapsed < 2*job.Interval {
		t.Errorf("job finished after %v, want at least %v", elapsed, 2*job.Interval)
	}
}

func TestRecorder_OnStart(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	var started []string

	r := NewRecorder(RecorderConfig{
		Dir:       dir,
		FPS:       200,
		Frames:    2,
		Source:    &scriptedSource{script: []bool{false}},
		NewWriter: factoryFor(&fakeWriter{}),
		OnStart: func(job *RecordingJob) {
			// The clip is reserved before any sample is taken.
			if _, err := os.Stat(job.Path); err != nil {
				t.Errorf("clip %s not reserved at start: %v", job.Path, err)
			}
			if job.Written()+job.Skipped() != 0 {
				t.Errorf("OnStart after %d samples", job.Written()+job.Skipped())
			}
			mu.Lock()
			started = append(started, job.Path)
			mu.Unlock()
		},
	})

	ok := r.Start(time.Now(), image.Pt(64, 48))
	bad := r.Start(time.Now(), image.Point{})
	r.Wait()

	if bad.Err() == nil {
		t.Error("expected an error for an empty frame size")
	}
	if len(started) != 1 || started[0] != ok.Path {
		t.Errorf("OnStart paths = %v, want [%s]", started, ok.Path)
	}
}

func TestRecorder_ReservationFailure(t *testing.T) {
	// The clip directory sits under a regular file, so reserving fails in
	// the job goroutine and is reported through Err.
	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0o644)

	r := NewRecorder(RecorderConfig{
		Dir:       filepath.Join(blocker, "clips"),
		NewWriter: factoryFor(&fakeWriter{}),
	})

	job := r.Start(time.Now(), image.Pt(64, 48))
	r.Wait()

	if job.Err() == nil {
		t.Error("expected a reservation error")
	}
	if job.Path != "" {
		t.Errorf("Path = %q, want empty after a failed reservation", job.Path)
	}
}

func TestVideoWriterFactory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires OpenCV video encoding")
	}

	mats := fixture.MovingSquare(64, 48, 1, 2, 10, 5)
	defer fixture.CloseAll(mats)

	path := filepath.Join(t.TempDir(), "clip.avi")
	w, err := VideoWriterFactory("MJPG")(path, 5, image.Pt(64, 48))
	if err != nil {
		t.Fatalf("VideoWriterFactory() error = %v", err)
	}
	for i, m := range mats {
		if err := w.Write(m); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("clip missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("clip is empty")
	}
}
