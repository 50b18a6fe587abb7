package event

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/vigia/internal/capture"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Recording defaults.
const (
	DefaultFPS       = 5
	DefaultFrames    = 50
	DefaultCodec     = "mp4v"
	DefaultExtension = "mp4"

	clipPrefix = "movimento_"
)

// ErrWriterClosed is returned by a clip writer that failed to open.
var ErrWriterClosed = errors.New("clip writer is not open")

// FrameSource provides the most recent frame. The caller owns the returned
// frame and must Close it.
type FrameSource interface {
	Latest() (*capture.Frame, bool)
}

// ClipWriter appends frames to a video clip.
type ClipWriter interface {
	Write(img gocv.Mat) error
	Close() error
}

// WriterFactory opens a clip writer at path.
type WriterFactory func(path string, fps float64, size image.Point) (ClipWriter, error)

// VideoWriterFactory returns a WriterFactory that encodes clips with OpenCV
// using the given four-character codec.
func VideoWriterFactory(codec string) WriterFactory {
	return func(path string, fps float64, size image.Point) (ClipWriter, error) {
		vw, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
		if err != nil {
			return nil, err
		}
		if !vw.IsOpened() {
			vw.Close()
			return nil, fmt.Errorf("%w: codec %s", ErrWriterClosed, codec)
		}
		return vw, nil
	}
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Dir is where clips are written. It is created on demand.
	Dir string
	// FPS is the sampling rate and the clip frame rate.
	FPS float64
	// Frames is the number of samples taken per clip.
	Frames int
	// Codec is the four-character code used by the default writer.
	Codec string
	// Extension is the clip file extension without the dot.
	Extension string
	// Source is read once per sample.
	Source FrameSource
	// NewWriter opens clip writers. Nil selects VideoWriterFactory(Codec).
	NewWriter WriterFactory
	// OnStart is called from the job goroutine once the clip file is
	// reserved and job.Path is set, before the first sample.
	OnStart func(job *RecordingJob)
	// OnComplete is called from the job goroutine after a clip is closed.
	OnComplete func(job *RecordingJob)
}

// RecordingJob is one clip being recorded.
type RecordingJob struct {
	Started  time.Time
	Path     string
	Size     image.Point
	Target   int
	Interval time.Duration

	written atomic.Int64
	skipped atomic.Int64
	err     error
	done    chan struct{}
}

// Written returns the number of frames written so far.
func (j *RecordingJob) Written() int {
	return int(j.written.Load())
}

// Skipped returns the number of samples that found no frame.
func (j *RecordingJob) Skipped() int {
	return int(j.skipped.Load())
}

// Done is closed when the job has finished or been abandoned.
func (j *RecordingJob) Done() <-chan struct{} {
	return j.done
}

// Err returns the reason the job was abandoned. Valid after Done is closed.
func (j *RecordingJob) Err() error {
	<-j.done
	return j.err
}

// Recorder records clips from a frame source in the background.
type Recorder struct {
	config RecorderConfig
	wg     sync.WaitGroup
}

// NewRecorder creates a Recorder. Zero config values select the defaults.
func NewRecorder(config RecorderConfig) *Recorder {
	if config.FPS <= 0 {
		config.FPS = DefaultFPS
	}
	if config.Frames <= 0 {
		config.Frames = DefaultFrames
	}
	if config.Codec == "" {
		config.Codec = DefaultCodec
	}
	if config.Extension == "" {
		config.Extension = DefaultExtension
	}
	if config.NewWriter == nil {
		config.NewWriter = VideoWriterFactory(config.Codec)
	}
	return &Recorder{config: config}
}

// Start begins recording a clip of the given frame size and returns
// immediately without touching the filesystem. The clip is named after at;
// job.Path is set before OnStart is called and is safe to read once Done
// is closed.
func (r *Recorder) Start(at time.Time, size image.Point) *RecordingJob {
	job := &RecordingJob{
		Started:  at,
		Size:     size,
		Target:   r.config.Frames,
		Interval: time.Duration(float64(time.Second) / r.config.FPS),
		done:     make(chan struct{}),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(job.done)

		if err := r.prepare(job); err != nil {
			job.err = err
			log.Error().Str("component", "recorder").Err(err).Msg("Recording abandoned")
			return
		}

		if r.config.OnStart != nil {
			r.config.OnStart(job)
		}

		if err := r.record(job); err != nil {
			job.err = err
			log.Error().Str("component", "recorder").Str("clip", job.Path).Err(err).Msg("Recording abandoned")
			return
		}

		log.Info().
			Str("component", "recorder").
			Str("clip", job.Path).
			Int("frames", job.Written()).
			Int("skipped", job.Skipped()).
			Msg("Recording finished")

		if r.config.OnComplete != nil {
			r.config.OnComplete(job)
		}
	}()

	return job
}

// Wait blocks until every started job has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// prepare validates the job and reserves its clip file.
func (r *Recorder) prepare(job *RecordingJob) error {
	if job.Size.X <= 0 || job.Size.Y <= 0 {
		return fmt.Errorf("invalid clip size %v", job.Size)
	}

	f, err := reserve(r.config.Dir, clipPrefix, job.Started, r.config.Extension)
	if err != nil {
		return fmt.Errorf("failed to create clip: %w", err)
	}
	f.Close()

	path, err := filepath.Abs(f.Name())
	if err != nil {
		path = f.Name()
	}
	job.Path = path
	return nil
}

func (r *Recorder) record(job *RecordingJob) error {
	path := job.Path

	w, err := r.config.NewWriter(path, r.config.FPS, job.Size)
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to open clip writer: %w", err)
	}

	log.Info().Str("component", "recorder").Str("clip", path).Int("frames", job.Target).Msg("Recording started")

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for i := 0; i < job.Target; i++ {
		if i > 0 {
			<-ticker.C
		}

		if err := r.sample(job, w); err != nil {
			w.Close()
			os.Remove(path)
			return err
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close clip: %w", err)
	}
	return nil
}

// sample writes the current frame, resized to the clip size if needed.
// An empty source skips the sample.
func (r *Recorder) sample(job *RecordingJob, w ClipWriter) error {
	if r.config.Source == nil {
		job.skipped.Add(1)
		return nil
	}

	frame, ok := r.config.Source.Latest()
	if !ok {
		job.skipped.Add(1)
		return nil
	}
	defer frame.Close()

	img := frame.Mat
	if frame.Size() != job.Size {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(frame.Mat, &resized, job.Size, 0, 0, gocv.InterpolationLinear)
		img = resized
	}

	if err := w.Write(img); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", job.Written(), err)
	}
	job.written.Add(1)
	return nil
}
