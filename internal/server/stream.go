package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/vigia/internal/capture"
	"github.com/hybridgroup/mjpeg"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// FrameSource provides the latest annotated frame.
type FrameSource interface {
	LatestAnnotatedFrame() (*capture.Frame, bool)
}

// encodeJPEG encodes a frame as JPEG bytes owned by the caller.
func encodeJPEG(f *capture.Frame) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, f.Mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// StreamHandler serves annotated frames as MJPEG. A pump goroutine encodes
// the latest frame once per interval and hands it to every client.
type StreamHandler struct {
	source   FrameSource
	stream   *mjpeg.Stream
	interval time.Duration

	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamHandler creates a StreamHandler and starts its pump.
func NewStreamHandler(source FrameSource, interval time.Duration) *StreamHandler {
	stream := mjpeg.NewStream()
	stream.FrameInterval = interval

	h := &StreamHandler{
		source:   source,
		stream:   stream,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.pump()
	return h
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	h.stream.ServeHTTP(w, r)
}

// Close stops the pump.
func (h *StreamHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.stopCh)
		<-h.done
	})
}

func (h *StreamHandler) pump() {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			frame, ok := h.source.LatestAnnotatedFrame()
			if !ok {
				continue
			}

			data, err := encodeJPEG(frame)
			frame.Close()
			if err != nil {
				log.Debug().Str("component", "server").Err(err).Msg("Failed to encode stream frame")
				continue
			}

			h.stream.UpdateJPEG(data)
		}
	}
}

// SnapshotHandler serves the latest annotated frame as a single JPEG.
type SnapshotHandler struct {
	source FrameSource
}

// NewSnapshotHandler creates a new SnapshotHandler.
func NewSnapshotHandler(source FrameSource) *SnapshotHandler {
	return &SnapshotHandler{source: source}
}

// ServeHTTP handles GET /api/snapshot.
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frame, ok := h.source.LatestAnnotatedFrame()
	if !ok {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}
	data, err := encodeJPEG(frame)
	frame.Close()
	if err != nil {
		http.Error(w, "Failed to encode frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}
