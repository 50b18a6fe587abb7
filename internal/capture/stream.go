package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Stream defaults.
const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	// ReadChunkSize is the size of each read from the response body.
	ReadChunkSize = 1024
	// MaxBufferSize bounds the accumulating buffer when no image completes.
	MaxBufferSize = 8 << 20
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// ErrStreamEnded is returned by a connection whose body reached EOF.
var ErrStreamEnded = errors.New("stream ended")

// Splitter extracts JPEG payloads from a byte stream that concatenates them
// with no framing other than the SOI (FFD8) and EOI (FFD9) markers.
// Bytes may be written in chunks split anywhere, including between the two
// bytes of a marker.
type Splitter struct {
	buf []byte
}

// Write appends p to the accumulating buffer. It never fails.
func (s *Splitter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	if len(s.buf) > MaxBufferSize {
		s.buf = s.buf[:0]
	}
	return len(p), nil
}

// Next returns the next complete payload, markers included, and discards
// every byte up to its end. The payload is a fresh copy.
func (s *Splitter) Next() ([]byte, bool) {
	start := bytes.Index(s.buf, jpegStart)
	if start == -1 {
		// Keep a trailing 0xFF, it may begin a marker split across chunks.
		if n := len(s.buf); n > 0 {
			last := s.buf[n-1]
			s.buf = s.buf[:0]
			if last == 0xFF {
				s.buf = append(s.buf, last)
			}
		}
		return nil, false
	}

	end := bytes.Index(s.buf[start+len(jpegStart):], jpegEnd)
	if end == -1 {
		// Drop the garbage before the start marker but keep the partial image.
		if start > 0 {
			s.buf = append(s.buf[:0], s.buf[start:]...)
		}
		return nil, false
	}
	end += start + len(jpegStart) + len(jpegEnd)

	payload := make([]byte, end-start)
	copy(payload, s.buf[start:end])
	s.buf = append(s.buf[:0], s.buf[end:]...)

	return payload, true
}

// Buffered returns the number of bytes waiting for a complete payload.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

// Reset discards all buffered bytes.
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
}

// StreamStats counts what the reader has done since it was created.
type StreamStats struct {
	Frames     uint64 `json:"frames"`
	Dropped    uint64 `json:"dropped"`
	Reconnects uint64 `json:"reconnects"`
}

// StreamReader reads an HTTP multipart image stream and publishes every
// decodable JPEG to a FrameBuffer.
type StreamReader struct {
	url            string
	buffer         *FrameBuffer
	client         *http.Client
	reconnectDelay time.Duration

	frames     atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64
}

// NewStreamReader creates a reader for url that publishes into buffer.
// Zero durations select the defaults.
func NewStreamReader(url string, buffer *FrameBuffer, reconnectDelay, connectTimeout time.Duration) *StreamReader {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	// The body never ends, so only the connection phase has a deadline.
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		ResponseHeaderTimeout: connectTimeout,
		TLSHandshakeTimeout:   connectTimeout,
	}

	return &StreamReader{
		url:            url,
		buffer:         buffer,
		client:         &http.Client{Transport: transport},
		reconnectDelay: reconnectDelay,
	}
}

// URL returns the stream URL.
func (r *StreamReader) URL() string {
	return r.url
}

// Stats returns a snapshot of the reader counters.
func (r *StreamReader) Stats() StreamStats {
	return StreamStats{
		Frames:     r.frames.Load(),
		Dropped:    r.dropped.Load(),
		Reconnects: r.reconnects.Load(),
	}
}

// Run connects and reads until ctx is cancelled, reconnecting after every
// failure or end of stream.
func (r *StreamReader) Run(ctx context.Context) {
	log.Info().Str("component", "stream").Str("url", r.url).Msg("Stream reader started")
	defer log.Info().Str("component", "stream").Str("url", r.url).Msg("Stream reader stopped")

	for {
		err := r.readStream(ctx)
		if ctx.Err() != nil {
			return
		}

		log.Warn().
			Str("component", "stream").
			Str("url", r.url).
			Err(err).
			Dur("retry_in", r.reconnectDelay).
			Msg("Stream connection lost")

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.reconnectDelay):
			r.reconnects.Add(1)
		}
	}
}

// readStream handles a single connection.
func (r *StreamReader) readStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	log.Debug().Str("component", "stream").Str("url", r.url).Msg("Stream connected")

	var splitter Splitter
	chunk := make([]byte, ReadChunkSize)

	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			splitter.Write(chunk[:n])
			for {
				payload, ok := splitter.Next()
				if !ok {
					break
				}
				r.publish(payload)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamEnded
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}
	}
}

// publish decodes payload and hands it to the buffer. Undecodable payloads
// are dropped.
func (r *StreamReader) publish(payload []byte) {
	mat, err := gocv.IMDecode(payload, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		if err == nil {
			mat.Close()
		}
		r.dropped.Add(1)
		log.Debug().Str("component", "stream").Int("bytes", len(payload)).Msg("Dropped undecodable payload")
		return
	}

	r.frames.Add(1)
	r.buffer.Publish(NewFrame(mat, time.Now()))
}
