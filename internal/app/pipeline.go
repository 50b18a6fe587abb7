package app

import (
	"image"
	"runtime/debug"
	"time"

	"github.com/ayusman/vigia/internal/capture"
	"github.com/ayusman/vigia/internal/event"
	"github.com/ayusman/vigia/internal/hook"
	"github.com/rs/zerolog/log"
)

// runPipeline is the detection loop. Every tick, while live:
//
// 1. Take a copy of the latest frame (skip the tick if there is none)
// 2. Detect motion against the reference frame
// 3. Publish the annotated frame for the UI
// 4. Feed the motion signal to the gate
// 5. On a new event, start recording; subscribers hear about it once the
//    clip is reserved
func (c *Controller) runPipeline(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

// tick runs one detection step. A panic is logged and the loop continues.
func (c *Controller) tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "controller").
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in detection tick")
		}
	}()

	if c.Mode() != ModeLive {
		return
	}

	frame, ok := c.frames.Latest()
	if !ok {
		return
	}
	defer frame.Close()

	res := c.detector.Detect(frame.Mat)
	if res.Annotated.Empty() {
		res.Annotated.Close()
		return
	}
	if !c.publishAnnotated(capture.NewFrame(res.Annotated, frame.Timestamp)) {
		return
	}

	if res.Baseline {
		log.Debug().Str("component", "controller").Msg("Reference frame set")
		return
	}

	c.gateMu.Lock()
	declared := c.gate.Observe(res.Motion, now)
	c.gateMu.Unlock()

	if declared {
		c.declareEvent(now, frame.Size(), len(res.Regions))
	}
}

// publishAnnotated hands f to the UI unless the mode changed during the
// tick, in which case f is released and false is returned.
func (c *Controller) publishAnnotated(f *capture.Frame) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.mode != ModeLive {
		f.Close()
		return false
	}
	c.annotated.Publish(f)
	return true
}

// declareEvent starts a recording. Subscribers are told once the clip
// exists, from the recording goroutine.
func (c *Controller) declareEvent(now time.Time, size image.Point, regions int) {
	c.recorder.Start(now, size)

	log.Info().
		Str("component", "controller").
		Int("regions", regions).
		Msg("Motion event declared")
}

// onRecordingStart notifies subscribers with the reserved clip path.
func (c *Controller) onRecordingStart(job *event.RecordingJob) {
	c.notify(Notification{
		Message: NotificationMessage,
		Time:    job.Started,
		Clip:    job.Path,
	})
}

// onRecordingComplete journals a finished clip, adds it to the catalog and
// runs the hooks.
func (c *Controller) onRecordingComplete(job *event.RecordingJob) {
	rec, path, err := c.journal.Write(event.KindMotion, job.Path)
	if err != nil {
		log.Error().Str("component", "controller").Str("clip", job.Path).Err(err).Msg("Failed to write event record")
		return
	}

	log.Info().Str("component", "controller").Str("clip", job.Path).Str("record", path).Msg("Event recorded")

	if err := c.catalog(rec, path); err != nil {
		log.Warn().Str("component", "controller").Str("record", path).Err(err).Msg("Failed to catalog record")
	}

	c.hooks.Dispatch(hook.Request{
		Event:     rec.Kind,
		Timestamp: rec.Timestamp,
		Clip:      rec.Clip,
		Record:    path,
	})
}
