// Package resample implements the Equal-Time Resampler: it converts a
// camera's raw frames onto a uniform virtual-time grid at a target rate.
package resample

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/accidia-0101/trafficai/api/pkg/bus"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/events"
)

// idleTimeout bounds how long the resampler waits for the next raw frame
// before retrying; it exists so an end-of-stream sentinel can never livelock
// it (§5 "Timeouts").
const idleTimeout = time.Second

// epsilon guards the while-loop's floating point comparison against missing
// an emission that should fire exactly at the grid boundary.
const epsilon = 1e-9

// Run reads frames_raw:{cameraID} and emits frames:{cameraID} on the uniform
// vts grid at targetFPS, per §4.C. It returns when it observes an
// events.EndOfStream sentinel or ctx is cancelled.
func Run(ctx context.Context, b *bus.Bus, cameraID string, targetFPS float64) error {
	inTopic := events.TopicFor(events.BaseFramesRaw, cameraID)
	outTopic := events.TopicFor(events.BaseFrames, cameraID)
	logger := log.With().Str("component", "resampler").Str("camera_id", cameraID).Logger()

	in, sub := b.Subscribe(inTopic, bus.FIFO, 64)
	defer sub.Cancel()

	step := 1.0 / targetFPS
	var nextVTS float64
	var sampleIdx int64
	started := false

	for {
		var item any
		select {
		case <-ctx.Done():
			return nil
		case item = <-in:
		case <-time.After(idleTimeout):
			continue
		}

		switch v := item.(type) {
		case events.EndOfStream:
			b.Publish(events.TopicFor(events.BaseFrames, cameraID), v)
			return nil
		case events.Frame:
			if !started {
				nextVTS = 0
				started = true
			}
			t := v.SourcePTS
			for t+epsilon >= nextVTS {
				b.Publish(outTopic, events.Frame{
					CameraID:  cameraID,
					WallTS:    v.WallTS,
					Pixels:    v.Pixels,
					Width:     v.Width,
					Height:    v.Height,
					FrameIdx:  sampleIdx,
					SourcePTS: v.SourcePTS,
					VTS:       nextVTS,
				})
				sampleIdx++
				nextVTS += step
			}
		default:
			logger.Warn().Msg("resampler received unexpected item type")
		}
	}
}
