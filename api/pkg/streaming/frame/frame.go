// Package frame implements the Frame Source: it opens a media source (file
// or live feed), decodes it to RGB8 images, and publishes them onto
// frames_raw:{camera_id}.
package frame

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/accidia-0101/trafficai/api/pkg/bus"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/events"
)

// MaxPlausibleFPS is the ceiling above which a reported source FPS is
// considered a decoder lie rather than real timing information.
const MaxPlausibleFPS = 1000.0

// liveRetryDelay is how long a live source waits before retrying after a
// transient read failure.
const liveRetryDelay = 20 * time.Millisecond

// Decoder abstracts a media source down to the handful of operations the
// Frame Source loop needs. Implementations decide how frames are actually
// produced (GStreamer, a test fixture, ...); Run only knows the contract.
type Decoder interface {
	// FPS returns the source's reported frame rate, or 0 if unknown or
	// implausibly large (see MaxPlausibleFPS).
	FPS() float64
	// IsFile reports whether the source is a finite, seekable file. A file
	// source's read failures mean EOF; a non-file (live) source's read
	// failures mean "retry after a short delay".
	IsFile() bool
	// ReadFrame blocks until the next frame is decoded. It returns io.EOF
	// when a file source is exhausted, or xerrors.ErrTransientRead when a
	// live source missed a frame.
	ReadFrame(ctx context.Context) (pixels []byte, width, height int, err error)
	// Close releases decoder resources. Safe to call once, after Run
	// returns or the owning context is cancelled.
	Close() error
}

// clampFPS normalizes a decoder-reported FPS per §4.B: 0 if unknown or
// implausibly large.
func clampFPS(fps float64) float64 {
	if fps <= 0 || fps >= MaxPlausibleFPS {
		return 0
	}
	return fps
}

// Run executes the Frame Source algorithm for one camera: read, pace,
// publish, repeat, until EOF (file) or ctx cancellation (either kind). It
// never returns an error for live-source read failures; those are retried
// internally. A non-nil error here means dec could not be used at all and
// the caller should treat the session as failed to start.
func Run(ctx context.Context, b *bus.Bus, cameraID string, dec Decoder, simulateRealtime bool) error {
	defer dec.Close()

	fps := clampFPS(dec.FPS())
	startMono := time.Now()
	topic := events.TopicFor(events.BaseFramesRaw, cameraID)
	logger := log.With().Str("component", "frame_source").Str("camera_id", cameraID).Logger()

	var frameIdx int64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pixels, w, h, err := dec.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if dec.IsFile() || errors.Is(err, io.EOF) {
				logger.Debug().Int64("frames", frameIdx).Msg("frame source reached eof")
				b.Publish(topic, events.EndOfStream{CameraID: cameraID})
				return nil
			}
			// Live source: transient, never terminate.
			logger.Debug().Err(err).Msg("transient read failure, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(liveRetryDelay):
			}
			continue
		}

		var sourcePTS float64
		if fps > 0 {
			sourcePTS = float64(frameIdx) / fps
		} else {
			sourcePTS = time.Since(startMono).Seconds()
		}

		if simulateRealtime && fps > 0 {
			target := startMono.Add(time.Duration(sourcePTS * float64(time.Second)))
			if wait := time.Until(target); wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
		}

		b.Publish(topic, events.Frame{
			CameraID:  cameraID,
			WallTS:    float64(time.Now().UnixNano()) / 1e9,
			Pixels:    pixels,
			Width:     w,
			Height:    h,
			FrameIdx:  frameIdx,
			SourcePTS: sourcePTS,
			VTS:       sourcePTS,
		})
		frameIdx++
	}
}

// Open resolves source (a file path or network URL) to a Decoder. The cgo
// build uses GStreamer; the !cgo build returns xerrors.ErrCGORequired.
func Open(source string) (Decoder, error) {
	return openDecoder(source)
}
