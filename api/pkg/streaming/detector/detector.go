// Package detector implements the Multi-Stream Detector: a single worker
// that round-robin micro-batches frames from every active camera, calls the
// Inference Engine once per batch, and publishes per-frame detections.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/accidia-0101/trafficai/api/pkg/bus"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/engine"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/events"
)

// Config holds the detector's scheduling knobs, per §4.E.
type Config struct {
	BatchSize         int
	PollInterval      time.Duration
	DecisionThreshold float64
	BufferCapacity    int // per-camera deque capacity, e.g. 128
}

// DefaultConfig mirrors the spec's illustrative defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         8,
		PollInterval:      10 * time.Millisecond,
		DecisionThreshold: 0.5,
		BufferCapacity:    128,
	}
}

// cameraBuffer is one camera's bounded FIFO of not-yet-batched frames. It is
// fed by a lightweight per-camera collector and drained by the round-robin
// main loop; both sides are serialized by mu, so there's no lock-free
// cleverness to get wrong.
type cameraBuffer struct {
	mu     sync.Mutex
	frames []events.Frame
	cap    int
}

func newCameraBuffer(capacity int) *cameraBuffer {
	return &cameraBuffer{cap: capacity}
}

func (c *cameraBuffer) push(f events.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	if len(c.frames) > c.cap {
		// Drop oldest, matching the bus's own fifo drop policy (§4.E).
		c.frames = c.frames[len(c.frames)-c.cap:]
	}
}

func (c *cameraBuffer) pop() (events.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return events.Frame{}, false
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, true
}

// Detector is the singleton multi-stream micro-batching worker (component
// E). It is shared across every camera's session.
type Detector struct {
	bus    *bus.Bus
	engine *engine.Engine
	cfg    Config

	mu      sync.Mutex
	active  map[string]*cameraBuffer
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New constructs a Detector bound to b and eng. It does not start the main
// loop; call Run for that.
func New(b *bus.Bus, eng *engine.Engine, cfg Config) *Detector {
	return &Detector{
		bus:     b,
		engine:  eng,
		cfg:     cfg,
		active:  make(map[string]*cameraBuffer),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Join adds cameraID to the active set: a collector goroutine starts
// subscribing to frames:{cameraID} and feeding its buffer. Safe to call
// concurrently with Run and Leave.
func (d *Detector) Join(parent context.Context, cameraID string) {
	d.mu.Lock()
	if _, exists := d.active[cameraID]; exists {
		d.mu.Unlock()
		return
	}
	buf := newCameraBuffer(d.cfg.BufferCapacity)
	ctx, cancel := context.WithCancel(parent)
	d.active[cameraID] = buf
	d.cancels[cameraID] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.collect(ctx, cameraID, buf)
}

// Leave removes cameraID from the active set and stops its collector.
// In-flight batches containing this camera's frames are allowed to
// complete, per §4.E's cancellation contract.
func (d *Detector) Leave(cameraID string) {
	d.mu.Lock()
	cancel, ok := d.cancels[cameraID]
	delete(d.cancels, cameraID)
	delete(d.active, cameraID)
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *Detector) collect(ctx context.Context, cameraID string, buf *cameraBuffer) {
	defer d.wg.Done()
	topic := events.TopicFor(events.BaseFrames, cameraID)
	ch, sub := d.bus.Subscribe(topic, bus.FIFO, 64)
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-ch:
			if !ok {
				return
			}
			if f, isFrame := item.(events.Frame); isFrame {
				buf.push(f)
			}
			// events.EndOfStream is handled by the session coordinator's
			// drain/leave sequencing, not by the detector directly.
		}
	}
}

// activeSnapshot returns the current set of camera IDs without holding d.mu
// across the round-robin scan; buffers are looked up per ID via bufferFor.
func (d *Detector) activeSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.active))
	for id := range d.active {
		ids = append(ids, id)
	}
	return ids
}

func (d *Detector) bufferFor(cameraID string) (*cameraBuffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.active[cameraID]
	return b, ok
}

// Run executes the round-robin main loop until ctx is cancelled. Each pass
// takes at most one frame per active camera until batch_size is reached or
// every buffer is empty; empty passes sleep PollInterval.
func (d *Detector) Run(ctx context.Context) {
	logger := log.With().Str("component", "detector").Logger()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		default:
		}

		ids := d.activeSnapshot()
		var images []engine.Image
		var frames []events.Frame
		var cameraIDs []string

		// Repeat the round-robin scan across the active set, taking at most
		// one frame per camera per pass, until the batch is full or a full
		// pass pops nothing. A single pass would cap batch size at the
		// active-camera count, starving micro-batching for small sessions.
		for len(images) < d.cfg.BatchSize {
			progressed := false
			for _, id := range ids {
				if len(images) >= d.cfg.BatchSize {
					break
				}
				buf, ok := d.bufferFor(id)
				if !ok {
					continue
				}
				if f, ok := buf.pop(); ok {
					images = append(images, engine.Image{Pixels: f.Pixels, Width: f.Width, Height: f.Height})
					frames = append(frames, f)
					cameraIDs = append(cameraIDs, id)
					progressed = true
				}
			}
			if !progressed {
				break
			}
		}

		if len(images) == 0 {
			select {
			case <-ctx.Done():
				d.wg.Wait()
				return
			case <-time.After(d.cfg.PollInterval):
			}
			continue
		}

		d.runBatch(ctx, logger, images, frames, cameraIDs)
	}
}

// runBatch submits one micro-batch to the engine on a pool worker goroutine
// and awaits its completion before publishing a Detection per input frame,
// per §4.E step 3. Run (the round-robin driver) lives on its own goroutine,
// so awaiting here only delays the next batch for this detector, never the
// frame/resample/aggregator pipelines running alongside it.
func (d *Detector) runBatch(ctx context.Context, logger zerolog.Logger, images []engine.Image, frames []events.Frame, cameraIDs []string) {
	p := pool.New().WithErrors()
	p.Go(func() error {
		scores, err := d.engine.InferBatch(ctx, images)
		if err != nil {
			logger.Warn().Err(err).Int("batch_size", len(images)).Msg("inference batch failed, dropping")
			return err
		}
		for i, score := range scores {
			f := frames[i]
			det := events.Detection{
				Type:       "accident",
				CameraID:   cameraIDs[i],
				WallTS:     f.WallTS,
				FrameIdx:   f.FrameIdx,
				SourcePTS:  f.SourcePTS,
				VTS:        f.VTS,
				Confidence: score,
				Happened:   score >= d.cfg.DecisionThreshold,
			}
			d.bus.Publish(events.TopicFor(events.BaseAccident, cameraIDs[i]), det)
		}
		return nil
	})
	_ = p.Wait()
}
