// Package session implements the Session Coordinator (component G): the
// per-camera lifecycle manager that starts the Frame Source, Resampler, and
// Aggregator for a camera, joins it into the shared Multi-Stream Detector's
// active set, and drives an orderly drain/flush/stop shutdown.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/accidia-0101/trafficai/api/pkg/bus"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/aggregator"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/detector"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/frame"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/resample"
)

// DrainInterval bounds how long shutdown waits for in-flight frames to flow
// through the detector and into the aggregator before flushing, per §4.G
// step 3 (~0.8s).
const DrainInterval = 800 * time.Millisecond

// Config bundles the per-camera knobs the coordinator needs to start a
// session: the resampler's target rate and whether the frame source should
// pace itself to real time.
type Config struct {
	TargetFPS        float64
	SimulateRealtime bool
	AggregatorParams aggregator.Params
}

// DefaultConfig mirrors the spec's illustrative defaults.
func DefaultConfig() Config {
	return Config{
		TargetFPS:        15.0,
		SimulateRealtime: false,
		AggregatorParams: aggregator.DefaultParams(),
	}
}

// cameraSession holds one active camera's resources for shutdown. The
// camera ID itself is the registry's map key, not repeated here.
//
// B, C, and F each run on their own derived context so shutdown can cancel
// them at the exact steps §4.G specifies: the resampler at step 2, the
// aggregator only at step 5 (after Flush). Cancelling them together would
// kill the aggregator's Run loop before the drain window (step 3) gives it
// a chance to Process the detections still flowing out of the detector.
type cameraSession struct {
	frameCancel    context.CancelFunc
	resampleCancel context.CancelFunc
	aggCancel      context.CancelFunc
	frameDone      chan struct{}
	aggregator     *aggregator.Aggregator
}

// Coordinator owns the session registry: a single map guarded by a mutex
// (Design Notes §9), plus handles to the shared bus and detector.
type Coordinator struct {
	bus      *bus.Bus
	detector *detector.Detector

	mu       sync.Mutex
	sessions map[string]*cameraSession
}

// New constructs a Coordinator bound to the shared bus and detector. The
// detector must already be constructed (it is a process-wide singleton);
// the coordinator only joins/leaves its active set per camera.
func New(b *bus.Bus, det *detector.Detector) *Coordinator {
	return &Coordinator{
		bus:      b,
		detector: det,
		sessions: make(map[string]*cameraSession),
	}
}

// Start begins a session for cameraID against the given Decoder, per §4.G's
// startup order: B, C, F in parallel, then join the detector's active set.
// It returns a fresh session ID.
func (c *Coordinator) Start(ctx context.Context, cameraID string, dec frame.Decoder, cfg Config) (string, error) {
	c.mu.Lock()
	if _, exists := c.sessions[cameraID]; exists {
		c.mu.Unlock()
		return "", fmt.Errorf("session already active for camera %q", cameraID)
	}
	c.mu.Unlock()

	sessionID := uuid.NewString()
	frameCtx, frameCancel := context.WithCancel(ctx)
	resampleCtx, resampleCancel := context.WithCancel(ctx)
	aggCtx, aggCancel := context.WithCancel(ctx)
	agg := aggregator.New(c.bus, cameraID, sessionID, cfg.AggregatorParams)

	logger := log.With().Str("component", "session").Str("camera_id", cameraID).Str("session_id", sessionID).Logger()

	frameDone := make(chan struct{})
	go func() {
		defer close(frameDone)
		if err := frame.Run(frameCtx, c.bus, cameraID, dec, cfg.SimulateRealtime); err != nil {
			logger.Error().Err(err).Msg("frame source exited with error")
		}
	}()
	go func() {
		if err := resample.Run(resampleCtx, c.bus, cameraID, cfg.TargetFPS); err != nil {
			logger.Error().Err(err).Msg("resampler exited with error")
		}
	}()
	go func() {
		if err := agg.Run(aggCtx); err != nil {
			logger.Error().Err(err).Msg("aggregator exited with error")
		}
	}()
	// B, C, F start in parallel as independent background loops, each on its
	// own context; Start returns immediately after launching them. Stop
	// observes frameDone to know when B has actually terminated (EOF or
	// cancellation).

	// Join on ctx, not on any of the three derived contexts above: the
	// collector's lifecycle must be controlled solely by Leave (step 6), not
	// cancelled early when the resampler or aggregator contexts are torn
	// down at steps 2 and 5.
	c.detector.Join(ctx, cameraID)

	c.mu.Lock()
	c.sessions[cameraID] = &cameraSession{
		frameCancel:    frameCancel,
		resampleCancel: resampleCancel,
		aggCancel:      aggCancel,
		frameDone:      frameDone,
		aggregator:     agg,
	}
	c.mu.Unlock()

	logger.Info().Msg("session started")
	return sessionID, nil
}

// Stop executes §4.G's per-camera shutdown order: await frame-source
// termination (EOF or external cancellation), cancel the resampler, drain,
// flush, cancel the aggregator, then leave the detector's active set.
func (c *Coordinator) Stop(cameraID string) {
	c.mu.Lock()
	sess, ok := c.sessions[cameraID]
	delete(c.sessions, cameraID)
	c.mu.Unlock()
	if !ok {
		return
	}

	logger := log.With().Str("component", "session").Str("camera_id", cameraID).Logger()

	// Step 1: await frame source termination. The caller may have already
	// triggered it via context cancellation (live sources); for file
	// sources this unblocks naturally on EOF.
	<-sess.frameDone

	// Step 2: cancel only the resampler. The aggregator and the detector's
	// collector must keep running through the drain below.
	sess.resampleCancel()

	// Step 3: bounded drain so in-flight frames flow through the detector
	// and into the aggregator before flush.
	time.Sleep(DrainInterval)

	// Step 4: flush exactly once.
	sess.aggregator.Flush()

	// Step 5: now cancel the aggregator, after it has had the full drain
	// window to Process everything the detector published.
	sess.aggCancel()

	// Step 6: leave the detector's active set.
	c.detector.Leave(cameraID)

	logger.Info().Msg("session stopped")
}

// Cancel triggers external cancellation for a live camera's session (the
// "externally triggered cancellation" path of §4.G step 1), then runs the
// same shutdown sequence as Stop.
func (c *Coordinator) Cancel(cameraID string) {
	c.mu.Lock()
	sess, ok := c.sessions[cameraID]
	c.mu.Unlock()
	if !ok {
		return
	}
	sess.frameCancel()
	c.Stop(cameraID)
}

// StopAll applies the per-camera shutdown to every active camera, then
// leaves the detector in a fully drained state (§4.G "Full-stop").
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Stop(id)
	}
}
