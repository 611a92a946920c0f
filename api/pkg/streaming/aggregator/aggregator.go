// Package aggregator implements the Accident Aggregator (component F): the
// per-camera state machine that turns noisy per-frame confidences into
// accident_open/accident_close events via an EMA filter, a soft-evidence
// score, a negative-streak closer, and a merge window that fuses brief
// reopens into a single incident. This is the algorithmic heart of the
// pipeline.
package aggregator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/accidia-0101/trafficai/api/pkg/bus"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/events"
)

// idleTimeout bounds each wait for the next detection. An idle wakeup only
// re-loops; flush-on-timeout is evaluated against the next detection's vts.
const idleTimeout = time.Second

// Params holds the aggregator's tunable thresholds. The defaults are the
// spec's design defaults, chosen empirically upstream; they are not
// per-camera, but a single camera's aggregator could be constructed with
// overrides if a future caller needs that.
type Params struct {
	Alpha              float64
	ExitThreshold      float64
	MinEndNegFrames    int
	MinDuration        float64
	OcclusionGrace     float64
	MergeGap           float64
	EvidenceBaseline   float64
	EvidenceMinConf    float64
	SoftGain           float64
	SoftDecay          float64
	OpenScoreThreshold float64
	MinOpenConf        float64
	WarmupFrames       int
}

// DefaultParams returns the design defaults.
func DefaultParams() Params {
	return Params{
		Alpha:              0.22,
		ExitThreshold:      0.38,
		MinEndNegFrames:    8,
		MinDuration:        0.15,
		OcclusionGrace:     1.2,
		MergeGap:           4.0,
		EvidenceBaseline:   0.10,
		EvidenceMinConf:    0.08,
		SoftGain:           3.0,
		SoftDecay:          0.05,
		OpenScoreThreshold: 0.75,
		MinOpenConf:        0.15,
		WarmupFrames:       20,
	}
}

// incident is the aggregator's in-flight record (§3 "Incident").
type incident struct {
	id             string
	startVTS       float64
	endVTS         float64
	startFrameIdx  int64
	endFrameIdx    int64
	peakConfidence float64
	positiveFrames int
}

// pendingClose is a close event held during the merge window: if a new open
// condition fires within MergeGap, it is discarded and the incident reopens
// in place instead of emitting a second accident_open.
type pendingClose struct {
	inc incident
	vts float64 // == inc.endVTS at the moment it was stashed
}

// Aggregator is one camera's accident state machine (§4.F).
type Aggregator struct {
	cameraID  string
	sessionID string
	params    Params
	bus       *bus.Bus

	mu sync.Mutex

	ema          float64
	negStreak    int
	softScore    float64
	open         *incident
	pending      *pendingClose
	lastVTS      *float64
	warmupLeft   int
	counter      int
}

// New constructs an Aggregator for one camera within one session.
// warmupLeft is seeded once at construction, per §9 open question 3 (it
// never resets after a close).
func New(b *bus.Bus, cameraID, sessionID string, params Params) *Aggregator {
	return &Aggregator{
		cameraID:   cameraID,
		sessionID:  sessionID,
		params:     params,
		bus:        b,
		warmupLeft: params.WarmupFrames,
	}
}

func (a *Aggregator) newIncidentID() string {
	a.counter++
	return fmt.Sprintf("%s-%06d", a.cameraID, a.counter)
}

func (a *Aggregator) openTopic() string {
	return events.TopicFor(events.BaseAccidentsOpen, a.cameraID)
}

func (a *Aggregator) closeTopic() string {
	return events.TopicFor(events.BaseAccidentsClose, a.cameraID)
}

// Run subscribes to accident:{cameraID} and drives Process for each
// detection until ctx is cancelled. It does not call Flush — the session
// coordinator does that explicitly, exactly once, per §4.G.
func (a *Aggregator) Run(ctx context.Context) error {
	topic := events.TopicFor(events.BaseAccident, a.cameraID)
	ch, sub := a.bus.Subscribe(topic, bus.FIFO, 64)
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-ch:
			det, ok := item.(events.Detection)
			if !ok {
				continue
			}
			a.Process(det)
		case <-time.After(idleTimeout):
			// Bounded wait per §5 "Timeouts": just re-loop. Step 1
			// (flush-on-timeout) is driven by vts from the next real
			// detection, per §4.F; idle input has no new vts to compare.
		}
	}
}

// Process runs the per-detection procedure (§4.F), in order.
func (a *Aggregator) Process(det events.Detection) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.params
	currentVTS := det.VTS
	confidence := det.Confidence

	// 1. Flush-on-timeout.
	if a.pending != nil && currentVTS-a.pending.vts > p.MergeGap {
		a.publishClose(a.pending.inc, "")
		a.pending = nil
	}

	// 2. Occlusion check.
	occlusionOK := a.lastVTS == nil || currentVTS-*a.lastVTS <= p.OcclusionGrace
	vts := currentVTS
	a.lastVTS = &vts

	// 3. EMA update.
	a.ema = p.Alpha*confidence + (1-p.Alpha)*a.ema

	// 4. Soft evidence update.
	if confidence >= p.EvidenceMinConf {
		a.softScore += math.Max(0, confidence-p.EvidenceBaseline) * p.SoftGain
	}
	a.softScore = math.Max(0, a.softScore-p.SoftDecay)

	// 5. Warmup gate.
	if a.open == nil && a.warmupLeft > 0 {
		a.warmupLeft--
		return
	}

	// 6. Open decision.
	if a.open == nil && a.softScore >= p.OpenScoreThreshold && confidence >= p.MinOpenConf {
		if a.pending != nil && currentVTS-a.pending.vts <= p.MergeGap {
			// Merge branch: reopen the pending incident in place. No new
			// accident_open is emitted.
			inc := a.pending.inc
			a.open = &inc
			a.pending = nil
		} else {
			// New branch.
			a.open = &incident{
				id:             a.newIncidentID(),
				startVTS:       currentVTS,
				endVTS:         currentVTS,
				startFrameIdx:  det.FrameIdx,
				endFrameIdx:    det.FrameIdx,
				peakConfidence: confidence,
			}
			a.bus.Publish(a.openTopic(), events.NewAccidentOpen(
				a.cameraID, a.open.id, a.sessionID, det.FrameIdx, currentVTS, confidence,
			))
		}
	}

	// 7. Ongoing update.
	if a.open != nil {
		a.open.endVTS = currentVTS
		a.open.endFrameIdx = det.FrameIdx
		if confidence > a.open.peakConfidence {
			a.open.peakConfidence = confidence
		}
		if det.Happened || confidence >= p.MinOpenConf {
			a.open.positiveFrames++
		}

		if a.ema <= p.ExitThreshold && occlusionOK {
			a.negStreak++
		} else {
			a.negStreak = 0
		}

		if a.negStreak >= p.MinEndNegFrames && (a.open.endVTS-a.open.startVTS) >= p.MinDuration {
			a.pending = &pendingClose{inc: *a.open, vts: a.open.endVTS}
			a.open = nil
			a.ema = 0
			a.negStreak = 0
			a.softScore = 0
		}
	}
}

// Flush publishes whatever is still held at session end (§4.F "Flush"). It
// is idempotent: a second call is a no-op since both pending and open are
// nil after the first.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending != nil {
		a.publishClose(a.pending.inc, "")
		a.pending = nil
	}
	if a.open != nil {
		a.publishClose(*a.open, "flush_open")
		a.open = nil
	}
}

// publishClose builds and publishes an accident_close for inc. Caller must
// hold a.mu.
func (a *Aggregator) publishClose(inc incident, reason string) {
	a.bus.Publish(a.closeTopic(), events.NewAccidentClose(
		a.cameraID, inc.id, a.sessionID, inc.endFrameIdx,
		inc.startVTS, inc.endVTS, inc.peakConfidence, inc.positiveFrames, reason,
	))
}
