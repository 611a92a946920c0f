package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accidia-0101/trafficai/api/pkg/bus"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/events"
)

const targetFPS = 15.0
const step = 1.0 / targetFPS

func detAt(cameraID string, frameIdx int64, confidence float64, decisionThreshold float64) events.Detection {
	vts := float64(frameIdx) * step
	return events.Detection{
		Type:       "accident",
		CameraID:   cameraID,
		FrameIdx:   frameIdx,
		SourcePTS:  vts,
		VTS:        vts,
		Confidence: confidence,
		Happened:   confidence >= decisionThreshold,
	}
}

// collectEvents subscribes to a camera's open/close topics and returns a
// function that drains whatever has been published since the subscription
// (or since the previous drain). Call it before feeding detections: the bus
// only delivers to subscribers registered at publish time.
func collectEvents(t *testing.T, b *bus.Bus, cameraID string) func() (opens *[]events.AccidentOpen, closes *[]events.AccidentClose) {
	t.Helper()
	openCh, openSub := b.Subscribe(events.TopicFor(events.BaseAccidentsOpen, cameraID), bus.FIFO, 256)
	closeCh, closeSub := b.Subscribe(events.TopicFor(events.BaseAccidentsClose, cameraID), bus.FIFO, 256)
	t.Cleanup(func() {
		openSub.Cancel()
		closeSub.Cancel()
	})

	return func() (*[]events.AccidentOpen, *[]events.AccidentClose) {
		var ops []events.AccidentOpen
		var cls []events.AccidentClose
	drain:
		for {
			select {
			case item := <-openCh:
				ops = append(ops, item.(events.AccidentOpen))
			case item := <-closeCh:
				cls = append(cls, item.(events.AccidentClose))
			default:
				break drain
			}
		}
		return &ops, &cls
	}
}

func TestS1_CleanSingleIncident(t *testing.T) {
	b := bus.New()
	a := New(b, "cam-s1", "sess-1", DefaultParams())
	drain := collectEvents(t, b, "cam-s1")

	for i := 0; i < 200; i++ {
		conf := 0.02
		if i >= 30 && i <= 120 {
			conf = 0.80
		}
		a.Process(detAt("cam-s1", int64(i), conf, 0.5))
	}
	a.Flush()

	opens, closes := drain()
	require.Len(t, *opens, 1)
	require.Len(t, *closes, 1)

	open := (*opens)[0]
	assert.GreaterOrEqual(t, open.PTSInVideo, 30*step)
	assert.LessOrEqual(t, open.PTSInVideo, 40*step)
	assert.InDelta(t, 0.80, open.PeakConfidence, 1e-9)

	cl := (*closes)[0]
	assert.Equal(t, open.IncidentID, cl.IncidentID)
	assert.GreaterOrEqual(t, cl.DurationSec, DefaultParams().MinDuration)
}

func TestS2_BriefDropoutMergesIntoOneIncident(t *testing.T) {
	b := bus.New()
	a := New(b, "cam-s2", "sess-1", DefaultParams())
	drain := collectEvents(t, b, "cam-s2")

	for i := 0; i < 121; i++ {
		var conf float64
		switch {
		case i >= 30 && i <= 60:
			conf = 0.70
		case i >= 61 && i <= 80:
			conf = 0.02
		case i >= 81 && i <= 120:
			conf = 0.75
		default:
			conf = 0.02
		}
		a.Process(detAt("cam-s2", int64(i), conf, 0.5))
	}
	a.Flush()

	opens, closes := drain()
	require.Len(t, *opens, 1, "merge window should fuse the brief dropout into one incident")
	require.Len(t, *closes, 1)
	assert.Equal(t, (*opens)[0].IncidentID, (*closes)[0].IncidentID)
}

func TestS3_IsolatedSpikeNeverOpens(t *testing.T) {
	b := bus.New()
	a := New(b, "cam-s3", "sess-1", DefaultParams())
	drain := collectEvents(t, b, "cam-s3")

	// Short run, entirely inside the warmup window (warmup_frames=20): the
	// isolated spike's soft-evidence gain never gets a chance to clear the
	// warmup gate, per §4.F's rationale that warmup (not soft-evidence
	// alone) is what protects against "a single lucky high-confidence
	// frame".
	for i := 0; i < 15; i++ {
		conf := 0.01
		if i == 7 {
			conf = 0.95
		}
		a.Process(detAt("cam-s3", int64(i), conf, 0.5))
	}
	a.Flush()

	opens, _ := drain()
	assert.Empty(t, *opens, "an isolated spike within the warmup window should never open")
}

func TestS4_WarmupSuppression(t *testing.T) {
	b := bus.New()
	a := New(b, "cam-s4", "sess-1", DefaultParams())
	drain := collectEvents(t, b, "cam-s4")

	for i := 0; i < 5; i++ {
		a.Process(detAt("cam-s4", int64(i), 0.95, 0.5))
	}
	for i := 5; i < 40; i++ {
		a.Process(detAt("cam-s4", int64(i), 0.0, 0.5))
	}
	a.Flush()

	opens, closes := drain()
	assert.Empty(t, *opens, "warmup gate should absorb the early signal")
	assert.Empty(t, *closes)
}

func TestS6_EOFFlushClosesMidIncident(t *testing.T) {
	b := bus.New()
	a := New(b, "cam-s6", "sess-1", DefaultParams())
	drain := collectEvents(t, b, "cam-s6")

	for i := 0; i < 80; i++ {
		conf := 0.02
		if i >= 30 {
			conf = 0.9
		}
		a.Process(detAt("cam-s6", int64(i), conf, 0.5))
	}
	// Last frame (i=79) is still mid-incident: no negative streak has
	// accumulated, so flush must synthesize the close.
	a.Flush()

	opens, closes := drain()
	require.Len(t, *opens, 1)
	require.Len(t, *closes, 1)
	assert.Equal(t, "flush_open", (*closes)[0].Reason)
}

func TestFlushIsIdempotent(t *testing.T) {
	b := bus.New()
	a := New(b, "cam-idem", "sess-1", DefaultParams())
	drain := collectEvents(t, b, "cam-idem")

	for i := 0; i < 80; i++ {
		conf := 0.02
		if i >= 30 {
			conf = 0.9
		}
		a.Process(detAt("cam-idem", int64(i), conf, 0.5))
	}
	a.Flush()
	opensAfterFirst, closesAfterFirst := drain()
	a.Flush()
	opensAfterSecond, closesAfterSecond := drain()

	// The full event set after two flushes equals the set after one.
	assert.Equal(t, *opensAfterFirst, append(append([]events.AccidentOpen{}, *opensAfterFirst...), *opensAfterSecond...))
	assert.Equal(t, *closesAfterFirst, append(append([]events.AccidentClose{}, *closesAfterFirst...), *closesAfterSecond...))
	assert.Empty(t, *opensAfterSecond)
	assert.Empty(t, *closesAfterSecond)
}

func TestIncidentIDsAreMonotonicPerCamera(t *testing.T) {
	b := bus.New()
	a := New(b, "cam-mono", "sess-1", DefaultParams())
	drain := collectEvents(t, b, "cam-mono")

	// Two well-separated incidents (separated by more than merge_gap at
	// 15fps: ~60+ frames of quiet between them).
	for i := 0; i < 40; i++ {
		conf := 0.02
		if i >= 10 && i <= 25 {
			conf = 0.85
		}
		a.Process(detAt("cam-mono", int64(i), conf, 0.5))
	}
	for i := 40; i < 140; i++ {
		a.Process(detAt("cam-mono", int64(i), 0.01, 0.5))
	}
	for i := 140; i < 180; i++ {
		conf := 0.02
		if i >= 150 && i <= 165 {
			conf = 0.85
		}
		a.Process(detAt("cam-mono", int64(i), conf, 0.5))
	}
	a.Flush()

	opens, _ := drain()
	require.Len(t, *opens, 2)
	assert.Equal(t, "cam-mono-000001", (*opens)[0].IncidentID)
	assert.Equal(t, "cam-mono-000002", (*opens)[1].IncidentID)
}

func TestDeterministicTraceProducesIdenticalEvents(t *testing.T) {
	trace := make([]events.Detection, 150)
	for i := range trace {
		conf := 0.02
		if i >= 20 && i <= 100 {
			conf = 0.8
		}
		trace[i] = detAt("cam-det", int64(i), conf, 0.5)
	}

	run := func() ([]events.AccidentOpen, []events.AccidentClose) {
		b := bus.New()
		a := New(b, "cam-det", "sess-1", DefaultParams())
		drain := collectEvents(t, b, "cam-det")
		for _, d := range trace {
			a.Process(d)
		}
		a.Flush()
		opens, closes := drain()
		return *opens, *closes
	}

	opens1, closes1 := run()
	opens2, closes2 := run()
	assert.Equal(t, opens1, opens2)
	assert.Equal(t, closes1, closes2)
}
