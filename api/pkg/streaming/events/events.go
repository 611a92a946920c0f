// Package events defines the value types that cross bus topics in the
// streaming pipeline: raw and resampled frames, per-frame detections, and
// the accident open/close events the aggregator emits.
package events

import "fmt"

// TopicFor builds a partitioned topic name, e.g. TopicFor("frames", "cam-1")
// -> "frames:cam-1". With an empty camera ID it returns base unpartitioned.
func TopicFor(base, cameraID string) string {
	if cameraID == "" {
		return base
	}
	return fmt.Sprintf("%s:%s", base, cameraID)
}

const (
	BaseFramesRaw      = "frames_raw"
	BaseFrames         = "frames"
	BaseAccident       = "accident"
	BaseAccidentsOpen  = "accidents.open"
	BaseAccidentsClose = "accidents.close"
	BaseWeather        = "weather"
)

// Frame is a single decoded image handed between pipeline stages.
//
// Pixels is owned by the publisher until delivered; subscribers must treat
// it as read-only.
type Frame struct {
	CameraID  string
	WallTS    float64 // seconds since epoch at decode time
	Pixels    []byte  // RGB, 8-bit per channel, H*W*3 bytes
	Width     int
	Height    int
	FrameIdx  int64   // monotonically increasing, starts at 0 per stream instance
	SourcePTS float64 // seconds from first frame on the original media timeline
	VTS       float64 // virtual time; equals SourcePTS upstream of the resampler
}

// EndOfStream is a typed sentinel published in place of a Frame when a file
// source reaches EOF. Downstream consumers (the resampler) detect it by
// type, replacing the Python original's untyped `None` sentinel.
type EndOfStream struct {
	CameraID string
}

// Detection is a per-frame inference result.
type Detection struct {
	Type       string // always "accident"
	CameraID   string
	WallTS     float64
	FrameIdx   int64
	SourcePTS  float64
	VTS        float64
	Confidence float64 // max over all boxes for this image, 0 if none
	Happened   bool    // Confidence >= decision_threshold
}

// AccidentOpen is published when the aggregator opens a new incident.
type AccidentOpen struct {
	Type            string  `json:"type"`
	CameraID        string  `json:"camera_id"`
	IncidentID      string  `json:"incident_id"`
	SessionID       string  `json:"session_id"`
	FrameIdx        int64   `json:"frame_idx"`
	PTSInVideo      float64 `json:"pts_in_video"` // == start_vts
	Confidence      float64 `json:"confidence"`
	PeakConfidence  float64 `json:"peak_confidence"`
}

// NewAccidentOpen builds an AccidentOpen with Type pre-filled.
func NewAccidentOpen(cameraID, incidentID, sessionID string, frameIdx int64, startVTS, peakConf float64) AccidentOpen {
	return AccidentOpen{
		Type:           "accident_open",
		CameraID:       cameraID,
		IncidentID:     incidentID,
		SessionID:      sessionID,
		FrameIdx:       frameIdx,
		PTSInVideo:     startVTS,
		Confidence:     peakConf,
		PeakConfidence: peakConf,
	}
}

// AccidentClose is published when the aggregator closes an incident.
type AccidentClose struct {
	Type           string  `json:"type"`
	CameraID       string  `json:"camera_id"`
	IncidentID     string  `json:"incident_id"`
	SessionID      string  `json:"session_id"`
	FrameIdx       int64   `json:"frame_idx"`
	PTSInVideo     float64 `json:"pts_in_video"` // == end_vts
	Confidence     float64 `json:"confidence"`
	StartTS        float64 `json:"start_ts"`
	EndTS          float64 `json:"end_ts"`
	DurationSec    float64 `json:"duration_sec"`
	PeakConfidence float64 `json:"peak_confidence"`
	PosFrames      int     `json:"pos_frames"`
	Reason         string  `json:"reason,omitempty"`
}

// NewAccidentClose builds an AccidentClose with Type and derived fields
// pre-filled per spec §6: pts_in_video == end_vts.
func NewAccidentClose(cameraID, incidentID, sessionID string, frameIdx int64, startVTS, endVTS, peakConf float64, posFrames int, reason string) AccidentClose {
	return AccidentClose{
		Type:           "accident_close",
		CameraID:       cameraID,
		IncidentID:     incidentID,
		SessionID:      sessionID,
		FrameIdx:       frameIdx,
		PTSInVideo:     endVTS,
		Confidence:     peakConf,
		StartTS:        startVTS,
		EndTS:          endVTS,
		DurationSec:    endVTS - startVTS,
		PeakConfidence: peakConf,
		PosFrames:      posFrames,
		Reason:         reason,
	}
}
