package external

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/accidia-0101/trafficai/api/pkg/bus"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/events"
)

// alertPayload is the JSON shape written to each SSE frame, grounded on
// views.py's alerts_stream payload dict.
type alertPayload struct {
	CameraID   string  `json:"camera_id"`
	Type       string  `json:"type"`
	IncidentID string  `json:"incident_id"`
	Confidence float64 `json:"confidence"`
	PTSInVideo float64 `json:"pts_in_video"`
}

// EventSink exposes accident_open/accident_close events for one camera as
// an SSE stream. It is glue, not core: the core's only contract is the bus
// topics (§6); this is one illustrative consumer of them.
type EventSink struct {
	bus *bus.Bus
}

// NewEventSink builds a sink bound to b.
func NewEventSink(b *bus.Bus) *EventSink {
	return &EventSink{bus: b}
}

// Router returns a *mux.Router exposing GET /alerts/{camera_id}, following
// the /sse/alerts?camera_id=... route from views.py/urls.py, reshaped onto
// a path parameter in the mux idiom.
func (s *EventSink) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/alerts/{camera_id}", s.serveAlerts).Methods(http.MethodGet)
	return r
}

func (s *EventSink) serveAlerts(w http.ResponseWriter, r *http.Request) {
	// mux guarantees a non-empty camera_id here ({camera_id} requires at
	// least one path segment character to match).
	cameraID := mux.Vars(r)["camera_id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	topics := []string{
		events.TopicFor(events.BaseAccidentsOpen, cameraID),
		events.TopicFor(events.BaseAccidentsClose, cameraID),
	}
	ch, sub := s.bus.SubscribeMany(ctx, topics, bus.FIFO, 64)
	defer sub.Cancel()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-ch:
			if !ok {
				return
			}
			payload := toAlertPayload(cameraID, item)
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func toAlertPayload(cameraID string, item any) alertPayload {
	switch v := item.(type) {
	case events.AccidentOpen:
		return alertPayload{CameraID: cameraID, Type: v.Type, IncidentID: v.IncidentID, Confidence: v.Confidence, PTSInVideo: v.PTSInVideo}
	case events.AccidentClose:
		return alertPayload{CameraID: cameraID, Type: v.Type, IncidentID: v.IncidentID, Confidence: v.Confidence, PTSInVideo: v.PTSInVideo}
	default:
		return alertPayload{CameraID: cameraID, Type: "unknown"}
	}
}
