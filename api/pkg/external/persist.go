package external

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/accidia-0101/trafficai/api/pkg/bus"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/events"
)

// EmbeddingDims is the vector width persisted alongside each record, per
// spec §6 ("a 768-dim embedding of that text").
const EmbeddingDims = 768

// defaultWeather is used when no weather:{cam} reading has arrived yet for
// a camera, mirroring session_manager.py's rt.LAST_WEATHER.get(cid, "clear").
const defaultWeather = "clear"

// EmbeddingProvider is the text-embedding black box (analogous to
// engine.Predictor): the core never specifies what model backs it, only
// that it returns EmbeddingDims floats for a line of English text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// AccidentRecord is what gets persisted for one accident_open event, per
// spec §6's persistence boundary description.
type AccidentRecord struct {
	CameraID       string
	IncidentID     string
	Type           string
	Timestamp      time.Time
	PeakConfidence float64
	Weather        string
	EvidenceText   string
	Embedding      pgvector.Vector
}

// Store is the minimal persistence boundary a Persister writes through,
// grounded on rag/rag_pgvector.go's store.EmbeddingsStore: a narrow
// interface so the actual database/table schema stays external per §6.
type Store interface {
	InsertAccidentRecord(ctx context.Context, rec AccidentRecord) error
}

// makeEvidenceText builds the one-line English evidence string, grounded on
// session_manager.py's _make_evidence_text.
func makeEvidenceText(open events.AccidentOpen) string {
	return fmt.Sprintf(
		"Possible accident detected on camera %s at video time %.2fs (confidence %.2f).",
		open.CameraID, open.PTSInVideo, open.Confidence,
	)
}

// WeatherTagger tracks the most recent weather reading per camera, fed by
// weather:{cam} (an external, out-of-spec topic per §6). It exists purely
// so a Persister has something to attach; the weather detector itself is
// not part of this module.
type WeatherTagger struct {
	bus *bus.Bus

	mu  sync.Mutex
	tag map[string]string
}

// NewWeatherTagger constructs a tagger bound to b. Call Watch per camera to
// start tracking its weather:{cam} topic.
func NewWeatherTagger(b *bus.Bus) *WeatherTagger {
	return &WeatherTagger{bus: b, tag: make(map[string]string)}
}

// Watch subscribes to weather:{cameraID} until ctx is cancelled, updating
// the tag returned by Tag. The published item is expected to be a string
// weather label (e.g. "clear", "rain", "fog"); anything else is ignored.
func (w *WeatherTagger) Watch(ctx context.Context, cameraID string) {
	topic := events.TopicFor(events.BaseWeather, cameraID)
	ch, sub := w.bus.Subscribe(topic, bus.Latest, 1)
	go func() {
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-ch:
				if !ok {
					return
				}
				if label, isString := item.(string); isString {
					w.mu.Lock()
					w.tag[cameraID] = label
					w.mu.Unlock()
				}
			}
		}
	}()
}

// Tag returns the last known weather label for cameraID, or defaultWeather
// if none has arrived yet.
func (w *WeatherTagger) Tag(cameraID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if label, ok := w.tag[cameraID]; ok {
		return label
	}
	return defaultWeather
}

// Persister subscribes to accidents.open:{cameraID}, builds an
// AccidentRecord (evidence text, embedding, weather tag) for each one, and
// writes it through Store. One per camera, started by whatever external
// process owns the persistence boundary.
type Persister struct {
	bus      *bus.Bus
	embedder EmbeddingProvider
	store    Store
	weather  *WeatherTagger
}

// NewPersister constructs a Persister. weather may be nil, in which case
// every record gets defaultWeather.
func NewPersister(b *bus.Bus, embedder EmbeddingProvider, store Store, weather *WeatherTagger) *Persister {
	return &Persister{bus: b, embedder: embedder, store: store, weather: weather}
}

// Run subscribes to accidents.open:{cameraID} and persists each one until
// ctx is cancelled, mirroring session_manager.py's _save_event_to_db
// pipeline (evidence text -> embedding -> weather tag -> insert).
func (p *Persister) Run(ctx context.Context, cameraID string) error {
	topic := events.TopicFor(events.BaseAccidentsOpen, cameraID)
	ch, sub := p.bus.Subscribe(topic, bus.FIFO, 64)
	defer sub.Cancel()

	logger := log.With().Str("component", "persister").Str("camera_id", cameraID).Logger()

	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-ch:
			if !ok {
				return nil
			}
			open, isOpen := item.(events.AccidentOpen)
			if !isOpen {
				continue
			}
			if err := p.persist(ctx, open); err != nil {
				logger.Error().Err(err).Str("incident_id", open.IncidentID).Msg("failed to persist accident record")
			}
		}
	}
}

func (p *Persister) persist(ctx context.Context, open events.AccidentOpen) error {
	text := makeEvidenceText(open)
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding evidence text: %w", err)
	}

	weather := defaultWeather
	if p.weather != nil {
		weather = p.weather.Tag(open.CameraID)
	}

	rec := AccidentRecord{
		CameraID:       open.CameraID,
		IncidentID:     open.IncidentID,
		Type:           "accident",
		Timestamp:      time.Now(),
		PeakConfidence: open.PeakConfidence,
		Weather:        weather,
		EvidenceText:   text,
		Embedding:      pgvector.NewVector(vec),
	}
	return p.store.InsertAccidentRecord(ctx, rec)
}
