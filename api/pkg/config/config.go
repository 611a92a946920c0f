// Package config assembles the streaming core's settings from environment
// variables, one struct per concern, following the teacher's
// envconfig.Process pattern.
package config

import "github.com/kelseyhightower/envconfig"

// Config is the root settings object, loaded once at startup.
type Config struct {
	Bus        Bus
	Frame      Frame
	Resample   Resample
	Engine     Engine
	Detector   Detector
	Aggregator Aggregator
	Server     Server
}

// Bus holds the event bus's subscriber queue sizing.
type Bus struct {
	DefaultMaxSize int `envconfig:"BUS_DEFAULT_MAX_SIZE" default:"64"`
}

// Frame holds the frame source's pacing knobs.
type Frame struct {
	SimulateRealtime bool `envconfig:"FRAME_SIMULATE_REALTIME" default:"false"`
}

// Resample holds the equal-time resampler's target rate.
type Resample struct {
	TargetFPS float64 `envconfig:"RESAMPLE_TARGET_FPS" default:"15"`
}

// Engine holds the inference engine's construction-time model settings
// (§4.D: fixed configuration, never per-call).
type Engine struct {
	ModelPath string  `envconfig:"ENGINE_MODEL_PATH" default:""`
	ImgSize   int     `envconfig:"ENGINE_IMG_SIZE" default:"640"`
	Conf      float64 `envconfig:"ENGINE_CONF" default:"0.25"`
	IoU       float64 `envconfig:"ENGINE_IOU" default:"0.45"`
	Device    string  `envconfig:"ENGINE_DEVICE" default:"cpu"`
}

// Detector holds the multi-stream detector's scheduling knobs, per §4.E.
type Detector struct {
	BatchSize         int     `envconfig:"DETECTOR_BATCH_SIZE" default:"8"`
	PollIntervalMS    int     `envconfig:"DETECTOR_POLL_INTERVAL_MS" default:"10"`
	DecisionThreshold float64 `envconfig:"DETECTOR_DECISION_THRESHOLD" default:"0.5"`
	BufferCapacity    int     `envconfig:"DETECTOR_BUFFER_CAPACITY" default:"128"`
}

// Aggregator holds the accident aggregator's tunables. Defaults match
// spec §4.F's design defaults exactly.
type Aggregator struct {
	Alpha              float64 `envconfig:"AGGREGATOR_ALPHA" default:"0.22"`
	ExitThreshold      float64 `envconfig:"AGGREGATOR_EXIT_THRESHOLD" default:"0.38"`
	MinEndNegFrames    int     `envconfig:"AGGREGATOR_MIN_END_NEG_FRAMES" default:"8"`
	MinDuration        float64 `envconfig:"AGGREGATOR_MIN_DURATION" default:"0.15"`
	OcclusionGrace     float64 `envconfig:"AGGREGATOR_OCCLUSION_GRACE" default:"1.2"`
	MergeGap           float64 `envconfig:"AGGREGATOR_MERGE_GAP" default:"4.0"`
	EvidenceBaseline   float64 `envconfig:"AGGREGATOR_EVIDENCE_BASELINE" default:"0.10"`
	EvidenceMinConf    float64 `envconfig:"AGGREGATOR_EVIDENCE_MIN_CONF" default:"0.08"`
	SoftGain           float64 `envconfig:"AGGREGATOR_SOFT_GAIN" default:"3.0"`
	SoftDecay          float64 `envconfig:"AGGREGATOR_SOFT_DECAY" default:"0.05"`
	OpenScoreThreshold float64 `envconfig:"AGGREGATOR_OPEN_SCORE_THRESHOLD" default:"0.75"`
	MinOpenConf        float64 `envconfig:"AGGREGATOR_MIN_OPEN_CONF" default:"0.15"`
	WarmupFrames       int     `envconfig:"AGGREGATOR_WARMUP_FRAMES" default:"20"`
}

// Server holds the external HTTP/SSE boundary's listen address.
type Server struct {
	ListenAddr string `envconfig:"SERVER_LISTEN_ADDR" default:":8080"`
}

// Load reads Config from the environment, applying the defaults above
// where a variable is unset, mirroring config.LoadRunnerConfig.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
