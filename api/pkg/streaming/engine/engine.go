// Package engine implements the Inference Engine: a singleton wrapping a
// detection model, exposing one operation (InferBatch) that is serialized
// so only one batch runs at a time.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/accidia-0101/trafficai/api/pkg/streaming/xerrors"
)

// Image is a single RGB8 image handed to the model.
type Image struct {
	Pixels []byte
	Width  int
	Height int
}

// Predictor is the black-box model boundary (§6 "Model interface
// (external)"). The core never specifies what's behind it; only that it
// returns one max-confidence scalar per input image, in order.
type Predictor interface {
	Predict(ctx context.Context, images []Image, imgSize int, conf, iou float64, device string) ([]float64, error)
}

// Config holds the model's construction-time knobs. Per §4.D these are
// fixed configuration, never per-call arguments.
type Config struct {
	ModelPath string
	ImgSize   int
	Conf      float64
	IoU       float64
	Device    string
}

// Engine serializes access to a Predictor: only one InferBatch call runs at
// a time, matching §4.D/§5's "serialized; only one batch in flight" and
// "the inference engine is shared; access is serialized through the
// inference worker".
type Engine struct {
	mu        sync.Mutex
	predictor Predictor
	cfg       Config
}

// New constructs an Engine and performs a throwaway warm-up batch, mirroring
// accident_detector.py's GPU warm-up on load. A warm-up failure is logged,
// not fatal — the predictor may simply be slow to report readiness, and the
// first real InferBatch call will surface any genuine problem.
func New(predictor Predictor, cfg Config) *Engine {
	e := &Engine{predictor: predictor, cfg: cfg}

	dummy := Image{
		Pixels: make([]byte, cfg.ImgSize*cfg.ImgSize*3),
		Width:  cfg.ImgSize,
		Height: cfg.ImgSize,
	}
	if _, err := predictor.Predict(context.Background(), []Image{dummy}, cfg.ImgSize, cfg.Conf, cfg.IoU, cfg.Device); err != nil {
		log.Warn().Err(err).Str("model_path", cfg.ModelPath).Msg("inference engine warm-up failed")
	}

	return e
}

// InferBatch returns one max-confidence scalar per image, in order. It
// blocks the caller until the batch completes; callers that must not block
// their own scheduler (the detector) should invoke it from a worker
// goroutine, not inline.
func (e *Engine) InferBatch(ctx context.Context, images []Image) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	scores, err := e.predictor.Predict(ctx, images, e.cfg.ImgSize, e.cfg.Conf, e.cfg.IoU, e.cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerrors.ErrInferenceError, err)
	}
	return scores, nil
}
