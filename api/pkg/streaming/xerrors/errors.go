// Package xerrors collects the sentinel errors shared across the streaming
// pipeline's components, so callers can branch with errors.Is instead of
// string matching.
package xerrors

import "errors"

var (
	// ErrFatalInit means a source could not be opened or a model could not
	// be loaded. The owning session aborts for that camera.
	ErrFatalInit = errors.New("fatal initialization error")

	// ErrTransientRead means a mid-stream decode error occurred. For file
	// sources it is treated as EOF; for live sources it is ignored and the
	// caller retries.
	ErrTransientRead = errors.New("transient read error")

	// ErrInferenceError wraps a Predictor.Predict failure returned from
	// Engine.InferBatch. The detector drops that batch and continues.
	ErrInferenceError = errors.New("inference error")

	// ErrCGORequired is returned by the GStreamer-backed decoder when the
	// binary was built with CGO disabled.
	ErrCGORequired = errors.New("gstreamer support requires cgo")
)
