// Package external documents and stubs the boundary contracts §6 leaves
// outside the streaming core: resolving a camera ID to a source, serving
// accident events over HTTP/SSE, and persisting them. None of this package
// is load-bearing for the pipeline itself (bus, frame, resample, engine,
// detector, aggregator, session) — it exists so a caller has a concrete,
// documented place to plug those concerns in.
package external

import "fmt"

// SourceResolver maps a camera ID to the source the Frame Source should
// open (a file path or an RTSP/live URL). The core never looks cameras up
// itself; §1 treats camera-to-source mapping as configuration owned by the
// deployment, not the pipeline.
type SourceResolver interface {
	Resolve(cameraID string) (source string, err error)
}

// StaticResolver is the simplest possible SourceResolver: a fixed table,
// grounded on camera_map.py's CAMERA_SOURCES dict.
type StaticResolver struct {
	sources map[string]string
}

// NewStaticResolver builds a StaticResolver from a camera_id -> source map.
func NewStaticResolver(sources map[string]string) *StaticResolver {
	table := make(map[string]string, len(sources))
	for k, v := range sources {
		table[k] = v
	}
	return &StaticResolver{sources: table}
}

func (r *StaticResolver) Resolve(cameraID string) (string, error) {
	src, ok := r.sources[cameraID]
	if !ok {
		return "", fmt.Errorf("camera_id not configured: %q", cameraID)
	}
	if src == "" {
		return "", fmt.Errorf("camera_id has no valid source: %q", cameraID)
	}
	return src, nil
}
