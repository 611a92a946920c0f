//go:build !cgo

package frame

import (
	"context"

	"github.com/accidia-0101/trafficai/api/pkg/streaming/xerrors"
)

// openDecoder always fails when the binary is built with CGO disabled: the
// GStreamer bindings this decoder needs require cgo.
func openDecoder(source string) (Decoder, error) {
	return nil, xerrors.ErrCGORequired
}

type noCGODecoder struct{}

func (noCGODecoder) FPS() float64 { return 0 }
func (noCGODecoder) IsFile() bool { return false }
func (noCGODecoder) ReadFrame(ctx context.Context) ([]byte, int, int, error) {
	return nil, 0, 0, xerrors.ErrCGORequired
}
func (noCGODecoder) Close() error { return nil }

var _ Decoder = noCGODecoder{}
