//go:build cgo

package frame

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/accidia-0101/trafficai/api/pkg/streaming/xerrors"
)

var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// gstDecoder decodes a file or RTSP source to RGB8 frames via a GStreamer
// pipeline, adapted from the teacher's H.264-passthrough appsink loop: here
// the pipeline itself does the colorspace conversion, so appsink delivers
// ready-to-use RGB buffers instead of encoded NAL units.
type gstDecoder struct {
	pipeline *gst.Pipeline
	appsink  *app.Sink
	frameCh  chan rgbSample
	running  atomic.Bool
	stopOnce sync.Once
	isFile   bool
	fps      float64
	fpsOnce  sync.Once
}

type rgbSample struct {
	pixels []byte
	width  int
	height int
}

func openDecoder(source string) (Decoder, error) {
	initGStreamer()

	isFile := isFileSource(source)

	var srcElem string
	if isFile {
		srcElem = fmt.Sprintf("filesrc location=%q", source)
	} else {
		srcElem = fmt.Sprintf("rtspsrc location=%q latency=100", source)
	}
	pipelineStr := srcElem + " ! decodebin ! videoconvert ! video/x-raw,format=RGB ! appsink name=videosink"

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pipeline: %w", xerrors.ErrFatalInit, err)
	}

	elem, err := pipeline.GetElementByName("videosink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: get appsink: %w", xerrors.ErrFatalInit, err)
	}
	appsink := app.SinkFromElement(elem)
	if appsink == nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: videosink element is not an appsink", xerrors.ErrFatalInit)
	}

	d := &gstDecoder{
		pipeline: pipeline,
		appsink:  appsink,
		frameCh:  make(chan rgbSample, 8),
		isFile:   isFile,
	}

	appsink.SetProperty("emit-signals", true)
	appsink.SetProperty("max-buffers", uint(2))
	appsink.SetProperty("drop", true)
	appsink.SetProperty("sync", false)
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("%w: set playing: %w", xerrors.ErrFatalInit, err)
	}
	d.running.Store(true)

	go d.watchBus()

	return d, nil
}

func isFileSource(source string) bool {
	if _, err := os.Stat(source); err == nil {
		return true
	}
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "" || u.Scheme == "file"
}

func (d *gstDecoder) onNewSample(sink *app.Sink) gst.FlowReturn {
	if !d.running.Load() {
		return gst.FlowEOS
	}
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	d.fpsOnce.Do(func() {
		caps := sample.GetCaps()
		if caps == nil {
			return
		}
		s := caps.GetStructureAt(0)
		if s == nil {
			return
		}
		if num, den, err := s.GetFraction("framerate"); err == nil && den > 0 {
			d.fps = float64(num) / float64(den)
		}
	})

	width, height := frameDimensions(sample)

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	defer buffer.Unmap()

	pixels := make([]byte, len(mapInfo.Bytes()))
	copy(pixels, mapInfo.Bytes())

	select {
	case d.frameCh <- rgbSample{pixels: pixels, width: width, height: height}:
	default:
		// Drop frame: low-latency preference, matches the teacher's appsink drop.
	}

	return gst.FlowOK
}

func frameDimensions(sample *gst.Sample) (int, int) {
	caps := sample.GetCaps()
	if caps == nil {
		return 0, 0
	}
	s := caps.GetStructureAt(0)
	if s == nil {
		return 0, 0
	}
	w, _ := s.GetValue("width")
	h, _ := s.GetValue("height")
	wi, _ := w.(int)
	hi, _ := h.(int)
	return wi, hi
}

func (d *gstDecoder) watchBus() {
	busObj := d.pipeline.GetPipelineBus()
	if busObj == nil {
		return
	}
	for d.running.Load() {
		msg := busObj.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			d.Stop()
			return
		case gst.MessageError:
			d.Stop()
			return
		}
	}
}

func (d *gstDecoder) Stop() {
	d.stopOnce.Do(func() {
		d.running.Store(false)
		if d.pipeline != nil {
			d.pipeline.SetState(gst.StateNull)
		}
		close(d.frameCh)
	})
}

func (d *gstDecoder) FPS() float64 {
	return d.fps
}

func (d *gstDecoder) IsFile() bool {
	return d.isFile
}

func (d *gstDecoder) ReadFrame(ctx context.Context) ([]byte, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	case s, ok := <-d.frameCh:
		if !ok {
			return nil, 0, 0, io.EOF
		}
		return s.pixels, s.width, s.height, nil
	}
}

func (d *gstDecoder) Close() error {
	d.Stop()
	return nil
}
