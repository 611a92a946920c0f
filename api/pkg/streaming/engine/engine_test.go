package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accidia-0101/trafficai/api/pkg/streaming/xerrors"
)

type fakePredictor struct {
	calls      int32
	concurrent int32
	maxConc    int32
	failNth    int32 // 0 = never fail
	delay      time.Duration
}

func (f *fakePredictor) Predict(ctx context.Context, images []Image, imgSize int, conf, iou float64, device string) ([]float64, error) {
	n := atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)
	for {
		m := atomic.LoadInt32(&f.maxConc)
		if cur <= m || atomic.CompareAndSwapInt32(&f.maxConc, m, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failNth != 0 && n == f.failNth {
		return nil, errors.New("boom")
	}
	out := make([]float64, len(images))
	for i := range images {
		out[i] = 0.5
	}
	return out, nil
}

func TestEngineWarmsUpOnConstruction(t *testing.T) {
	p := &fakePredictor{}
	_ = New(p, Config{ModelPath: "m.pt", ImgSize: 64, Conf: 0.1, IoU: 0.5, Device: "cpu"})
	assert.EqualValues(t, 1, atomic.LoadInt32(&p.calls))
}

func TestEngineWarmupFailureIsNotFatal(t *testing.T) {
	p := &fakePredictor{failNth: 1}
	e := New(p, Config{ModelPath: "m.pt", ImgSize: 64, Conf: 0.1, IoU: 0.5, Device: "cpu"})
	require.NotNil(t, e)

	scores, err := e.InferBatch(context.Background(), []Image{{Pixels: make([]byte, 64*64*3), Width: 64, Height: 64}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, scores)
}

func TestInferBatchWrapsPredictorError(t *testing.T) {
	p := &fakePredictor{failNth: 2} // 1st call is warm-up, 2nd is this InferBatch
	e := New(p, Config{ImgSize: 32})

	_, err := e.InferBatch(context.Background(), []Image{{Width: 32, Height: 32}})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrInferenceError)
}

func TestInferBatchIsSerialized(t *testing.T) {
	p := &fakePredictor{delay: 20 * time.Millisecond}
	e := New(p, Config{ImgSize: 16})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.InferBatch(context.Background(), []Image{{Width: 16, Height: 16}})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&p.maxConc), "InferBatch must serialize concurrent calls to the predictor")
}
