package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesSpecDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.22, cfg.Aggregator.Alpha)
	assert.Equal(t, 0.38, cfg.Aggregator.ExitThreshold)
	assert.Equal(t, 8, cfg.Aggregator.MinEndNegFrames)
	assert.Equal(t, 4.0, cfg.Aggregator.MergeGap)
	assert.Equal(t, 20, cfg.Aggregator.WarmupFrames)
	assert.Equal(t, 15.0, cfg.Resample.TargetFPS)
	assert.Equal(t, 8, cfg.Detector.BatchSize)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestAggregatorParamsRoundTrips(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	params := cfg.AggregatorParams()
	assert.Equal(t, cfg.Aggregator.Alpha, params.Alpha)
	assert.Equal(t, cfg.Aggregator.WarmupFrames, params.WarmupFrames)
	assert.Equal(t, cfg.Aggregator.MergeGap, params.MergeGap)
}

func TestDetectorConfigConvertsPollIntervalToDuration(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	det := cfg.DetectorConfig()
	assert.Equal(t, cfg.Detector.BatchSize, det.BatchSize)
	assert.EqualValues(t, cfg.Detector.PollIntervalMS, det.PollInterval.Milliseconds())
}
