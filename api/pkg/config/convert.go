package config

import (
	"time"

	"github.com/accidia-0101/trafficai/api/pkg/streaming/aggregator"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/detector"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/engine"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/session"
)

// AggregatorParams converts the envconfig-loaded settings into
// aggregator.Params.
func (c Config) AggregatorParams() aggregator.Params {
	a := c.Aggregator
	return aggregator.Params{
		Alpha:              a.Alpha,
		ExitThreshold:      a.ExitThreshold,
		MinEndNegFrames:    a.MinEndNegFrames,
		MinDuration:        a.MinDuration,
		OcclusionGrace:     a.OcclusionGrace,
		MergeGap:           a.MergeGap,
		EvidenceBaseline:   a.EvidenceBaseline,
		EvidenceMinConf:    a.EvidenceMinConf,
		SoftGain:           a.SoftGain,
		SoftDecay:          a.SoftDecay,
		OpenScoreThreshold: a.OpenScoreThreshold,
		MinOpenConf:        a.MinOpenConf,
		WarmupFrames:       a.WarmupFrames,
	}
}

// DetectorConfig converts the envconfig-loaded settings into
// detector.Config.
func (c Config) DetectorConfig() detector.Config {
	d := c.Detector
	return detector.Config{
		BatchSize:         d.BatchSize,
		PollInterval:      time.Duration(d.PollIntervalMS) * time.Millisecond,
		DecisionThreshold: d.DecisionThreshold,
		BufferCapacity:    d.BufferCapacity,
	}
}

// EngineConfig converts the envconfig-loaded settings into engine.Config.
func (c Config) EngineConfig() engine.Config {
	e := c.Engine
	return engine.Config{
		ModelPath: e.ModelPath,
		ImgSize:   e.ImgSize,
		Conf:      e.Conf,
		IoU:       e.IoU,
		Device:    e.Device,
	}
}

// SessionConfig converts the envconfig-loaded settings into a default
// session.Config for a new camera.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		TargetFPS:        c.Resample.TargetFPS,
		SimulateRealtime: c.Frame.SimulateRealtime,
		AggregatorParams: c.AggregatorParams(),
	}
}
