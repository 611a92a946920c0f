package trafficai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/accidia-0101/trafficai/api/pkg/bus"
	"github.com/accidia-0101/trafficai/api/pkg/config"
	"github.com/accidia-0101/trafficai/api/pkg/external"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/detector"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/engine"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/frame"
	"github.com/accidia-0101/trafficai/api/pkg/streaming/session"
)

// demoPredictor is a placeholder engine.Predictor used only by `serve` when
// no real model is wired in: it reports zero confidence for everything.
// Swap the Predictor passed to engine.New for a real backend in production.
type demoPredictor struct{}

func (demoPredictor) Predict(ctx context.Context, images []engine.Image, imgSize int, conf, iou float64, device string) ([]float64, error) {
	out := make([]float64, len(images))
	return out, nil
}

// parseCameraList parses "cam1=path1,cam2=path2" into a source map,
// following utils.go's getDefaultServeOptionMap parsing idiom.
func parseCameraList(raw string) map[string]string {
	sources := make(map[string]string)
	if raw == "" {
		return sources
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			sources[kv[0]] = kv[1]
		} else {
			log.Warn().Str("pair", pair).Msg("invalid camera_id=source pair, skipping")
		}
	}
	return sources
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming core: bus, engine, detector, and a demo set of camera sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			b := bus.New()
			eng := engine.New(demoPredictor{}, cfg.EngineConfig())
			det := detector.New(b, eng, cfg.DetectorConfig())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go det.Run(ctx)

			coord := session.New(b, det)
			demoCameras := parseCameraList(os.Getenv("DEMO_CAMERAS"))
			resolver := external.NewStaticResolver(demoCameras)

			for cameraID := range demoCameras {
				src, err := resolver.Resolve(cameraID)
				if err != nil {
					log.Warn().Err(err).Str("camera_id", cameraID).Msg("skipping camera with unresolvable source")
					continue
				}
				dec, err := frame.Open(src)
				if err != nil {
					log.Error().Err(err).Str("camera_id", cameraID).Msg("failed to open camera source, skipping")
					continue
				}
				if _, err := coord.Start(ctx, cameraID, dec, cfg.SessionConfig()); err != nil {
					log.Error().Err(err).Str("camera_id", cameraID).Msg("failed to start camera session")
				}
			}

			sink := external.NewEventSink(b)
			httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: sink.Router()}
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("alerts server exited with error")
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			log.Info().Msg("shutting down")
			coord.StopAll()
			_ = httpServer.Shutdown(context.Background())
			cancel()
			return nil
		},
	}
}
