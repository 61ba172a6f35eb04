package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/pawdentify/internal/api"
	"github.com/tphakala/pawdentify/internal/app"
	"github.com/tphakala/pawdentify/internal/breedimages"
	"github.com/tphakala/pawdentify/internal/logger"
	"github.com/tphakala/pawdentify/internal/observability"
)

const shutdownGrace = 15 * time.Second

type flags struct {
	listen  string
	metrics string
	preload bool
}

// Command creates the serve command that runs the HTTP API.
func Command(ctx *app.Context) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serve breed galleries, identification and cache management over HTTP until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				ctx.Settings.Server.Listen = f.listen
			}
			if cmd.Flags().Changed("metrics") {
				ctx.Settings.Metrics.Enabled = f.metrics != ""
				ctx.Settings.Metrics.Listen = f.metrics
			}
			if cmd.Flags().Changed("preload") {
				ctx.Settings.Cache.Preload.OnStartup = f.preload
			}
			return run(cmd.Context(), ctx)
		},
	}

	cmd.Flags().StringVarP(&f.listen, "listen", "l", "", "Listen address of the API, overrides server.listen")
	cmd.Flags().StringVar(&f.metrics, "metrics", "", "Serve Prometheus metrics on a separate address")
	cmd.Flags().BoolVar(&f.preload, "preload", false, "Warm configured breeds at startup")

	return cmd
}

func run(parent context.Context, appCtx *app.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, appCtx, app.Options{Restore: true, StartMaintenance: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()
	log := rt.Log.Module("serve")

	server, err := api.New(rt.Service, rt.APIConfig(),
		api.WithLogger(rt.Log),
		api.WithMetrics(rt.Metrics),
		api.WithBuildInfo(rt.Build))
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	var endpoint *observability.Endpoint
	if rt.Settings.Metrics.Enabled {
		endpoint, err = observability.NewEndpoint(rt.Settings.Metrics.Listen, rt.Metrics, rt.Log)
		if err != nil {
			log.Warn("Metrics endpoint disabled", logger.Error(err))
		} else if err := endpoint.Start(ctx); err != nil {
			log.Warn("Metrics endpoint failed to start", logger.Error(err))
			endpoint = nil
		}
	}

	if p := rt.Settings.Cache.Preload; p.OnStartup && len(p.Breeds) > 0 {
		go func() {
			report := rt.Service.Preload(ctx, breedimages.PreloadRequest{Breeds: p.Breeds, Favorites: p.Favorites})
			log.Info("Startup preload finished",
				logger.Int("loaded", len(report.Succeeded)),
				logger.Int("failed", len(report.Failed)))
		}()
	}

	go rotateOnHangup(ctx, rt, log)

	log.Info("Pawdentify ready",
		logger.String("version", rt.Build.Version()),
		logger.String("address", server.Address()))

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if endpoint != nil {
		endpoint.Shutdown()
	}
	return server.Shutdown(shutdownCtx)
}

func rotateOnHangup(ctx context.Context, rt *app.Runtime, log logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := rt.RotateLogs(); err != nil {
				log.Warn("Log rotation failed", logger.Error(err))
			} else {
				log.Info("Log files rotated")
			}
		}
	}
}
