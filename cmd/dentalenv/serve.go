package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/config"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events/subscribers"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/grpc/envserver"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/monitoring"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/stream"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	host             string
	port             int
	maxEnvs          int
	enableReflection bool
	httpAddr         string
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host environments over gRPC with a websocket step feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			opts.applyFlags(cmd, cfg)
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", "", "gRPC listen host (empty uses config)")
	flags.IntVar(&opts.port, "port", 0, "gRPC listen port (0 uses config)")
	flags.IntVar(&opts.maxEnvs, "max-envs", 0, "Maximum concurrent environments (0 uses config)")
	flags.BoolVar(&opts.enableReflection, "enable-reflection", false, "Enable gRPC reflection")
	flags.StringVar(&opts.httpAddr, "http-addr", "", "Websocket feed listen address (empty uses config)")
	return cmd
}

func (o *serveOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if o.host != "" {
		cfg.Server.GRPC.Host = o.host
	}
	if o.port > 0 {
		cfg.Server.GRPC.Port = o.port
	}
	if o.maxEnvs > 0 {
		cfg.Server.GRPC.MaxEnvs = o.maxEnvs
	}
	if cmd.Flags().Changed("enable-reflection") {
		cfg.Server.GRPC.EnableReflection = o.enableReflection
	}
	if o.httpAddr != "" {
		cfg.Server.HTTP.Addr = o.httpAddr
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Logger
	settings, err := env.SettingsFromConfig(cfg.Env)
	if err != nil {
		return fmt.Errorf("environment settings: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.GRPC.Host, cfg.Server.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	var httpLis net.Listener
	if cfg.Server.HTTP.Enabled {
		httpLis, err = net.Listen("tcp", cfg.Server.HTTP.Addr)
		if err != nil {
			lis.Close()
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.HTTP.Addr, err)
		}
	}
	closeListeners := func() {
		lis.Close()
		if httpLis != nil {
			httpLis.Close()
		}
	}

	bus := events.NewEventBusWithLogger(logger)
	eventLogger := subscribers.NewLoggerSubscriber("event_logger", logger, zerolog.DebugLevel)
	eventLogger.SetEventFilter([]string{events.TypeEpisodeStarted, events.TypeEpisodeEnded, events.TypeHazardEntered})
	bus.Subscribe(eventLogger)

	pipeline, err := startExperiencePipeline(cfg.Experience, settings.Layout, bus, logger)
	if err != nil {
		closeListeners()
		return err
	}

	hub := stream.NewHub(logger)
	bus.Subscribe(hub)

	envServer := envserver.NewServer(envserver.ManagerConfig{
		MaxEnvs:     cfg.Server.GRPC.MaxEnvs,
		IdleTimeout: time.Duration(cfg.Server.GRPC.IdleTimeout) * time.Second,
		Settings:    settings,
		Publisher:   bus,
	}, logger)
	grpcServer, healthServer := envserver.NewGRPCServer(envServer, cfg.Server.GRPC.EnableReflection, logger)

	monitor := monitoring.NewGoroutineMonitor(logger)
	monitor.RegisterGauge("environments", envServer.Manager().Count)
	monitor.RegisterGauge("viewers", hub.ClientCount)
	monitor.RegisterGauge("buffered_transitions", pipeline.buffer.Size)
	monitor.Start()

	config.WatchConfig(func(next *config.Config, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid config reload")
			return
		}
		zerolog.SetGlobalLevel(parseLevel(next.Server.LogLevel))
		log.Info().Str("log_level", next.Server.LogLevel).Msg("Config reloaded")
	})

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("address", lis.Addr().String()).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	var httpServer *http.Server
	if httpLis != nil {
		httpServer = &http.Server{
			Addr: httpLis.Addr().String(),
			Handler: stream.NewMux(hub, func() map[string]interface{} {
				return map[string]interface{}{
					"environments": envServer.Manager().Count(),
					"buffered":     pipeline.buffer.Size(),
					"evicted":      pipeline.Evicted(),
				}
			}, monitor.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("address", httpServer.Addr).Msg("Websocket feed listening")
			if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http serve: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("Server failed")
	}

	envserver.SetServing(healthServer, false)
	if serveErr == nil && cfg.Server.GRPC.GracefulShutdownDelay > 0 {
		time.Sleep(time.Duration(cfg.Server.GRPC.GracefulShutdownDelay) * time.Second)
	}

	log.Info().Msg("Gracefully stopping servers")
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown failed")
		}
	}
	hub.Close()
	envServer.Stop()
	monitor.Stop()
	if err := pipeline.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Experience pipeline shutdown failed")
	}

	log.Info().Msg("Server shutdown complete")
	return serveErr
}
