package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"hls-radio/internal/controlbus"
	"hls-radio/internal/hls"
	"hls-radio/internal/platform/config"
	"hls-radio/internal/platform/logger"
	"hls-radio/internal/platform/metrics"
	"hls-radio/internal/playback"
	"hls-radio/internal/radio"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.LoadEnv()

	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	configPath := config.GetEnv("RADIO_CONFIG", config.DefaultPath)
	statusAddr := config.GetEnv("STATUS_ADDR", ":9090")

	log := logger.New(logLevel, logFormat)

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		log.Error("configuration error", "path", configPath, "error", err)
		os.Exit(1)
	}
	busAddr := config.GetEnv("RADIO_BUS", cfg.BusAddress())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	busLog := logger.Component(log, "controlbus")
	dial := func(ctx context.Context) (controlbus.Client, error) {
		return controlbus.Dial(ctx, busAddr, busLog)
	}

	// the bus must be reachable before anything plays
	statusBus, err := dial(ctx)
	if err != nil {
		log.Error("control bus connect failed", "address", busAddr, "error", err)
		os.Exit(1)
	}
	defer statusBus.Close()

	met := metrics.New()
	client := hls.NewClient(hls.Options{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.HTTPTimeout,
		SegmentLimit: cfg.SegmentLimit,
		HTTPSOnly:    cfg.HTTPSOnlyEnabled(),
	}, logger.Component(log, "hls"))

	player := radio.NewPlayer(radio.PlayerOptions{
		Config:  cfg,
		Client:  client,
		Dial:    dial,
		Device:  &playback.CommandDevice{Argv: cfg.PlayerCommand, Log: logger.Component(log, "device")},
		Log:     logger.Component(log, "player"),
		Metrics: met,
	})

	log.Info("radio starting",
		"channels", len(cfg.Channels),
		"bus", busAddr,
		"queue_length", cfg.QueueLength,
		"target_bandwidth", cfg.TargetBandwidth,
		"status_addr", statusAddr,
		"log_level", logLevel,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := player.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if statusAddr != "off" {
		h := radio.NewHandler(player, cfg, statusBus, logger.Component(log, "http"), met)
		srv := &http.Server{Addr: statusAddr, Handler: h.Routes(), ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutdown signal received, draining connections")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("radio stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("radio stopped")
}
