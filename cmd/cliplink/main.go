package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cliplink/cliplink/internal/acquire"
	"github.com/cliplink/cliplink/internal/api"
	"github.com/cliplink/cliplink/internal/config"
	"github.com/cliplink/cliplink/internal/db"
	"github.com/cliplink/cliplink/internal/library"
	"github.com/cliplink/cliplink/internal/logging"
	"github.com/cliplink/cliplink/internal/metrics"
	"github.com/cliplink/cliplink/internal/pipeline"
	"github.com/cliplink/cliplink/internal/playback"
	"github.com/cliplink/cliplink/internal/remote"
	"github.com/cliplink/cliplink/internal/tools"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting cliplink",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	runner := tools.NewRunner(logger)
	doctor := tools.NewCachedDoctor(tools.NewDoctor(runner, tools.Paths{
		YtDlp:   cfg.YtDlpPath(),
		FFmpeg:  cfg.FFmpegPath(),
		FFprobe: cfg.FFprobePath(),
	}, cfg.DoctorTimeout(), logger), logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.DoctorTimeout())
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial tool probe failed", "error", err)
	} else if !caps.CanClip() {
		logger.Warn("clip creation disabled until yt-dlp, ffmpeg and ffprobe are installed")
	}
	initCancel()

	opts := acquire.Options{
		Runner:          runner,
		YtDlpPath:       cfg.YtDlpPath(),
		TempDir:         cfg.TempDir(),
		DownloadTimeout: cfg.DownloadTimeout(),
		ResolveTimeout:  cfg.ResolveTimeout(),
		Logger:          logger,
	}
	selector, err := acquire.NewSelector(cfg.Strategy(), cfg.StrategyOverrides(),
		acquire.NewStreamStrategy(opts),
		acquire.NewSectionStrategy(opts),
		acquire.NewFullStrategy(opts),
	)
	if err != nil {
		return fmt.Errorf("invalid strategy configuration: %w", err)
	}

	collector := metrics.New(config.Version, config.GitCommit)

	ffmpeg := pipeline.NewFFmpeg(runner, pipeline.FFmpegConfig{
		FFmpegPath:       cfg.FFmpegPath(),
		FFprobePath:      cfg.FFprobePath(),
		Reencode:         cfg.ClipReencode(),
		ExtractTimeout:   cfg.ExtractTimeout(),
		ThumbnailTimeout: cfg.ThumbnailTimeout(),
		ProbeTimeout:     cfg.ProbeTimeout(),
		TranscodeTimeout: cfg.TranscodeTimeout(),
	}, logger)

	clipper := pipeline.New(pipeline.Config{
		ClipsDir:      cfg.ClipsDir(),
		ThumbnailsDir: cfg.ThumbnailsDir(),
		UploadsDir:    cfg.UploadsDir(),
		MaxConcurrent: cfg.MaxConcurrentClips(),
	}, selector, ffmpeg, collector, logger)
	if err := clipper.EnsureDirs(); err != nil {
		return err
	}

	thumbs := remote.NewThumbnailFetcher(
		acquire.NewThumbnailLookup(runner, cfg.YtDlpPath(), cfg.ResolveTimeout(), logger),
		cfg.ThumbnailsDir(),
		0,
		logger,
	)

	svc := library.NewService(library.NewRepository(database.Conn()), clipper, thumbs, cfg.UploadsDir(), logger)

	instanceID, err := svc.InstanceID(context.Background())
	if err != nil {
		return fmt.Errorf("failed to ensure instance ID: %w", err)
	}

	if cfg.APIToken() == "" {
		logger.Warn("CLIPLINK_API_TOKEN is not set; mutating endpoints are open")
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		BaseURL:        cfg.BaseURL(),
		APIToken:       cfg.APIToken(),
		CORSOrigins:    cfg.CORSOrigins(),
		UploadMaxBytes: cfg.UploadMaxBytes(),
		Library:        svc,
		Playback:       playback.NewServer(logger),
		Doctor:         doctor,
		Metrics:        collector,
		DB:             database,
		Strategies:     selector.Names(),
		Default:        cfg.Strategy(),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
		InstanceID:     instanceID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	janitor := pipeline.NewJanitor(cfg.TempDir(), cfg.TempMaxAge(), logger)
	g.Go(func() error {
		janitor.Start(gctx)
		return nil
	})

	g.Go(func() error {
		return apiServer.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
