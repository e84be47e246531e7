// Package pipeline turns a remote source URL and a time window into a clip
// file with a thumbnail and metadata. It performs no persistence; callers
// store the returned Artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cliplink/cliplink/internal/acquire"
	"github.com/cliplink/cliplink/internal/logging"
	"github.com/cliplink/cliplink/internal/metrics"
	"github.com/cliplink/cliplink/internal/timecode"
)

// MaxClipDuration is the longest clip, in seconds, the pipeline produces.
const MaxClipDuration = 59.0

// Default media dimensions when the probe cannot tell.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// Stage names used for logs and metrics.
const (
	StageAcquire   = "acquire"
	StageExtract   = "extract"
	StageThumbnail = "thumbnail"
	StageProbe     = "probe"
	StageTranscode = "transcode"
)

var (
	ErrClipInProgress = errors.New("clip is already being created")
	ErrInvalidRequest = errors.New("invalid clip request")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Request describes one clip to produce.
type Request struct {
	SourceURL       string
	Start           timecode.Value
	DurationSeconds float64
	ClipID          string
	Strategy        string // optional strategy name; empty selects by host
}

// Artifact is the pipeline's output. An empty ThumbnailPath means no
// thumbnail could be produced.
type Artifact struct {
	FilePath        string
	ThumbnailPath   string
	Width           int
	Height          int
	DurationSeconds float64
	Strategy        string
}

// Files lists every file the artifact owns on disk.
func (a *Artifact) Files() []string {
	files := []string{a.FilePath}
	if a.ThumbnailPath != "" {
		files = append(files, a.ThumbnailPath)
	}
	return files
}

// Remove deletes the artifact's files, ignoring ones already gone.
func (a *Artifact) Remove() error {
	var errs []error
	for _, f := range a.Files() {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClampDuration bounds a requested clip length to (0, MaxClipDuration]. A
// non-positive or non-finite request means the maximum.
func ClampDuration(d float64) float64 {
	if math.IsNaN(d) || d <= 0 || d > MaxClipDuration {
		return MaxClipDuration
	}
	return d
}

// StrategySelector picks how a source is acquired.
type StrategySelector interface {
	Select(sourceURL, requested string) (acquire.Strategy, error)
}

// Config holds output directories and limits.
type Config struct {
	ClipsDir      string
	ThumbnailsDir string
	UploadsDir    string
	MaxConcurrent int
}

// Pipeline runs clip creation: acquire, extract, then best-effort enrich.
type Pipeline struct {
	cfg      Config
	selector StrategySelector
	ffmpeg   FFmpeg
	metrics  *metrics.Collector
	logger   *slog.Logger

	sem   *semaphore.Weighted
	guard *inflight
}

func New(cfg Config, selector StrategySelector, ffmpeg FFmpeg, m *metrics.Collector, logger *slog.Logger) *Pipeline {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Pipeline{
		cfg:      cfg,
		selector: selector,
		ffmpeg:   ffmpeg,
		metrics:  m,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "pipeline"),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		guard:    newInflight(),
	}
}

// EnsureDirs creates the output directories.
func (p *Pipeline) EnsureDirs() error {
	for _, dir := range []string{p.cfg.ClipsDir, p.cfg.ThumbnailsDir, p.cfg.UploadsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	return nil
}

// ClipPath returns where the clip for id is written.
func (p *Pipeline) ClipPath(id string) string {
	return filepath.Join(p.cfg.ClipsDir, id+".mp4")
}

// ThumbnailPath returns where the thumbnail for id is written.
func (p *Pipeline) ThumbnailPath(id string) string {
	return filepath.Join(p.cfg.ThumbnailsDir, id+".jpg")
}

// ValidID reports whether id is safe to use as a file name.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func validate(req Request) error {
	if !ValidID(req.ClipID) {
		return fmt.Errorf("%w: clip id %q", ErrInvalidRequest, req.ClipID)
	}
	u, err := url.Parse(req.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: source url must be an absolute http(s) URL", ErrInvalidRequest)
	}
	return nil
}

// CreateClip runs the whole pipeline for req. Every temporary file is
// removed on return, whatever the outcome; a failed extraction leaves no
// clip behind.
func (p *Pipeline) CreateClip(ctx context.Context, req Request) (art *Artifact, err error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	strategy, err := p.selector.Select(req.SourceURL, req.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if !p.guard.acquire(req.ClipID) {
		return nil, ErrClipInProgress
	}
	defer p.guard.release(req.ClipID)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	done := p.metrics.ClipStarted()
	defer done()
	defer func() { p.metrics.ClipFinished(strategy.Name(), err) }()

	logger := logging.WithClipID(p.logger, req.ClipID)
	start := req.Start.Seconds()
	duration := ClampDuration(req.DurationSeconds)

	logger.Info("clip pipeline started",
		"source", logging.SanitizeURL(req.SourceURL),
		"start", start,
		"duration", duration,
		"strategy", strategy.Name(),
	)

	stageStart := time.Now()
	acq, err := strategy.Acquire(ctx, req.SourceURL, acquire.Window{Start: start, Duration: duration})
	p.metrics.ObserveStage(StageAcquire, err, time.Since(stageStart))
	if err != nil {
		logger.Error("acquisition failed", "error", err)
		return nil, fmt.Errorf("acquire: %w", err)
	}
	defer func() {
		if rerr := acq.Release(); rerr != nil {
			logger.Warn("failed to release acquisition", "error", rerr)
		}
	}()

	// art stays nil on every failure path, panics included; nothing this run
	// wrote under the clips or thumbnails dirs may outlive it then.
	clipPath := p.ClipPath(req.ClipID)
	defer func() {
		if art != nil {
			return
		}
		for _, f := range []string{clipPath, p.ThumbnailPath(req.ClipID)} {
			if rerr := os.Remove(f); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				logger.Warn("failed to remove partial output", "path", f, "error", rerr)
			}
		}
	}()

	stageStart = time.Now()
	err = p.ffmpeg.Extract(ctx, acq.Input(), acq.Offset, duration, clipPath)
	p.metrics.ObserveStage(StageExtract, err, time.Since(stageStart))
	if err != nil {
		logger.Error("extraction failed", "error", err)
		return nil, fmt.Errorf("extract: %w", err)
	}

	out := &Artifact{FilePath: clipPath, Strategy: strategy.Name()}
	p.enrich(ctx, logger, req.ClipID, out, duration)
	art = out

	logger.Info("clip pipeline completed",
		"width", art.Width,
		"height", art.Height,
		"duration", art.DurationSeconds,
		"thumbnail", art.ThumbnailPath != "",
	)
	return art, nil
}

// enrich fills in the thumbnail and metadata. Failures degrade to defaults:
// no thumbnail, 1920x1080, and the fallback duration.
func (p *Pipeline) enrich(ctx context.Context, logger *slog.Logger, id string, art *Artifact, fallbackDuration float64) {
	thumbPath := p.ThumbnailPath(id)
	stageStart := time.Now()
	err := p.ffmpeg.Thumbnail(ctx, art.FilePath, thumbPath)
	p.metrics.ObserveStage(StageThumbnail, err, time.Since(stageStart))
	if err != nil {
		logger.Warn("thumbnail generation failed", "error", err)
		p.metrics.BestEffortFailed(StageThumbnail)
		os.Remove(thumbPath)
	} else {
		art.ThumbnailPath = thumbPath
	}

	art.Width, art.Height, art.DurationSeconds = DefaultWidth, DefaultHeight, fallbackDuration

	stageStart = time.Now()
	probe, err := p.ffmpeg.Probe(ctx, art.FilePath)
	p.metrics.ObserveStage(StageProbe, err, time.Since(stageStart))
	if err != nil {
		logger.Warn("metadata extraction failed", "error", err)
		p.metrics.BestEffortFailed(StageProbe)
		return
	}
	if probe.Width > 0 && probe.Height > 0 {
		art.Width, art.Height = probe.Width, probe.Height
	}
	if probe.Duration > 0 {
		art.DurationSeconds = probe.Duration
	}
}
