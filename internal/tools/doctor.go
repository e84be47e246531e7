package tools

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cliplink/cliplink/internal/logging"
)

const defaultCacheTTL = 5 * time.Minute

// Paths names the executables the doctor probes.
type Paths struct {
	YtDlp   string
	FFmpeg  string
	FFprobe string
}

// Prober reports tool capabilities.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// Doctor probes each tool by running its version command.
type Doctor struct {
	runner  Runner
	paths   Paths
	timeout time.Duration
	logger  *slog.Logger
}

// NewDoctor creates a Doctor that runs version probes through runner.
func NewDoctor(runner Runner, paths Paths, timeout time.Duration, logger *slog.Logger) *Doctor {
	return &Doctor{runner: runner, paths: paths, timeout: timeout, logger: logging.OrDiscard(logger)}
}

// Probe checks every tool. A missing tool is reported in the result, not as
// an error.
func (d *Doctor) Probe(ctx context.Context) (*Capabilities, error) {
	probes := []struct {
		name string
		path string
		args []string
	}{
		{"yt-dlp", d.paths.YtDlp, []string{"--version"}},
		{"ffmpeg", d.paths.FFmpeg, []string{"-hide_banner", "-version"}},
		{"ffprobe", d.paths.FFprobe, []string{"-hide_banner", "-version"}},
	}

	caps := &Capabilities{Tools: make(map[string]ToolInfo, len(probes))}
	for _, p := range probes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		caps.Tools[p.name] = d.probeOne(ctx, p.name, p.path, p.args)
	}
	caps.ProbedAt = time.Now()

	d.logger.Info("tool probe complete",
		"yt_dlp", caps.Tools["yt-dlp"].Available,
		"ffmpeg", caps.Tools["ffmpeg"].Available,
		"ffprobe", caps.Tools["ffprobe"].Available,
	)
	return caps, nil
}

func (d *Doctor) probeOne(ctx context.Context, name, path string, args []string) ToolInfo {
	if path == "" {
		path = name
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return ToolInfo{Error: "not found on PATH"}
	}

	res, err := d.runner.Run(ctx, Command{
		Tool:    name,
		Path:    resolved,
		Op:      "doctor",
		Args:    args,
		Timeout: d.timeout,
	})
	if err != nil {
		return ToolInfo{Path: resolved, Error: err.Error()}
	}
	return ToolInfo{Available: true, Path: resolved, Version: parseVersion(string(res.Stdout))}
}

// parseVersion extracts the version token from the first line of a
// "--version" banner: "2024.08.06" for yt-dlp, "6.1.1" from
// "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// CachedDoctor wraps a Prober to cache results with a configurable TTL.
// This avoids forking three processes on every status request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logging.OrDiscard(logger),
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("tool probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}
