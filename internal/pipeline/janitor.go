package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cliplink/cliplink/internal/logging"
)

// Janitor deletes stale working files left in the temp dir by runs that
// never reached their cleanup, such as after a crash.
type Janitor struct {
	dir          string
	maxAge       time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	running      atomic.Bool
}

func NewJanitor(dir string, maxAge time.Duration, logger *slog.Logger) *Janitor {
	poll := maxAge / 4
	if poll < time.Minute {
		poll = time.Minute
	}
	return &Janitor{
		dir:          dir,
		maxAge:       maxAge,
		pollInterval: poll,
		logger:       logging.WithComponent(logging.OrDiscard(logger), "janitor"),
	}
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	if j.running.Swap(true) {
		return
	}
	defer j.running.Store(false)

	j.logger.Info("temp janitor started", "dir", logging.SanitizePath(j.dir), "max_age", j.maxAge)
	j.Sweep(time.Now())

	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("temp janitor stopping")
			return
		case now := <-ticker.C:
			j.Sweep(now)
		}
	}
}

func (j *Janitor) IsRunning() bool {
	return j.running.Load()
}

// Sweep removes files older than maxAge relative to now and returns how many
// were deleted.
func (j *Janitor) Sweep(now time.Time) int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error("failed to read temp dir", "error", err)
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < j.maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil {
			j.logger.Warn("failed to remove stale temp file", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Info("removed stale temp files", "count", removed)
	}
	return removed
}
