package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cliplink/cliplink/internal/logging"
)

// UploadPath returns the transcoded destination for an uploaded video.
func (p *Pipeline) UploadPath(id string) string {
	return filepath.Join(p.cfg.UploadsDir, id+".mp4")
}

// ProcessUpload re-encodes an uploaded file to the web preset and enriches
// it. When transcoding fails the original upload is kept as the artifact.
// The returned artifact never references inputPath after a successful
// transcode; the original is deleted.
func (p *Pipeline) ProcessUpload(ctx context.Context, id, inputPath string) (*Artifact, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: upload id %q", ErrInvalidRequest, id)
	}
	logger := logging.WithVideoID(p.logger, id)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	out := p.UploadPath(id)
	art := &Artifact{FilePath: inputPath}

	if out != inputPath {
		stageStart := time.Now()
		err := p.ffmpeg.Transcode(ctx, inputPath, out)
		p.metrics.ObserveStage(StageTranscode, err, time.Since(stageStart))
		if err != nil {
			if ctx.Err() != nil {
				os.Remove(out)
				return nil, ctx.Err()
			}
			logger.Warn("transcode failed, keeping original upload", "error", err)
			if rerr := os.Remove(out); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				logger.Warn("failed to remove partial transcode", "error", rerr)
			}
			p.metrics.UploadProcessed(false)
		} else {
			if rerr := os.Remove(inputPath); rerr != nil {
				logger.Warn("failed to remove original upload", "error", rerr)
			}
			art.FilePath = out
			p.metrics.UploadProcessed(true)
		}
	}

	p.enrich(ctx, logger, id, art, 0)
	return art, nil
}
