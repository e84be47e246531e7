package acquire

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cliplink/cliplink/internal/logging"
	"github.com/cliplink/cliplink/internal/tools"
)

const toolName = "yt-dlp"

// Options configures the yt-dlp backed strategies.
type Options struct {
	Runner          tools.Runner
	YtDlpPath       string
	TempDir         string
	DownloadTimeout time.Duration
	ResolveTimeout  time.Duration
	Logger          *slog.Logger
}

type ytdlp struct {
	opts   Options
	logger *slog.Logger
}

func newYtdlp(opts Options) ytdlp {
	if opts.YtDlpPath == "" {
		opts.YtDlpPath = toolName
	}
	return ytdlp{opts: opts, logger: logging.WithComponent(logging.OrDiscard(opts.Logger), "acquire")}
}

func commonArgs() []string {
	return []string{"--no-playlist", "--no-check-certificates"}
}

// download runs yt-dlp with an output template under the temp dir and returns
// the produced file. On any failure every file carrying the token is removed.
func (y ytdlp) download(ctx context.Context, op, sourceURL string, args []string) (path, token string, err error) {
	if err := os.MkdirAll(y.opts.TempDir, 0755); err != nil {
		return "", "", fmt.Errorf("cannot create temp dir: %w", err)
	}

	token = newToken()
	defer func() {
		if err != nil {
			removeToken(y.opts.TempDir, token)
		}
	}()

	tmpl := filepath.Join(y.opts.TempDir, token+".%(ext)s")
	full := append(args, "-o", tmpl)
	full = append(full, commonArgs()...)
	full = append(full, "--", sourceURL)

	_, err = y.opts.Runner.Run(ctx, tools.Command{
		Tool:    toolName,
		Path:    y.opts.YtDlpPath,
		Op:      op,
		Args:    full,
		Timeout: y.opts.DownloadTimeout,
	})
	if err != nil {
		return "", token, err
	}

	path, err = findOutput(y.opts.TempDir, token)
	if err != nil {
		return "", token, tools.NoOutput(toolName, op, err)
	}
	return path, token, nil
}

// StreamStrategy resolves a direct media URL without downloading. The
// extractor seeks into the remote stream itself.
type StreamStrategy struct{ ytdlp }

func NewStreamStrategy(opts Options) *StreamStrategy {
	return &StreamStrategy{newYtdlp(opts)}
}

func (s *StreamStrategy) Name() string { return NameStream }

func (s *StreamStrategy) Acquire(ctx context.Context, sourceURL string, w Window) (*Acquisition, error) {
	const op = "acquire.stream"
	args := append([]string{"-g", "-f", "best[ext=mp4]/best"}, commonArgs()...)
	args = append(args, "--", sourceURL)

	res, err := s.opts.Runner.Run(ctx, tools.Command{
		Tool:    toolName,
		Path:    s.opts.YtDlpPath,
		Op:      op,
		Args:    args,
		Timeout: s.opts.ResolveTimeout,
	})
	if err != nil {
		return nil, err
	}

	locator := firstLine(res.Stdout)
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		return nil, tools.NoOutput(toolName, op, fmt.Errorf("no stream URL in output"))
	}

	s.logger.Info("stream resolved", "source", logging.SanitizeURL(sourceURL))
	return &Acquisition{StreamURL: locator, Offset: w.Start, Strategy: NameStream}, nil
}

// SectionStrategy downloads only the padded window.
type SectionStrategy struct{ ytdlp }

func NewSectionStrategy(opts Options) *SectionStrategy {
	return &SectionStrategy{newYtdlp(opts)}
}

func (s *SectionStrategy) Name() string { return NameSection }

func (s *SectionStrategy) Acquire(ctx context.Context, sourceURL string, w Window) (*Acquisition, error) {
	from, to := SectionBounds(w)
	args := []string{
		"-f", "best[ext=mp4]/best",
		"--merge-output-format", "mp4",
		"--download-sections", "*" + formatSeconds(from) + "-" + formatSeconds(to),
	}

	path, token, err := s.download(ctx, "acquire.section", sourceURL, args)
	if err != nil {
		return nil, err
	}

	s.logger.Info("section downloaded",
		"source", logging.SanitizeURL(sourceURL),
		"from", from,
		"to", to,
	)
	return &Acquisition{
		LocalPath: path,
		Offset:    w.Start - from,
		Strategy:  NameSection,
		dir:       s.opts.TempDir,
		token:     token,
	}, nil
}

// SectionBounds returns the padded [from, to] range a section download
// fetches for w.
func SectionBounds(w Window) (from, to float64) {
	from = w.Start - sectionBuffer
	if from < 0 {
		from = 0
	}
	return from, w.Start + w.Duration + sectionBuffer
}

// FullStrategy downloads the whole source at the lowest quality.
type FullStrategy struct{ ytdlp }

func NewFullStrategy(opts Options) *FullStrategy {
	return &FullStrategy{newYtdlp(opts)}
}

func (s *FullStrategy) Name() string { return NameFull }

func (s *FullStrategy) Acquire(ctx context.Context, sourceURL string, w Window) (*Acquisition, error) {
	args := []string{
		"-f", "worst[ext=mp4]/worst",
		"--merge-output-format", "mp4",
	}

	path, token, err := s.download(ctx, "acquire.full", sourceURL, args)
	if err != nil {
		return nil, err
	}

	s.logger.Info("source downloaded", "source", logging.SanitizeURL(sourceURL))
	return &Acquisition{
		LocalPath: path,
		Offset:    w.Start,
		Strategy:  NameFull,
		dir:       s.opts.TempDir,
		token:     token,
	}, nil
}

// ThumbnailLookup asks yt-dlp for the thumbnail URL of an embeddable video.
type ThumbnailLookup struct {
	runner  tools.Runner
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

func NewThumbnailLookup(runner tools.Runner, ytDlpPath string, timeout time.Duration, logger *slog.Logger) *ThumbnailLookup {
	if ytDlpPath == "" {
		ytDlpPath = toolName
	}
	return &ThumbnailLookup{runner: runner, path: ytDlpPath, timeout: timeout, logger: logging.OrDiscard(logger)}
}

// ThumbnailURL returns the remote thumbnail URL for sourceURL, or "" when
// none can be found.
func (l *ThumbnailLookup) ThumbnailURL(ctx context.Context, sourceURL string) string {
	args := append([]string{"--get-thumbnail"}, commonArgs()...)
	args = append(args, "--", sourceURL)

	res, err := l.runner.Run(ctx, tools.Command{
		Tool:    toolName,
		Path:    l.path,
		Op:      "acquire.thumbnail",
		Args:    args,
		Timeout: l.timeout,
	})
	if err != nil {
		l.logger.Warn("thumbnail lookup failed", "source", logging.SanitizeURL(sourceURL), "error", err)
		return ""
	}
	u := firstLine(res.Stdout)
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return ""
	}
	return u
}

func firstLine(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
