package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/cliplink/cliplink/internal/logging"
	"github.com/cliplink/cliplink/internal/tools"
)

// thumbnailOffset and thumbnailScale fix where and how large the poster
// frame is taken from a clip.
const (
	thumbnailOffset = 1.0
	thumbnailScale  = "scale=640:360"
)

// FFmpeg is the local transcoding engine used by the pipeline.
type FFmpeg interface {
	// Extract cuts [offset, offset+duration) out of input into output.
	Extract(ctx context.Context, input string, offset, duration float64, output string) error
	// Thumbnail writes a single scaled frame taken one second into input.
	Thumbnail(ctx context.Context, input, output string) error
	// Probe reads container and stream metadata.
	Probe(ctx context.Context, input string) (*ProbeResult, error)
	// Transcode re-encodes an uploaded file with the fixed web preset.
	Transcode(ctx context.Context, input, output string) error
}

type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	AudioCodec string
}

// FFmpegConfig holds tool paths and per-operation timeouts.
type FFmpegConfig struct {
	FFmpegPath       string
	FFprobePath      string
	Reencode         bool // re-encode clips instead of stream copy
	ExtractTimeout   time.Duration
	ThumbnailTimeout time.Duration
	ProbeTimeout     time.Duration
	TranscodeTimeout time.Duration
}

// ToolFFmpeg runs ffmpeg and ffprobe through a tools.Runner.
type ToolFFmpeg struct {
	runner tools.Runner
	cfg    FFmpegConfig
	logger *slog.Logger
}

func NewFFmpeg(runner tools.Runner, cfg FFmpegConfig, logger *slog.Logger) *ToolFFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &ToolFFmpeg{
		runner: runner,
		cfg:    cfg,
		logger: logging.WithComponent(logging.OrDiscard(logger), "ffmpeg"),
	}
}

// ExtractArgs builds the ffmpeg argument list for a clip cut. The seek comes
// before -i so ffmpeg jumps to the nearest keyframe instead of decoding from
// the start, which matters most for remote stream inputs.
func ExtractArgs(input string, offset, duration float64, output string, reencode bool) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(offset),
		"-i", input,
		"-t", formatSeconds(ClampDuration(duration)),
	}
	if reencode {
		args = append(args,
			"-c:v", "libx264",
			"-c:a", "aac",
			"-crf", "23",
			"-preset", "ultrafast",
			"-pix_fmt", "yuv420p",
		)
	} else {
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
	}
	return append(args, "-movflags", "+faststart", output)
}

func (f *ToolFFmpeg) Extract(ctx context.Context, input string, offset, duration float64, output string) error {
	const op = "extract"
	_, err := f.runner.Run(ctx, tools.Command{
		Tool:    "ffmpeg",
		Path:    f.cfg.FFmpegPath,
		Op:      op,
		Args:    ExtractArgs(input, offset, duration, output, f.cfg.Reencode),
		Timeout: f.cfg.ExtractTimeout,
	})
	if err != nil {
		return err
	}
	return requireOutput("ffmpeg", op, output)
}

func (f *ToolFFmpeg) Thumbnail(ctx context.Context, input, output string) error {
	const op = "thumbnail"
	_, err := f.runner.Run(ctx, tools.Command{
		Tool: "ffmpeg",
		Path: f.cfg.FFmpegPath,
		Op:   op,
		Args: []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-ss", formatSeconds(thumbnailOffset),
			"-i", input,
			"-frames:v", "1",
			"-vf", thumbnailScale,
			output,
		},
		Timeout: f.cfg.ThumbnailTimeout,
	})
	if err != nil {
		return err
	}
	// ffmpeg exits 0 without writing a frame when the input is shorter than
	// the seek offset.
	return requireOutput("ffmpeg", op, output)
}

func (f *ToolFFmpeg) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	res, err := f.runner.Run(ctx, tools.Command{
		Tool: "ffprobe",
		Path: f.cfg.FFprobePath,
		Op:   "probe",
		Args: []string{
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			input,
		},
		Timeout: f.cfg.ProbeTimeout,
	})
	if err != nil {
		return nil, err
	}
	return ParseProbe(res.Stdout)
}

func (f *ToolFFmpeg) Transcode(ctx context.Context, input, output string) error {
	const op = "transcode"
	_, err := f.runner.Run(ctx, tools.Command{
		Tool: "ffmpeg",
		Path: f.cfg.FFmpegPath,
		Op:   op,
		Args: []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", input,
			"-c:v", "libx264",
			"-c:a", "aac",
			"-preset", "fast",
			"-crf", "23",
			"-movflags", "+faststart",
			output,
		},
		Timeout: f.cfg.TranscodeTimeout,
	})
	if err != nil {
		return err
	}
	return requireOutput("ffmpeg", op, output)
}

// probeOutput matches the subset of ffprobe JSON output the pipeline reads.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// ParseProbe decodes ffprobe JSON. Dimensions come from the first video
// stream; a missing duration is reported as 0.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &ProbeResult{}
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil && dur > 0 {
		info.Duration = dur
	}

	videoSeen := false
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if !videoSeen {
				info.Width = s.Width
				info.Height = s.Height
				info.Codec = s.CodecName
				videoSeen = true
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	return info, nil
}

// requireOutput turns a clean exit without a usable file into a no-output
// failure.
func requireOutput(tool, op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tools.NoOutput(tool, op, fmt.Errorf("%s was not created", path))
		}
		return tools.NoOutput(tool, op, err)
	}
	if info.Size() == 0 {
		return tools.NoOutput(tool, op, fmt.Errorf("%s is empty", path))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
