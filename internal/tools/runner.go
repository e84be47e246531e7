package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/cliplink/cliplink/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024        // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 4 * 1024 * 1024 // ffprobe JSON and resolved URLs fit easily
	waitDelay      = 5 * time.Second
)

// Runner executes external tool commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// SubprocessRunner is the production implementation of Runner. Each command
// runs in its own process group so a timeout or cancellation kills any
// helpers it spawned (yt-dlp forks ffmpeg for section downloads).
type SubprocessRunner struct {
	logger *slog.Logger
}

// NewRunner creates a SubprocessRunner.
func NewRunner(logger *slog.Logger) *SubprocessRunner {
	return &SubprocessRunner{logger: logging.OrDiscard(logger)}
}

// Run executes cmd and returns a classified *Error for every failure mode:
// timeout, cancellation, non-zero exit, or failure to start.
func (r *SubprocessRunner) Run(ctx context.Context, c Command) (Result, error) {
	start := time.Now()
	parent := ctx

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	path := c.Path
	if path == "" {
		path = c.Tool
	}

	cmd := exec.CommandContext(ctx, path, c.Args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &capWriter{w: &stdoutBuf, limit: maxStdoutBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	r.logger.Debug("executing tool command",
		"tool", c.Tool,
		"op", c.Op,
		"command", c.String(),
		"timeout", c.Timeout,
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Stdout:     stdoutBuf.Bytes(),
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
	}

	if err == nil {
		r.logger.Debug("tool command succeeded",
			"tool", c.Tool,
			"op", c.Op,
			"duration_ms", elapsed.Milliseconds(),
		)
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	toolErr := &Error{
		Tool:       c.Tool,
		Op:         c.Op,
		ExitCode:   result.ExitCode,
		StderrTail: result.StderrTail,
		Err:        err,
	}
	switch {
	case parent.Err() != nil:
		toolErr.Kind = KindCancelled
	case ctx.Err() != nil:
		toolErr.Kind = KindTimeout
	case exitErr != nil:
		toolErr.Kind = KindNonZeroExit
	default:
		// Binary missing or not executable.
		toolErr.Kind = KindNonZeroExit
		toolErr.StderrTail = err.Error()
	}

	r.logger.Warn("tool command failed",
		"tool", c.Tool,
		"op", c.Op,
		"kind", toolErr.Kind,
		"exit_code", result.ExitCode,
		"duration_ms", elapsed.Milliseconds(),
		"stderr_tail", truncate(result.StderrTail, 512),
	)

	return result, toolErr
}

// redactArgs strips query strings from URL arguments before they are logged.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = logging.SanitizeURL(a)
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

// capWriter keeps the first `limit` bytes and silently drops the rest.
type capWriter struct {
	w     *bytes.Buffer
	limit int
}

func (cw *capWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := cw.limit - cw.w.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		cw.w.Write(p)
	}
	return n, nil
}

// String renders a command line for diagnostics.
func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Tool, redactArgs(c.Args))
}
