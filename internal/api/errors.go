package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cliplink/cliplink/internal/library"
	"github.com/cliplink/cliplink/internal/pipeline"
	"github.com/cliplink/cliplink/internal/playback"
	"github.com/cliplink/cliplink/internal/tools"
)

// statusClientClosed is logged when the caller went away mid-request.
const statusClientClosed = 499

// writeServiceError maps domain and pipeline errors to HTTP responses.
// Tool failures carry the failing tool and step but never its stderr,
// which can echo signed media URLs.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var maxBytes *http.MaxBytesError
	var toolErr *tools.Error

	switch {
	case errors.As(err, &maxBytes):
		WriteError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", maxBytes.Limit), "TOO_LARGE")
	case errors.Is(err, pipeline.ErrClipInProgress):
		WriteError(w, http.StatusConflict, err.Error(), "CLIP_IN_PROGRESS")
	case errors.Is(err, library.ErrDuplicateID):
		WriteError(w, http.StatusConflict, "video id already exists", "DUPLICATE_ID")
	case errors.Is(err, library.ErrMissingSource):
		WriteError(w, http.StatusBadRequest, err.Error(), "MISSING_SOURCE")
	case errors.Is(err, library.ErrInvalidCategory):
		WriteError(w, http.StatusBadRequest, "category does not exist", "INVALID_CATEGORY")
	case errors.Is(err, pipeline.ErrInvalidRequest), errors.Is(err, library.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, library.ErrNotFound):
		WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
	case errors.Is(err, library.ErrFileMissing), errors.Is(err, playback.ErrFileMissing):
		WriteError(w, http.StatusNotFound, "video file missing", "FILE_MISSING")
	case errors.Is(err, tools.ErrCancelled), errors.Is(err, context.Canceled):
		logger.Info("request cancelled by client", "error", err)
		WriteError(w, statusClientClosed, "request cancelled", "CANCELLED")
	case errors.As(err, &toolErr):
		logger.Warn("clip pipeline failed",
			"tool", toolErr.Tool,
			"op", toolErr.Op,
			"kind", toolErr.Kind,
			"exit_code", toolErr.ExitCode,
			"stderr_tail", toolErr.StderrTail,
		)
		WriteError(w, http.StatusUnprocessableEntity, toolMessage(toolErr), toolCode(toolErr.Kind))
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request deadline exceeded", "error", err)
		WriteError(w, http.StatusServiceUnavailable, "request deadline exceeded", "DEADLINE_EXCEEDED")
	default:
		logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func toolCode(k tools.Kind) string {
	switch k {
	case tools.KindTimeout:
		return "TIMEOUT"
	case tools.KindNoOutput:
		return "NO_OUTPUT"
	}
	return "PROCESS_FAILED"
}

func toolMessage(e *tools.Error) string {
	switch e.Kind {
	case tools.KindTimeout:
		return fmt.Sprintf("%s timed out during %s", e.Tool, e.Op)
	case tools.KindNoOutput:
		return fmt.Sprintf("%s produced no output during %s", e.Tool, e.Op)
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s failed during %s (exit %d)", e.Tool, e.Op, e.ExitCode)
	}
	return fmt.Sprintf("%s failed during %s", e.Tool, e.Op)
}
