// Package playback streams stored media files over HTTP with byte-range
// support so browsers can seek without downloading the whole file.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cliplink/cliplink/internal/logging"
)

// ErrFileMissing means the record exists but its file is gone from disk.
var ErrFileMissing = errors.New("file missing on disk")

const copyBufferSize = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// FileServer streams a file to an HTTP response.
type FileServer interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logging.WithComponent(logging.OrDiscard(logger), "playback")}
}

// ContentTypeFor returns the response type for a stored file. Clips and
// transcoded uploads are always served as video/mp4.
func ContentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".mp4" {
		return "video/mp4"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ServeFile writes filePath honouring the request's Range header. It returns
// ErrFileMissing without writing anything when the file does not exist, so
// the caller can choose the response. Errors after headers are sent are
// returned for logging only.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrFileMissing
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		return ErrFileMissing
	}

	size := stat.Size()
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", ContentTypeFor(filePath))

	parsed, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		s.logger.Debug("ignoring malformed range header", "range", r.Header.Get("Range"))
		parsed = nil
	}

	if parsed == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		return s.copy(w, file, size)
	}

	h.Set("Content-Length", strconv.FormatInt(parsed.ContentLength(), 10))
	h.Set("Content-Range", parsed.ContentRange(size))

	if _, err := file.Seek(parsed.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	return s.copy(w, file, parsed.ContentLength())
}

// copy streams n bytes through a pooled buffer. Client disconnects surface
// here as write errors.
func (s *Server) copy(w io.Writer, src io.Reader, n int64) error {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)

	written, err := io.CopyBuffer(w, io.LimitReader(src, n), *bp)
	if err != nil {
		return fmt.Errorf("stream interrupted after %d of %d bytes: %w", written, n, err)
	}
	return nil
}
