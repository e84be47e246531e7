package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cliplink/cliplink/internal/logging"
	"github.com/cliplink/cliplink/internal/metrics"
	"github.com/cliplink/cliplink/internal/playback"
	"github.com/cliplink/cliplink/internal/tools"
)

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// drainTimeout bounds how long Shutdown waits for cancelled requests to
// unwind once the graceful deadline has passed.
const drainTimeout = 5 * time.Second

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	// cancel ends the base context every request context derives from.
	cancel context.CancelFunc
}

type ServerConfig struct {
	Port           int
	BaseURL        string
	APIToken       string
	CORSOrigins    []string
	UploadMaxBytes int64

	Library    Library
	Playback   playback.FileServer
	Doctor     *tools.CachedDoctor
	Metrics    *metrics.Collector
	DB         Pinger
	Strategies []string
	Default    string // default acquisition strategy

	Logger     *slog.Logger
	StartTime  time.Time
	Version    string
	InstanceID string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)
	baseCtx, cancel := context.WithCancel(context.Background())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			// Clip creation and large uploads run inside the request, and
			// playback streams for as long as the client reads.
			ReadTimeout:  0,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
			BaseContext:  func(net.Listener) context.Context { return baseCtx },
		},
		logger: logging.OrDiscard(cfg.Logger),
		cancel: cancel,
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	err := s.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends. Requests still running after that are cancelled, which
// kills their tool subprocesses, and are given drainTimeout to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	s.cancel()
	if err == nil {
		return nil
	}

	s.logger.Warn("graceful shutdown incomplete, cancelling in-flight requests", "error", err)
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if derr := s.httpServer.Shutdown(drainCtx); derr != nil {
		s.logger.Error("requests still running after cancel, closing connections", "error", derr)
		s.httpServer.Close()
	}
	return err
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
