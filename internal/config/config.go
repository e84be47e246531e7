// Package config provides configuration management for the cliplink server.
// Configuration is loaded from environment variables with sensible defaults.
// A dotenv file, when present, seeds variables that are not already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort     = 3000
	DefaultLogLevel = "info"
	DefaultDataDir  = "data"
	DefaultBaseURL  = "http://localhost:3000"
	DefaultEnvFile  = ".env"

	// Environment variable names
	EnvPort     = "CLIPLINK_PORT"
	EnvLogLevel = "CLIPLINK_LOG_LEVEL"
	EnvDataDir  = "CLIPLINK_DATA_DIR"
	EnvBaseURL  = "CLIPLINK_BASE_URL"
	EnvAPIToken    = "CLIPLINK_API_TOKEN"
	EnvEnvFile     = "CLIPLINK_ENV_FILE"
	EnvCORSOrigins = "CLIPLINK_CORS_ORIGINS"

	// External tool environment variable names
	EnvYtDlpPath   = "CLIPLINK_YTDLP_PATH"
	EnvFFmpegPath  = "CLIPLINK_FFMPEG_PATH"
	EnvFFprobePath = "CLIPLINK_FFPROBE_PATH"

	// Pipeline environment variable names
	EnvStrategy           = "CLIPLINK_STRATEGY"
	EnvStrategyOverrides  = "CLIPLINK_STRATEGY_OVERRIDES"
	EnvClipReencode       = "CLIPLINK_CLIP_REENCODE"
	EnvMaxConcurrentClips = "CLIPLINK_MAX_CONCURRENT_CLIPS"
	EnvUploadMaxMB        = "CLIPLINK_UPLOAD_MAX_MB"
	EnvTempMaxAge         = "CLIPLINK_TEMP_MAX_AGE"
	EnvDownloadTimeout    = "CLIPLINK_DOWNLOAD_TIMEOUT"
	EnvResolveTimeout     = "CLIPLINK_RESOLVE_TIMEOUT"
	EnvExtractTimeout     = "CLIPLINK_EXTRACT_TIMEOUT"
	EnvTranscodeTimeout   = "CLIPLINK_TRANSCODE_TIMEOUT"

	// Database filename
	DBFilename = "cliplink.db"

	// Tool defaults
	DefaultYtDlpPath   = "yt-dlp"
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"

	// Pipeline defaults
	DefaultStrategy           = "section"
	DefaultMaxConcurrentClips = 2
	DefaultUploadMaxMB        = 500
	DefaultTempMaxAge         = time.Hour
	DefaultDownloadTimeout    = 5 * time.Minute
	DefaultResolveTimeout     = 60 * time.Second
	DefaultExtractTimeout     = 3 * time.Minute
	DefaultThumbnailTimeout   = 30 * time.Second
	DefaultProbeTimeout       = 30 * time.Second
	DefaultTranscodeTimeout   = 10 * time.Minute
	DefaultDoctorTimeout      = 15 * time.Second
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ClipsDir() string
	UploadsDir() string
	ThumbnailsDir() string
	TempDir() string
	BaseURL() string
	APIToken() string
	CORSOrigins() []string

	YtDlpPath() string
	FFmpegPath() string
	FFprobePath() string

	Strategy() string
	StrategyOverrides() map[string]string
	ClipReencode() bool
	MaxConcurrentClips() int
	UploadMaxBytes() int64
	TempMaxAge() time.Duration

	DownloadTimeout() time.Duration
	ResolveTimeout() time.Duration
	ExtractTimeout() time.Duration
	ThumbnailTimeout() time.Duration
	ProbeTimeout() time.Duration
	TranscodeTimeout() time.Duration
	DoctorTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	baseURL  string
	apiToken string
	cors     []string

	ytDlpPath   string
	ffmpegPath  string
	ffprobePath string

	strategy           string
	strategyOverrides  map[string]string
	clipReencode       bool
	maxConcurrentClips int
	uploadMaxMB        int
	tempMaxAge         time.Duration

	downloadTimeout  time.Duration
	resolveTimeout   time.Duration
	extractTimeout   time.Duration
	transcodeTimeout time.Duration
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg := &EnvConfig{
		port:               DefaultPort,
		logLevel:           DefaultLogLevel,
		dataDir:            DefaultDataDir,
		baseURL:            DefaultBaseURL,
		ytDlpPath:          DefaultYtDlpPath,
		ffmpegPath:         DefaultFFmpegPath,
		ffprobePath:        DefaultFFprobePath,
		strategy:           DefaultStrategy,
		strategyOverrides:  map[string]string{},
		maxConcurrentClips: DefaultMaxConcurrentClips,
		uploadMaxMB:        DefaultUploadMaxMB,
		tempMaxAge:         DefaultTempMaxAge,
		downloadTimeout:    DefaultDownloadTimeout,
		resolveTimeout:     DefaultResolveTimeout,
		extractTimeout:     DefaultExtractTimeout,
		transcodeTimeout:   DefaultTranscodeTimeout,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	if bu := os.Getenv(EnvBaseURL); bu != "" {
		cfg.baseURL = strings.TrimRight(bu, "/")
	}
	cfg.apiToken = os.Getenv(EnvAPIToken)
	for _, o := range strings.Split(os.Getenv(EnvCORSOrigins), ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			cfg.cors = append(cfg.cors, o)
		}
	}

	if p := os.Getenv(EnvYtDlpPath); p != "" {
		cfg.ytDlpPath = p
	}
	if p := os.Getenv(EnvFFmpegPath); p != "" {
		cfg.ffmpegPath = p
	}
	if p := os.Getenv(EnvFFprobePath); p != "" {
		cfg.ffprobePath = p
	}

	if s := os.Getenv(EnvStrategy); s != "" {
		cfg.strategy = strings.ToLower(strings.TrimSpace(s))
	}
	if o := os.Getenv(EnvStrategyOverrides); o != "" {
		overrides, err := parseOverrides(o)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvStrategyOverrides, err)
		}
		cfg.strategyOverrides = overrides
	}

	if v := os.Getenv(EnvClipReencode); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvClipReencode, err)
		}
		cfg.clipReencode = b
	}

	if v := os.Getenv(EnvMaxConcurrentClips); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvMaxConcurrentClips)
		}
		cfg.maxConcurrentClips = n
	}

	if v := os.Getenv(EnvUploadMaxMB); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvUploadMaxMB)
		}
		cfg.uploadMaxMB = n
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvTempMaxAge, &cfg.tempMaxAge},
		{EnvDownloadTimeout, &cfg.downloadTimeout},
		{EnvResolveTimeout, &cfg.resolveTimeout},
		{EnvExtractTimeout, &cfg.extractTimeout},
		{EnvTranscodeTimeout, &cfg.transcodeTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive duration like 90s", d.env)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// loadEnvFile seeds the process environment from a dotenv file. Variables
// already present in the environment win over the file.
func loadEnvFile() error {
	path := os.Getenv(EnvEnvFile)
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// parseOverrides parses "host=strategy,host2=strategy2".
func parseOverrides(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		host, strategy, ok := strings.Cut(pair, "=")
		host = strings.ToLower(strings.TrimSpace(host))
		strategy = strings.ToLower(strings.TrimSpace(strategy))
		if !ok || host == "" || strategy == "" {
			return nil, fmt.Errorf("malformed entry %q, want host=strategy", pair)
		}
		out[host] = strategy
	}
	return out, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ClipsDir holds one <id>.mp4 per created clip.
func (c *EnvConfig) ClipsDir() string {
	return filepath.Join(c.dataDir, "clips")
}

// UploadsDir holds uploaded and transcoded files.
func (c *EnvConfig) UploadsDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

// ThumbnailsDir holds one optional <id>.jpg per video.
func (c *EnvConfig) ThumbnailsDir() string {
	return filepath.Join(c.dataDir, "thumbnails")
}

// TempDir holds in-flight acquisition working files.
func (c *EnvConfig) TempDir() string {
	return filepath.Join(c.dataDir, "tmp")
}

func (c *EnvConfig) BaseURL() string {
	return c.baseURL
}

// APIToken returns the bearer token required on mutating routes. Empty means
// the upstream gate is open.
func (c *EnvConfig) APIToken() string {
	return c.apiToken
}

// CORSOrigins lists extra origins allowed to fetch media cross-origin. The
// base URL's own origin is always allowed; "*" allows any origin.
func (c *EnvConfig) CORSOrigins() []string {
	return append([]string(nil), c.cors...)
}

func (c *EnvConfig) YtDlpPath() string {
	return c.ytDlpPath
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// Strategy returns the default acquisition strategy name.
func (c *EnvConfig) Strategy() string {
	return c.strategy
}

// StrategyOverrides maps host suffixes to strategy names.
func (c *EnvConfig) StrategyOverrides() map[string]string {
	out := make(map[string]string, len(c.strategyOverrides))
	for k, v := range c.strategyOverrides {
		out[k] = v
	}
	return out
}

func (c *EnvConfig) ClipReencode() bool {
	return c.clipReencode
}

func (c *EnvConfig) MaxConcurrentClips() int {
	return c.maxConcurrentClips
}

func (c *EnvConfig) UploadMaxBytes() int64 {
	return int64(c.uploadMaxMB) * 1024 * 1024
}

func (c *EnvConfig) TempMaxAge() time.Duration {
	return c.tempMaxAge
}

func (c *EnvConfig) DownloadTimeout() time.Duration {
	return c.downloadTimeout
}

func (c *EnvConfig) ResolveTimeout() time.Duration {
	return c.resolveTimeout
}

func (c *EnvConfig) ExtractTimeout() time.Duration {
	return c.extractTimeout
}

func (c *EnvConfig) ThumbnailTimeout() time.Duration {
	return DefaultThumbnailTimeout
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return DefaultProbeTimeout
}

func (c *EnvConfig) TranscodeTimeout() time.Duration {
	return c.transcodeTimeout
}

func (c *EnvConfig) DoctorTimeout() time.Duration {
	return DefaultDoctorTimeout
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
