package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cliplink/cliplink/internal/library"
	"github.com/cliplink/cliplink/internal/logging"
)

// Library is the persistence-backed video service the handlers drive.
type Library interface {
	CreateClip(ctx context.Context, in library.ClipInput) (*library.Video, error)
	Upload(ctx context.Context, in library.UploadInput) (*library.Video, error)
	AddEmbed(ctx context.Context, in library.EmbedInput) (*library.Video, error)
	GetVideo(ctx context.Context, id string) (*library.Video, error)
	ListVideos(ctx context.Context, filter library.ListFilter) ([]*library.Video, error)
	Delete(ctx context.Context, id string) error
	RecordView(ctx context.Context, id string) (int64, error)
	ResolveFile(ctx context.Context, id string) (*library.Video, string, error)
	ResolveThumbnail(ctx context.Context, id string) (string, error)
	ListCategories(ctx context.Context) ([]*library.Category, error)
	GetCategory(ctx context.Context, slug string, filter library.ListFilter) (*library.Category, []*library.Video, error)
	ListTags(ctx context.Context) ([]*library.Tag, error)
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(append([]string{cfg.BaseURL}, cfg.CORSOrigins...)))

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Get("/categories", listCategoriesHandler(cfg))
	r.Get("/categories/{slug}", getCategoryHandler(cfg))
	r.Get("/tags", listTagsHandler(cfg))

	r.Get("/videos", listVideosHandler(cfg))
	r.Get("/videos/{id}", getVideoHandler(cfg))
	r.Get("/videos/{id}/file", videoFileHandler(cfg))
	r.Head("/videos/{id}/file", videoFileHandler(cfg))
	r.Get("/videos/{id}/thumbnail", thumbnailHandler(cfg))
	r.Post("/videos/{id}/view", viewHandler(cfg))

	r.Get("/oembed", oembedHandler(cfg))
	r.Get("/embed/{id}", embedPageHandler(cfg))
	r.Get("/v/{id}", sharePageHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIToken, cfg.Logger))

		r.Post("/clips", createClipHandler(cfg))
		r.Post("/videos", createVideoHandler(cfg))
		r.Delete("/videos/{id}", deleteVideoHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		resp := HealthResponse{
			Status:     "ok",
			Version:    cfg.Version,
			UptimeS:    uptime,
			InstanceID: cfg.InstanceID,
			Database:   "ok",
		}

		status := http.StatusOK
		if cfg.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.DB.Ping(ctx); err != nil {
				requestLogger(cfg.Logger, r).Error("database ping failed", "error", err)
				resp.Status = "degraded"
				resp.Database = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		WriteJSON(w, status, resp)
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Strategies:      cfg.Strategies,
			DefaultStrategy: cfg.Default,
		}
		if resp.Strategies == nil {
			resp.Strategies = []string{}
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(r.Context())
			if err == nil && caps != nil {
				resp.CanClip = caps.CanClip()
				resp.Tools = caps.Tools
				if !caps.ProbedAt.IsZero() {
					resp.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listCategoriesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := cfg.Library.ListCategories(r.Context())
		if err != nil {
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}
		WriteJSON(w, http.StatusOK, CategoriesResponse{Categories: categories})
	}
}

func getCategoryHandler(cfg ServerConfig) http.HandlerFunc {
	l := links{baseURL: cfg.BaseURL}
	return func(w http.ResponseWriter, r *http.Request) {
		filter, ok := parseListFilter(w, r)
		if !ok {
			return
		}

		category, videos, err := cfg.Library.GetCategory(r.Context(), chi.URLParam(r, "slug"), filter)
		if err != nil {
			if errors.Is(err, library.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "category not found", "NOT_FOUND")
				return
			}
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}
		WriteJSON(w, http.StatusOK, CategoryResponse{Category: category, Videos: l.videos(videos)})
	}
}

func listTagsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tags, err := cfg.Library.ListTags(r.Context())
		if err != nil {
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}
		WriteJSON(w, http.StatusOK, TagsResponse{Tags: tags})
	}
}
