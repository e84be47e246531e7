package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cliplink/cliplink/internal/library"
	"github.com/cliplink/cliplink/internal/playback"
)

// multipartMemory bounds how much of a multipart upload is held in memory;
// the rest spills to temporary files.
const multipartMemory = 32 << 20

func parseListFilter(w http.ResponseWriter, r *http.Request) (library.ListFilter, bool) {
	q := r.URL.Query()
	filter := library.ListFilter{
		CategorySlug: q.Get("category"),
		TagSlug:      q.Get("tag"),
		Search:       q.Get("search"),
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, p.name+" must be a non-negative integer", "BAD_REQUEST")
			return filter, false
		}
		*p.dst = n
	}
	return filter, true
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	l := links{baseURL: cfg.BaseURL}
	return func(w http.ResponseWriter, r *http.Request) {
		filter, ok := parseListFilter(w, r)
		if !ok {
			return
		}

		videos, err := cfg.Library.ListVideos(r.Context(), filter)
		if err != nil {
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}
		WriteJSON(w, http.StatusOK, VideosResponse{Videos: l.videos(videos)})
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	l := links{baseURL: cfg.BaseURL}
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Library.GetVideo(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}
		WriteJSON(w, http.StatusOK, l.video(v))
	}
}

// videoFileHandler streams the stored media with byte-range support. An
// unknown id and a file gone from disk are distinct 404s.
func videoFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := requestLogger(cfg.Logger, r)

		_, path, err := cfg.Library.ResolveFile(r.Context(), id)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		if err := cfg.Playback.ServeFile(w, r, path); err != nil {
			if errors.Is(err, playback.ErrFileMissing) {
				logger.Warn("video file missing on disk", "video_id", id)
				writeServiceError(w, logger, err)
				return
			}
			logger.Warn("playback error", "error", err, "video_id", id)
		}
	}
}

func thumbnailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		path, err := cfg.Library.ResolveThumbnail(r.Context(), id)
		if err != nil {
			if errors.Is(err, library.ErrFileMissing) {
				WriteError(w, http.StatusNotFound, "thumbnail not found", "NOT_FOUND")
				return
			}
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}

		if info, err := os.Stat(path); err != nil || info.IsDir() {
			WriteError(w, http.StatusNotFound, "thumbnail file missing", "FILE_MISSING")
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeFile(w, r, path)
	}
}

func viewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := cfg.Library.RecordView(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}
		WriteJSON(w, http.StatusOK, ViewResponse{Views: views})
	}
}

func createClipHandler(cfg ServerConfig) http.HandlerFunc {
	l := links{baseURL: cfg.BaseURL}
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if strings.TrimSpace(req.URL) == "" {
			WriteError(w, http.StatusBadRequest, "url is required", "BAD_REQUEST")
			return
		}
		if req.Duration < 0 {
			WriteError(w, http.StatusBadRequest, "duration must not be negative", "BAD_REQUEST")
			return
		}

		v, err := cfg.Library.CreateClip(r.Context(), library.ClipInput{
			SourceURL:       req.URL,
			Start:           req.StartTime,
			DurationSeconds: req.Duration,
			Title:           req.Title,
			Description:     req.Description,
			CategoryID:      req.CategoryID,
			Tags:            req.Tags,
			Strategy:        req.Strategy,
		})
		if err != nil {
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}

		WriteJSON(w, http.StatusCreated, CreatedResponse{ID: v.ID, URL: l.share(v.ID), Video: l.video(v)})
	}
}

// createVideoHandler accepts a multipart upload ("video" file part) or an
// embed ("source_type=embed" with "embed_url").
func createVideoHandler(cfg ServerConfig) http.HandlerFunc {
	l := links{baseURL: cfg.BaseURL}
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(cfg.Logger, r)
		if cfg.UploadMaxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.UploadMaxBytes)
		}

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			if !errors.Is(err, http.ErrNotMultipart) {
				var maxBytes *http.MaxBytesError
				if errors.As(err, &maxBytes) {
					writeServiceError(w, logger, err)
					return
				}
				WriteError(w, http.StatusBadRequest, "invalid form body", "BAD_REQUEST")
				return
			}
			if err := r.ParseForm(); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid form body", "BAD_REQUEST")
				return
			}
		}
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}

		categoryID, err := parseCategoryID(r.FormValue("category_id"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "category_id must be an integer", "BAD_REQUEST")
			return
		}
		title := r.FormValue("title")
		description := r.FormValue("description")
		tags := library.ParseTags(r.FormValue("tags"))

		var v *library.Video
		embedURL := strings.TrimSpace(r.FormValue("embed_url"))
		switch {
		case r.FormValue("source_type") == library.SourceEmbed && embedURL != "":
			v, err = cfg.Library.AddEmbed(r.Context(), library.EmbedInput{
				Title:       title,
				Description: description,
				CategoryID:  categoryID,
				Tags:        tags,
				EmbedURL:    embedURL,
				SourceURL:   r.FormValue("source_url"),
			})
		default:
			file, header, ferr := r.FormFile("video")
			if ferr != nil {
				writeServiceError(w, logger, library.ErrMissingSource)
				return
			}
			defer file.Close()

			v, err = cfg.Library.Upload(r.Context(), library.UploadInput{
				Title:       title,
				Description: description,
				CategoryID:  categoryID,
				Tags:        tags,
				Filename:    header.Filename,
				Body:        file,
			})
		}
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		WriteJSON(w, http.StatusCreated, CreatedResponse{ID: v.ID, URL: l.share(v.ID), Video: l.video(v)})
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Library.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseCategoryID(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
