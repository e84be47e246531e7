package api

import (
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cliplink/cliplink/internal/library"
)

const providerName = "ClipLink"

// Thumbnails are rendered at a fixed size by the pipeline.
const (
	thumbnailWidth  = 640
	thumbnailHeight = 360
)

var shareURLPattern = regexp.MustCompile(`/v/([A-Za-z0-9_-]+)`)

func oembedHandler(cfg ServerConfig) http.HandlerFunc {
	l := links{baseURL: cfg.BaseURL}
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			WriteError(w, http.StatusBadRequest, "url parameter required", "BAD_REQUEST")
			return
		}
		if f := r.URL.Query().Get("format"); f != "" && f != "json" {
			WriteError(w, http.StatusNotImplemented, "only json format is supported", "UNSUPPORTED_FORMAT")
			return
		}

		m := shareURLPattern.FindStringSubmatch(target)
		if m == nil {
			WriteError(w, http.StatusNotFound, "invalid video URL", "NOT_FOUND")
			return
		}

		v, err := cfg.Library.GetVideo(r.Context(), m[1])
		if err != nil {
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}

		var iframe template.HTML
		if iframe, err = renderIframe(l.embed(v.ID), v.Width, v.Height); err != nil {
			writeServiceError(w, requestLogger(cfg.Logger, r), err)
			return
		}

		resp := OEmbedResponse{
			Type:         "video",
			Version:      "1.0",
			Title:        v.Title,
			ProviderName: providerName,
			ProviderURL:  cfg.BaseURL,
			Width:        v.Width,
			Height:       v.Height,
			HTML:         string(iframe),
		}
		if v.ThumbnailPath != "" {
			resp.ThumbnailURL = l.thumbnail(v.ID)
			resp.ThumbnailWidth = thumbnailWidth
			resp.ThumbnailHeight = thumbnailHeight
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

var iframeTemplate = template.Must(template.New("iframe").Parse(
	`<iframe src="{{.Src}}" width="{{.Width}}" height="{{.Height}}" frameborder="0" allowfullscreen allow="autoplay"></iframe>`))

func renderIframe(src string, width, height int) (template.HTML, error) {
	var b strings.Builder
	err := iframeTemplate.Execute(&b, struct {
		Src           string
		Width, Height int
	}{src, width, height})
	return template.HTML(b.String()), err
}

type pageData struct {
	Video        *library.Video
	Title        string
	PlayerSrc    string
	IsEmbed      bool
	EmbedURL     string
	ShareURL     string
	OEmbedURL    string
	ThumbnailURL string
	ProviderName string
	Width        string
	Height       string
}

var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "player"}}{{if .IsEmbed}}<iframe src="{{.PlayerSrc}}" frameborder="0" allowfullscreen allow="autoplay; fullscreen"></iframe>{{else}}<video src="{{.PlayerSrc}}" controls playsinline preload="metadata"{{if .ThumbnailURL}} poster="{{.ThumbnailURL}}"{{end}}></video>{{end}}{{end}}

{{define "embed"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>html,body{margin:0;height:100%;background:#000}video,iframe{width:100%;height:100%;border:0}</style>
</head>
<body>{{template "player" .}}</body>
</html>{{end}}

{{define "share"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} - {{.ProviderName}}</title>
<meta property="og:type" content="video.other">
<meta property="og:title" content="{{.Title}}">
<meta property="og:url" content="{{.ShareURL}}">
<meta property="og:site_name" content="{{.ProviderName}}">
{{if .ThumbnailURL}}<meta property="og:image" content="{{.ThumbnailURL}}">
{{end}}<meta property="og:video" content="{{.EmbedURL}}">
<meta property="og:video:width" content="{{.Width}}">
<meta property="og:video:height" content="{{.Height}}">
<meta name="twitter:card" content="player">
<meta name="twitter:player" content="{{.EmbedURL}}">
<meta name="twitter:player:width" content="{{.Width}}">
<meta name="twitter:player:height" content="{{.Height}}">
<link rel="alternate" type="application/json+oembed" href="{{.OEmbedURL}}" title="{{.Title}}">
<style>body{margin:0;font-family:sans-serif;background:#111;color:#eee}main{max-width:960px;margin:0 auto;padding:16px}.frame{aspect-ratio:16/9;background:#000}video,iframe{width:100%;height:100%;border:0}</style>
</head>
<body>
<main>
<div class="frame">{{template "player" .}}</div>
<h1>{{.Title}}</h1>
{{with .Video.CategoryName}}<p>{{.}}</p>{{end}}
{{with .Video.Description}}<p>{{.}}</p>{{end}}
</main>
</body>
</html>{{end}}
`))

func newPageData(l links, v *library.Video) pageData {
	d := pageData{
		Video:        v,
		Title:        v.Title,
		EmbedURL:     l.embed(v.ID),
		ShareURL:     l.share(v.ID),
		OEmbedURL:    l.baseURL + "/oembed?format=json&url=" + url.QueryEscape(l.share(v.ID)),
		ProviderName: providerName,
		Width:        strconv.Itoa(v.Width),
		Height:       strconv.Itoa(v.Height),
	}
	if v.SourceType == library.SourceEmbed && v.EmbedURL != "" {
		d.IsEmbed = true
		d.PlayerSrc = v.EmbedURL
	} else {
		d.PlayerSrc = l.file(v.ID)
	}
	if v.ThumbnailPath != "" {
		d.ThumbnailURL = l.thumbnail(v.ID)
	}
	return d
}

func renderPage(cfg ServerConfig, name string) http.HandlerFunc {
	l := links{baseURL: cfg.BaseURL}
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Library.GetVideo(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, library.ErrNotFound) {
				http.Error(w, "Video not found", http.StatusNotFound)
				return
			}
			requestLogger(cfg.Logger, r).Error("failed to load video page", "error", err)
			http.Error(w, "Error loading video", http.StatusInternalServerError)
			return
		}

		var b strings.Builder
		if err := pageTemplates.ExecuteTemplate(&b, name, newPageData(l, v)); err != nil {
			requestLogger(cfg.Logger, r).Error("failed to render page", "page", name, "error", err)
			http.Error(w, "Error loading video", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, b.String())
	}
}

func embedPageHandler(cfg ServerConfig) http.HandlerFunc {
	return renderPage(cfg, "embed")
}

func sharePageHandler(cfg ServerConfig) http.HandlerFunc {
	return renderPage(cfg, "share")
}
