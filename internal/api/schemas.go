package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cliplink/cliplink/internal/library"
	"github.com/cliplink/cliplink/internal/timecode"
	"github.com/cliplink/cliplink/internal/tools"
)

type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	UptimeS    int64  `json:"uptime_s"`
	InstanceID string `json:"instance_id,omitempty"`
	Database   string `json:"database"`
}

type StatusResponse struct {
	CanClip         bool                      `json:"can_clip"`
	Tools           map[string]tools.ToolInfo `json:"tools,omitempty"`
	LastProbeAt     string                    `json:"last_probe_at,omitempty"`
	Strategies      []string                  `json:"strategies"`
	DefaultStrategy string                    `json:"default_strategy"`
}

// TagList accepts either a JSON array of names or a comma separated string.
type TagList []string

func (t *TagList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tags must be a string or an array of strings")
	}
	*t = library.ParseTags(s)
	return nil
}

type CreateClipRequest struct {
	URL         string         `json:"url"`
	StartTime   timecode.Value `json:"startTime"`
	Duration    float64        `json:"duration"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	CategoryID  *int64         `json:"categoryId,omitempty"`
	Tags        TagList        `json:"tags,omitempty"`
	Strategy    string         `json:"strategy,omitempty"`
}

type CreatedResponse struct {
	ID    string        `json:"id"`
	URL   string        `json:"url"`
	Video VideoResponse `json:"video"`
}

type VideoResponse struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	CategoryID   *int64        `json:"category_id"`
	CategoryName string        `json:"category_name,omitempty"`
	CategorySlug string        `json:"category_slug,omitempty"`
	SourceType   string        `json:"source_type"`
	EmbedURL     string        `json:"embed_url,omitempty"`
	SourceURL    string        `json:"source_url,omitempty"`
	FileURL      string        `json:"file_url,omitempty"`
	ThumbnailURL *string       `json:"thumbnail_url"`
	ShareURL     string        `json:"share_url"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Duration     float64       `json:"duration"`
	Views        int64         `json:"views"`
	Tags         []library.Tag `json:"tags"`
	CreatedAt    string        `json:"created_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type CategoriesResponse struct {
	Categories []*library.Category `json:"categories"`
}

type CategoryResponse struct {
	Category *library.Category `json:"category"`
	Videos   []VideoResponse   `json:"videos"`
}

type TagsResponse struct {
	Tags []*library.Tag `json:"tags"`
}

type ViewResponse struct {
	Views int64 `json:"views"`
}

type OEmbedResponse struct {
	Type            string `json:"type"`
	Version         string `json:"version"`
	Title           string `json:"title"`
	ProviderName    string `json:"provider_name"`
	ProviderURL     string `json:"provider_url"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	HTML            string `json:"html"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	ThumbnailWidth  int    `json:"thumbnail_width,omitempty"`
	ThumbnailHeight int    `json:"thumbnail_height,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// links builds the public URLs for a video under baseURL.
type links struct {
	baseURL string
}

func (l links) share(id string) string     { return l.baseURL + "/v/" + id }
func (l links) embed(id string) string     { return l.baseURL + "/embed/" + id }
func (l links) file(id string) string      { return l.baseURL + "/videos/" + id + "/file" }
func (l links) thumbnail(id string) string { return l.baseURL + "/videos/" + id + "/thumbnail" }

func (l links) video(v *library.Video) VideoResponse {
	resp := VideoResponse{
		ID:           v.ID,
		Title:        v.Title,
		Description:  v.Description,
		CategoryID:   v.CategoryID,
		CategoryName: v.CategoryName,
		CategorySlug: v.CategorySlug,
		SourceType:   v.SourceType,
		EmbedURL:     v.EmbedURL,
		SourceURL:    v.SourceURL,
		ShareURL:     l.share(v.ID),
		Width:        v.Width,
		Height:       v.Height,
		Duration:     v.DurationSeconds,
		Views:        v.Views,
		Tags:         v.Tags,
		CreatedAt:    v.CreatedAt.UTC().Format(time.RFC3339),
	}
	if resp.Tags == nil {
		resp.Tags = []library.Tag{}
	}
	if v.HasFile() {
		resp.FileURL = l.file(v.ID)
	}
	if v.ThumbnailPath != "" {
		u := l.thumbnail(v.ID)
		resp.ThumbnailURL = &u
	}
	return resp
}

func (l links) videos(vs []*library.Video) []VideoResponse {
	out := make([]VideoResponse, len(vs))
	for i, v := range vs {
		out[i] = l.video(v)
	}
	return out
}

func normalizeBaseURL(s string) string {
	return strings.TrimRight(s, "/")
}
