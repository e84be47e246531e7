// Package library stores videos and categories and coordinates clip,
// upload and embed creation with the media pipeline.
package library

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SourceUpload = "upload"
	SourceEmbed  = "embed"
	SourceClip   = "clip"
)

type Video struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	CategoryID      *int64    `json:"category_id"`
	CategoryName    string    `json:"category_name,omitempty"`
	CategorySlug    string    `json:"category_slug,omitempty"`
	SourceType      string    `json:"source_type"`
	FilePath        string    `json:"-"`
	EmbedURL        string    `json:"embed_url,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	ThumbnailPath   string    `json:"-"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	DurationSeconds float64   `json:"duration"`
	Views           int64     `json:"views"`
	Tags            []Tag     `json:"tags"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasFile reports whether the video is served from local storage.
func (v *Video) HasFile() bool {
	return v.FilePath != ""
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Tag struct {
	ID         int64  `json:"id,omitempty"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	VideoCount int    `json:"video_count,omitempty"`
}

// ListFilter narrows ListVideos. Zero values mean no filter.
type ListFilter struct {
	CategorySlug string
	TagSlug      string
	Search       string
	Limit        int
	Offset       int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Normalize clamps paging to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// NewID returns a short URL-safe video id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
	".m4v":  true,
}

// IsVideoFile reports whether filename carries a supported video extension.
func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
