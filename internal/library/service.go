package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cliplink/cliplink/internal/logging"
	"github.com/cliplink/cliplink/internal/pipeline"
	"github.com/cliplink/cliplink/internal/timecode"
)

const configInstanceID = "instance_id"

// Pipeline produces the media files behind clip and upload records.
type Pipeline interface {
	CreateClip(ctx context.Context, req pipeline.Request) (*pipeline.Artifact, error)
	ProcessUpload(ctx context.Context, id, inputPath string) (*pipeline.Artifact, error)
}

// ThumbnailFetcher returns a local poster image for an embedded video, or
// "" when none is available.
type ThumbnailFetcher interface {
	Fetch(ctx context.Context, sourceURL, id string) string
}

type ClipInput struct {
	SourceURL       string
	Start           timecode.Value
	DurationSeconds float64
	Title           string
	Description     string
	CategoryID      *int64
	Tags            []string
	Strategy        string
}

type UploadInput struct {
	Title       string
	Description string
	CategoryID  *int64
	Tags        []string
	Filename    string
	Body        io.Reader
}

type EmbedInput struct {
	Title       string
	Description string
	CategoryID  *int64
	Tags        []string
	EmbedURL    string
	SourceURL   string // page the poster image is looked up from; defaults to EmbedURL
}

type Service struct {
	repo       Repository
	pipeline   Pipeline
	thumbs     ThumbnailFetcher
	uploadsDir string
	logger     *slog.Logger
}

func NewService(repo Repository, p Pipeline, thumbs ThumbnailFetcher, uploadsDir string, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		pipeline:   p,
		thumbs:     thumbs,
		uploadsDir: uploadsDir,
		logger:     logging.WithComponent(logging.OrDiscard(logger), "library"),
	}
}

// CreateClip runs the clip pipeline and records the result. The record is
// written only after the pipeline succeeds; if the write fails the produced
// files are removed.
func (s *Service) CreateClip(ctx context.Context, in ClipInput) (*Video, error) {
	title := SanitizeText(in.Title, maxTitleLen, false)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}

	id := NewID()
	art, err := s.pipeline.CreateClip(ctx, pipeline.Request{
		SourceURL:       strings.TrimSpace(in.SourceURL),
		Start:           in.Start,
		DurationSeconds: in.DurationSeconds,
		ClipID:          id,
		Strategy:        in.Strategy,
	})
	if err != nil {
		return nil, err
	}

	v := &Video{
		ID:              id,
		Title:           title,
		Description:     SanitizeText(in.Description, maxDescriptionLen, true),
		CategoryID:      in.CategoryID,
		SourceType:      SourceClip,
		FilePath:        art.FilePath,
		SourceURL:       strings.TrimSpace(in.SourceURL),
		ThumbnailPath:   art.ThumbnailPath,
		Width:           art.Width,
		Height:          art.Height,
		DurationSeconds: art.DurationSeconds,
		Tags:            tagsFrom(in.Tags),
	}
	return s.publish(ctx, v, art)
}

// Upload stores body, runs the fixed-preset transcode and records the
// result.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*Video, error) {
	if in.Body == nil {
		return nil, ErrMissingSource
	}
	title := SanitizeText(in.Title, maxTitleLen, false)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Filename != "" && !IsVideoFile(in.Filename) {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, filepath.Ext(in.Filename))
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}

	id := NewID()
	ext := strings.ToLower(filepath.Ext(in.Filename))
	if ext == "" {
		ext = ".mp4"
	}
	staged := filepath.Join(s.uploadsDir, id+"-original"+ext)
	if err := writeFile(staged, in.Body); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	art, err := s.pipeline.ProcessUpload(ctx, id, staged)
	if err != nil {
		os.Remove(staged)
		return nil, err
	}

	v := &Video{
		ID:              id,
		Title:           title,
		Description:     SanitizeText(in.Description, maxDescriptionLen, true),
		CategoryID:      in.CategoryID,
		SourceType:      SourceUpload,
		FilePath:        art.FilePath,
		ThumbnailPath:   art.ThumbnailPath,
		Width:           art.Width,
		Height:          art.Height,
		DurationSeconds: art.DurationSeconds,
		Tags:            tagsFrom(in.Tags),
	}
	return s.publish(ctx, v, art)
}

// AddEmbed records a pass-through video hosted elsewhere. A poster image
// is fetched best-effort.
func (s *Service) AddEmbed(ctx context.Context, in EmbedInput) (*Video, error) {
	embedURL := strings.TrimSpace(in.EmbedURL)
	if embedURL == "" {
		return nil, ErrMissingSource
	}
	if u, err := url.Parse(embedURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: embed url must be an absolute http(s) URL", ErrInvalidInput)
	}
	title := SanitizeText(in.Title, maxTitleLen, false)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}

	id := NewID()
	sourceURL := strings.TrimSpace(in.SourceURL)
	if sourceURL == "" {
		sourceURL = embedURL
	}

	var thumb string
	if s.thumbs != nil {
		thumb = s.thumbs.Fetch(ctx, sourceURL, id)
	}

	v := &Video{
		ID:            id,
		Title:         title,
		Description:   SanitizeText(in.Description, maxDescriptionLen, true),
		CategoryID:    in.CategoryID,
		SourceType:    SourceEmbed,
		EmbedURL:      embedURL,
		ThumbnailPath: thumb,
		Width:         pipeline.DefaultWidth,
		Height:        pipeline.DefaultHeight,
		Tags:          tagsFrom(in.Tags),
	}
	if in.SourceURL != "" {
		v.SourceURL = sourceURL
	}

	var art *pipeline.Artifact
	if thumb != "" {
		art = &pipeline.Artifact{ThumbnailPath: thumb}
	}
	return s.publish(ctx, v, art)
}

func (s *Service) publish(ctx context.Context, v *Video, art *pipeline.Artifact) (*Video, error) {
	if err := s.repo.CreateVideo(ctx, v); err != nil {
		if art != nil {
			if rerr := removeFiles(art.FilePath, art.ThumbnailPath); rerr != nil {
				s.logger.Warn("failed to remove orphaned artifact", "video_id", v.ID, "error", rerr)
			}
		}
		return nil, fmt.Errorf("failed to save video: %w", err)
	}

	s.logger.Info("video created",
		"video_id", v.ID,
		"source_type", v.SourceType,
		"thumbnail", v.ThumbnailPath != "",
	)
	// The record is committed; a caller that went away must not turn that
	// into a failed response.
	return s.GetVideo(context.WithoutCancel(ctx), v.ID)
}

func (s *Service) checkCategory(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	c, err := s.repo.GetCategory(ctx, *id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: %d", ErrInvalidCategory, *id)
	}
	return nil
}

func (s *Service) GetVideo(ctx context.Context, id string) (*Video, error) {
	v, err := s.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *Service) ListVideos(ctx context.Context, filter ListFilter) ([]*Video, error) {
	return s.repo.ListVideos(ctx, filter)
}

// Delete removes the record, then the files it owns.
func (s *Service) Delete(ctx context.Context, id string) error {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteVideo(ctx, id); err != nil {
		return err
	}
	if err := removeFiles(v.FilePath, v.ThumbnailPath); err != nil {
		s.logger.Warn("failed to remove video files", "video_id", id, "error", err)
	}
	s.logger.Info("video deleted", "video_id", id)
	return nil
}

// RecordView increments the view counter and returns the new total.
func (s *Service) RecordView(ctx context.Context, id string) (int64, error) {
	return s.repo.IncrementViews(ctx, id)
}

// ResolveFile returns the record and local media path for playback.
func (s *Service) ResolveFile(ctx context.Context, id string) (*Video, string, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if v.FilePath == "" {
		return v, "", ErrFileMissing
	}
	return v, v.FilePath, nil
}

// ResolveThumbnail returns the local poster image path for id.
func (s *Service) ResolveThumbnail(ctx context.Context, id string) (string, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return "", err
	}
	if v.ThumbnailPath == "" {
		return "", ErrFileMissing
	}
	return v.ThumbnailPath, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]*Category, error) {
	return s.repo.ListCategories(ctx)
}

// GetCategory returns the category with slug and its videos.
func (s *Service) GetCategory(ctx context.Context, slug string, filter ListFilter) (*Category, []*Video, error) {
	c, err := s.repo.GetCategoryBySlug(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	if c == nil {
		return nil, nil, ErrNotFound
	}
	filter.CategorySlug = c.Slug
	videos, err := s.repo.ListVideos(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	return c, videos, nil
}

func (s *Service) ListTags(ctx context.Context) ([]*Tag, error) {
	return s.repo.ListTags(ctx)
}

// InstanceID returns the identifier persisted for this data directory,
// creating it on first call.
func (s *Service) InstanceID(ctx context.Context) (string, error) {
	id, err := s.repo.GetConfig(ctx, configInstanceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := s.repo.SetConfig(ctx, configInstanceID, id); err != nil {
		return "", err
	}
	return id, nil
}

func tagsFrom(names []string) []Tag {
	var tags []Tag
	seen := make(map[string]bool)
	for _, n := range names {
		name := SanitizeText(n, maxTagLen, false)
		slug := Slugify(name)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		tags = append(tags, Tag{Name: name, Slug: slug})
	}
	return tags
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func removeFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
