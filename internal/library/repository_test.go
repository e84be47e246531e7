package library

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cliplink/cliplink/internal/db"
)

func setupTestDB(t *testing.T) (*db.DB, *SQLiteRepository) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, NewRepository(database.Conn())
}

func categoryID(t *testing.T, repo Repository, slug string) *int64 {
	t.Helper()
	c, err := repo.GetCategoryBySlug(context.Background(), slug)
	if err != nil || c == nil {
		t.Fatalf("category %q: %v", slug, err)
	}
	return &c.ID
}

func TestRepository_CreateAndGetVideo(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	v := &Video{
		ID:              "vid000000001",
		Title:           "Speedrun",
		Description:     "any%",
		CategoryID:      categoryID(t, repo, "gaming"),
		SourceType:      SourceClip,
		FilePath:        "/data/clips/vid000000001.mp4",
		SourceURL:       "https://videos.example.com/watch?v=1",
		Width:           1280,
		Height:          720,
		DurationSeconds: 29.97,
		Tags:            []Tag{{Name: "Retro Games"}, {Name: "wr"}},
	}
	if err := repo.CreateVideo(ctx, v); err != nil {
		t.Fatalf("CreateVideo() error = %v", err)
	}

	got, err := repo.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetVideo() returned nil")
	}
	if got.Title != "Speedrun" || got.SourceType != SourceClip {
		t.Errorf("got %+v", got)
	}
	if got.CategoryName != "Gaming" || got.CategorySlug != "gaming" {
		t.Errorf("category = %q/%q", got.CategoryName, got.CategorySlug)
	}
	if got.ThumbnailPath != "" {
		t.Errorf("ThumbnailPath = %q, want empty", got.ThumbnailPath)
	}
	if got.Width != 1280 || got.Height != 720 || got.DurationSeconds != 29.97 {
		t.Errorf("dimensions = %dx%d %.2fs", got.Width, got.Height, got.DurationSeconds)
	}
	if len(got.Tags) != 2 || got.Tags[0].Slug != "retro-games" || got.Tags[1].Slug != "wr" {
		t.Errorf("Tags = %+v", got.Tags)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestRepository_GetVideo_NotFound(t *testing.T) {
	_, repo := setupTestDB(t)
	got, err := repo.GetVideo(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetVideo() = %+v, want nil", got)
	}
}

func TestRepository_CreateVideo_Constraints(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	base := func() *Video {
		return &Video{ID: "dup", Title: "t", SourceType: SourceUpload, FilePath: "/x.mp4"}
	}
	if err := repo.CreateVideo(ctx, base()); err != nil {
		t.Fatal(err)
	}

	badCategory := int64(9999)
	tests := []struct {
		name string
		v    *Video
		want error
	}{
		{"duplicate id", base(), ErrDuplicateID},
		{"missing category", &Video{ID: "c1", Title: "t", SourceType: SourceUpload, CategoryID: &badCategory}, ErrInvalidCategory},
		{"bad source type", &Video{ID: "s1", Title: "t", SourceType: "stream"}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CreateVideo(ctx, tt.v)
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateVideo() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRepository_ListVideos_Filters(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	music := categoryID(t, repo, "music")
	sports := categoryID(t, repo, "sports")
	now := time.Now().UTC()

	videos := []*Video{
		{ID: "a", Title: "Guitar solo", CategoryID: music, SourceType: SourceUpload, Tags: []Tag{{Name: "live"}}, CreatedAt: now.Add(-3 * time.Minute)},
		{ID: "b", Title: "Drum fill", Description: "100% live", CategoryID: music, SourceType: SourceUpload, CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "c", Title: "Goal", CategoryID: sports, SourceType: SourceEmbed, EmbedURL: "https://e.example.com/1", Tags: []Tag{{Name: "Live"}}, CreatedAt: now.Add(-1 * time.Minute)},
	}
	for _, v := range videos {
		if err := repo.CreateVideo(ctx, v); err != nil {
			t.Fatalf("CreateVideo(%s) error = %v", v.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all newest first", ListFilter{}, []string{"c", "b", "a"}},
		{"category", ListFilter{CategorySlug: "music"}, []string{"b", "a"}},
		{"tag", ListFilter{TagSlug: "live"}, []string{"c", "a"}},
		{"search title", ListFilter{Search: "goal"}, []string{"c"}},
		{"search description", ListFilter{Search: "100%"}, []string{"b"}},
		{"like wildcard escaped", ListFilter{Search: "%"}, []string{"b"}},
		{"category and tag", ListFilter{CategorySlug: "music", TagSlug: "live"}, []string{"a"}},
		{"paging", ListFilter{Limit: 1, Offset: 1}, []string{"b"}},
		{"unknown category", ListFilter{CategorySlug: "nope"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListVideos(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListVideos() error = %v", err)
			}
			ids := []string{}
			for _, v := range got {
				ids = append(ids, v.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", ids, tt.want)
				}
			}
		})
	}
}

func TestRepository_ListVideos_AttachesTags(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	repo.CreateVideo(ctx, &Video{ID: "t1", Title: "one", SourceType: SourceUpload, Tags: []Tag{{Name: "x"}}})
	repo.CreateVideo(ctx, &Video{ID: "t2", Title: "two", SourceType: SourceUpload})

	got, err := repo.ListVideos(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range got {
		if v.Tags == nil {
			t.Errorf("video %s: Tags is nil, want empty slice", v.ID)
		}
		if v.ID == "t1" && (len(v.Tags) != 1 || v.Tags[0].Slug != "x") {
			t.Errorf("video t1 tags = %+v", v.Tags)
		}
	}
}

func TestRepository_IncrementViews(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	if err := repo.CreateVideo(ctx, &Video{ID: "v", Title: "t", SourceType: SourceUpload}); err != nil {
		t.Fatal(err)
	}

	for want := int64(1); want <= 2; want++ {
		got, err := repo.IncrementViews(ctx, "v")
		if err != nil {
			t.Fatalf("IncrementViews() error = %v", err)
		}
		if got != want {
			t.Errorf("views = %d, want %d", got, want)
		}
	}

	if _, err := repo.IncrementViews(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementViews(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRepository_IncrementViews_Concurrent(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	if err := repo.CreateVideo(ctx, &Video{ID: "v", Title: "t", SourceType: SourceUpload}); err != nil {
		t.Fatal(err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.IncrementViews(ctx, "v"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("IncrementViews() error = %v", err)
	}

	v, err := repo.GetVideo(ctx, "v")
	if err != nil {
		t.Fatal(err)
	}
	if v.Views != n {
		t.Errorf("views = %d, want %d", v.Views, n)
	}
}

func TestRepository_DeleteVideo(t *testing.T) {
	database, repo := setupTestDB(t)
	ctx := context.Background()

	repo.CreateVideo(ctx, &Video{ID: "d", Title: "t", SourceType: SourceUpload, Tags: []Tag{{Name: "gone"}}})

	if err := repo.DeleteVideo(ctx, "d"); err != nil {
		t.Fatalf("DeleteVideo() error = %v", err)
	}
	if err := repo.DeleteVideo(ctx, "d"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteVideo() error = %v, want ErrNotFound", err)
	}

	var links int
	database.Conn().QueryRow("SELECT COUNT(*) FROM video_tags WHERE video_id = 'd'").Scan(&links)
	if links != 0 {
		t.Errorf("video_tags rows = %d, want cascade delete", links)
	}
}

func TestRepository_CategoriesAndTags(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	cats, err := repo.ListCategories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 6 || cats[0].Slug != "comedy" {
		t.Errorf("categories = %d, first %q", len(cats), cats[0].Slug)
	}

	c, err := repo.GetCategoryBySlug(ctx, "nope")
	if err != nil || c != nil {
		t.Errorf("GetCategoryBySlug(nope) = %+v, %v", c, err)
	}

	repo.CreateVideo(ctx, &Video{ID: "1", Title: "t", SourceType: SourceUpload, Tags: []Tag{{Name: "a"}, {Name: "b"}}})
	repo.CreateVideo(ctx, &Video{ID: "2", Title: "t", SourceType: SourceUpload, Tags: []Tag{{Name: "B"}}})

	tags, err := repo.ListTags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags = %+v", tags)
	}
	if tags[0].Slug != "b" || tags[0].VideoCount != 2 || tags[0].Name != "b" {
		t.Errorf("first tag = %+v, want b with 2 videos", tags[0])
	}
}

func TestRepository_Config(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	if v, err := repo.GetConfig(ctx, "k"); err != nil || v != "" {
		t.Errorf("GetConfig(unset) = %q, %v", v, err)
	}
	repo.SetConfig(ctx, "k", "1")
	repo.SetConfig(ctx, "k", "2")
	if v, _ := repo.GetConfig(ctx, "k"); v != "2" {
		t.Errorf("GetConfig = %q, want 2", v)
	}
}
