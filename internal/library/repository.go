package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Repository interface {
	CreateVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context, filter ListFilter) ([]*Video, error)
	DeleteVideo(ctx context.Context, id string) error
	IncrementViews(ctx context.Context, id string) (int64, error)

	GetCategory(ctx context.Context, id int64) (*Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*Category, error)
	ListCategories(ctx context.Context) ([]*Category, error)

	ListTags(ctx context.Context) ([]*Tag, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const videoColumns = `
	v.id, v.title, v.description, v.category_id, c.name, c.slug, v.source_type,
	v.file_path, v.embed_url, v.source_url, v.thumbnail_path,
	v.width, v.height, v.duration, v.views, v.created_at`

const videoFrom = `
	FROM videos v
	LEFT JOIN categories c ON c.id = v.category_id`

// CreateVideo inserts v and its tags in one transaction. Tags are created on
// first use and matched by slug afterwards.
func (r *SQLiteRepository) CreateVideo(ctx context.Context, v *Video) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO videos (id, title, description, category_id, source_type, file_path, embed_url,
			source_url, thumbnail_path, width, height, duration, views, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Title, v.Description, nullInt64(v.CategoryID), v.SourceType,
		nullString(v.FilePath), nullString(v.EmbedURL), nullString(v.SourceURL), nullString(v.ThumbnailPath),
		v.Width, v.Height, v.DurationSeconds, v.Views, v.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return classify(err)
	}

	for i, tag := range v.Tags {
		if tag.Slug == "" {
			tag.Slug = Slugify(tag.Name)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tags (name, slug) VALUES (?, ?) ON CONFLICT(slug) DO NOTHING",
			tag.Name, tag.Slug); err != nil {
			return fmt.Errorf("failed to create tag %q: %w", tag.Slug, err)
		}
		if err := tx.QueryRowContext(ctx, "SELECT id, name FROM tags WHERE slug = ?", tag.Slug).Scan(&tag.ID, &tag.Name); err != nil {
			return fmt.Errorf("failed to look up tag %q: %w", tag.Slug, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO video_tags (video_id, tag_id) VALUES (?, ?)",
			v.ID, tag.ID); err != nil {
			return fmt.Errorf("failed to tag video: %w", err)
		}
		v.Tags[i] = tag
	}

	return tx.Commit()
}

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+videoColumns+videoFrom+" WHERE v.id = ?", id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tags, err := r.tagsFor(ctx, []*Video{v})
	if err != nil {
		return nil, err
	}
	v.Tags = tags[v.ID]
	if v.Tags == nil {
		v.Tags = []Tag{}
	}
	return v, nil
}

func (r *SQLiteRepository) ListVideos(ctx context.Context, filter ListFilter) ([]*Video, error) {
	filter = filter.Normalize()

	var conds []string
	var args []any
	if filter.CategorySlug != "" {
		conds = append(conds, "c.slug = ?")
		args = append(args, filter.CategorySlug)
	}
	if filter.TagSlug != "" {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM video_tags vt JOIN tags t ON t.id = vt.tag_id
			WHERE vt.video_id = v.id AND t.slug = ?)`)
		args = append(args, filter.TagSlug)
	}
	if filter.Search != "" {
		pattern := "%" + escapeLike(filter.Search) + "%"
		conds = append(conds, `(v.title LIKE ? ESCAPE '\' OR v.description LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	query := "SELECT " + videoColumns + videoFrom
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY v.created_at DESC, v.rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	videos, err := r.queryVideos(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	tags, err := r.tagsFor(ctx, videos)
	if err != nil {
		return nil, err
	}
	for _, v := range videos {
		v.Tags = tags[v.ID]
		if v.Tags == nil {
			v.Tags = []Tag{}
		}
	}
	return videos, nil
}

// queryVideos drains the result set before returning so the single pooled
// connection is free for follow-up queries.
func (r *SQLiteRepository) queryVideos(ctx context.Context, query string, args ...any) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := []*Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLiteRepository) tagsFor(ctx context.Context, videos []*Video) (map[string][]Tag, error) {
	out := make(map[string][]Tag, len(videos))
	if len(videos) == 0 {
		return out, nil
	}

	ids := make([]any, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := r.db.QueryContext(ctx, `
		SELECT vt.video_id, t.id, t.name, t.slug
		FROM video_tags vt JOIN tags t ON t.id = vt.tag_id
		WHERE vt.video_id IN (`+placeholders+`)
		ORDER BY t.name
	`, ids...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var videoID string
		var t Tag
		if err := rows.Scan(&videoID, &t.ID, &t.Name, &t.Slug); err != nil {
			return nil, err
		}
		out[videoID] = append(out[videoID], t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteVideo(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementViews adds one view atomically and returns the new count.
func (r *SQLiteRepository) IncrementViews(ctx context.Context, id string) (int64, error) {
	var views int64
	err := r.db.QueryRowContext(ctx,
		"UPDATE videos SET views = views + 1 WHERE id = ? RETURNING views", id).Scan(&views)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return views, err
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64) (*Category, error) {
	return r.scanCategory(r.db.QueryRowContext(ctx, "SELECT id, name, slug FROM categories WHERE id = ?", id))
}

func (r *SQLiteRepository) GetCategoryBySlug(ctx context.Context, slug string) (*Category, error) {
	return r.scanCategory(r.db.QueryRowContext(ctx, "SELECT id, name, slug FROM categories WHERE slug = ?", slug))
}

func (r *SQLiteRepository) scanCategory(row *sql.Row) (*Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Name, &c.Slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]*Category, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, slug FROM categories ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []*Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug); err != nil {
			return nil, err
		}
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// ListTags returns every tag with the number of videos carrying it, most
// used first.
func (r *SQLiteRepository) ListTags(ctx context.Context) ([]*Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.slug, COUNT(vt.video_id) AS video_count
		FROM tags t
		LEFT JOIN video_tags vt ON vt.tag_id = t.id
		GROUP BY t.id
		ORDER BY video_count DESC, t.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []*Tag{}
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.VideoCount); err != nil {
			return nil, err
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (*Video, error) {
	var v Video
	var categoryID sql.NullInt64
	var categoryName, categorySlug sql.NullString
	var filePath, embedURL, sourceURL, thumbnailPath sql.NullString
	var createdAt string

	err := row.Scan(&v.ID, &v.Title, &v.Description, &categoryID, &categoryName, &categorySlug,
		&v.SourceType, &filePath, &embedURL, &sourceURL, &thumbnailPath,
		&v.Width, &v.Height, &v.DurationSeconds, &v.Views, &createdAt)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		id := categoryID.Int64
		v.CategoryID = &id
	}
	v.CategoryName = categoryName.String
	v.CategorySlug = categorySlug.String
	v.FilePath = filePath.String
	v.EmbedURL = embedURL.String
	v.SourceURL = sourceURL.String
	v.ThumbnailPath = thumbnailPath.String
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

// parseTime accepts both RFC 3339 and the datetime('now') column default.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
