// Package postgres provides the Postgres-backed pipeline.Store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements pipeline.Store on Postgres.
type Store struct {
	db DB
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithDB constructs a store from an existing pool (primarily for testing).
func NewWithDB(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// EnsureSchema creates tables and indexes that do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateDiscoveryRun inserts a new run.
func (s *Store) CreateDiscoveryRun(ctx context.Context, run pipeline.DiscoveryRun) error {
	sources, err := marshalJSON(run.Sources, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO discovery_runs (id, sources, status, started_at)
VALUES ($1, $2, $3, $4)`, run.ID, sources, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert discovery run: %w", err)
	}
	return nil
}

// CompleteDiscoveryRun records a run's outcome.
func (s *Store) CompleteDiscoveryRun(ctx context.Context, run pipeline.DiscoveryRun) error {
	tag, err := s.db.Exec(ctx, `
UPDATE discovery_runs
SET status = $1, products_found = $2, products_new = $3, error = $4, completed_at = $5
WHERE id = $6`,
		string(run.Status), run.ProductsFound, run.ProductsNew, nullString(run.Error), run.CompletedAt, run.ID)
	if err != nil {
		return fmt.Errorf("complete discovery run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("discovery run %s: %w", run.ID, pipeline.ErrNotFound)
	}
	return nil
}

// ListDiscoveryRuns returns the newest runs first.
func (s *Store) ListDiscoveryRuns(ctx context.Context, limit int) ([]pipeline.DiscoveryRun, error) {
	rows, err := s.db.Query(ctx, `
SELECT id::text, sources, status, products_found, products_new, COALESCE(error, ''), started_at, completed_at
FROM discovery_runs
ORDER BY started_at DESC
LIMIT $1`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list discovery runs: %w", err)
	}
	defer rows.Close()

	runs := []pipeline.DiscoveryRun{}
	for rows.Next() {
		var (
			run       pipeline.DiscoveryRun
			sources   []byte
			status    string
			completed pgtype.Timestamptz
		)
		if err := rows.Scan(&run.ID, &sources, &status, &run.ProductsFound, &run.ProductsNew,
			&run.Error, &run.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan discovery run: %w", err)
		}
		if err := unmarshalJSON(sources, &run.Sources); err != nil {
			return nil, err
		}
		run.Status = pipeline.RunStatus(status)
		run.CompletedAt = timePtr(completed)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discovery runs: %w", err)
	}
	return runs, nil
}

const productColumns = `id::text, name, url, source, COALESCE(description, ''), status, metadata, discovered_at, updated_at`

// InsertProductIfAbsent inserts p unless a product with the same normalized URL exists.
func (s *Store) InsertProductIfAbsent(ctx context.Context, p pipeline.Product) (pipeline.Product, bool, error) {
	metadata, err := marshalJSON(p.Metadata, "")
	if err != nil {
		return pipeline.Product{}, false, err
	}
	var id string
	err = s.db.QueryRow(ctx, `
INSERT INTO products (id, name, url, source, description, status, metadata, discovered_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT ((lower(rtrim(url, '/')))) DO NOTHING
RETURNING id::text`,
		p.ID, p.Name, p.URL, string(p.Source), nullString(p.Description), string(p.Status),
		metadata, p.DiscoveredAt, p.UpdatedAt).Scan(&id)
	switch {
	case err == nil:
		return p, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return pipeline.Product{}, false, fmt.Errorf("insert product: %w", err)
	}

	existing, err := scanProduct(s.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE lower(rtrim(url, '/')) = lower(rtrim($1, '/'))`, p.URL))
	if err != nil {
		return pipeline.Product{}, false, fmt.Errorf("load existing product: %w", err)
	}
	return existing, false, nil
}

// GetProduct fetches a product by ID.
func (s *Store) GetProduct(ctx context.Context, id string) (pipeline.Product, error) {
	p, err := scanProduct(s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return pipeline.Product{}, fmt.Errorf("product %s: %w", id, err)
	}
	return p, nil
}

// ListProducts returns the most recently discovered products first.
func (s *Store) ListProducts(ctx context.Context, limit int) ([]pipeline.Product, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY discovered_at DESC LIMIT $1`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []pipeline.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// UpdateProductStatus sets a product's status.
func (s *Store) UpdateProductStatus(ctx context.Context, id string, status pipeline.ProductStatus, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE products SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), at, id)
	if err != nil {
		return fmt.Errorf("update product status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", id, pipeline.ErrNotFound)
	}
	return nil
}

// AddScreenshot records a capture. Re-capturing the same page type is a no-op.
func (s *Store) AddScreenshot(ctx context.Context, shot pipeline.Screenshot) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO screenshots (id, product_id, url, page_url, type, width, height, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (product_id, type) DO NOTHING`,
		shot.ID, shot.ProductID, shot.URL, shot.PageURL, string(shot.Type), shot.Width, shot.Height, shot.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert screenshot: %w", err)
	}
	return nil
}

// ListScreenshots returns a product's screenshots oldest first.
func (s *Store) ListScreenshots(ctx context.Context, productID string) ([]pipeline.Screenshot, error) {
	rows, err := s.db.Query(ctx, `
SELECT id::text, product_id::text, url, page_url, type, width, height, created_at
FROM screenshots WHERE product_id = $1 ORDER BY created_at`, productID)
	if err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}
	defer rows.Close()

	shots := []pipeline.Screenshot{}
	for rows.Next() {
		var (
			shot     pipeline.Screenshot
			pageType string
		)
		if err := rows.Scan(&shot.ID, &shot.ProductID, &shot.URL, &shot.PageURL, &pageType,
			&shot.Width, &shot.Height, &shot.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan screenshot: %w", err)
		}
		shot.Type = pipeline.PageType(pageType)
		shots = append(shots, shot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate screenshots: %w", err)
	}
	return shots, nil
}

// AddPageExtraction records extracted text. Re-extracting the same page type is a no-op.
func (s *Store) AddPageExtraction(ctx context.Context, e pipeline.PageExtraction) error {
	headings, err := marshalJSON(e.Headings, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO page_extractions (id, product_id, page_url, page_type, title, headings, body_text, load_time_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (product_id, page_type) DO NOTHING`,
		e.ID, e.ProductID, e.PageURL, string(e.PageType), e.Title, headings, e.BodyText, e.LoadTimeMs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert page extraction: %w", err)
	}
	return nil
}

// ListPageExtractions returns a product's extractions oldest first.
func (s *Store) ListPageExtractions(ctx context.Context, productID string) ([]pipeline.PageExtraction, error) {
	rows, err := s.db.Query(ctx, `
SELECT id::text, product_id::text, page_url, page_type, COALESCE(title, ''), headings,
       COALESCE(body_text, ''), COALESCE(load_time_ms, 0), created_at
FROM page_extractions WHERE product_id = $1 ORDER BY created_at`, productID)
	if err != nil {
		return nil, fmt.Errorf("list page extractions: %w", err)
	}
	defer rows.Close()

	out := []pipeline.PageExtraction{}
	for rows.Next() {
		var (
			e        pipeline.PageExtraction
			pageType string
			headings []byte
			loadMs   int
		)
		if err := rows.Scan(&e.ID, &e.ProductID, &e.PageURL, &pageType, &e.Title, &headings,
			&e.BodyText, &loadMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page extraction: %w", err)
		}
		if err := unmarshalJSON(headings, &e.Headings); err != nil {
			return nil, err
		}
		e.PageType = pipeline.PageType(pageType)
		e.LoadTimeMs = int64(loadMs)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page extractions: %w", err)
	}
	return out, nil
}

// GetSummary returns the product's summary.
func (s *Store) GetSummary(ctx context.Context, productID string) (pipeline.Summary, error) {
	var (
		sum                  pipeline.Summary
		features, pros, cons []byte
	)
	err := s.db.QueryRow(ctx, `
SELECT id::text, product_id::text, content, COALESCE(target_audience, ''), key_features, pros, cons, model, created_at
FROM summaries WHERE product_id = $1`, productID).Scan(
		&sum.ID, &sum.ProductID, &sum.Content, &sum.TargetAudience, &features, &pros, &cons, &sum.Model, &sum.CreatedAt)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("summary for %s: %w", productID, notFound(err))
	}
	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{{features, &sum.KeyFeatures}, {pros, &sum.Pros}, {cons, &sum.Cons}} {
		if err := unmarshalJSON(pair.raw, pair.dst); err != nil {
			return pipeline.Summary{}, err
		}
	}
	return sum, nil
}

// ReplaceSummary upserts the single summary row for the product.
func (s *Store) ReplaceSummary(ctx context.Context, sum pipeline.Summary) error {
	features, err := marshalJSON(sum.KeyFeatures, "[]")
	if err != nil {
		return err
	}
	pros, err := marshalJSON(sum.Pros, "[]")
	if err != nil {
		return err
	}
	cons, err := marshalJSON(sum.Cons, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO summaries (id, product_id, content, target_audience, key_features, pros, cons, model, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (product_id) DO UPDATE SET
    id = EXCLUDED.id, content = EXCLUDED.content, target_audience = EXCLUDED.target_audience,
    key_features = EXCLUDED.key_features, pros = EXCLUDED.pros, cons = EXCLUDED.cons,
    model = EXCLUDED.model, created_at = EXCLUDED.created_at`,
		sum.ID, sum.ProductID, sum.Content, sum.TargetAudience, features, pros, cons, sum.Model, sum.CreatedAt)
	if err != nil {
		return fmt.Errorf("replace summary: %w", err)
	}
	return nil
}

// GetScore returns the product's score.
func (s *Store) GetScore(ctx context.Context, productID string) (pipeline.Score, error) {
	var score pipeline.Score
	err := s.db.QueryRow(ctx, `
SELECT id::text, product_id::text, overall, ux_score, performance_score, feature_score, value_score,
       COALESCE(reasoning, ''), model, created_at
FROM scores WHERE product_id = $1`, productID).Scan(
		&score.ID, &score.ProductID, &score.Overall, &score.UX, &score.Performance, &score.Features,
		&score.Value, &score.Reasoning, &score.Model, &score.CreatedAt)
	if err != nil {
		return pipeline.Score{}, fmt.Errorf("score for %s: %w", productID, notFound(err))
	}
	return score, nil
}

// ReplaceScore upserts the single score row for the product.
func (s *Store) ReplaceScore(ctx context.Context, score pipeline.Score) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO scores (id, product_id, overall, ux_score, performance_score, feature_score, value_score,
                    reasoning, model, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (product_id) DO UPDATE SET
    id = EXCLUDED.id, overall = EXCLUDED.overall, ux_score = EXCLUDED.ux_score,
    performance_score = EXCLUDED.performance_score, feature_score = EXCLUDED.feature_score,
    value_score = EXCLUDED.value_score, reasoning = EXCLUDED.reasoning, model = EXCLUDED.model,
    created_at = EXCLUDED.created_at`,
		score.ID, score.ProductID, score.Overall, score.UX, score.Performance, score.Features, score.Value,
		score.Reasoning, score.Model, score.CreatedAt)
	if err != nil {
		return fmt.Errorf("replace score: %w", err)
	}
	return nil
}

const videoColumns = `v.id::text, v.product_id::text, v.status, v.format, v.storage_key, v.thumbnail_key,
       v.duration_sec, v.metadata, v.created_at, v.updated_at`

// CreateVideo inserts a new video.
func (s *Store) CreateVideo(ctx context.Context, v pipeline.Video) error {
	metadata, err := marshalJSON(v.Metadata, "")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO videos (id, product_id, status, format, storage_key, thumbnail_key, duration_sec, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.ProductID, string(v.Status), string(v.Format), v.StorageKey, v.ThumbnailKey, v.DurationSec,
		metadata, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// GetVideo fetches a video by ID.
func (s *Store) GetVideo(ctx context.Context, id string) (pipeline.Video, error) {
	row := s.db.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos v WHERE v.id = $1`, id)
	v, err := scanVideo(row)
	if err != nil {
		return pipeline.Video{}, fmt.Errorf("video %s: %w", id, err)
	}
	return v, nil
}

// UpdateVideo writes a video's mutable fields.
func (s *Store) UpdateVideo(ctx context.Context, v pipeline.Video) error {
	metadata, err := marshalJSON(v.Metadata, "")
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
UPDATE videos
SET status = $1, storage_key = $2, thumbnail_key = $3, duration_sec = $4, metadata = $5, updated_at = $6
WHERE id = $7`,
		string(v.Status), v.StorageKey, v.ThumbnailKey, v.DurationSec, metadata, v.UpdatedAt, v.ID)
	if err != nil {
		return fmt.Errorf("update video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video %s: %w", v.ID, pipeline.ErrNotFound)
	}
	return nil
}

// ListVideos returns matching videos newest first, joined with product names.
func (s *Store) ListVideos(ctx context.Context, filter pipeline.VideoFilter) ([]pipeline.VideoListing, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+videoColumns+`, p.name
FROM videos v JOIN products p ON p.id = v.product_id
WHERE ($1 = '' OR v.status = $1) AND ($2 = '' OR v.product_id::text = $2)
ORDER BY v.created_at DESC`, string(filter.Status), filter.ProductID)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	out := []pipeline.VideoListing{}
	for rows.Next() {
		var listing pipeline.VideoListing
		v, err := scanVideo(rows, &listing.ProductName)
		if err != nil {
			return nil, err
		}
		listing.Video = v
		out = append(out, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}
	return out, nil
}

// CreatePublication inserts a publication attempt.
func (s *Store) CreatePublication(ctx context.Context, p pipeline.Publication) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO publications (id, video_id, platform, status, external_id, external_url, error, published_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.VideoID, string(p.Platform), string(p.Status), p.ExternalID, p.ExternalURL, p.Error,
		p.PublishedAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert publication: %w", err)
	}
	return nil
}

// UpdatePublication writes a publication's outcome.
func (s *Store) UpdatePublication(ctx context.Context, p pipeline.Publication) error {
	tag, err := s.db.Exec(ctx, `
UPDATE publications
SET status = $1, external_id = $2, external_url = $3, error = $4, published_at = $5
WHERE id = $6`,
		string(p.Status), p.ExternalID, p.ExternalURL, p.Error, p.PublishedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update publication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("publication %s: %w", p.ID, pipeline.ErrNotFound)
	}
	return nil
}

// ListPublications returns a video's publications in creation order.
func (s *Store) ListPublications(ctx context.Context, videoID string) ([]pipeline.Publication, error) {
	rows, err := s.db.Query(ctx, `
SELECT id::text, video_id::text, platform, status, external_id, external_url, error, published_at, created_at
FROM publications WHERE video_id = $1 ORDER BY created_at`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	out := []pipeline.Publication{}
	for rows.Next() {
		var (
			p                pipeline.Publication
			platform, status string
			published        pgtype.Timestamptz
		)
		if err := rows.Scan(&p.ID, &p.VideoID, &platform, &status, &p.ExternalID, &p.ExternalURL,
			&p.Error, &published, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		p.Platform = pipeline.Platform(platform)
		p.Status = pipeline.PublicationStatus(status)
		p.PublishedAt = timePtr(published)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publications: %w", err)
	}
	return out, nil
}

// Stats rolls up products and videos by status.
func (s *Store) Stats(ctx context.Context, recentRuns int) (pipeline.Stats, error) {
	stats := pipeline.Stats{
		ProductsByStatus: make(map[pipeline.ProductStatus]int),
		VideosByStatus:   make(map[pipeline.VideoStatus]int),
	}
	productCounts, err := s.countByStatus(ctx, `SELECT status, count(*) FROM products GROUP BY status`)
	if err != nil {
		return pipeline.Stats{}, err
	}
	for status, n := range productCounts {
		stats.ProductsByStatus[pipeline.ProductStatus(status)] = n
		stats.TotalProducts += n
	}
	videoCounts, err := s.countByStatus(ctx, `SELECT status, count(*) FROM videos GROUP BY status`)
	if err != nil {
		return pipeline.Stats{}, err
	}
	for status, n := range videoCounts {
		stats.VideosByStatus[pipeline.VideoStatus(status)] = n
	}
	stats.RecentDiscoveryRuns, err = s.ListDiscoveryRuns(ctx, recentRuns)
	if err != nil {
		return pipeline.Stats{}, err
	}
	return stats, nil
}

func (s *Store) countByStatus(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return out, nil
}

func scanProduct(row pgx.Row) (pipeline.Product, error) {
	var (
		p              pipeline.Product
		source, status string
		metadata       []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.URL, &source, &p.Description, &status, &metadata, &p.DiscoveredAt, &p.UpdatedAt)
	if err != nil {
		return pipeline.Product{}, notFound(err)
	}
	if err := unmarshalJSON(metadata, &p.Metadata); err != nil {
		return pipeline.Product{}, err
	}
	p.Source = pipeline.Source(source)
	p.Status = pipeline.ProductStatus(status)
	return p, nil
}

func scanVideo(row pgx.Row, extra ...any) (pipeline.Video, error) {
	var (
		v              pipeline.Video
		status, format string
		metadata       []byte
	)
	dest := append([]any{&v.ID, &v.ProductID, &status, &format, &v.StorageKey, &v.ThumbnailKey,
		&v.DurationSec, &metadata, &v.CreatedAt, &v.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return pipeline.Video{}, notFound(err)
	}
	if err := unmarshalJSON(metadata, &v.Metadata); err != nil {
		return pipeline.Video{}, err
	}
	v.Status = pipeline.VideoStatus(status)
	v.Format = pipeline.Format(format)
	return v, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.ErrNotFound
	}
	return err
}

// marshalJSON encodes v for a JSONB column. Nil values become empty, which is
// stored as NULL unless a literal default is given.
func marshalJSON(v any, empty string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	if string(data) == "null" {
		if empty == "" {
			return nil, nil
		}
		return []byte(empty), nil
	}
	return data, nil
}

func unmarshalJSON(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

// limitOrAll maps a non-positive limit to Postgres' LIMIT ALL.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
