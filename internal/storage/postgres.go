package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"github.com/deusflow/sportswire/internal/news"
)

const storiesTable = "processed_stories"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var storyColumns = []string{
	"id", "guid", "title", "description", "link", "published_at",
	"source_name", "source_priority", "source_category", "language",
	"urgency_score", "category", "route", "rewrites", "video_job_id",
	"fetched_at", "processed_at",
}

// PostgresStoryLog stores processed stories in PostgreSQL. Rows beyond the
// cap are pruned on insert, oldest first.
type PostgresStoryLog struct {
	db     *sql.DB
	limit  int
	logger *slog.Logger
}

// NewPostgresStoryLog connects, pings and ensures the schema exists.
func NewPostgresStoryLog(ctx context.Context, dsn string, limit int, logger *slog.Logger) (*PostgresStoryLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if limit <= 0 {
		limit = DefaultStoryLogCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	pl := &PostgresStoryLog{db: db, limit: limit, logger: logger}

	if err := pl.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("postgres story log connected")
	return pl, nil
}

func (pl *PostgresStoryLog) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS processed_stories (
		id VARCHAR(64) PRIMARY KEY,
		guid TEXT,
		title TEXT NOT NULL,
		description TEXT,
		link TEXT,
		published_at TIMESTAMPTZ NOT NULL,
		source_name VARCHAR(100),
		source_priority INTEGER,
		source_category VARCHAR(50),
		language VARCHAR(16),
		urgency_score DOUBLE PRECISION NOT NULL,
		category VARCHAR(32),
		route VARCHAR(16),
		rewrites JSONB,
		video_job_id TEXT,
		fetched_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_processed_stories_fetched_at ON processed_stories(fetched_at);
	`

	if _, err := pl.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func upsertStoryQuery(s news.Story) (string, []any, error) {
	rewrites, err := json.Marshal(s.Rewrites)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal rewrites: %w", err)
	}

	return psql.Insert(storiesTable).
		Columns(storyColumns...).
		Values(
			s.ID, s.GUID, s.Title, s.Description, s.Link, s.PublishedAt,
			s.SourceName, s.SourcePriority, s.SourceCategory, s.Language,
			s.UrgencyScore, string(s.Category), string(s.Route), rewrites, s.VideoJobID,
			s.FetchedAt, s.ProcessedAt,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			route = EXCLUDED.route,
			rewrites = EXCLUDED.rewrites,
			video_job_id = EXCLUDED.video_job_id,
			processed_at = EXCLUDED.processed_at`).
		ToSql()
}

func pruneQuery(limit int) (string, []any, error) {
	keep := psql.Select("id").
		From(storiesTable).
		OrderBy("fetched_at DESC").
		Limit(uint64(limit))

	keepSQL, keepArgs, err := keep.ToSql()
	if err != nil {
		return "", nil, err
	}

	return psql.Delete(storiesTable).
		Where("id NOT IN ("+keepSQL+")", keepArgs...).
		ToSql()
}

// Append upserts the story and prunes rows beyond the cap.
func (pl *PostgresStoryLog) Append(ctx context.Context, story news.Story) error {
	query, args, err := upsertStoryQuery(story)
	if err != nil {
		return err
	}
	if _, err := pl.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to store story %s: %w", story.ID, err)
	}

	query, args, err = pruneQuery(pl.limit)
	if err != nil {
		return err
	}
	res, err := pl.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to prune story log: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		pl.logger.Debug("pruned story log", "rows", n)
	}
	return nil
}

// Update loads the story, applies fn and writes it back.
func (pl *PostgresStoryLog) Update(ctx context.Context, id string, fn func(*news.Story)) error {
	story, err := pl.Get(ctx, id)
	if err != nil {
		return err
	}
	fn(&story)

	query, args, err := upsertStoryQuery(story)
	if err != nil {
		return err
	}
	if _, err := pl.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update story %s: %w", id, err)
	}
	return nil
}

func (pl *PostgresStoryLog) Get(ctx context.Context, id string) (news.Story, error) {
	query, args, err := psql.Select(storyColumns...).
		From(storiesTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return news.Story{}, err
	}

	story, err := scanStory(pl.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return news.Story{}, fmt.Errorf("story %s: %w", id, ErrNotFound)
	}
	return story, err
}

// Recent returns up to n stories, newest first.
func (pl *PostgresStoryLog) Recent(ctx context.Context, n int) ([]news.Story, error) {
	if n <= 0 {
		n = pl.limit
	}

	query, args, err := psql.Select(storyColumns...).
		From(storiesTable).
		OrderBy("fetched_at DESC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := pl.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent stories: %w", err)
	}
	defer rows.Close()

	var out []news.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			pl.logger.Warn("error scanning story row", "error", err)
			continue
		}
		out = append(out, story)
	}
	return out, rows.Err()
}

func (pl *PostgresStoryLog) Close() error {
	if pl.db != nil {
		return pl.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (news.Story, error) {
	var (
		s         news.Story
		guid      sql.NullString
		desc      sql.NullString
		link      sql.NullString
		srcName   sql.NullString
		priority  sql.NullInt64
		srcCat    sql.NullString
		lang      sql.NullString
		category  sql.NullString
		route     sql.NullString
		rewrites  []byte
		videoJob  sql.NullString
		processed sql.NullTime
	)

	err := row.Scan(
		&s.ID, &guid, &s.Title, &desc, &link, &s.PublishedAt,
		&srcName, &priority, &srcCat, &lang,
		&s.UrgencyScore, &category, &route, &rewrites, &videoJob,
		&s.FetchedAt, &processed,
	)
	if err != nil {
		return news.Story{}, err
	}

	s.GUID = guid.String
	s.Description = desc.String
	s.Link = link.String
	s.SourceName = srcName.String
	s.SourcePriority = int(priority.Int64)
	s.SourceCategory = srcCat.String
	s.Language = lang.String
	s.Category = news.Category(category.String)
	s.Route = news.Route(route.String)
	s.VideoJobID = videoJob.String
	s.Scored = true
	if processed.Valid {
		t := processed.Time
		s.ProcessedAt = &t
	}
	if len(rewrites) > 0 {
		if err := json.Unmarshal(rewrites, &s.Rewrites); err != nil {
			return news.Story{}, fmt.Errorf("failed to decode rewrites: %w", err)
		}
	}
	return s, nil
}
