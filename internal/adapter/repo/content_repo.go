package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"comicforge/internal/domain"
)

// Embedder produces the vector used for similarity ordering.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ContentRepositoryPG implements the content-lookup port on PostgreSQL with
// the pgvector extension. Similarity mode orders by cosine distance over
// stored lesson embeddings; keyword mode falls back to ILIKE matching.
type ContentRepositoryPG struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

// NewContentRepository creates a content repository backed by PostgreSQL.
func NewContentRepository(pool *pgxpool.Pool, embedder Embedder) *ContentRepositoryPG {
	return &ContentRepositoryPG{pool: pool, embedder: embedder}
}

// EnsureSchema creates the lesson_content table when absent.
func (r *ContentRepositoryPG) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		`CREATE TABLE IF NOT EXISTS lesson_content (
	id BIGSERIAL PRIMARY KEY,
	topic TEXT NOT NULL,
	body TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'comic',
	age_group TEXT NOT NULL DEFAULT 'child',
	embedding vector(768),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	}
	for _, stmt := range ddl {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure content schema: %w", err)
		}
	}
	return nil
}

// Search runs one finite, restartable lookup. Each call stands alone; there
// is no cursor to resume.
func (r *ContentRepositoryPG) Search(ctx context.Context, query string, mode domain.SearchMode, topK int) ([]domain.ContentMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	switch mode {
	case domain.SearchModeSimilarity:
		return r.searchSimilarity(ctx, query, topK)
	case domain.SearchModeKeyword:
		return r.searchKeyword(ctx, query, topK)
	default:
		return nil, fmt.Errorf("unsupported search mode %q", mode)
	}
}

func (r *ContentRepositoryPG) searchSimilarity(ctx context.Context, query string, topK int) ([]domain.ContentMatch, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	sql := `
SELECT id, topic, body, content_type, age_group,
       embedding <=> $1::vector AS distance
FROM lesson_content
WHERE embedding IS NOT NULL
ORDER BY distance ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, sql, vectorLiteral(vec), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.ContentMatch
	for rows.Next() {
		var m domain.ContentMatch
		if err := rows.Scan(&m.ID, &m.Topic, &m.Body, &m.ContentType, &m.AgeGroup, &m.Score); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *ContentRepositoryPG) searchKeyword(ctx context.Context, query string, topK int) ([]domain.ContentMatch, error) {
	sql := `
SELECT id, topic, body, content_type, age_group, 0::float8 AS distance
FROM lesson_content
WHERE topic ILIKE '%' || $1 || '%' OR body ILIKE '%' || $1 || '%'
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, sql, query, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.ContentMatch
	for rows.Next() {
		var m domain.ContentMatch
		if err := rows.Scan(&m.ID, &m.Topic, &m.Body, &m.ContentType, &m.AgeGroup, &m.Score); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// StoreLesson records generated lesson material with its embedding so later
// jobs on similar topics find it. Embedding failures degrade to a row
// without a vector rather than losing the content.
func (r *ContentRepositoryPG) StoreLesson(ctx context.Context, topic, body, contentType, ageGroup string) error {
	vec, err := r.embedder.Embed(ctx, topic+" "+body)
	if err != nil {
		_, insErr := r.pool.Exec(ctx, `
INSERT INTO lesson_content (topic, body, content_type, age_group)
VALUES ($1, $2, $3, $4);
`, topic, body, contentType, ageGroup)
		return insErr
	}

	_, err = r.pool.Exec(ctx, `
INSERT INTO lesson_content (topic, body, content_type, age_group, embedding)
VALUES ($1, $2, $3, $4, $5::vector);
`, topic, body, contentType, ageGroup, vectorLiteral(vec))
	return err
}

// SuccessfulPatterns summarizes recent completed generations for prompt
// seeding.
func (r *ContentRepositoryPG) SuccessfulPatterns(ctx context.Context, limit int) ([]domain.GenerationPattern, error) {
	if limit <= 0 {
		limit = 5
	}
	sql := `
SELECT params->>'topic',
       COALESCE(params->>'style', ''),
       COALESCE(params->>'language', ''),
       EXTRACT(EPOCH FROM (updated_at - created_at))::int
FROM jobs
WHERE status = 'completed'
ORDER BY updated_at DESC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []domain.GenerationPattern
	for rows.Next() {
		var p domain.GenerationPattern
		if err := rows.Scan(&p.Topic, &p.Style, &p.Language, &p.DurationSeconds); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// vectorLiteral renders a float slice in pgvector's text input format.
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
