package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/david/opportunity-scout/internal/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateSourceURL = errors.New("an opportunity with this source_url already exists")
)

const maxSlugAttempts = 50

// EmbeddingDimensions is the width of the embedding columns. Vectors of any
// other length (a differently sized EMBED_MODEL) are not stored or compared.
const EmbeddingDimensions = 768

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for packages that keep their own SQL.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ListParams struct {
	Query          string
	QueryEmbedding []float32
	Category       string
	Region         string
	Tags           []string
	IncludeClosed  bool
	SortBy         string // "deadline" (default), "newest", "relevance"
	Limit          int
	Offset         int
}

type ListResult struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

const opportunityCols = `id, title, slug, category, institution, region,
	COALESCE(to_char(deadline, 'YYYY-MM-DD'), ''), summary, description, eligibility, funding,
	tags, source_url, logo_url, featured, date_added`

// qualifiedOpportunityCols is opportunityCols for queries that join other tables.
const qualifiedOpportunityCols = `opportunities.id, opportunities.title, opportunities.slug,
	opportunities.category, opportunities.institution, opportunities.region,
	COALESCE(to_char(opportunities.deadline, 'YYYY-MM-DD'), ''), opportunities.summary,
	opportunities.description, opportunities.eligibility, opportunities.funding,
	opportunities.tags, opportunities.source_url, opportunities.logo_url,
	opportunities.featured, opportunities.date_added`

func scanOpportunity(scan func(dest ...any) error) (models.Opportunity, error) {
	var o models.Opportunity
	var category string
	var description, eligibility, funding, logoURL *string

	err := scan(
		&o.ID, &o.Title, &o.Slug, &category, &o.Institution, &o.Region,
		&o.Deadline, &o.Summary, &description, &eligibility, &funding,
		&o.Tags, &o.SourceURL, &logoURL, &o.Featured, &o.DateAdded,
	)
	if err != nil {
		return o, err
	}

	o.Category = models.Category(category)
	o.Description = deref(description)
	o.Eligibility = deref(eligibility)
	o.Funding = deref(funding)
	o.LogoURL = deref(logoURL)
	if o.Tags == nil {
		o.Tags = []string{}
	}
	return o, nil
}

// buildListWhere returns the WHERE clause, its args and the next placeholder index.
func buildListWhere(params ListParams) (string, []any, int) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if !params.IncludeClosed {
		where += " AND (deadline IS NULL OR deadline >= CURRENT_DATE)"
	}
	if q := strings.TrimSpace(params.Query); q != "" {
		where += fmt.Sprintf(" AND (search_vector @@ plainto_tsquery('english', $%d) OR title ILIKE '%%' || $%d || '%%')", argIdx, argIdx)
		args = append(args, q)
		argIdx++
	}
	if c := strings.TrimSpace(params.Category); c != "" {
		where += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, strings.ToLower(c))
		argIdx++
	}
	if r := strings.TrimSpace(params.Region); r != "" {
		where += fmt.Sprintf(" AND region ILIKE '%%' || $%d || '%%'", argIdx)
		args = append(args, r)
		argIdx++
	}
	if tags := sanitizeStringSlice(params.Tags); len(tags) > 0 {
		where += fmt.Sprintf(" AND tags && $%d", argIdx)
		args = append(args, tags)
		argIdx++
	}
	return where, args, argIdx
}

// ListOpportunities returns published listings, open ones only unless
// IncludeClosed is set. Relevance ordering uses the query embedding when given.
func (s *Store) ListOpportunities(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 20
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	where, args, argIdx := buildListWhere(params)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	selectSQL := fmt.Sprintf("SELECT %s FROM opportunities %s", opportunityCols, where)
	switch params.SortBy {
	case "newest":
		selectSQL += " ORDER BY featured DESC, date_added DESC"
	case "relevance":
		if fitsColumn(params.QueryEmbedding) {
			selectSQL += fmt.Sprintf(`
				ORDER BY
					CASE WHEN embedding IS NULL THEN 1 ELSE 0 END ASC,
					COALESCE(1 - (embedding <=> $%d), -1) DESC,
					date_added DESC`, argIdx)
			args = append(args, pgvector.NewVector(params.QueryEmbedding))
			argIdx++
		} else if params.Query != "" {
			selectSQL += fmt.Sprintf(" ORDER BY ts_rank(search_vector, plainto_tsquery('english', $%d::text)) DESC, date_added DESC", argIdx)
			args = append(args, params.Query)
			argIdx++
		} else {
			selectSQL += " ORDER BY date_added DESC"
		}
	default:
		selectSQL += " ORDER BY featured DESC, deadline ASC NULLS LAST, date_added DESC"
	}

	selectSQL += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	opps := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return &ListResult{
		Opportunities: opps,
		Total:         total,
		Limit:         params.Limit,
		Offset:        params.Offset,
	}, nil
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	return s.getOpportunityWhere(ctx, "id = $1", id)
}

func (s *Store) GetOpportunityBySlug(ctx context.Context, slug string) (*models.Opportunity, error) {
	return s.getOpportunityWhere(ctx, "slug = $1", slug)
}

func (s *Store) GetOpportunityBySourceURL(ctx context.Context, sourceURL string) (*models.Opportunity, error) {
	return s.getOpportunityWhere(ctx, "source_url = $1", sourceURL)
}

func (s *Store) getOpportunityWhere(ctx context.Context, cond string, arg any) (*models.Opportunity, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM opportunities WHERE %s", opportunityCols, cond), arg)
	o, err := scanOpportunity(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get opportunity: %w", err)
	}
	return &o, nil
}

// InsertOpportunity publishes o directly (manual admin entry). The slug is
// derived from the title when empty and suffixed until unique.
func (s *Store) InsertOpportunity(ctx context.Context, o *models.Opportunity) error {
	created, err := insertOpportunity(ctx, s.pool, o)
	if err != nil {
		return err
	}
	if !created {
		return ErrDuplicateSourceURL
	}
	return nil
}

// insertOpportunity returns created=false when source_url is already published.
func insertOpportunity(ctx context.Context, q querier, o *models.Opportunity) (bool, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Tags == nil {
		o.Tags = []string{}
	}
	base := o.Slug
	if base == "" {
		base = models.Slugify(o.Title)
	}

	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		slug := models.SlugCandidate(base, attempt)
		err := q.QueryRow(ctx, `
			INSERT INTO opportunities (
				id, title, slug, category, institution, region, deadline, summary,
				description, eligibility, funding, tags, source_url, logo_url, featured, embedding,
				normalized_source_url
			) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::date, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT DO NOTHING
			RETURNING date_added`,
			o.ID, o.Title, slug, string(o.Category), o.Institution, o.Region, o.Deadline, o.Summary,
			nullable(o.Description), nullable(o.Eligibility), nullable(o.Funding), o.Tags, o.SourceURL,
			nullable(o.LogoURL), o.Featured, vectorArg(o.Embedding), models.NormalizeSourceURL(o.SourceURL),
		).Scan(&o.DateAdded)
		if err == nil {
			o.Slug = slug
			return true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("insert opportunity: %w", err)
		}

		// Conflict: either the source URL is already published or the slug is taken.
		var exists bool
		if err := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM opportunities WHERE source_url = $1)", o.SourceURL).Scan(&exists); err != nil {
			return false, fmt.Errorf("check source_url: %w", err)
		}
		if exists {
			return false, nil
		}
	}
	return false, fmt.Errorf("insert opportunity: no free slug for %q after %d attempts", base, maxSlugAttempts)
}

// Stats is the admin dashboard summary.
type Stats struct {
	Published     int            `json:"published"`
	Open          int            `json:"open"`
	ByCategory    map[string]int `json:"by_category"`
	DraftsPending int            `json:"drafts_pending"`
	ActiveSources int            `json:"active_sources"`
}

func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByCategory: map[string]int{}}

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM opportunities),
			(SELECT COUNT(*) FROM opportunities WHERE deadline IS NULL OR deadline >= CURRENT_DATE),
			(SELECT COUNT(*) FROM opportunity_drafts WHERE status = 'pending'),
			(SELECT COUNT(*) FROM opportunity_sources WHERE active)
	`).Scan(&stats.Published, &stats.Open, &stats.DraftsPending, &stats.ActiveSources)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, "SELECT category, COUNT(*) FROM opportunities GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("stats by category: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("stats by category: %w", err)
		}
		stats.ByCategory[category] = count
	}
	return stats, rows.Err()
}

func sanitizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return values
	}

	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			clean = append(clean, trimmed)
		}
	}

	return clean
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func vectorArg(embedding []float32) any {
	if !fitsColumn(embedding) {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func fitsColumn(embedding []float32) bool {
	return len(embedding) == EmbeddingDimensions
}
