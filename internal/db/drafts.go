package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/opportunity-scout/internal/models"
)

const draftCols = `id, title, category, institution, region,
	COALESCE(to_char(deadline, 'YYYY-MM-DD'), ''), summary, description, eligibility, funding,
	tags, source_url, logo_url, status, extraction_model, extraction_error, gate_reasons,
	approved_by, approved_at, rejected_at, created_at, updated_at`

func scanDraft(scan func(dest ...any) error) (models.Draft, error) {
	var d models.Draft
	var status string
	var description, eligibility, funding, logoURL *string

	err := scan(
		&d.ID, &d.Title, &d.Category, &d.Institution, &d.Region,
		&d.Deadline, &d.Summary, &description, &eligibility, &funding,
		&d.Tags, &d.SourceURL, &logoURL, &status, &d.ExtractionModel, &d.ExtractionError, &d.GateReasons,
		&d.ApprovedBy, &d.ApprovedAt, &d.RejectedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return d, err
	}

	d.Status = models.DraftStatus(status)
	d.Description = deref(description)
	d.Eligibility = deref(eligibility)
	d.Funding = deref(funding)
	d.LogoURL = deref(logoURL)
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.GateReasons == nil {
		d.GateReasons = []string{}
	}
	return d, nil
}

// UpsertDraft stages d keyed by source_url. A pending draft with the same
// source_url is overwritten; approved and rejected drafts are left untouched.
// inserted reports whether a new row was created.
func (s *Store) UpsertDraft(ctx context.Context, d *models.Draft) (inserted bool, err error) {
	if strings.TrimSpace(d.SourceURL) == "" {
		return false, errors.New("upsert draft: source_url is required")
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.GateReasons == nil {
		d.GateReasons = []string{}
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO opportunity_drafts (
			id, title, category, institution, region, deadline, summary, description, eligibility,
			funding, tags, source_url, logo_url, status, extraction_model, extraction_error,
			gate_reasons, embedding, normalized_source_url, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, NULLIF($6, '')::date, $7, $8, $9,
			$10, $11, $12, $13, 'pending', $14, $15,
			$16, $17, $18, NOW(), NOW()
		)
		ON CONFLICT (source_url) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			institution = EXCLUDED.institution,
			region = EXCLUDED.region,
			deadline = EXCLUDED.deadline,
			summary = EXCLUDED.summary,
			description = EXCLUDED.description,
			eligibility = EXCLUDED.eligibility,
			funding = EXCLUDED.funding,
			tags = EXCLUDED.tags,
			logo_url = EXCLUDED.logo_url,
			extraction_model = EXCLUDED.extraction_model,
			extraction_error = EXCLUDED.extraction_error,
			gate_reasons = EXCLUDED.gate_reasons,
			embedding = COALESCE(EXCLUDED.embedding, opportunity_drafts.embedding),
			normalized_source_url = EXCLUDED.normalized_source_url,
			updated_at = NOW()
		WHERE opportunity_drafts.status = 'pending'
		RETURNING id, (xmax = 0)`,
		d.ID, d.Title, d.Category, d.Institution, d.Region, d.Deadline, d.Summary,
		nullable(d.Description), nullable(d.Eligibility), nullable(d.Funding), d.Tags, d.SourceURL,
		nullable(d.LogoURL), d.ExtractionModel, d.ExtractionError, d.GateReasons, vectorArg(d.Embedding),
		models.NormalizeSourceURL(d.SourceURL),
	).Scan(&id, &inserted)

	if errors.Is(err, pgx.ErrNoRows) {
		// Row exists but is no longer pending.
		if err := s.pool.QueryRow(ctx, "SELECT id FROM opportunity_drafts WHERE source_url = $1", d.SourceURL).Scan(&id); err != nil {
			return false, fmt.Errorf("upsert draft: %w", err)
		}
		d.ID = id
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert draft: %w", err)
	}
	d.ID = id
	d.Status = models.DraftPending
	return inserted, nil
}

func (s *Store) GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	return s.getDraftWhere(ctx, "id = $1", id)
}

func (s *Store) GetDraftBySourceURL(ctx context.Context, sourceURL string) (*models.Draft, error) {
	return s.getDraftWhere(ctx, "source_url = $1", sourceURL)
}

func (s *Store) getDraftWhere(ctx context.Context, cond string, arg any) (*models.Draft, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM opportunity_drafts WHERE %s", draftCols, cond), arg)
	d, err := scanDraft(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	return &d, nil
}

// ListDrafts returns drafts newest first. An empty status lists every draft.
func (s *Store) ListDrafts(ctx context.Context, status string, limit, offset int) ([]models.Draft, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s FROM opportunity_drafts", draftCols)
	args := []any{}
	argIdx := 1
	if status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	drafts := []models.Draft{}
	for rows.Next() {
		d, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// ApproveDraft publishes opp unless its source_url is already published, then
// marks the draft approved. Both writes commit together. created reports
// whether a new opportunity row was inserted.
func (s *Store) ApproveDraft(ctx context.Context, draftID uuid.UUID, opp *models.Opportunity, approver string) (created bool, err error) {
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		created, err = insertOpportunity(ctx, tx, opp)
		if err != nil {
			return err
		}
		if created {
			if _, err := tx.Exec(ctx, `
				UPDATE opportunities o SET embedding = d.embedding
				FROM opportunity_drafts d
				WHERE o.id = $1 AND d.id = $2 AND o.embedding IS NULL`, opp.ID, draftID); err != nil {
				return fmt.Errorf("copy embedding: %w", err)
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE opportunity_drafts
			SET status = 'approved', approved_by = $2, approved_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status <> 'rejected'`, draftID, approver)
		if err != nil {
			return fmt.Errorf("mark approved: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	return created, err
}

// RejectDraft marks a pending draft rejected.
func (s *Store) RejectDraft(ctx context.Context, draftID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunity_drafts
		SET status = 'rejected', rejected_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, draftID)
	if err != nil {
		return fmt.Errorf("reject draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DuplicateMatch names the corpus record a candidate collided with.
type DuplicateMatch struct {
	Table string `json:"table"` // "opportunities" or "opportunity_drafts"
	Field string `json:"field"` // "source_url", "title" or "embedding"
	ID    string `json:"id"`
}

// FindDuplicate looks for a published or staged record whose
// normalized_source_url equals normalizedURL (as produced by
// models.NormalizeSourceURL), then for one whose title matches
// case-insensitively. A nil match means no duplicate.
func (s *Store) FindDuplicate(ctx context.Context, normalizedURL, title string) (*DuplicateMatch, error) {
	normalizedURL = strings.ToLower(strings.TrimSpace(normalizedURL))
	title = strings.ToLower(strings.TrimSpace(title))

	type lookup struct {
		table, field, cond string
		arg               string
	}
	lookups := []lookup{
		{"opportunities", "source_url", "normalized_source_url = $1", normalizedURL},
		{"opportunity_drafts", "source_url", "normalized_source_url = $1", normalizedURL},
		{"opportunities", "title", "lower(title) = $1", title},
		{"opportunity_drafts", "title", "lower(title) = $1", title},
	}

	for _, p := range lookups {
		if p.arg == "" {
			continue
		}
		var id uuid.UUID
		err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT id FROM %s WHERE %s LIMIT 1", p.table, p.cond), p.arg).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("duplicate lookup on %s.%s: %w", p.table, p.field, err)
		}
		return &DuplicateMatch{Table: p.table, Field: p.field, ID: id.String()}, nil
	}
	return nil, nil
}

// BackfillNormalizedSourceURLs fills normalized_source_url for rows written
// before the column existed. It returns how many rows were updated.
func (s *Store) BackfillNormalizedSourceURLs(ctx context.Context) (int, error) {
	total := 0
	for _, table := range []string{"opportunities", "opportunity_drafts"} {
		rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT id, source_url FROM %s WHERE normalized_source_url IS NULL", table))
		if err != nil {
			return total, fmt.Errorf("backfill %s: %w", table, err)
		}
		type pending struct {
			id  uuid.UUID
			key string
		}
		var todo []pending
		for rows.Next() {
			var id uuid.UUID
			var sourceURL string
			if err := rows.Scan(&id, &sourceURL); err != nil {
				rows.Close()
				return total, fmt.Errorf("backfill %s: %w", table, err)
			}
			todo = append(todo, pending{id, models.NormalizeSourceURL(sourceURL)})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return total, fmt.Errorf("backfill %s: %w", table, err)
		}

		for _, p := range todo {
			if _, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET normalized_source_url = $2 WHERE id = $1", table), p.id, p.key); err != nil {
				return total, fmt.Errorf("backfill %s %s: %w", table, p.id, err)
			}
			total++
		}
	}
	return total, nil
}

// FindNearestTitle returns the closest published or staged record by cosine
// distance of title embeddings, or nil when nothing has an embedding or the
// vector does not have EmbeddingDimensions entries.
func (s *Store) FindNearestTitle(ctx context.Context, embedding []float32) (*DuplicateMatch, float64, error) {
	if !fitsColumn(embedding) {
		return nil, 0, nil
	}
	var table string
	var id uuid.UUID
	var distance float64
	err := s.pool.QueryRow(ctx, `
		SELECT tbl, id, dist FROM (
			SELECT 'opportunities' AS tbl, id, embedding <=> $1 AS dist FROM opportunities WHERE embedding IS NOT NULL
			UNION ALL
			SELECT 'opportunity_drafts' AS tbl, id, embedding <=> $1 AS dist FROM opportunity_drafts WHERE embedding IS NOT NULL
		) candidates
		ORDER BY dist ASC
		LIMIT 1`, vectorArg(embedding)).Scan(&table, &id, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("nearest title: %w", err)
	}
	return &DuplicateMatch{Table: table, Field: "embedding", ID: id.String()}, distance, nil
}
