package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/david/opportunity-scout/internal/models"
)

// PromotedSourcePriority is assigned to discovered URLs that produced a draft.
const PromotedSourcePriority = 100

// ListActiveSources returns active sources in rotation order: lowest
// priority first, then least recently processed (never processed first).
// shardCount <= 1 disables sharding; otherwise only ids where
// id % shardCount == shard are returned.
func (s *Store) ListActiveSources(ctx context.Context, shard, shardCount, limit int) ([]models.Source, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, source_url, label, active, priority, last_processed_at, created_at
		FROM opportunity_sources
		WHERE active`
	args := []any{}
	argIdx := 1
	if shardCount > 1 {
		query += fmt.Sprintf(" AND id %% $%d = $%d", argIdx, argIdx+1)
		args = append(args, shardCount, shard)
		argIdx += 2
	}
	query += fmt.Sprintf(" ORDER BY priority ASC, last_processed_at ASC NULLS FIRST, id ASC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.ID, &src.SourceURL, &src.Label, &src.Active, &src.Priority, &src.LastProcessedAt, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// RegisterSource adds sourceURL as an active source. Existing rows are kept
// as they are; created reports whether a row was added.
func (s *Store) RegisterSource(ctx context.Context, sourceURL, label string, priority int) (created bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO opportunity_sources (source_url, label, priority)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_url) DO NOTHING`, sourceURL, label, priority)
	if err != nil {
		return false, fmt.Errorf("register source: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetSourceActive toggles a registered source.
func (s *Store) SetSourceActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, "UPDATE opportunity_sources SET active = $2 WHERE id = $1", id, active)
	if err != nil {
		return fmt.Errorf("set source active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimSource leases a registered source for ttl so that an overlapping run
// skips it. It returns false when another run holds an unexpired lease.
func (s *Store) ClaimSource(ctx context.Context, sourceURL string, ttl time.Duration) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		UPDATE opportunity_sources
		SET processing_until = NOW() + make_interval(secs => $2)
		WHERE source_url = $1 AND (processing_until IS NULL OR processing_until < NOW())
		RETURNING id`, sourceURL, ttl.Seconds()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim source: %w", err)
	}
	return true, nil
}

// TouchSource refreshes last_processed_at and releases any lease. Unknown
// URLs are ignored.
func (s *Store) TouchSource(ctx context.Context, sourceURL string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE opportunity_sources
		SET last_processed_at = NOW(), processing_until = NULL
		WHERE source_url = $1`, sourceURL); err != nil {
		return fmt.Errorf("touch source: %w", err)
	}
	return nil
}

// ListSources returns every registered source for the admin view.
func (s *Store) ListSources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_url, label, active, priority, last_processed_at, created_at
		FROM opportunity_sources
		ORDER BY active DESC, priority ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	sources := []models.Source{}
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.ID, &src.SourceURL, &src.Label, &src.Active, &src.Priority, &src.LastProcessedAt, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}
