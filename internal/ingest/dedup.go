package ingest

import (
	"context"
	"log"
	"strings"

	"github.com/david/opportunity-scout/internal/ai"
	"github.com/david/opportunity-scout/internal/db"
	"github.com/david/opportunity-scout/internal/models"
)

// DefaultNearDuplicateDistance is the cosine distance under which two
// title embeddings are treated as the same opportunity.
const DefaultNearDuplicateDistance = 0.08

// DuplicateStore is the lookup surface the checker needs.
type DuplicateStore interface {
	FindDuplicate(ctx context.Context, normalizedURL, title string) (*db.DuplicateMatch, error)
	FindNearestTitle(ctx context.Context, embedding []float32) (*db.DuplicateMatch, float64, error)
}

// DedupResult carries the verdict and, when computed, the title embedding
// so callers can store it with the draft.
type DedupResult struct {
	Duplicate bool
	Match     *db.DuplicateMatch
	Embedding []float32
}

// Deduper decides whether a candidate already exists.
type Deduper interface {
	Check(ctx context.Context, c models.ScannedOpportunity) (DedupResult, error)
}

// DuplicateChecker matches on normalized source URL, then exact title, then
// optionally on title embedding distance.
type DuplicateChecker struct {
	Store       DuplicateStore
	Embedder    ai.Embedder
	MaxDistance float64
}

func NewDuplicateChecker(store DuplicateStore, embedder ai.Embedder) *DuplicateChecker {
	return &DuplicateChecker{Store: store, Embedder: embedder, MaxDistance: DefaultNearDuplicateDistance}
}

func (d *DuplicateChecker) Check(ctx context.Context, c models.ScannedOpportunity) (DedupResult, error) {
	match, err := d.Store.FindDuplicate(ctx, models.NormalizeSourceURL(c.SourceURL), normalizeSpace(c.Title))
	if err != nil {
		return DedupResult{}, err
	}
	if match != nil {
		return DedupResult{Duplicate: true, Match: match}, nil
	}

	if d.Embedder == nil || strings.TrimSpace(c.Title) == "" {
		return DedupResult{}, nil
	}
	vec, err := d.Embedder.GenerateEmbedding(ctx, c.Title)
	if err != nil {
		log.Printf("[dedup] embedding unavailable for %q: %v", c.Title, err)
		return DedupResult{}, nil
	}
	near, dist, err := d.Store.FindNearestTitle(ctx, vec)
	if err != nil {
		return DedupResult{}, err
	}
	maxDist := d.MaxDistance
	if maxDist <= 0 {
		maxDist = DefaultNearDuplicateDistance
	}
	if near != nil && dist < maxDist {
		return DedupResult{Duplicate: true, Match: near}, nil
	}
	return DedupResult{Embedding: vec}, nil
}
