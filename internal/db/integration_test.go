package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/david/opportunity-scout/internal/models"
)

// testStore connects to DATABASE_URL and applies migrations, skipping the
// test when no database is reachable.
func testStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dbURL)
	if err != nil {
		t.Skipf("Database not reachable, skipping integration test: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := ApplyMigrations(ctx, pool); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return NewStore(pool)
}

func cleanupURL(t *testing.T, s *Store, sourceURL string) {
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = s.pool.Exec(ctx, "DELETE FROM opportunity_drafts WHERE source_url = $1", sourceURL)
		_, _ = s.pool.Exec(ctx, "DELETE FROM opportunities WHERE source_url = $1", sourceURL)
	})
}

func TestUpsertDraftIsIdempotentBySourceURL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sourceURL := "https://example.org/calls/" + uuid.NewString()
	cleanupURL(t, s, sourceURL)

	first := &models.Draft{Title: "First Title", Institution: "Org", SourceURL: sourceURL, Deadline: "2030-01-15"}
	inserted, err := s.UpsertDraft(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}

	second := &models.Draft{Title: "Second Title", Institution: "Org", SourceURL: sourceURL}
	inserted, err = s.UpsertDraft(ctx, second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted {
		t.Fatalf("second upsert must update, not insert")
	}

	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunity_drafts WHERE source_url = $1", sourceURL).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one draft, got %d", count)
	}

	got, err := s.GetDraftBySourceURL(ctx, sourceURL)
	if err != nil {
		t.Fatalf("GetDraftBySourceURL: %v", err)
	}
	if got.Title != "Second Title" || got.Deadline != "" || got.ID != first.ID {
		t.Fatalf("draft should reflect latest payload with stable id, got %+v", got)
	}
}

func TestApproveDraftDoesNotDuplicatePublished(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sourceURL := "https://example.org/grants/" + uuid.NewString()
	cleanupURL(t, s, sourceURL)

	draft := &models.Draft{Title: "Water Grant", Institution: "Org", SourceURL: sourceURL, Deadline: "2030-06-01"}
	if _, err := s.UpsertDraft(ctx, draft); err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}

	for i := 0; i < 2; i++ {
		opp := &models.Opportunity{Title: draft.Title, Category: models.CategoryGrant, SourceURL: sourceURL, Deadline: draft.Deadline}
		created, err := s.ApproveDraft(ctx, draft.ID, opp, "admin@example.org")
		if err != nil {
			t.Fatalf("ApproveDraft #%d: %v", i+1, err)
		}
		if created != (i == 0) {
			t.Fatalf("ApproveDraft #%d created=%v", i+1, created)
		}
	}

	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities WHERE source_url = $1", sourceURL).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one published opportunity, got %d", count)
	}

	got, err := s.GetDraft(ctx, draft.ID)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if got.Status != models.DraftApproved || got.ApprovedBy == nil || *got.ApprovedBy != "admin@example.org" {
		t.Fatalf("draft not marked approved: %+v", got)
	}

	// An approved draft is no longer overwritten by a rescan.
	inserted, err := s.UpsertDraft(ctx, &models.Draft{Title: "Changed", SourceURL: sourceURL})
	if err != nil || inserted {
		t.Fatalf("upsert over approved draft: inserted=%v err=%v", inserted, err)
	}
	got, _ = s.GetDraft(ctx, draft.ID)
	if got.Title != "Water Grant" {
		t.Fatalf("approved draft was overwritten: %+v", got)
	}
}

func TestInsertOpportunitySuffixesSlug(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	title := "Slug Collision " + uuid.NewString()[:8]

	var urls []string
	for i := 0; i < 2; i++ {
		u := "https://example.org/slug/" + uuid.NewString()
		cleanupURL(t, s, u)
		urls = append(urls, u)
	}

	a := &models.Opportunity{Title: title, Category: models.CategoryGrant, SourceURL: urls[0]}
	b := &models.Opportunity{Title: title, Category: models.CategoryGrant, SourceURL: urls[1]}
	if err := s.InsertOpportunity(ctx, a); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := s.InsertOpportunity(ctx, b); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if b.Slug != a.Slug+"-2" {
		t.Fatalf("expected %q, got %q", a.Slug+"-2", b.Slug)
	}

	dup := &models.Opportunity{Title: "Other", SourceURL: urls[0]}
	if err := s.InsertOpportunity(ctx, dup); err != ErrDuplicateSourceURL {
		t.Fatalf("expected ErrDuplicateSourceURL, got %v", err)
	}
}

func TestFindDuplicateMatchesEscapedAndRawPaths(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	suffix := uuid.NewString()
	stored := "https://x.org/bourse-études-" + suffix
	cleanupURL(t, s, stored)

	opp := &models.Opportunity{Title: "Bourse " + suffix, Category: models.CategoryScholarship, SourceURL: stored}
	if err := s.InsertOpportunity(ctx, opp); err != nil {
		t.Fatalf("InsertOpportunity: %v", err)
	}

	escaped := "https://x.org/bourse-%C3%A9tudes-" + suffix + "/?utm_source=feed"
	match, err := s.FindDuplicate(ctx, models.NormalizeSourceURL(escaped), "")
	if err != nil {
		t.Fatalf("FindDuplicate: %v", err)
	}
	if match == nil || match.Table != "opportunities" || match.ID != opp.ID.String() {
		t.Fatalf("escaped URL should match the published row, got %+v", match)
	}
}

func TestBackfillNormalizedSourceURLs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sourceURL := "https://example.org/call for proposals/" + uuid.NewString()
	cleanupURL(t, s, sourceURL)

	d := &models.Draft{Title: "Legacy", SourceURL: sourceURL}
	if _, err := s.UpsertDraft(ctx, d); err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}
	if _, err := s.pool.Exec(ctx, "UPDATE opportunity_drafts SET normalized_source_url = NULL WHERE id = $1", d.ID); err != nil {
		t.Fatalf("clear column: %v", err)
	}
	if _, err := s.BackfillNormalizedSourceURLs(ctx); err != nil {
		t.Fatalf("BackfillNormalizedSourceURLs: %v", err)
	}

	var got string
	if err := s.pool.QueryRow(ctx, "SELECT normalized_source_url FROM opportunity_drafts WHERE id = $1", d.ID).Scan(&got); err != nil {
		t.Fatalf("read column: %v", err)
	}
	if got != models.NormalizeSourceURL(sourceURL) {
		t.Fatalf("normalized_source_url = %q, want %q", got, models.NormalizeSourceURL(sourceURL))
	}
}
