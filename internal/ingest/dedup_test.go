package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/david/opportunity-scout/internal/db"
	"github.com/david/opportunity-scout/internal/models"
)

type fakeDuplicateStore struct {
	gotURL, gotTitle string
	match            *db.DuplicateMatch
	near             *db.DuplicateMatch
	distance         float64
	nearCalls        int
	err              error
}

func (f *fakeDuplicateStore) FindDuplicate(ctx context.Context, normalizedURL, title string) (*db.DuplicateMatch, error) {
	f.gotURL, f.gotTitle = normalizedURL, title
	return f.match, f.err
}

func (f *fakeDuplicateStore) FindNearestTitle(ctx context.Context, embedding []float32) (*db.DuplicateMatch, float64, error) {
	f.nearCalls++
	return f.near, f.distance, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func TestDuplicateCheckerNormalizesLookup(t *testing.T) {
	store := &fakeDuplicateStore{}
	checker := NewDuplicateChecker(store, nil)
	res, err := checker.Check(context.Background(), models.ScannedOpportunity{
		Title:     "  Climate   Grant ",
		SourceURL: "https://Fund.org/Grants/?utm_source=x#top",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("no match expected")
	}
	if store.gotURL != "https://fund.org/grants" || store.gotTitle != "Climate Grant" {
		t.Fatalf("lookup not normalized: %q %q", store.gotURL, store.gotTitle)
	}
	if store.nearCalls != 0 {
		t.Fatalf("no embedding lookup without an embedder")
	}
}

func TestDuplicateCheckerExactMatch(t *testing.T) {
	store := &fakeDuplicateStore{match: &db.DuplicateMatch{Table: "opportunity_drafts", Field: "source_url", ID: "1"}}
	res, err := NewDuplicateChecker(store, &fakeEmbedder{vec: []float32{1}}).Check(context.Background(), models.ScannedOpportunity{Title: "x", SourceURL: "https://a.org"})
	if err != nil || !res.Duplicate || res.Match.Table != "opportunity_drafts" {
		t.Fatalf("expected exact match, got %+v %v", res, err)
	}
	if store.nearCalls != 0 {
		t.Fatalf("exact match should short-circuit the embedding lookup")
	}
}

func TestDuplicateCheckerNearTitle(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     bool
	}{
		{"close", 0.03, true},
		{"threshold", DefaultNearDuplicateDistance, false},
		{"far", 0.4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeDuplicateStore{near: &db.DuplicateMatch{Table: "opportunities", Field: "embedding", ID: "9"}, distance: tt.distance}
			res, err := NewDuplicateChecker(store, &fakeEmbedder{vec: []float32{0.1, 0.2}}).Check(context.Background(), models.ScannedOpportunity{Title: "Grant", SourceURL: "https://a.org"})
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if res.Duplicate != tt.want {
				t.Fatalf("Duplicate = %v, want %v", res.Duplicate, tt.want)
			}
			if !tt.want && len(res.Embedding) != 2 {
				t.Fatalf("non-duplicate should carry the embedding for storage")
			}
		})
	}
}

func TestDuplicateCheckerEmbeddingFailureIsSoft(t *testing.T) {
	store := &fakeDuplicateStore{}
	res, err := NewDuplicateChecker(store, &fakeEmbedder{err: errors.New("ollama down")}).Check(context.Background(), models.ScannedOpportunity{Title: "Grant", SourceURL: "https://a.org"})
	if err != nil || res.Duplicate {
		t.Fatalf("embedding failure should not fail the check: %+v %v", res, err)
	}
}

func TestDuplicateCheckerStoreError(t *testing.T) {
	store := &fakeDuplicateStore{err: errors.New("db down")}
	if _, err := NewDuplicateChecker(store, nil).Check(context.Background(), models.ScannedOpportunity{Title: "x"}); err == nil {
		t.Fatalf("store errors must propagate")
	}
}
