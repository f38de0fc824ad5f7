package review

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/david/opportunity-scout/internal/db"
	"github.com/david/opportunity-scout/internal/models"
)

type fakeStore struct {
	drafts    map[uuid.UUID]*models.Draft
	published map[string]*models.Opportunity
	approvals int
	rejects   int
}

func newFakeStore(drafts ...*models.Draft) *fakeStore {
	f := &fakeStore{drafts: map[uuid.UUID]*models.Draft{}, published: map[string]*models.Opportunity{}}
	for _, d := range drafts {
		f.drafts[d.ID] = d
	}
	return f
}

func (f *fakeStore) GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	d, ok := f.drafts[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) GetDraftBySourceURL(ctx context.Context, sourceURL string) (*models.Draft, error) {
	for _, d := range f.drafts {
		if d.SourceURL == sourceURL {
			cp := *d
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) ApproveDraft(ctx context.Context, draftID uuid.UUID, opp *models.Opportunity, approver string) (bool, error) {
	f.approvals++
	d, ok := f.drafts[draftID]
	if !ok || d.Status == models.DraftRejected {
		return false, db.ErrNotFound
	}
	created := false
	if _, exists := f.published[opp.SourceURL]; !exists {
		f.published[opp.SourceURL] = opp
		created = true
	}
	d.Status = models.DraftApproved
	d.ApprovedBy = &approver
	return created, nil
}

func (f *fakeStore) RejectDraft(ctx context.Context, draftID uuid.UUID) error {
	f.rejects++
	d, ok := f.drafts[draftID]
	if !ok || d.Status != models.DraftPending {
		return db.ErrNotFound
	}
	d.Status = models.DraftRejected
	return nil
}

func pendingDraft(sourceURL string) *models.Draft {
	return &models.Draft{
		ID:          uuid.New(),
		Title:       "Women in Tech Grant 2025!",
		Category:    "Internship",
		Institution: "Tech Fund",
		Region:      "Kenya",
		Deadline:    "2026-05-01",
		Summary:     "<b>Funding</b> for founders &amp; builders",
		Description: `<p>Apply now</p><script>alert(1)</script>`,
		SourceURL:   sourceURL,
		Status:      models.DraftPending,
	}
}

func TestApprovePublishesOpportunity(t *testing.T) {
	d := pendingDraft("https://fund.org/wit")
	store := newFakeStore(d)
	svc := NewService(store)

	out, err := svc.Approve(context.Background(), DraftRef{ID: d.ID.String()}, "admin@example.org")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !out.Published || out.Opportunity == nil {
		t.Fatalf("expected a published opportunity, got %+v", out)
	}
	o := out.Opportunity
	if o.Slug != "women-in-tech-grant-2025" {
		t.Fatalf("slug = %q", o.Slug)
	}
	if o.Category != models.CategoryJob {
		t.Fatalf("category = %q, want job", o.Category)
	}
	if o.Summary != "Funding for founders & builders" {
		t.Fatalf("summary not reduced to plain text: %q", o.Summary)
	}
	if o.Description != "<p>Apply now</p>" {
		t.Fatalf("description not sanitized: %q", o.Description)
	}
	if o.Tags == nil || len(o.Tags) != 0 || o.Featured {
		t.Fatalf("tags/featured not defaulted: %+v", o)
	}
	if got := store.drafts[d.ID]; got.Status != models.DraftApproved || got.ApprovedBy == nil || *got.ApprovedBy != "admin@example.org" {
		t.Fatalf("draft not marked approved: %+v", got)
	}
}

func TestApproveIsIdempotent(t *testing.T) {
	d := pendingDraft("https://fund.org/wit")
	store := newFakeStore(d)
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.Approve(ctx, DraftRef{ID: d.ID.String()}, "admin"); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	out, err := svc.Approve(ctx, DraftRef{ID: d.ID.String()}, "admin")
	if err != nil {
		t.Fatalf("second Approve: %v", err)
	}
	if !out.NoOp || out.Published {
		t.Fatalf("second approval should be a no-op, got %+v", out)
	}
	if len(store.published) != 1 || store.approvals != 1 {
		t.Fatalf("expected exactly one publish, got %d opportunities / %d approvals", len(store.published), store.approvals)
	}
}

func TestApproveWhenAlreadyPublished(t *testing.T) {
	d := pendingDraft("https://fund.org/wit")
	store := newFakeStore(d)
	store.published[d.SourceURL] = &models.Opportunity{SourceURL: d.SourceURL}

	out, err := NewService(store).Approve(context.Background(), DraftRef{ID: d.ID.String()}, "admin")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if out.Published || out.Opportunity != nil {
		t.Fatalf("no new opportunity expected, got %+v", out)
	}
	if store.drafts[d.ID].Status != models.DraftApproved {
		t.Fatalf("draft should still be approved")
	}
	if len(store.published) != 1 {
		t.Fatalf("published corpus should be unchanged")
	}
}

func TestLookupFallsBackToSourceURL(t *testing.T) {
	d := pendingDraft("https://fund.org/wit")
	svc := NewService(newFakeStore(d))
	ctx := context.Background()

	tests := []struct {
		name string
		ref  DraftRef
		want error
	}{
		{"by id", DraftRef{ID: d.ID.String()}, nil},
		{"unknown id falls back", DraftRef{ID: uuid.NewString(), SourceURL: d.SourceURL}, nil},
		{"malformed id falls back", DraftRef{ID: "nope", SourceURL: d.SourceURL}, nil},
		{"unknown url", DraftRef{SourceURL: "https://other.org"}, ErrDraftNotFound},
		{"empty", DraftRef{}, ErrDraftNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Lookup(ctx, tt.ref)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tt.want == nil && got.ID != d.ID {
				t.Fatalf("resolved wrong draft %s", got.ID)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()

	approved := pendingDraft("https://a.org")
	approved.Status = models.DraftApproved
	rejected := pendingDraft("https://b.org")
	rejected.Status = models.DraftRejected
	store := newFakeStore(approved, rejected)
	svc := NewService(store)

	if _, err := svc.Approve(ctx, DraftRef{ID: rejected.ID.String()}, "admin"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approving a rejected draft: got %v", err)
	}
	if _, err := svc.Reject(ctx, DraftRef{ID: approved.ID.String()}, "admin"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rejecting an approved draft: got %v", err)
	}
	out, err := svc.Reject(ctx, DraftRef{ID: rejected.ID.String()}, "admin")
	if err != nil || !out.NoOp {
		t.Fatalf("repeat rejection should be a no-op, got %+v %v", out, err)
	}
	if store.approvals != 0 || store.rejects != 0 {
		t.Fatalf("store should not be written, got %d approvals %d rejects", store.approvals, store.rejects)
	}
}

func TestRejectPending(t *testing.T) {
	d := pendingDraft("https://fund.org/wit")
	store := newFakeStore(d)
	out, err := NewService(store).Reject(context.Background(), DraftRef{SourceURL: d.SourceURL}, "admin")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if out.Draft.Status != models.DraftRejected || store.drafts[d.ID].Status != models.DraftRejected {
		t.Fatalf("draft not rejected")
	}
	if len(store.published) != 0 {
		t.Fatalf("rejection must not publish")
	}
}

func TestDecisionsRequireAdmin(t *testing.T) {
	d := pendingDraft("https://fund.org/wit")
	store := newFakeStore(d)
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.Approve(ctx, DraftRef{ID: d.ID.String()}, " "); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("Approve without identity: %v", err)
	}
	if _, err := svc.Reject(ctx, DraftRef{ID: d.ID.String()}, ""); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("Reject without identity: %v", err)
	}
	if store.drafts[d.ID].Status != models.DraftPending {
		t.Fatalf("draft should be untouched")
	}
}
