// Package review moves staged drafts through pending -> approved | rejected.
package review

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/david/opportunity-scout/internal/classify"
	"github.com/david/opportunity-scout/internal/db"
	"github.com/david/opportunity-scout/internal/models"
)

var (
	ErrDraftNotFound     = errors.New("draft not found")
	ErrInvalidTransition = errors.New("draft is not in a state that allows this decision")
	ErrAdminRequired     = errors.New("an authenticated admin identity is required")
)

// DraftStore is the subset of db.Store the review workflow needs.
type DraftStore interface {
	GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error)
	GetDraftBySourceURL(ctx context.Context, sourceURL string) (*models.Draft, error)
	ApproveDraft(ctx context.Context, draftID uuid.UUID, opp *models.Opportunity, approver string) (bool, error)
	RejectDraft(ctx context.Context, draftID uuid.UUID) error
}

// DraftRef identifies a draft by id or, when the id is empty or unknown, by
// its source URL.
type DraftRef struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
}

// Outcome reports the effect of a decision.
type Outcome struct {
	Draft       *models.Draft       `json:"draft"`
	Opportunity *models.Opportunity `json:"opportunity,omitempty"`
	Published   bool                `json:"published"`
	NoOp        bool                `json:"no_op"`
}

type Service struct {
	Store DraftStore

	strict *bluemonday.Policy
	ugc    *bluemonday.Policy
}

func NewService(store DraftStore) *Service {
	return &Service{
		Store:  store,
		strict: bluemonday.StrictPolicy(),
		ugc:    bluemonday.UGCPolicy(),
	}
}

// Lookup resolves ref to a draft.
func (s *Service) Lookup(ctx context.Context, ref DraftRef) (*models.Draft, error) {
	if id, err := uuid.Parse(strings.TrimSpace(ref.ID)); err == nil {
		d, err := s.Store.GetDraft(ctx, id)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	if u := strings.TrimSpace(ref.SourceURL); u != "" {
		d, err := s.Store.GetDraftBySourceURL(ctx, u)
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrDraftNotFound
		}
		return d, err
	}
	return nil, ErrDraftNotFound
}

// Approve publishes the draft unless an opportunity with the same source
// URL already exists, then marks the draft approved by approver. Approving
// an approved draft is a no-op.
func (s *Service) Approve(ctx context.Context, ref DraftRef, approver string) (*Outcome, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return nil, ErrAdminRequired
	}
	d, err := s.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch d.Status {
	case models.DraftApproved:
		return &Outcome{Draft: d, NoOp: true}, nil
	case models.DraftRejected:
		return nil, fmt.Errorf("%w: draft %s is rejected", ErrInvalidTransition, d.ID)
	}

	opp := s.Materialize(d)
	created, err := s.Store.ApproveDraft(ctx, d.ID, opp, approver)
	if errors.Is(err, db.ErrNotFound) {
		// Rejected concurrently.
		return nil, fmt.Errorf("%w: draft %s changed state", ErrInvalidTransition, d.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("approve draft %s: %w", d.ID, err)
	}

	d.Status = models.DraftApproved
	d.ApprovedBy = &approver
	log.Printf("[review] draft %s approved by %s (published=%t)", d.ID, approver, created)

	out := &Outcome{Draft: d, Published: created}
	if created {
		out.Opportunity = opp
	}
	return out, nil
}

// Reject marks a pending draft rejected. Rejecting a rejected draft is a
// no-op; an approved draft cannot be rejected.
func (s *Service) Reject(ctx context.Context, ref DraftRef, reviewer string) (*Outcome, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, ErrAdminRequired
	}
	d, err := s.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch d.Status {
	case models.DraftRejected:
		return &Outcome{Draft: d, NoOp: true}, nil
	case models.DraftApproved:
		return nil, fmt.Errorf("%w: draft %s is approved", ErrInvalidTransition, d.ID)
	}

	if err := s.Store.RejectDraft(ctx, d.ID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: draft %s changed state", ErrInvalidTransition, d.ID)
		}
		return nil, fmt.Errorf("reject draft %s: %w", d.ID, err)
	}
	d.Status = models.DraftRejected
	log.Printf("[review] draft %s rejected by %s", d.ID, reviewer)
	return &Outcome{Draft: d}, nil
}

// Materialize builds the opportunity an approval would publish. The store
// assigns a unique slug if the derived one is taken.
func (s *Service) Materialize(d *models.Draft) *models.Opportunity {
	title := s.plain(d.Title)
	return &models.Opportunity{
		ID:          uuid.New(),
		Title:       title,
		Slug:        models.Slugify(title),
		Category:    classify.NormalizeCategory(d.Category),
		Institution: s.plain(d.Institution),
		Region:      s.plain(d.Region),
		Deadline:    d.Deadline,
		Summary:     s.plain(d.Summary),
		Description: s.ugc.Sanitize(d.Description),
		Eligibility: s.ugc.Sanitize(d.Eligibility),
		Funding:     s.plain(d.Funding),
		Tags:        tagsOrEmpty(d.Tags),
		SourceURL:   d.SourceURL,
		LogoURL:     d.LogoURL,
		Featured:    false,
	}
}

// plain strips all markup. bluemonday escapes what it keeps, so entities are
// decoded back for storage as plain text.
func (s *Service) plain(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(v)))
}

func tagsOrEmpty(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
