package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/david/opportunity-scout/internal/ai"
	"github.com/david/opportunity-scout/internal/models"
)

// ImportedDraft describes one draft written by a manual import.
type ImportedDraft struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	SourceURL   string   `json:"source_url"`
	Inserted    bool     `json:"inserted"`
	GateReasons []string `json:"gate_reasons"`
}

// ImportResult is returned by ImportURL.
type ImportResult struct {
	URL             string          `json:"url"`
	Drafts          []ImportedDraft `json:"drafts"`
	ExtractionError string          `json:"extraction_error,omitempty"`
}

// ImportURL stages every candidate found on rawURL as a pending draft. The
// gate is evaluated but not enforced: its reasons are stored on the draft
// for the reviewer. When extraction fails a single draft carrying the
// error is written so the admin can fill it in by hand.
func (o *Orchestrator) ImportURL(ctx context.Context, rawURL, agentName string) (*ImportResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid import url %q", rawURL)
	}
	profile, ok := o.Agents.Agent(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agentName)
	}

	text, err := o.Fetcher.FetchText(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{URL: rawURL, Drafts: []ImportedDraft{}}

	var candidates []models.ScannedOpportunity
	if o.Extractor == nil {
		err = ai.ErrConfiguration
	} else {
		candidates, err = o.Extractor.Extract(ctx, text, rawURL, o.Agents.Scope(profile))
	}
	if err != nil {
		if errors.Is(err, ai.ErrConfiguration) {
			return nil, err
		}
		log.Printf("[import] extraction failed for %s: %v", rawURL, err)
		result.ExtractionError = err.Error()
		msg := err.Error()
		draft := &models.Draft{
			ID:              uuid.New(),
			Title:           u.Hostname(),
			Category:        string(models.CategoryOther),
			SourceURL:       rawURL,
			Status:          models.DraftPending,
			ExtractionModel: o.Options.ExtractionModel,
			ExtractionError: &msg,
		}
		inserted, err := o.Drafts.UpsertDraft(ctx, draft)
		if err != nil {
			return nil, &PersistenceError{Op: "draft upsert", Err: err}
		}
		result.Drafts = append(result.Drafts, ImportedDraft{ID: draft.ID.String(), Title: draft.Title, SourceURL: rawURL, Inserted: inserted, GateReasons: []string{}})
		return result, nil
	}

	for _, c := range candidates {
		verdict := o.Gate.Evaluate(c)
		draft := DraftFromCandidate(c, rawURL, o.Options.ExtractionModel)
		draft.GateReasons = verdict.Reasons
		inserted, err := o.Drafts.UpsertDraft(ctx, draft)
		if err != nil {
			return result, &PersistenceError{Op: "draft upsert", Err: err}
		}
		result.Drafts = append(result.Drafts, ImportedDraft{
			ID:          draft.ID.String(),
			Title:       draft.Title,
			SourceURL:   draft.SourceURL,
			Inserted:    inserted,
			GateReasons: verdict.Reasons,
		})
	}
	log.Printf("[import] %s: %d candidates staged", rawURL, len(result.Drafts))
	return result, nil
}
