package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/david/opportunity-scout/internal/ai"
	"github.com/david/opportunity-scout/internal/config"
	"github.com/david/opportunity-scout/internal/db"
	"github.com/david/opportunity-scout/internal/models"
)

const (
	OriginRegistered = "registered"
	OriginDiscovered = "discovered"
	OriginFallback   = "fallback"

	// MaxAlertItems is how many new drafts an admin alert lists by name.
	MaxAlertItems = 10

	defaultLeaseTTL = 10 * time.Minute
)

// ErrUnknownAgent is returned when a run names an agent that is not configured.
var ErrUnknownAgent = errors.New("unknown scan agent")

// SourceStore is the registered-source surface used by a run.
type SourceStore interface {
	ListActiveSources(ctx context.Context, shard, shardCount, limit int) ([]models.Source, error)
	ClaimSource(ctx context.Context, sourceURL string, ttl time.Duration) (bool, error)
	TouchSource(ctx context.Context, sourceURL string) error
	RegisterSource(ctx context.Context, sourceURL, label string, priority int) (bool, error)
}

// DraftStore persists staged candidates keyed by source URL.
type DraftStore interface {
	UpsertDraft(ctx context.Context, d *models.Draft) (bool, error)
}

// RunRecorder writes the scan run ledger.
type RunRecorder interface {
	StartScanRun(ctx context.Context, agent string) (uuid.UUID, error)
	FinishScanRun(ctx context.Context, id uuid.UUID, status string, selected, inserted, failed int, details any) error
}

// CandidateExtractor turns page text into candidates.
type CandidateExtractor interface {
	Extract(ctx context.Context, text, sourceURL string, scope ai.Scope) ([]models.ScannedOpportunity, error)
}

// AdminNotifier delivers the end-of-run alert.
type AdminNotifier interface {
	NotifyNewDrafts(ctx context.Context, alert models.DraftAlert) error
}

// ScanOptions are the per-run budgets.
type ScanOptions struct {
	TargetInserts   int
	DiscoveryURLCap int
	MaxSources      int
	LeaseTTL        time.Duration
	ExtractionModel string
}

// OptionsFromConfig copies the clamped run budgets out of cfg.
func OptionsFromConfig(cfg config.Config) ScanOptions {
	return ScanOptions{
		TargetInserts:   cfg.TargetInserts,
		DiscoveryURLCap: cfg.DiscoveryURLCap,
		MaxSources:      cfg.MaxSourcesPerRun,
		LeaseTTL:        defaultLeaseTTL,
		ExtractionModel: cfg.ExtractionModel,
	}
}

// Orchestrator runs one scan invocation at a time per call. Every
// collaborator is injected; nil Discoverer, Runs and Notifier are skipped.
type Orchestrator struct {
	Agents     *AgentRegistry
	Sources    SourceStore
	Drafts     DraftStore
	Runs       RunRecorder
	Fetcher    ContentFetcher
	Extractor  CandidateExtractor
	Gate       *Gate
	Dedup      Deduper
	Discoverer SourceDiscoverer
	Notifier   AdminNotifier
	Options    ScanOptions
}

// Rejection records why a candidate did not pass the gate.
type Rejection struct {
	Title   string   `json:"title"`
	Reasons []string `json:"reasons"`
}

// SourceResult is one entry of the per-source breakdown.
type SourceResult struct {
	URL        string              `json:"url"`
	Origin     string              `json:"origin"`
	OK         bool                `json:"ok"`
	Error      string              `json:"error,omitempty"`
	Skipped    bool                `json:"skipped,omitempty"`
	Extracted  int                 `json:"extracted"`
	Passed     int                 `json:"passed"`
	Duplicates int                 `json:"duplicates"`
	Inserted   int                 `json:"inserted"`
	Updated    int                 `json:"updated"`
	Rejected   []Rejection         `json:"rejected,omitempty"`
	Matches    []db.DuplicateMatch `json:"matches,omitempty"`
}

// AlertStatus reports what happened to the admin notification.
type AlertStatus struct {
	Attempted bool   `json:"attempted"`
	Sent      bool   `json:"sent"`
	Items     int    `json:"items"`
	Error     string `json:"error,omitempty"`
}

// RunResult is the JSON summary returned by the trigger endpoint.
type RunResult struct {
	OK                    bool           `json:"ok"`
	RunID                 string         `json:"run_id,omitempty"`
	Agent                 string         `json:"agent"`
	SelectedSourceCount   int            `json:"selected_source_count"`
	DBSourceCount         int            `json:"db_source_count"`
	DiscoveredSourceCount int            `json:"discovered_source_count"`
	FallbackSourceCount   int            `json:"fallback_source_count"`
	TargetInserts         int            `json:"target_inserts"`
	Inserted              int            `json:"inserted"`
	AdminAlert            AlertStatus    `json:"admin_alert"`
	Processed             []SourceResult `json:"processed"`
}

type candidateSource struct {
	URL    string
	Origin string
}

// Run executes one scan for agentName. It fails as a whole only on a
// configuration error, an unknown agent or an unreadable source list;
// per-source failures are recorded in the result.
func (o *Orchestrator) Run(ctx context.Context, agentName string) (*RunResult, error) {
	profile, ok := o.Agents.Agent(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agentName)
	}
	if c, ok := o.Extractor.(interface{ Configured() bool }); o.Extractor == nil || (ok && !c.Configured()) {
		return nil, ai.ErrConfiguration
	}

	opts := o.Options
	targetInserts := config.TargetInsertsRange.Clamp(opts.TargetInserts)
	maxSources := config.MaxSourcesPerRunRange.Clamp(opts.MaxSources)

	result := &RunResult{
		Agent:         profile.Name,
		TargetInserts: targetInserts,
		Processed:     []SourceResult{},
	}

	var runID uuid.UUID
	if o.Runs != nil {
		id, err := o.Runs.StartScanRun(ctx, profile.Name)
		if err != nil {
			log.Printf("[scan] failed to create scan run: %v", err)
		} else {
			runID = id
			result.RunID = id.String()
		}
	}
	status := "failed"
	defer func() {
		if runID == uuid.Nil {
			return
		}
		failed := 0
		for _, p := range result.Processed {
			if !p.OK && !p.Skipped {
				failed++
			}
		}
		// The run context may already be cancelled; the ledger still closes.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.Runs.FinishScanRun(finishCtx, runID, status, result.SelectedSourceCount, result.Inserted, failed, result); err != nil {
			log.Printf("[scan] failed to update scan run %s: %v", runID, err)
		}
	}()

	pool, err := o.selectSources(ctx, profile, maxSources, result)
	if err != nil {
		return nil, err
	}
	log.Printf("[scan] agent=%s selected %d sources (db=%d discovered=%d fallback=%d) target=%d",
		profile.Name, len(pool), result.DBSourceCount, result.DiscoveredSourceCount, result.FallbackSourceCount, targetInserts)

	scope := o.Agents.Scope(profile)
	var summaries []models.DraftSummary

	for _, src := range pool {
		if result.Inserted >= targetInserts {
			log.Printf("[scan] insert target %d reached, stopping", targetInserts)
			break
		}
		if ctx.Err() != nil {
			log.Printf("[scan] context done, stopping: %v", ctx.Err())
			break
		}

		entry, newDrafts, err := o.processSource(ctx, profile, scope, src, targetInserts-result.Inserted)
		if err != nil {
			// Only a configuration error escapes processSource.
			result.Processed = append(result.Processed, entry)
			return nil, err
		}
		result.Processed = append(result.Processed, entry)
		result.Inserted += entry.Inserted
		summaries = append(summaries, newDrafts...)
	}

	if len(summaries) > 0 && o.Notifier != nil {
		result.AdminAlert = o.notify(ctx, profile.Name, summaries)
	}

	result.OK = true
	status = "completed"
	log.Printf("[scan] agent=%s done: %d sources processed, %d drafts inserted", profile.Name, len(result.Processed), result.Inserted)
	return result, nil
}

// selectSources builds the candidate pool: registered sources for the
// agent's shard, then discovered URLs, then fallback seeds, deduplicated by
// normalized URL and capped at maxSources.
func (o *Orchestrator) selectSources(ctx context.Context, profile AgentProfile, maxSources int, result *RunResult) ([]candidateSource, error) {
	registered, err := o.Sources.ListActiveSources(ctx, profile.Shard, profile.ShardCount, maxSources)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	result.DBSourceCount = len(registered)

	var discovered []string
	if o.Discoverer != nil {
		limit := config.DiscoveryURLCapRange.Clamp(o.Options.DiscoveryURLCap)
		urls, err := o.Discoverer.Discover(ctx, profile, limit)
		if err != nil {
			log.Printf("[scan] discovery failed for agent %s: %v", profile.Name, err)
		}
		discovered = urls
	}
	result.DiscoveredSourceCount = len(discovered)
	result.FallbackSourceCount = len(profile.FallbackSeeds)

	pool := make([]candidateSource, 0, maxSources)
	seen := map[string]bool{}
	add := func(rawURL, origin string) {
		rawURL = strings.TrimSpace(rawURL)
		key := models.NormalizeSourceURL(rawURL)
		if rawURL == "" || seen[key] || len(pool) >= maxSources {
			return
		}
		seen[key] = true
		pool = append(pool, candidateSource{URL: rawURL, Origin: origin})
	}
	for _, s := range registered {
		add(s.SourceURL, OriginRegistered)
	}
	for _, u := range discovered {
		add(u, OriginDiscovered)
	}
	for _, u := range profile.FallbackSeeds {
		add(u, OriginFallback)
	}
	result.SelectedSourceCount = len(pool)
	return pool, nil
}

// processSource scans one source. The returned error is non-nil only for
// ai.ErrConfiguration, which aborts the run.
func (o *Orchestrator) processSource(ctx context.Context, profile AgentProfile, scope ai.Scope, src candidateSource, budget int) (SourceResult, []models.DraftSummary, error) {
	entry := SourceResult{URL: src.URL, Origin: src.Origin}

	if src.Origin == OriginRegistered {
		ttl := o.Options.LeaseTTL
		if ttl <= 0 {
			ttl = defaultLeaseTTL
		}
		claimed, err := o.Sources.ClaimSource(ctx, src.URL, ttl)
		if err != nil {
			log.Printf("[scan] claim %s: %v", src.URL, err)
		} else if !claimed {
			entry.Skipped = true
			entry.Error = "source is being processed by another run"
			return entry, nil, nil
		}
	}

	defer func() {
		if err := o.Sources.TouchSource(context.WithoutCancel(ctx), src.URL); err != nil {
			log.Printf("[scan] touch %s: %v", src.URL, err)
		}
	}()

	text, err := o.Fetcher.FetchText(ctx, src.URL)
	if err != nil {
		log.Printf("[scan] %s: %v", src.URL, err)
		entry.Error = err.Error()
		return entry, nil, nil
	}

	candidates, err := o.Extractor.Extract(ctx, text, src.URL, scope)
	if err != nil {
		if errors.Is(err, ai.ErrConfiguration) {
			entry.Error = err.Error()
			return entry, nil, err
		}
		log.Printf("[scan] extraction failed for %s: %v", src.URL, err)
		entry.Error = "extraction: " + err.Error()
		return entry, nil, nil
	}
	entry.Extracted = len(candidates)

	var summaries []models.DraftSummary
	for _, c := range candidates {
		if entry.Inserted >= budget {
			break
		}

		verdict := o.Gate.Evaluate(c)
		if !verdict.Pass {
			log.Printf("[scan] rejected %q from %s: %s", c.Title, src.URL, strings.Join(verdict.Reasons, ", "))
			entry.Rejected = append(entry.Rejected, Rejection{Title: c.Title, Reasons: verdict.Reasons})
			continue
		}
		entry.Passed++

		var embedding []float32
		if o.Dedup != nil {
			dup, err := o.Dedup.Check(ctx, c)
			if err != nil {
				perr := &PersistenceError{Op: "duplicate lookup", Err: err}
				log.Printf("[scan] %s: %v", src.URL, perr)
				entry.Error = perr.Error()
				return entry, summaries, nil
			}
			if dup.Duplicate {
				entry.Duplicates++
				if dup.Match != nil {
					entry.Matches = append(entry.Matches, *dup.Match)
				}
				continue
			}
			embedding = dup.Embedding
		}

		draft := DraftFromCandidate(c, src.URL, o.Options.ExtractionModel)
		draft.Embedding = embedding
		inserted, err := o.Drafts.UpsertDraft(ctx, draft)
		if err != nil {
			perr := &PersistenceError{Op: "draft upsert", Err: err}
			log.Printf("[scan] %s: %v", src.URL, perr)
			entry.Error = perr.Error()
			return entry, summaries, nil
		}
		if !inserted {
			entry.Updated++
			continue
		}
		entry.Inserted++
		summaries = append(summaries, models.DraftSummary{
			ID:          draft.ID.String(),
			Title:       draft.Title,
			Institution: draft.Institution,
			Deadline:    draft.Deadline,
			SourceURL:   draft.SourceURL,
		})
		log.Printf("[scan] staged draft %q (%s)", draft.Title, draft.SourceURL)
	}
	entry.OK = true

	if entry.Inserted > 0 && src.Origin != OriginRegistered {
		if _, err := o.Sources.RegisterSource(ctx, src.URL, profile.Name, db.PromotedSourcePriority); err != nil {
			log.Printf("[scan] promote %s: %v", src.URL, err)
		}
	}
	return entry, summaries, nil
}

func (o *Orchestrator) notify(ctx context.Context, agent string, summaries []models.DraftSummary) AlertStatus {
	alert := models.DraftAlert{Agent: agent, Total: len(summaries), Items: summaries}
	if len(summaries) > MaxAlertItems {
		alert.Items = summaries[:MaxAlertItems]
		alert.Overflow = len(summaries) - MaxAlertItems
	}

	status := AlertStatus{Attempted: true, Items: len(alert.Items)}
	if err := o.Notifier.NotifyNewDrafts(ctx, alert); err != nil {
		log.Printf("[scan] admin alert failed: %v", err)
		status.Error = err.Error()
		return status
	}
	status.Sent = true
	return status
}

// DraftFromCandidate builds the pending draft payload for a candidate
// found on pageURL.
func DraftFromCandidate(c models.ScannedOpportunity, pageURL, model string) *models.Draft {
	sourceURL := strings.TrimSpace(c.SourceURL)
	if sourceURL == "" {
		sourceURL = pageURL
	}
	tags := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		tags = appendUnique(tags, sanitizeUTF8(t))
	}
	return &models.Draft{
		ID:              uuid.New(),
		Title:           sanitizeUTF8(c.Title),
		Category:        sanitizeUTF8(c.OpportunityType),
		Institution:     sanitizeUTF8(c.Institution),
		Region:          sanitizeUTF8(strings.Join(c.EligibleCountries, ", ")),
		Deadline:        ai.NormalizeDeadline(c.Deadline),
		Summary:         sanitizeUTF8(c.Summary),
		Description:     sanitizeUTF8(c.Rationale),
		Eligibility:     sanitizeUTF8(strings.Join(c.EligibleCountries, ", ")),
		Funding:         sanitizeUTF8(c.FundingAmount),
		Tags:            tags,
		SourceURL:       sourceURL,
		Status:          models.DraftPending,
		ExtractionModel: model,
		GateReasons:     []string{},
	}
}

// sanitizeUTF8 removes invalid UTF-8 byte sequences that PostgreSQL rejects.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
