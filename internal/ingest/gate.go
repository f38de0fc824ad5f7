package ingest

import (
	"strings"
	"time"

	"github.com/david/opportunity-scout/internal/ai"
	"github.com/david/opportunity-scout/internal/classify"
	"github.com/david/opportunity-scout/internal/models"
)

// Gate rejection reasons. Every violated rule is reported.
const (
	ReasonMissingTitle        = "missing_title"
	ReasonMissingInstitution  = "missing_institution"
	ReasonInvalidDeadline     = "invalid_deadline"
	ReasonDeadlineNotInFuture = "deadline_not_in_future"
	ReasonDeadlineTooFar      = "deadline_too_far"
	ReasonRegionNotEligible   = "region_not_eligible"
	ReasonRollingOpen         = "rolling_open"
	ReasonExpired             = "expired"
	ReasonUnclearDeadline     = "unclear_deadline"
	ReasonAggregatorOnly      = "aggregator_only"
	ReasonAggregatorSource    = "aggregator_source"
	ReasonLowQualityScore     = "low_quality_score"
)

const (
	DefaultMinOverallScore = 4.0
	DefaultHorizonDays     = 365
)

// GateResult is the verdict for one candidate.
type GateResult struct {
	Pass    bool     `json:"pass"`
	Reasons []string `json:"reasons"`
}

// Gate decides whether an extracted candidate may become a draft. It has
// no side effects.
type Gate struct {
	TargetRegions    []string
	ExtraAggregators []string
	MinOverall       float64
	HorizonDays      int
	Now              func() time.Time
}

// NewGate returns a gate with the default score threshold and horizon.
func NewGate(targetRegions, extraAggregators []string) *Gate {
	return &Gate{
		TargetRegions:    targetRegions,
		ExtraAggregators: extraAggregators,
		MinOverall:       DefaultMinOverallScore,
		HorizonDays:      DefaultHorizonDays,
		Now:              time.Now,
	}
}

// Evaluate checks every rule independently. An empty TargetRegions list
// accepts any region.
func (g *Gate) Evaluate(c models.ScannedOpportunity) GateResult {
	var reasons []string

	if strings.TrimSpace(c.Title) == "" {
		reasons = append(reasons, ReasonMissingTitle)
	}
	if strings.TrimSpace(c.Institution) == "" {
		reasons = append(reasons, ReasonMissingInstitution)
	}

	reasons = append(reasons, g.deadlineReasons(c.Deadline)...)

	if len(g.TargetRegions) > 0 && !RegionAllowed(c.EligibleCountries, g.TargetRegions) {
		reasons = append(reasons, ReasonRegionNotEligible)
	}

	if c.Flags.RollingOpen {
		reasons = append(reasons, ReasonRollingOpen)
	}
	if c.Flags.Expired {
		reasons = append(reasons, ReasonExpired)
	}
	if c.Flags.UnclearDeadline {
		reasons = append(reasons, ReasonUnclearDeadline)
	}
	if c.Flags.AggregatorOnly {
		reasons = append(reasons, ReasonAggregatorOnly)
	}
	if classify.IsAggregator(c.SourceURL, g.ExtraAggregators...) {
		reasons = append(reasons, ReasonAggregatorSource)
	}

	minOverall := g.MinOverall
	if minOverall == 0 {
		minOverall = DefaultMinOverallScore
	}
	if c.Scores.Overall < minOverall {
		reasons = append(reasons, ReasonLowQualityScore)
	}

	if reasons == nil {
		reasons = []string{}
	}
	return GateResult{Pass: len(reasons) == 0, Reasons: reasons}
}

func (g *Gate) deadlineReasons(deadline string) []string {
	iso := ai.NormalizeDeadline(deadline)
	if iso == "" {
		return []string{ReasonInvalidDeadline}
	}
	due, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return []string{ReasonInvalidDeadline}
	}

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	y, m, d := now().UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	horizon := g.HorizonDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}

	if !due.After(today) {
		return []string{ReasonDeadlineNotInFuture}
	}
	if due.After(today.AddDate(0, 0, horizon)) {
		return []string{ReasonDeadlineTooFar}
	}
	return nil
}

// RegionAllowed reports whether any eligible entry, or any of its
// comma, semicolon or slash separated tokens, equals an allowed region
// ignoring case.
func RegionAllowed(eligible, allowed []string) bool {
	allow := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		if a = strings.ToLower(normalizeSpace(a)); a != "" {
			allow[a] = true
		}
	}
	for _, entry := range eligible {
		if allow[strings.ToLower(normalizeSpace(entry))] {
			return true
		}
		for _, token := range strings.FieldsFunc(entry, func(r rune) bool { return r == ',' || r == ';' || r == '/' }) {
			if allow[strings.ToLower(normalizeSpace(token))] {
				return true
			}
		}
	}
	return false
}
