package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/david/opportunity-scout/internal/models"
)

const (
	MaxCandidatesPerPage = 5
	MaxTags              = 5
	MaxScore             = 5.0
)

// Scope carries the per-agent context injected into the prompt.
type Scope struct {
	Brief         string
	TargetRegions []string
}

// Extractor turns page text into normalized candidate opportunities.
type Extractor struct {
	Client Completer
	Model  string
	Now    func() time.Time
}

func NewExtractor(client Completer, model string) *Extractor {
	return &Extractor{Client: client, Model: model, Now: time.Now}
}

// Configured reports whether extraction can run at all. Clients that do
// not expose a Configured method are assumed ready.
func (e *Extractor) Configured() bool {
	if e == nil || e.Client == nil {
		return false
	}
	if c, ok := e.Client.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

// Extract asks the model for 0-5 candidates found in text. Errors are
// ErrConfiguration, *ExtractionAPIError or ErrExtractionParse, possibly wrapped.
func (e *Extractor) Extract(ctx context.Context, text, sourceURL string, scope Scope) ([]models.ScannedOpportunity, error) {
	if e.Client == nil {
		return nil, ErrConfiguration
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	system, user := BuildPrompt(now(), scope, sourceURL, text)
	resp, err := e.Client.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	return ParseExtraction(resp, sourceURL)
}

// BuildPrompt returns the system and user messages for one page.
func BuildPrompt(today time.Time, scope Scope, sourceURL, text string) (string, string) {
	todayISO := today.UTC().Format("2006-01-02")
	limitISO := today.UTC().AddDate(0, 0, 365).Format("2006-01-02")

	regions := "any country"
	if len(scope.TargetRegions) > 0 {
		regions = strings.Join(scope.TargetRegions, ", ")
	}
	brief := strings.TrimSpace(scope.Brief)
	if brief == "" {
		brief = "Find credible, currently open funding and career opportunities."
	}

	system := fmt.Sprintf(`You are a meticulous research assistant that extracts open opportunities (grants, scholarships, fellowships, jobs, competitions, programs) from web pages.
Today's date is %s.

Scope: %s

Include an opportunity ONLY if ALL of these hold:
1. It is open for applications now.
2. It states an explicit deadline, written as YYYY-MM-DD, strictly after %s and no later than %s.
3. At least one eligible country or region is one of: %s.
4. It comes from a credible, official source, not an aggregator or repost site.
5. It is not rolling, evergreen or "open until filled".
6. It is not expired and does not announce past results.

Respond with ONLY a JSON object of this exact shape, with at most %d items (an empty array is fine):
{
  "opportunities": [
    {
      "title": "string",
      "institution": "string",
      "opportunity_type": "grant | scholarship | fellowship | job | competition | program",
      "funding_amount": "string",
      "eligible_countries": ["string"],
      "deadline": "YYYY-MM-DD",
      "source_url": "official URL of the opportunity",
      "summary": "1-2 neutral sentences",
      "rationale": "why it meets the rules",
      "tags": ["up to 5 short tags"],
      "quality_score": {"credibility": 0, "relevance": 0, "clarity": 0, "timeliness": 0, "accessibility": 0, "overall": 0},
      "flags": {"rolling_open": false, "expired": false, "unclear_deadline": false, "aggregator_only": false}
    }
  ]
}
Scores are numbers from 0 to 5.`, todayISO, brief, todayISO, limitISO, regions, MaxCandidatesPerPage)

	user := fmt.Sprintf("Source URL: %s\n\nPage content:\n%s", sourceURL, text)
	return system, user
}

// ParseExtraction decodes a model reply into candidates. Only a reply with no
// recoverable JSON object is an error; every field is otherwise defaulted.
func ParseExtraction(resp, fallbackSourceURL string) ([]models.ScannedOpportunity, error) {
	root, err := decodeLLMObject(resp)
	if err != nil {
		return nil, err
	}

	var items []any
	switch v := root["opportunities"].(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		if _, hasTitle := root["title"]; hasTitle {
			items = []any{root}
		}
	}

	out := make([]models.ScannedOpportunity, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, normalizeCandidate(m, fallbackSourceURL))
		if len(out) == MaxCandidatesPerPage {
			break
		}
	}
	return out, nil
}

func decodeLLMObject(resp string) (map[string]any, error) {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var root map[string]any
	if err := json.Unmarshal([]byte(cleaned), &root); err == nil && root != nil {
		return root, nil
	}

	jsonStr, ok := extractFirstJSONObject(cleaned)
	if !ok {
		return nil, ErrExtractionParse
	}
	if err := json.Unmarshal([]byte(jsonStr), &root); err != nil || root == nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
	}
	return root, nil
}

func normalizeCandidate(m map[string]any, fallbackSourceURL string) models.ScannedOpportunity {
	c := models.ScannedOpportunity{
		Title:             asString(m, "title", "name"),
		Institution:       asString(m, "institution", "organization", "organisation", "funder"),
		OpportunityType:   strings.ToLower(asString(m, "opportunity_type", "type", "category")),
		FundingAmount:     asString(m, "funding_amount", "funding", "amount"),
		EligibleCountries: asStringSlice(m, "eligible_countries", "eligible_regions", "regions", "countries"),
		Deadline:          NormalizeDeadline(asString(m, "deadline", "deadline_iso")),
		SourceURL:         asString(m, "source_url", "official_url", "url"),
		Summary:           asString(m, "summary", "description"),
		Rationale:         asString(m, "rationale", "reason"),
		Tags:              asStringSlice(m, "tags"),
	}
	if c.SourceURL == "" || !strings.HasPrefix(strings.ToLower(c.SourceURL), "http") {
		c.SourceURL = fallbackSourceURL
	}
	if len(c.Tags) > MaxTags {
		c.Tags = c.Tags[:MaxTags]
	}

	if scores, ok := m["quality_score"].(map[string]any); ok {
		c.Scores = models.QualityScores{
			Credibility:   clampScore(asFloat(scores["credibility"])),
			Relevance:     clampScore(asFloat(scores["relevance"])),
			Clarity:       clampScore(asFloat(scores["clarity"])),
			Timeliness:    clampScore(asFloat(scores["timeliness"])),
			Accessibility: clampScore(asFloat(scores["accessibility"])),
			Overall:       clampScore(asFloat(scores["overall"])),
		}
	}
	if flags, ok := m["flags"].(map[string]any); ok {
		c.Flags = models.ScanFlags{
			RollingOpen:     asBool(flags["rolling_open"]),
			Expired:         asBool(flags["expired"]),
			UnclearDeadline: asBool(flags["unclear_deadline"]),
			AggregatorOnly:  asBool(flags["aggregator_only"]),
		}
	}
	return c
}

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// NormalizeDeadline returns s when it is exactly a real YYYY-MM-DD date and
// "" otherwise. Surrounding whitespace does not match. It is idempotent.
func NormalizeDeadline(s string) string {
	if !isoDateRe.MatchString(s) {
		return ""
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return ""
	}
	return s
}

func asString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.Join(strings.Fields(v), " "); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func asStringSlice(m map[string]any, keys ...string) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" || seen[strings.ToLower(s)] {
			return
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	for _, k := range keys {
		switch v := m[k].(type) {
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case string:
			for _, part := range strings.Split(v, ",") {
				add(part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return out
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	case bool:
		if n {
			return 1
		}
	}
	return 0
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	case float64:
		return b != 0
	}
	return false
}

func clampScore(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > MaxScore {
		return MaxScore
	}
	return f
}

// extractFirstJSONObject finds the first outermost balanced {...}
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}
