package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseExtraction_FencedAndWrapped(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{"plain", `{"opportunities":[{"title":"A"}]}`},
		{"fenced", "```json\n{\"opportunities\":[{\"title\":\"A\"}]}\n```"},
		{"prose", `Sure! Here you go: {"opportunities":[{"title":"A","summary":"has } brace"}]} Thanks.`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExtraction(tt.resp, "https://src.example.org")
			if err != nil {
				t.Fatalf("ParseExtraction: %v", err)
			}
			if len(got) != 1 || got[0].Title != "A" {
				t.Fatalf("unexpected result: %+v", got)
			}
		})
	}
}

func TestParseExtraction_Unparsable(t *testing.T) {
	for _, resp := range []string{"", "no json here", "{not: valid"} {
		if _, err := ParseExtraction(resp, ""); !errors.Is(err, ErrExtractionParse) {
			t.Fatalf("ParseExtraction(%q) error = %v, want ErrExtractionParse", resp, err)
		}
	}
}

func TestParseExtraction_DefaultsAndClamps(t *testing.T) {
	resp := `{"opportunities":[
		{"title":"  Climate   Grant ", "institution": 42, "eligible_countries": "Kenya, Ghana ,kenya",
		 "deadline":"31/12/2030", "source_url":"not a url",
		 "tags":["a","b","c","d","e","f","g"],
		 "quality_score":{"credibility":9,"relevance":-2,"clarity":"3.5","overall":"high"},
		 "flags":{"expired":"true","rolling_open":1}},
		{"nothing": true},
		"junk"
	]}`

	got, err := ParseExtraction(resp, "https://src.example.org/page")
	if err != nil {
		t.Fatalf("ParseExtraction: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates (string item skipped), got %d", len(got))
	}

	c := got[0]
	if c.Title != "Climate Grant" {
		t.Fatalf("title not collapsed: %q", c.Title)
	}
	if c.Institution != "42" {
		t.Fatalf("numeric institution should stringify, got %q", c.Institution)
	}
	if len(c.EligibleCountries) != 2 || c.EligibleCountries[1] != "Ghana" {
		t.Fatalf("countries not split and deduped: %v", c.EligibleCountries)
	}
	if c.Deadline != "" {
		t.Fatalf("non ISO deadline should normalize to empty, got %q", c.Deadline)
	}
	if c.SourceURL != "https://src.example.org/page" {
		t.Fatalf("invalid source_url should fall back to page URL, got %q", c.SourceURL)
	}
	if len(c.Tags) != MaxTags {
		t.Fatalf("tags should be capped at %d, got %d", MaxTags, len(c.Tags))
	}
	if c.Scores.Credibility != 5 || c.Scores.Relevance != 0 || c.Scores.Clarity != 3.5 || c.Scores.Overall != 0 {
		t.Fatalf("scores not clamped: %+v", c.Scores)
	}
	if !c.Flags.Expired || !c.Flags.RollingOpen || c.Flags.AggregatorOnly {
		t.Fatalf("flags not coerced: %+v", c.Flags)
	}

	empty := got[1]
	if empty.Title != "" || empty.EligibleCountries == nil || empty.Tags == nil {
		t.Fatalf("missing fields must default to empty values: %+v", empty)
	}
}

func TestParseExtraction_CapsAtFive(t *testing.T) {
	var items []string
	for i := 0; i < 8; i++ {
		items = append(items, `{"title":"x"}`)
	}
	got, err := ParseExtraction(`{"opportunities":[`+strings.Join(items, ",")+`]}`, "")
	if err != nil {
		t.Fatalf("ParseExtraction: %v", err)
	}
	if len(got) != MaxCandidatesPerPage {
		t.Fatalf("expected %d candidates, got %d", MaxCandidatesPerPage, len(got))
	}
}

func TestParseExtraction_SingleObject(t *testing.T) {
	got, err := ParseExtraction(`{"title":"Solo","deadline":"2030-02-01"}`, "")
	if err != nil {
		t.Fatalf("ParseExtraction: %v", err)
	}
	if len(got) != 1 || got[0].Deadline != "2030-02-01" {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestNormalizeDeadline(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2030-01-15", "2030-01-15"},
		{" 2030-01-15 ", ""},
		{"2030-01-15\n", ""},
		{"2030-02-30", ""},
		{"2030-1-5", ""},
		{"January 5, 2030", ""},
		{"2030-01-15T00:00:00Z", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := NormalizeDeadline(tt.in)
		if got != tt.want {
			t.Fatalf("NormalizeDeadline(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := NormalizeDeadline(got); again != got {
			t.Fatalf("NormalizeDeadline not idempotent for %q: %q -> %q", tt.in, got, again)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	today := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	system, user := BuildPrompt(today, Scope{Brief: "Elite fellowships", TargetRegions: []string{"Nigeria", "Africa"}}, "https://x.org", "PAGE")

	for _, want := range []string{"2025-03-10", "2026-03-10", "Elite fellowships", "Nigeria, Africa", `"opportunities"`, "aggregator"} {
		if !strings.Contains(system, want) {
			t.Fatalf("system prompt missing %q", want)
		}
	}
	if !strings.Contains(user, "https://x.org") || !strings.Contains(user, "PAGE") {
		t.Fatalf("user prompt missing source or content: %s", user)
	}
}

type fakeCompleter struct {
	resp   string
	err    error
	system string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.system = system
	return f.resp, f.err
}

func TestExtractorPropagatesErrors(t *testing.T) {
	apiErr := &ExtractionAPIError{StatusCode: 503}
	ex := NewExtractor(&fakeCompleter{err: apiErr}, "m")
	_, err := ex.Extract(context.Background(), "text", "https://x.org", Scope{})
	var target *ExtractionAPIError
	if !errors.As(err, &target) || target.StatusCode != 503 {
		t.Fatalf("expected ExtractionAPIError 503, got %v", err)
	}

	if _, err := (&Extractor{}).Extract(context.Background(), "t", "u", Scope{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("nil client should be a configuration error, got %v", err)
	}
}

func TestExtractorUsesClock(t *testing.T) {
	fc := &fakeCompleter{resp: `{"opportunities":[]}`}
	ex := NewExtractor(fc, "m")
	ex.Now = func() time.Time { return time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC) }

	got, err := ex.Extract(context.Background(), "text", "https://x.org", Scope{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
	if !strings.Contains(fc.system, "2024-12-31") {
		t.Fatalf("prompt should carry the injected date")
	}
}
