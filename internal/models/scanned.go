package models

// QualityScores rates a candidate on five 0-5 dimensions plus an overall score.
type QualityScores struct {
	Credibility   float64 `json:"credibility"`
	Relevance     float64 `json:"relevance"`
	Clarity       float64 `json:"clarity"`
	Timeliness    float64 `json:"timeliness"`
	Accessibility float64 `json:"accessibility"`
	Overall       float64 `json:"overall"`
}

// ScanFlags are the disqualifying markers the extractor may raise.
type ScanFlags struct {
	RollingOpen     bool `json:"rolling_open"`
	Expired         bool `json:"expired"`
	UnclearDeadline bool `json:"unclear_deadline"`
	AggregatorOnly  bool `json:"aggregator_only"`
}

// ScannedOpportunity is one extraction result. It is never stored as is;
// candidates that survive the gate and dedup become Drafts.
type ScannedOpportunity struct {
	Title             string        `json:"title"`
	Institution       string        `json:"institution"`
	OpportunityType   string        `json:"opportunity_type"`
	FundingAmount     string        `json:"funding_amount"`
	EligibleCountries []string      `json:"eligible_countries"`
	Deadline          string        `json:"deadline"`
	SourceURL         string        `json:"source_url"`
	Summary           string        `json:"summary"`
	Rationale         string        `json:"rationale"`
	Scores            QualityScores `json:"quality_score"`
	Flags             ScanFlags     `json:"flags"`
	Tags              []string      `json:"tags"`
}

// DraftSummary is the short form of a newly staged draft used in alerts.
type DraftSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Institution string `json:"institution"`
	Deadline    string `json:"deadline"`
	SourceURL   string `json:"source_url"`
}

// DraftAlert tells admins that a scan staged new drafts. Items holds at
// most the first few; Overflow counts the rest.
type DraftAlert struct {
	Agent    string         `json:"agent"`
	Total    int            `json:"total"`
	Items    []DraftSummary `json:"items"`
	Overflow int            `json:"overflow"`
}
