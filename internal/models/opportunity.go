package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is the fixed set of listing kinds shown in the directory.
type Category string

const (
	CategoryGrant       Category = "grant"
	CategoryScholarship Category = "scholarship"
	CategoryFellowship  Category = "fellowship"
	CategoryJob         Category = "job"
	CategoryCompetition Category = "competition"
	CategoryProgram     Category = "program"
	CategoryOther       Category = "other"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryGrant,
	CategoryScholarship,
	CategoryFellowship,
	CategoryJob,
	CategoryCompetition,
	CategoryProgram,
	CategoryOther,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Opportunity is a published listing. SourceURL is unique across the table.
type Opportunity struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Category    Category  `json:"category"`
	Institution string    `json:"institution"`
	Region      string    `json:"region"`
	Deadline    string    `json:"deadline"` // YYYY-MM-DD
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Eligibility string    `json:"eligibility,omitempty"`
	Funding     string    `json:"funding,omitempty"`
	Tags        []string  `json:"tags"`
	SourceURL   string    `json:"source_url"`
	LogoURL     string    `json:"logo_url,omitempty"`
	Featured    bool      `json:"featured"`
	DateAdded   time.Time `json:"date_added"`
	Embedding   []float32 `json:"-"`
}

// DraftStatus is the review state of a staged candidate.
type DraftStatus string

const (
	DraftPending  DraftStatus = "pending"
	DraftApproved DraftStatus = "approved"
	DraftRejected DraftStatus = "rejected"
)

// Draft is a staged, unapproved candidate. SourceURL is the upsert key.
type Draft struct {
	ID              uuid.UUID   `json:"id"`
	Title           string      `json:"title"`
	Category        string      `json:"category"` // free text until approval normalizes it
	Institution     string      `json:"institution"`
	Region          string      `json:"region"`
	Deadline        string      `json:"deadline"`
	Summary         string      `json:"summary"`
	Description     string      `json:"description,omitempty"`
	Eligibility     string      `json:"eligibility,omitempty"`
	Funding         string      `json:"funding,omitempty"`
	Tags            []string    `json:"tags"`
	SourceURL       string      `json:"source_url"`
	LogoURL         string      `json:"logo_url,omitempty"`
	Status          DraftStatus `json:"status"`
	ExtractionModel string      `json:"extraction_model"`
	ExtractionError *string     `json:"extraction_error"`
	GateReasons     []string    `json:"gate_reasons"`
	ApprovedBy      *string     `json:"approved_by"`
	ApprovedAt      *time.Time  `json:"approved_at"`
	RejectedAt      *time.Time  `json:"rejected_at"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Embedding       []float32   `json:"-"`
}

// Source is a registered page known to contain listings.
// Lower Priority values are scanned first.
type Source struct {
	ID              int64      `json:"id"`
	SourceURL       string     `json:"source_url"`
	Label           string     `json:"label,omitempty"`
	Active          bool       `json:"active"`
	Priority        int        `json:"priority"`
	LastProcessedAt *time.Time `json:"last_processed_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ScanRun is the ledger row written for each orchestrator invocation.
type ScanRun struct {
	ID            uuid.UUID              `json:"id"`
	Agent         string                 `json:"agent"`
	Status        string                 `json:"status"` // running, completed, failed
	SelectedCount int                    `json:"selected_count"`
	Inserted      int                    `json:"inserted"`
	Failed        int                    `json:"failed"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// ReminderSubscription asks for an email N days before an opportunity deadline.
type ReminderSubscription struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	OpportunityID uuid.UUID  `json:"opportunity_id"`
	DaysBefore    int        `json:"days_before"`
	SentAt        *time.Time `json:"sent_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DueReminder joins a subscription with the listing it refers to.
type DueReminder struct {
	Subscription ReminderSubscription
	Title        string
	Slug         string
	Deadline     string
	SourceURL    string
}
