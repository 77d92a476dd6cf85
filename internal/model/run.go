package model

import "time"

// RunStatus is the lifecycle state of an audit run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Surface identifies which model provider a run audits.
type Surface string

const (
	SurfaceOpenAI Surface = "openai"
	SurfaceClaude Surface = "claude"
)

// Mode selects the connector invocation protocol.
type Mode string

const (
	// ModeStructured asks the provider for machine-readable GEO data in a
	// single call.
	ModeStructured Mode = "structured"
	// ModeNatural simulates an organic user question first, then runs a
	// separate extraction pass over the conversational answer.
	ModeNatural Mode = "natural"
)

// Run is one audit of a property against one provider surface.
type Run struct {
	ID                string     `json:"id"`
	PropertyID        string     `json:"property_id"`
	BatchID           string     `json:"batch_id,omitempty"`
	Surface           Surface    `json:"surface"`
	Status            RunStatus  `json:"status"`
	ProgressPct       float64    `json:"progress_pct"`
	CurrentQueryIndex int        `json:"current_query_index"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Query is one audit question attached to a property.
type Query struct {
	ID         string `json:"id"`
	PropertyID string `json:"property_id"`
	Text       string `json:"text"`
	IsActive   bool   `json:"is_active"`
}

// Property is the tracked brand: an apartment property.
type Property struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Address    string `json:"address,omitempty"`
	WebsiteURL string `json:"website_url,omitempty"`
}

// Location builds the disambiguation block for prompts and scoring.
func (p Property) Location() PropertyLocation {
	return PropertyLocation{
		City:        p.City,
		State:       p.State,
		FullAddress: p.Address,
		WebsiteURL:  p.WebsiteURL,
	}
}

// PropertyConfig holds the brand and competitor domains for a property.
type PropertyConfig struct {
	PropertyID        string   `json:"property_id"`
	Domains           []string `json:"domains"`
	CompetitorDomains []string `json:"competitor_domains"`
}

// AnswerRecord is the persisted result for one run x query: the canonical
// answer, its score, and the raw call diagnostics. Written exactly once.
type AnswerRecord struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	QueryID     string         `json:"query_id"`
	Answer      AnswerBlock    `json:"answer"`
	Score       ScoreBreakdown `json:"score"`
	Diagnostics RawDiagnostics `json:"diagnostics"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CitationRecord is one persisted citation row attached to an answer.
type CitationRecord struct {
	AnswerID      string `json:"answer_id"`
	URL           string `json:"url"`
	Domain        string `json:"domain"`
	IsBrandDomain bool   `json:"is_brand_domain"`
	EntityRef     string `json:"entity_ref,omitempty"`
}
