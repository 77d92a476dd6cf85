package model

import "sort"

// Flag marks a quality concern detected on a model answer.
type Flag string

const (
	FlagNoSources             Flag = "no_sources"
	FlagPossibleHallucination Flag = "possible_hallucination"
	FlagOutdatedInfo          Flag = "outdated_info"
	FlagNAPMismatch           Flag = "nap_mismatch"
	FlagConflictingPrices     Flag = "conflicting_prices"
)

// validFlags is the closed set of recognized flags. Anything else coming
// back from a model is discarded during coercion.
var validFlags = map[Flag]bool{
	FlagNoSources:             true,
	FlagPossibleHallucination: true,
	FlagOutdatedInfo:          true,
	FlagNAPMismatch:           true,
	FlagConflictingPrices:     true,
}

// ValidFlag reports whether f is a member of the closed flag enum.
func ValidFlag(f Flag) bool {
	return validFlags[f]
}

// NormalizeFlags filters to the closed enum, deduplicates, and sorts so a
// flag set has exactly one canonical representation.
func NormalizeFlags(flags []Flag) []Flag {
	seen := make(map[Flag]bool, len(flags))
	var out []Flag
	for _, f := range flags {
		if !validFlags[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasFlag reports whether flags contains f.
func HasFlag(flags []Flag, f Flag) bool {
	for _, v := range flags {
		if v == f {
			return true
		}
	}
	return false
}

// OrderedEntity is one ranked entity from a model answer.
type OrderedEntity struct {
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	Rationale string `json:"rationale"`
	Position  int    `json:"position"`
}

// Citation is a source link attached to a model answer.
type Citation struct {
	URL       string `json:"url"`
	Domain    string `json:"domain"`
	EntityRef string `json:"entity_ref,omitempty"`
}

// AnswerBlock is the canonical representation of one model's answer to one
// audit query. Created once per (run, query) and never mutated afterwards.
type AnswerBlock struct {
	OrderedEntities []OrderedEntity `json:"ordered_entities"`
	Citations       []Citation      `json:"citations"`
	AnswerSummary   string          `json:"answer_summary"`
	Flags           []Flag          `json:"flags"`
}

// Empty reports whether the block carries no entities (the degraded shape
// produced when a model call or coercion failed).
func (a AnswerBlock) Empty() bool {
	return len(a.OrderedEntities) == 0
}

// PropertyLocation disambiguates same-named properties across cities.
type PropertyLocation struct {
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	FullAddress string `json:"full_address,omitempty"`
	WebsiteURL  string `json:"website_url,omitempty"`
}

// QueryContext carries everything a connector and the scorer need to know
// about one query. Built fresh per query; read-only.
type QueryContext struct {
	QueryID      string           `json:"query_id"`
	QueryText    string           `json:"query_text"`
	BrandName    string           `json:"brand_name"`
	BrandDomains []string         `json:"brand_domains"`
	Competitors  []string         `json:"competitors"`
	Location     PropertyLocation `json:"location"`
}

// BrandAnalysis is the model's self-reported view of how the brand showed
// up in a natural-mode conversation.
type BrandAnalysis struct {
	Mentioned       bool   `json:"mentioned"`
	Position        *int   `json:"position,omitempty"`
	LocationStated  bool   `json:"location_stated"`
	LocationCorrect bool   `json:"location_correct"`
	Prominence      string `json:"prominence,omitempty"`
}

// EntityMention summarizes how often an entity appeared in a natural answer.
type EntityMention struct {
	Name         string `json:"name"`
	MentionCount int    `json:"mention_count"`
	FirstMention string `json:"first_mention,omitempty"`
}

// AnswerAnalysis is the richer envelope returned by natural-mode Phase 2
// alongside the answer block.
type AnswerAnalysis struct {
	EntityMentions       []EntityMention `json:"entity_mentions,omitempty"`
	BrandAnalysis        BrandAnalysis   `json:"brand_analysis"`
	ExtractionConfidence float64         `json:"extraction_confidence"`
}

// SearchSource is one inline source annotation from a web-search-enabled call.
type SearchSource struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// CallDiagnostics records metadata about a single provider call.
type CallDiagnostics struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model,omitempty"`
	ResponseID   string  `json:"response_id,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// RawDiagnostics is the full diagnostic payload persisted next to an
// answer. Structured mode fills Phase1 only; natural mode fills both
// phases plus the conversation text and analysis envelope.
type RawDiagnostics struct {
	Mode                string           `json:"mode"`
	Phase1              *CallDiagnostics `json:"phase1,omitempty"`
	Phase2              *CallDiagnostics `json:"phase2,omitempty"`
	NaturalResponseText string           `json:"natural_response_text,omitempty"`
	SearchSources       []SearchSource   `json:"search_sources,omitempty"`
	Analysis            *AnswerAnalysis  `json:"analysis,omitempty"`
}
