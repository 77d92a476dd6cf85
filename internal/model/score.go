package model

// ComponentScores are the four weighted dimensions of a visibility score,
// each on a 0-100 scale.
type ComponentScores struct {
	Position float64 `json:"position"`
	Link     float64 `json:"link"`
	SOV      float64 `json:"sov"`
	Accuracy float64 `json:"accuracy"`
}

// ScoreBreakdown is the scored view of one answer. Rank and SOV fields are
// nil when the brand (or any citation) never appeared.
type ScoreBreakdown struct {
	Presence   bool            `json:"presence"`
	LLMRank    *int            `json:"llm_rank,omitempty"`
	LinkRank   *int            `json:"link_rank,omitempty"`
	SOV        *float64        `json:"sov,omitempty"`
	Flags      []Flag          `json:"flags"`
	Components ComponentScores `json:"components"`
	Score      float64         `json:"score"`
}

// QueryScoreSummary is the per-query line item inside a RunAggregate.
type QueryScoreSummary struct {
	QueryID   string  `json:"query_id"`
	QueryText string  `json:"query_text,omitempty"`
	Score     float64 `json:"score"`
	Presence  bool    `json:"presence"`
	LLMRank   *int    `json:"llm_rank,omitempty"`
}

// RunAggregate folds all per-query scores of a run into one summary.
// Averages over rank and SOV consider only queries where the value exists.
type RunAggregate struct {
	OverallScore  float64             `json:"overall_score"`
	VisibilityPct float64             `json:"visibility_pct"`
	AvgLLMRank    *float64            `json:"avg_llm_rank,omitempty"`
	AvgLinkRank   *float64            `json:"avg_link_rank,omitempty"`
	AvgSOV        *float64            `json:"avg_sov,omitempty"`
	Breakdown     ComponentScores     `json:"breakdown"`
	QueryScores   []QueryScoreSummary `json:"query_scores"`
}
