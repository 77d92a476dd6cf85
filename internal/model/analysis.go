package model

import "time"

// MetricComparison compares one aggregate metric across the two surfaces.
type MetricComparison struct {
	OpenAI     float64 `json:"openai"`
	Claude     float64 `json:"claude"`
	Difference float64 `json:"difference"`
	Higher     Surface `json:"higher"`
}

// QueryComparison lines up both models' view of a single query. Rank
// agreement treats two nil ranks as agreeing.
type QueryComparison struct {
	QueryID           string `json:"query_id"`
	OpenAIPresence    bool   `json:"openai_presence"`
	ClaudePresence    bool   `json:"claude_presence"`
	OpenAIRank        *int   `json:"openai_rank,omitempty"`
	ClaudeRank        *int   `json:"claude_rank,omitempty"`
	PresenceAgreement bool   `json:"presence_agreement"`
	RankAgreement     bool   `json:"rank_agreement"`
}

// DivergentEntity is an entity only one model surfaced, tagged with the
// query it appeared under. Occurrences are not deduplicated across queries.
type DivergentEntity struct {
	Name    string `json:"name"`
	QueryID string `json:"query_id"`
}

// DivergentEntities splits one-sided entities by the surface that named them.
type DivergentEntities struct {
	OpenAIOnly []DivergentEntity `json:"openai_only"`
	ClaudeOnly []DivergentEntity `json:"claude_only"`
}

// ModelReliability is the synthesized judgement of which surface to trust.
type ModelReliability struct {
	Assessment string  `json:"assessment"`
	Confidence float64 `json:"confidence"`
}

// DivergenceAnalysis explains where and why the two models disagree.
type DivergenceAnalysis struct {
	SignificantDifferences []string `json:"significant_differences"`
	LikelyCause            string   `json:"likely_cause,omitempty"`
}

// ActionItem is one recommended follow-up for the property team.
type ActionItem struct {
	Action   string `json:"action"`
	Priority string `json:"priority,omitempty"`
	Effort   string `json:"effort,omitempty"`
	Impact   string `json:"impact,omitempty"`
}

// Recommendations is the synthesized guidance attached to a cross-model
// analysis. Produced by a model when possible, deterministically otherwise.
type Recommendations struct {
	Summary                  string             `json:"summary"`
	ModelReliability         ModelReliability   `json:"model_reliability"`
	KeyInsights              []string           `json:"key_insights"`
	ConsensusRecommendations []string           `json:"consensus_recommendations"`
	DivergenceAnalysis       DivergenceAnalysis `json:"divergence_analysis"`
	ActionItems              []ActionItem       `json:"action_items"`
}

// CrossModelAnalysis reconciles the openai and claude runs of one batch.
// One per batch; re-running the analyzer overwrites the prior result.
type CrossModelAnalysis struct {
	BatchID              string            `json:"batch_id"`
	PropertyName         string            `json:"property_name,omitempty"`
	ScoreComparison      MetricComparison  `json:"score_comparison"`
	VisibilityComparison MetricComparison  `json:"visibility_comparison"`
	QueryComparisons     []QueryComparison `json:"query_comparisons"`
	ConsensusEntities    []string          `json:"consensus_entities"`
	DivergentEntities    DivergentEntities `json:"divergent_entities"`
	AgreementRate        float64           `json:"agreement_rate"`
	Recommendations      Recommendations   `json:"recommendations"`
	RecommendationSource string            `json:"recommendation_source"`
	AnalyzedAt           time.Time         `json:"analyzed_at"`
}
