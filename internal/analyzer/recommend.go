package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/connector"
	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/resilience"
)

// Recommendation sources, persisted so readers know how the guidance was
// produced.
const (
	SourceOpenAI        = "openai"
	SourceClaude        = "claude"
	SourceDeterministic = "deterministic"
)

// maxSampledComparisons caps the per-query detail embedded in the
// recommendation prompt.
const maxSampledComparisons = 10

const recommendSystemText = "You are a GEO consultant advising an apartment property on its visibility in AI assistant answers. Return only a valid JSON object matching the requested shape."

const recommendPrompt = `Two AI surfaces (openai, claude) were audited for the property %q. Summary of the comparison:

%s

Write recommendations for the property's marketing team. Return a JSON object exactly in this shape:
{
  "summary": "...",
  "model_reliability": {"assessment": "...", "confidence": 0.0},
  "key_insights": ["..."],
  "consensus_recommendations": ["..."],
  "divergence_analysis": {"significant_differences": ["..."], "likely_cause": "..."},
  "action_items": [{"action": "...", "priority": "high|medium|low", "effort": "...", "impact": "..."}]
}`

const recommendReducedPrompt = `An audit compared how two AI surfaces (openai, claude) rank the apartment property %q. Agreement rate: %.1f%%. Overall scores: openai %.1f, claude %.1f.

Return a JSON object with fields "summary" (string), "key_insights" (array of strings), and "action_items" (array of {"action": "..."}).`

// recommendContext is the compact comparison digest sent to the provider.
type recommendContext struct {
	PropertyName         string                  `json:"property_name"`
	AgreementRate        float64                 `json:"agreement_rate"`
	ScoreComparison      model.MetricComparison  `json:"score_comparison"`
	VisibilityComparison model.MetricComparison  `json:"visibility_comparison"`
	ConsensusCount       int                     `json:"consensus_count"`
	OpenAIOnlyCount      int                     `json:"openai_only_count"`
	ClaudeOnlyCount      int                     `json:"claude_only_count"`
	SampleComparisons    []model.QueryComparison `json:"sample_comparisons"`
}

func buildRecommendContext(analysis model.CrossModelAnalysis) recommendContext {
	sample := analysis.QueryComparisons
	if len(sample) > maxSampledComparisons {
		sample = sample[:maxSampledComparisons]
	}
	return recommendContext{
		PropertyName:         analysis.PropertyName,
		AgreementRate:        analysis.AgreementRate,
		ScoreComparison:      analysis.ScoreComparison,
		VisibilityComparison: analysis.VisibilityComparison,
		ConsensusCount:       len(analysis.ConsensusEntities),
		OpenAIOnlyCount:      len(analysis.DivergentEntities.OpenAIOnly),
		ClaudeOnlyCount:      len(analysis.DivergentEntities.ClaudeOnly),
		SampleComparisons:    sample,
	}
}

// synthesizeRecommendations tries the primary provider with the full
// context, then the secondary with a reduced prompt, then falls back to a
// deterministic template. It never fails.
func (a *Analyzer) synthesizeRecommendations(ctx context.Context, analysis model.CrossModelAnalysis) (model.Recommendations, string) {
	if a.primary != nil {
		digest, err := json.MarshalIndent(buildRecommendContext(analysis), "", "  ")
		if err == nil {
			prompt := fmt.Sprintf(recommendPrompt, analysis.PropertyName, string(digest))
			if recs, err := a.askProvider(ctx, a.primary, prompt); err == nil {
				return *recs, string(a.primary.Provider())
			} else {
				zap.L().Warn("primary recommendation provider failed",
					zap.String("batch_id", analysis.BatchID),
					zap.Error(err),
				)
			}
		}
	}

	if a.secondary != nil {
		prompt := fmt.Sprintf(recommendReducedPrompt,
			analysis.PropertyName,
			analysis.AgreementRate,
			analysis.ScoreComparison.OpenAI,
			analysis.ScoreComparison.Claude,
		)
		if recs, err := a.askProvider(ctx, a.secondary, prompt); err == nil {
			return *recs, string(a.secondary.Provider())
		} else {
			zap.L().Warn("secondary recommendation provider failed",
				zap.String("batch_id", analysis.BatchID),
				zap.Error(err),
			)
		}
	}

	return deterministicRecommendations(analysis), SourceDeterministic
}

func (a *Analyzer) askProvider(ctx context.Context, client connector.ChatClient, prompt string) (*model.Recommendations, error) {
	req := connector.ChatRequest{
		System:      recommendSystemText,
		User:        prompt,
		Format:      connector.FormatJSON,
		Temperature: 0.4,
		MaxTokens:   2048,
	}

	retry := a.retry
	retry.OnRetry = resilience.RetryLogger(string(client.Provider()), "recommendation synthesis")

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*connector.ChatResponse, error) {
		return client.CompleteChat(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	decoded, err := connector.DecodeLooseJSON(resp.Text)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(decoded)
	if err != nil {
		return nil, eris.Wrap(err, "analyzer: re-encode recommendation payload")
	}
	var recs model.Recommendations
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, eris.Wrap(err, "analyzer: decode recommendation payload")
	}
	if recs.Summary == "" {
		return nil, eris.New("analyzer: recommendation payload has no summary")
	}
	return &recs, nil
}

// deterministicRecommendations templates guidance straight from the
// comparison numbers when both providers are unavailable.
func deterministicRecommendations(analysis model.CrossModelAnalysis) model.Recommendations {
	recs := model.Recommendations{
		Summary: fmt.Sprintf(
			"The two AI surfaces %s on %q: presence agreement is %.1f%% across %d queries.",
			agreementPhrase(analysis.AgreementRate),
			analysis.PropertyName,
			analysis.AgreementRate,
			len(analysis.QueryComparisons),
		),
		ModelReliability: model.ModelReliability{
			Assessment: fmt.Sprintf("%s scored the property higher overall", analysis.ScoreComparison.Higher),
			Confidence: 0.5,
		},
	}

	if analysis.ScoreComparison.Difference > 10 {
		recs.KeyInsights = append(recs.KeyInsights, fmt.Sprintf(
			"Overall scores differ by %.1f points; %s is the more favorable surface and the gap is worth investigating.",
			analysis.ScoreComparison.Difference,
			analysis.ScoreComparison.Higher,
		))
	}

	meanVisibility := (analysis.VisibilityComparison.OpenAI + analysis.VisibilityComparison.Claude) / 2
	if meanVisibility < 50 {
		recs.ActionItems = append(recs.ActionItems, model.ActionItem{
			Action:   fmt.Sprintf("Improve AI visibility: the property appears in under half of audited answers (mean visibility %.1f%%). Strengthen citations on listing sites and the property website.", meanVisibility),
			Priority: "high",
		})
	}

	return recs
}

func agreementPhrase(rate float64) string {
	switch {
	case rate >= 80:
		return "largely agree"
	case rate >= 50:
		return "partially agree"
	default:
		return "diverge significantly"
	}
}
