// Package analyzer reconciles the openai and claude runs of a batch into
// one cross-model analysis: metric comparisons, per-query agreement,
// entity consensus and divergence, and synthesized recommendations.
package analyzer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/connector"
	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/resilience"
	"github.com/propsignal/geo-audit/internal/store"
)

// Result is the analyzer's only output shape. The analyzer never returns a
// Go error upward; failures land in Error with Success=false.
type Result struct {
	Success  bool                      `json:"success"`
	Error    string                    `json:"error,omitempty"`
	Analysis *model.CrossModelAnalysis `json:"analysis,omitempty"`
}

// Analyzer reads both runs of a batch and attaches a CrossModelAnalysis.
// It never mutates run or answer content.
type Analyzer struct {
	store     store.Store
	primary   connector.ChatClient
	secondary connector.ChatClient
	retry     resilience.RetryConfig
	now       func() time.Time
}

// New builds an Analyzer. primary is asked for recommendations first,
// secondary is the reduced-prompt fallback; either may be nil, in which
// case synthesis skips straight to the deterministic template.
func New(st store.Store, primary, secondary connector.ChatClient, retry resilience.RetryConfig) *Analyzer {
	return &Analyzer{
		store:     st,
		primary:   primary,
		secondary: secondary,
		retry:     retry,
		now:       time.Now,
	}
}

const errMissingRuns = "missing one or both model runs"

// AnalyzeBatch computes and persists the cross-model analysis for a batch.
// Precondition: both surface runs exist and are terminal; otherwise the
// result reports the missing-runs error with no side effects. Re-running
// overwrites the prior analysis.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, batchID string) Result {
	runs, err := a.store.ListRuns(ctx, store.RunFilter{BatchID: batchID})
	if err != nil {
		return Result{Error: "list batch runs: " + err.Error()}
	}

	bySurface := make(map[model.Surface]*model.Run, 2)
	for i := range runs {
		run := &runs[i]
		if run.Status.Terminal() {
			bySurface[run.Surface] = run
		}
	}
	openaiRun, hasOpenAI := bySurface[model.SurfaceOpenAI]
	claudeRun, hasClaude := bySurface[model.SurfaceClaude]
	if !hasOpenAI || !hasClaude {
		return Result{Error: errMissingRuns}
	}

	openaiView, err := a.loadRunView(ctx, openaiRun.ID)
	if err != nil {
		return Result{Error: "load openai run: " + err.Error()}
	}
	claudeView, err := a.loadRunView(ctx, claudeRun.ID)
	if err != nil {
		return Result{Error: "load claude run: " + err.Error()}
	}

	propertyName := ""
	if prop, err := a.store.GetProperty(ctx, openaiRun.PropertyID); err == nil {
		propertyName = prop.Name
	}

	analysis := Compare(batchID, propertyName, openaiView, claudeView)
	analysis.Recommendations, analysis.RecommendationSource = a.synthesizeRecommendations(ctx, analysis)
	analysis.AnalyzedAt = a.now().UTC()

	if err := a.store.SaveBatchAnalysis(ctx, &analysis); err != nil {
		return Result{Error: "persist analysis: " + err.Error()}
	}

	zap.L().Info("batch analysis complete",
		zap.String("batch_id", batchID),
		zap.Float64("agreement_rate", analysis.AgreementRate),
		zap.String("recommendation_source", analysis.RecommendationSource),
	)
	return Result{Success: true, Analysis: &analysis}
}

func (a *Analyzer) loadRunView(ctx context.Context, runID string) (RunView, error) {
	agg, err := a.store.GetRunScore(ctx, runID)
	if err != nil {
		return RunView{}, err
	}
	answers, err := a.store.ListAnswers(ctx, runID)
	if err != nil {
		return RunView{}, err
	}

	view := RunView{Aggregate: *agg, Answers: make(map[string]model.AnswerRecord, len(answers))}
	for _, rec := range answers {
		view.Answers[rec.QueryID] = rec
	}
	return view, nil
}
