package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/geo-audit/internal/connector"
	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/resilience"
	"github.com/propsignal/geo-audit/internal/store"
)

// fakeStore implements the handful of Store methods the analyzer touches.
// The embedded interface panics on anything unexpected.
type fakeStore struct {
	store.Store
	runs     []model.Run
	scores   map[string]*model.RunAggregate
	answers  map[string][]model.AnswerRecord
	property *model.Property
	saved    []*model.CrossModelAnalysis
}

func (f *fakeStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	var out []model.Run
	for _, r := range f.runs {
		if filter.BatchID == "" || r.BatchID == filter.BatchID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRunScore(ctx context.Context, runID string) (*model.RunAggregate, error) {
	agg, ok := f.scores[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return agg, nil
}

func (f *fakeStore) ListAnswers(ctx context.Context, runID string) ([]model.AnswerRecord, error) {
	return f.answers[runID], nil
}

func (f *fakeStore) GetProperty(ctx context.Context, propertyID string) (*model.Property, error) {
	if f.property == nil {
		return nil, store.ErrNotFound
	}
	return f.property, nil
}

func (f *fakeStore) SaveBatchAnalysis(ctx context.Context, analysis *model.CrossModelAnalysis) error {
	f.saved = append(f.saved, analysis)
	return nil
}

// fakeRecommender scripts the recommendation provider.
type fakeRecommender struct {
	surface model.Surface
	text    string
	err     error
	calls   int
}

func (f *fakeRecommender) Provider() model.Surface { return f.surface }
func (f *fakeRecommender) SupportsSchema() bool    { return false }

func (f *fakeRecommender) CompleteChat(ctx context.Context, req connector.ChatRequest) (*connector.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &connector.ChatResponse{Text: f.text}, nil
}

func (f *fakeRecommender) CompleteChatWithWebSearch(ctx context.Context, req connector.ChatRequest) (*connector.ChatResponse, error) {
	return f.CompleteChat(ctx, req)
}

func answerWith(queryID string, presence bool, rank *int, names ...string) model.AnswerRecord {
	rec := model.AnswerRecord{
		QueryID: queryID,
		Score:   model.ScoreBreakdown{Presence: presence, LLMRank: rank},
	}
	for i, n := range names {
		rec.Answer.OrderedEntities = append(rec.Answer.OrderedEntities, model.OrderedEntity{
			Name: n, Domain: "example.com", Position: i + 1,
		})
	}
	return rec
}

func intPtr(v int) *int { return &v }

func viewOf(records ...model.AnswerRecord) RunView {
	view := RunView{Answers: make(map[string]model.AnswerRecord, len(records))}
	for _, r := range records {
		view.Answers[r.QueryID] = r
	}
	return view
}

func TestCompareMetric(t *testing.T) {
	mc := compareMetric(72.5, 60.0)
	assert.Equal(t, model.SurfaceOpenAI, mc.Higher)
	assert.InDelta(t, 12.5, mc.Difference, 1e-9)

	mc = compareMetric(40.0, 55.0)
	assert.Equal(t, model.SurfaceClaude, mc.Higher)
	assert.InDelta(t, 15.0, mc.Difference, 1e-9)
}

func TestCompare_AgreementRateTwoOfThree(t *testing.T) {
	openai := viewOf(
		answerWith("q1", true, intPtr(1)),
		answerWith("q2", true, intPtr(2)),
		answerWith("q3", true, intPtr(3)),
	)
	claude := viewOf(
		answerWith("q1", true, intPtr(1)),
		answerWith("q2", true, intPtr(2)),
		answerWith("q3", false, nil),
	)

	analysis := Compare("b1", "Sunset Apts", openai, claude)

	assert.InDelta(t, 100.0*2/3, analysis.AgreementRate, 0.01)
	require.Len(t, analysis.QueryComparisons, 3)
	assert.True(t, analysis.QueryComparisons[0].RankAgreement)
	assert.False(t, analysis.QueryComparisons[2].PresenceAgreement)
	assert.False(t, analysis.QueryComparisons[2].RankAgreement)
}

func TestCompare_EmptyUnion(t *testing.T) {
	analysis := Compare("b1", "Sunset Apts", RunView{}, RunView{})
	assert.Zero(t, analysis.AgreementRate)
	assert.Empty(t, analysis.QueryComparisons)
}

func TestRanksAgree_BothNil(t *testing.T) {
	assert.True(t, ranksAgree(nil, nil))
	assert.False(t, ranksAgree(intPtr(1), nil))
	assert.False(t, ranksAgree(intPtr(1), intPtr(2)))
	assert.True(t, ranksAgree(intPtr(3), intPtr(3)))
}

func TestCompare_ConsensusAndDivergence(t *testing.T) {
	openai := viewOf(
		answerWith("q1", true, intPtr(1), "Sunset Apts", "Oak Grove"),
		answerWith("q2", true, intPtr(1), "Sunset Apts", "Maple Court"),
	)
	claude := viewOf(
		answerWith("q1", true, intPtr(1), "sunset apts", "Birch Flats"),
		answerWith("q2", true, intPtr(1), "Sunset Apts"),
	)

	analysis := Compare("b1", "Sunset Apts", openai, claude)

	// Name comparison is case-insensitive and deduplicated across queries.
	assert.Equal(t, []string{"Sunset Apts"}, analysis.ConsensusEntities)

	// One-sided entities keep one occurrence per query.
	assert.Equal(t, []model.DivergentEntity{
		{Name: "Oak Grove", QueryID: "q1"},
		{Name: "Maple Court", QueryID: "q2"},
	}, analysis.DivergentEntities.OpenAIOnly)
	assert.Equal(t, []model.DivergentEntity{
		{Name: "Birch Flats", QueryID: "q1"},
	}, analysis.DivergentEntities.ClaudeOnly)
}

func TestCompare_QueryMissingFromOneRun(t *testing.T) {
	openai := viewOf(answerWith("q1", true, intPtr(1)), answerWith("q2", true, intPtr(1)))
	claude := viewOf(answerWith("q1", true, intPtr(1)))

	analysis := Compare("b1", "Sunset Apts", openai, claude)

	require.Len(t, analysis.QueryComparisons, 2)
	q2 := analysis.QueryComparisons[1]
	assert.Equal(t, "q2", q2.QueryID)
	assert.False(t, q2.ClaudePresence)
	assert.False(t, q2.PresenceAgreement)
}

func batchStore() *fakeStore {
	openaiAgg := &model.RunAggregate{OverallScore: 72, VisibilityPct: 100}
	claudeAgg := &model.RunAggregate{OverallScore: 55, VisibilityPct: 66.7}
	return &fakeStore{
		runs: []model.Run{
			{ID: "r-oai", BatchID: "b1", PropertyID: "p1", Surface: model.SurfaceOpenAI, Status: model.RunStatusCompleted},
			{ID: "r-cld", BatchID: "b1", PropertyID: "p1", Surface: model.SurfaceClaude, Status: model.RunStatusCompleted},
		},
		scores: map[string]*model.RunAggregate{"r-oai": openaiAgg, "r-cld": claudeAgg},
		answers: map[string][]model.AnswerRecord{
			"r-oai": {answerWith("q1", true, intPtr(1), "Sunset Apts")},
			"r-cld": {answerWith("q1", true, intPtr(1), "Sunset Apts")},
		},
		property: &model.Property{ID: "p1", Name: "Sunset Apts"},
	}
}

func TestAnalyzeBatch_MissingRun(t *testing.T) {
	st := batchStore()
	st.runs = st.runs[:1]

	res := New(st, nil, nil, resilience.NoWaitRetryConfig()).AnalyzeBatch(context.Background(), "b1")

	assert.False(t, res.Success)
	assert.Equal(t, "missing one or both model runs", res.Error)
	assert.Empty(t, st.saved)
}

func TestAnalyzeBatch_NonTerminalRunDoesNotCount(t *testing.T) {
	st := batchStore()
	st.runs[1].Status = model.RunStatusRunning

	res := New(st, nil, nil, resilience.NoWaitRetryConfig()).AnalyzeBatch(context.Background(), "b1")

	assert.False(t, res.Success)
	assert.Equal(t, "missing one or both model runs", res.Error)
}

func TestAnalyzeBatch_DeterministicFallback(t *testing.T) {
	st := batchStore()

	a := New(st, nil, nil, resilience.NoWaitRetryConfig())
	a.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }

	res := a.AnalyzeBatch(context.Background(), "b1")

	require.True(t, res.Success, res.Error)
	require.Len(t, st.saved, 1)
	saved := st.saved[0]
	assert.Equal(t, SourceDeterministic, saved.RecommendationSource)
	assert.Equal(t, "Sunset Apts", saved.PropertyName)
	assert.InDelta(t, 100, saved.AgreementRate, 1e-9)
	assert.NotEmpty(t, saved.Recommendations.Summary)
	assert.Equal(t, 2026, saved.AnalyzedAt.Year())

	// Score gap above ten points yields a key insight.
	require.Len(t, saved.Recommendations.KeyInsights, 1)
}

func TestAnalyzeBatch_Idempotent(t *testing.T) {
	st := batchStore()
	a := New(st, nil, nil, resilience.NoWaitRetryConfig())

	first := a.AnalyzeBatch(context.Background(), "b1")
	second := a.AnalyzeBatch(context.Background(), "b1")

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Len(t, st.saved, 2)
	assert.Equal(t, first.Analysis.AgreementRate, second.Analysis.AgreementRate)
}

func TestSynthesize_PrimaryProvider(t *testing.T) {
	st := batchStore()
	primary := &fakeRecommender{surface: model.SurfaceOpenAI, text: `{
		"summary": "OpenAI and Claude broadly agree.",
		"model_reliability": {"assessment": "both reliable", "confidence": 0.8},
		"key_insights": ["consistent top ranking"],
		"action_items": [{"action": "keep listings fresh", "priority": "low"}]
	}`}

	res := New(st, primary, nil, resilience.NoWaitRetryConfig()).AnalyzeBatch(context.Background(), "b1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, SourceOpenAI, res.Analysis.RecommendationSource)
	assert.Equal(t, "OpenAI and Claude broadly agree.", res.Analysis.Recommendations.Summary)
	assert.Equal(t, 1, primary.calls)
}

func TestSynthesize_FallsBackToSecondary(t *testing.T) {
	st := batchStore()
	primary := &fakeRecommender{surface: model.SurfaceOpenAI, err: eris.New("quota exceeded")}
	secondary := &fakeRecommender{surface: model.SurfaceClaude, text: `{"summary": "Reduced analysis.", "key_insights": []}`}

	res := New(st, primary, secondary, resilience.NoWaitRetryConfig()).AnalyzeBatch(context.Background(), "b1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, SourceClaude, res.Analysis.RecommendationSource)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestSynthesize_BothFailDeterministic(t *testing.T) {
	st := batchStore()
	primary := &fakeRecommender{surface: model.SurfaceOpenAI, err: eris.New("down")}
	secondary := &fakeRecommender{surface: model.SurfaceClaude, text: "not json at all"}

	res := New(st, primary, secondary, resilience.NoWaitRetryConfig()).AnalyzeBatch(context.Background(), "b1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, SourceDeterministic, res.Analysis.RecommendationSource)
}

func TestDeterministicRecommendations_LowVisibilityActionItem(t *testing.T) {
	analysis := model.CrossModelAnalysis{
		PropertyName:         "Sunset Apts",
		AgreementRate:        40,
		ScoreComparison:      compareMetric(30, 35),
		VisibilityComparison: compareMetric(40, 30),
	}

	recs := deterministicRecommendations(analysis)

	assert.Contains(t, recs.Summary, "diverge significantly")
	assert.Empty(t, recs.KeyInsights)
	require.Len(t, recs.ActionItems, 1)
	assert.Equal(t, "high", recs.ActionItems[0].Priority)
}
