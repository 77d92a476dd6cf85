package scorer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/geo-audit/internal/model"
)

func brandContext() model.QueryContext {
	return model.QueryContext{
		QueryID:      "q1",
		QueryText:    "best apartments near downtown Austin",
		BrandName:    "Sunset Apts",
		BrandDomains: []string{"sunsetapts.com"},
	}
}

func TestScore_TopRankedWithBrandCitation(t *testing.T) {
	answer := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{
			{Name: "Sunset Apts", Domain: "sunsetapts.com", Position: 1},
		},
		Citations: []model.Citation{
			{URL: "https://sunsetapts.com/x", Domain: "sunsetapts.com"},
		},
		AnswerSummary: "Sunset Apts leads the downtown market.",
	}

	b := Score(answer, brandContext())

	require.NotNil(t, b.LLMRank)
	assert.Equal(t, 1, *b.LLMRank)
	require.NotNil(t, b.LinkRank)
	assert.Equal(t, 1, *b.LinkRank)
	require.NotNil(t, b.SOV)
	assert.InDelta(t, 1.0, *b.SOV, 1e-9)
	assert.True(t, b.Presence)
	assert.InDelta(t, 100, b.Components.Position, 1e-9)
	assert.InDelta(t, 100, b.Components.Link, 1e-9)
	assert.InDelta(t, 100, b.Components.SOV, 1e-9)
	assert.InDelta(t, 100, b.Components.Accuracy, 1e-9)
	assert.InDelta(t, 100, b.Score, 1e-9)
}

func TestScore_NoCitations(t *testing.T) {
	answer := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{
			{Name: "Sunset Apts", Domain: "sunsetapts.com", Position: 1},
		},
		AnswerSummary: "Sunset Apts leads the downtown market.",
		Flags:         []model.Flag{model.FlagNoSources},
	}

	b := Score(answer, brandContext())

	assert.Nil(t, b.LinkRank)
	assert.Nil(t, b.SOV)
	assert.InDelta(t, 0, b.Components.Link, 1e-9)
	assert.InDelta(t, 0, b.Components.SOV, 1e-9)
	assert.InDelta(t, 75, b.Components.Accuracy, 1e-9)
	assert.InDelta(t, 52.5, b.Score, 1e-9)
}

func TestScore_BrandAbsent(t *testing.T) {
	answer := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{},
		Citations:       []model.Citation{},
		AnswerSummary:   "model call failed: timeout",
		Flags:           []model.Flag{model.FlagNoSources, model.FlagPossibleHallucination},
	}

	b := Score(answer, brandContext())

	assert.False(t, b.Presence)
	assert.Nil(t, b.LLMRank)
	assert.InDelta(t, 0, b.Components.Position, 1e-9)
	assert.InDelta(t, 50, b.Components.Accuracy, 1e-9)
	assert.InDelta(t, 5.0, b.Score, 1e-9)
}

func TestScore_MatchesByNameWithoutDomain(t *testing.T) {
	answer := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{
			{Name: "Oak Grove", Domain: "oakgrove.com", Position: 1},
			{Name: "The Sunset Apts Community", Domain: "apartmentlist.com", Position: 2},
		},
		AnswerSummary: "Two strong options downtown.",
	}

	b := Score(answer, brandContext())

	require.NotNil(t, b.LLMRank)
	assert.Equal(t, 2, *b.LLMRank)
}

func TestScore_MatchesByDistinctiveWord(t *testing.T) {
	qc := brandContext()
	qc.BrandName = "Sunset Ridge Apartments"

	answer := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{
			{Name: "Sunset Towers", Domain: "sunsettowers.io", Position: 1},
		},
		AnswerSummary: "One option stood out.",
	}

	b := Score(answer, qc)

	// "sunset" is the distinctive word; "apartments" never counts.
	require.NotNil(t, b.LLMRank)
	assert.Equal(t, 1, *b.LLMRank)
}

func TestScore_GenericWordAloneDoesNotMatch(t *testing.T) {
	qc := brandContext()
	qc.BrandName = "Apartments Living"

	answer := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{
			{Name: "Oak Grove Apartments", Domain: "oakgrove.com", Position: 1},
		},
		AnswerSummary: "Nothing relevant.",
	}

	assert.Nil(t, Score(answer, qc).LLMRank)
}

func TestScore_PresenceFromSummaryOnly(t *testing.T) {
	answer := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{
			{Name: "Oak Grove", Domain: "oakgrove.com", Position: 1},
		},
		AnswerSummary: "Oak Grove edges out sunset apts on price.",
	}

	b := Score(answer, brandContext())

	assert.Nil(t, b.LLMRank)
	assert.True(t, b.Presence)
	assert.InDelta(t, 0, b.Components.Position, 1e-9)
}

func TestScore_RankDecayMonotonic(t *testing.T) {
	prev := 101.0
	for rank := 1; rank <= 12; rank++ {
		answer := model.AnswerBlock{
			OrderedEntities: []model.OrderedEntity{
				{Name: "Sunset Apts", Domain: "sunsetapts.com", Position: rank},
			},
			AnswerSummary: "Ranked answer.",
		}
		b := Score(answer, brandContext())
		assert.LessOrEqual(t, b.Components.Position, prev, "rank %d", rank)
		assert.GreaterOrEqual(t, b.Components.Position, 0.0)
		prev = b.Components.Position
	}

	// Beyond the ten-entity window the component bottoms out at zero.
	deep := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{
			{Name: "Sunset Apts", Domain: "sunsetapts.com", Position: 11},
		},
		AnswerSummary: "Ranked answer.",
	}
	assert.InDelta(t, 0, Score(deep, brandContext()).Components.Position, 1e-9)
}

func TestScore_SubdomainCitationCounts(t *testing.T) {
	answer := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{
			{Name: "Sunset Apts", Domain: "www.sunsetapts.com", Position: 1},
		},
		Citations: []model.Citation{
			{URL: "https://blog.sunsetapts.com/post", Domain: "blog.sunsetapts.com"},
			{URL: "https://apartmentlist.com/austin", Domain: "apartmentlist.com"},
		},
		AnswerSummary: "Sunset Apts and one aggregator.",
	}

	b := Score(answer, brandContext())

	require.NotNil(t, b.LinkRank)
	assert.Equal(t, 1, *b.LinkRank)
	require.NotNil(t, b.SOV)
	assert.InDelta(t, 0.5, *b.SOV, 1e-9)
}

func TestScore_AccuracyFloorsAtZero(t *testing.T) {
	answer := model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{
			{Name: "Sunset Apts", Domain: "sunsetapts.com", Position: 1},
		},
		AnswerSummary: "Sunset Apts, with every flag set.",
		Flags: []model.Flag{
			model.FlagNoSources,
			model.FlagPossibleHallucination,
			model.FlagOutdatedInfo,
			model.FlagNAPMismatch,
			model.FlagConflictingPrices,
		},
	}

	b := Score(answer, brandContext())
	assert.InDelta(t, 0, b.Components.Accuracy, 1e-9)
	assert.GreaterOrEqual(t, b.Score, 0.0)
	assert.LessOrEqual(t, b.Score, 100.0)
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func sampleScored() []ScoredQuery {
	return []ScoredQuery{
		{QueryID: "q1", QueryText: "a", Breakdown: model.ScoreBreakdown{
			Presence: true, LLMRank: intPtr(1), LinkRank: intPtr(1), SOV: floatPtr(1.0),
			Components: model.ComponentScores{Position: 100, Link: 100, SOV: 100, Accuracy: 100},
			Score:      100,
		}},
		{QueryID: "q2", QueryText: "b", Breakdown: model.ScoreBreakdown{
			Presence: true, LLMRank: intPtr(3), SOV: nil,
			Components: model.ComponentScores{Position: 80, Accuracy: 75},
			Score:      0.45*80 + 0.10*75,
		}},
		{QueryID: "q3", QueryText: "c", Breakdown: model.ScoreBreakdown{
			Presence:   false,
			Components: model.ComponentScores{Accuracy: 50},
			Score:      5,
		}},
	}
}

func TestAggregate_MeansAndNullHandling(t *testing.T) {
	agg := Aggregate(sampleScored())

	assert.InDelta(t, (100+43.5+5)/3.0, agg.OverallScore, 1e-9)
	assert.InDelta(t, 100.0*2/3, agg.VisibilityPct, 1e-9)

	require.NotNil(t, agg.AvgLLMRank)
	assert.InDelta(t, 2.0, *agg.AvgLLMRank, 1e-9)
	require.NotNil(t, agg.AvgLinkRank)
	assert.InDelta(t, 1.0, *agg.AvgLinkRank, 1e-9)
	require.NotNil(t, agg.AvgSOV)
	assert.InDelta(t, 1.0, *agg.AvgSOV, 1e-9)

	assert.InDelta(t, 60, agg.Breakdown.Position, 1e-9)
	assert.InDelta(t, 75, agg.Breakdown.Accuracy, 1e-9)
	require.Len(t, agg.QueryScores, 3)
	assert.Equal(t, "q1", agg.QueryScores[0].QueryID)
}

func TestAggregate_Empty(t *testing.T) {
	agg := Aggregate(nil)

	assert.Zero(t, agg.OverallScore)
	assert.Zero(t, agg.VisibilityPct)
	assert.Nil(t, agg.AvgLLMRank)
	assert.Nil(t, agg.AvgLinkRank)
	assert.Nil(t, agg.AvgSOV)
	assert.Empty(t, agg.QueryScores)
}

func TestAggregate_AllNullRanksStayNull(t *testing.T) {
	agg := Aggregate([]ScoredQuery{
		{QueryID: "q1", Breakdown: model.ScoreBreakdown{Score: 5}},
		{QueryID: "q2", Breakdown: model.ScoreBreakdown{Score: 5}},
	})

	assert.Nil(t, agg.AvgLLMRank)
	assert.Nil(t, agg.AvgLinkRank)
	assert.Nil(t, agg.AvgSOV)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	scored := sampleScored()
	base := Aggregate(scored)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]ScoredQuery(nil), scored...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		agg := Aggregate(shuffled)

		assert.InDelta(t, base.OverallScore, agg.OverallScore, 1e-9)
		assert.InDelta(t, base.VisibilityPct, agg.VisibilityPct, 1e-9)
		assert.InDelta(t, *base.AvgLLMRank, *agg.AvgLLMRank, 1e-9)
		assert.InDelta(t, base.Breakdown.Position, agg.Breakdown.Position, 1e-9)
	}
}
