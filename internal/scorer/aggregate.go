package scorer

import "github.com/propsignal/geo-audit/internal/model"

// ScoredQuery pairs a query with its breakdown for aggregation.
type ScoredQuery struct {
	QueryID   string
	QueryText string
	Breakdown model.ScoreBreakdown
}

// Aggregate folds per-query breakdowns into a run-level summary. Every
// query counts equally; rank and SOV averages consider only queries where
// the value exists and stay nil when none do.
func Aggregate(scored []ScoredQuery) model.RunAggregate {
	agg := model.RunAggregate{
		QueryScores: make([]model.QueryScoreSummary, 0, len(scored)),
	}
	if len(scored) == 0 {
		return agg
	}

	var (
		scoreSum   float64
		present    int
		components model.ComponentScores
		llmRanks   meanAcc
		linkRanks  meanAcc
		sovs       meanAcc
	)

	for _, sq := range scored {
		b := sq.Breakdown
		scoreSum += b.Score
		if b.Presence {
			present++
		}
		components.Position += b.Components.Position
		components.Link += b.Components.Link
		components.SOV += b.Components.SOV
		components.Accuracy += b.Components.Accuracy

		if b.LLMRank != nil {
			llmRanks.add(float64(*b.LLMRank))
		}
		if b.LinkRank != nil {
			linkRanks.add(float64(*b.LinkRank))
		}
		if b.SOV != nil {
			sovs.add(*b.SOV)
		}

		agg.QueryScores = append(agg.QueryScores, model.QueryScoreSummary{
			QueryID:   sq.QueryID,
			QueryText: sq.QueryText,
			Score:     b.Score,
			Presence:  b.Presence,
			LLMRank:   b.LLMRank,
		})
	}

	n := float64(len(scored))
	agg.OverallScore = scoreSum / n
	agg.VisibilityPct = 100 * float64(present) / n
	agg.Breakdown = model.ComponentScores{
		Position: components.Position / n,
		Link:     components.Link / n,
		SOV:      components.SOV / n,
		Accuracy: components.Accuracy / n,
	}
	agg.AvgLLMRank = llmRanks.mean()
	agg.AvgLinkRank = linkRanks.mean()
	agg.AvgSOV = sovs.mean()
	return agg
}

type meanAcc struct {
	sum float64
	n   int
}

func (m *meanAcc) add(v float64) {
	m.sum += v
	m.n++
}

func (m *meanAcc) mean() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}
