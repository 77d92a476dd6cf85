package analyzer

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/propsignal/geo-audit/internal/model"
)

var nameFolder = cases.Fold()

// foldName canonicalizes an entity name for set comparison across models.
func foldName(name string) string {
	return nameFolder.String(strings.TrimSpace(name))
}

// RunView is the slice of one run the comparison needs: its aggregate plus
// answers keyed by query id.
type RunView struct {
	Aggregate model.RunAggregate
	Answers   map[string]model.AnswerRecord
}

// compareMetric lines up one aggregate metric across the two surfaces.
// Claude wins ties only when strictly higher.
func compareMetric(openaiVal, claudeVal float64) model.MetricComparison {
	mc := model.MetricComparison{
		OpenAI:     openaiVal,
		Claude:     claudeVal,
		Difference: openaiVal - claudeVal,
		Higher:     model.SurfaceOpenAI,
	}
	if mc.Difference < 0 {
		mc.Difference = -mc.Difference
		mc.Higher = model.SurfaceClaude
	}
	return mc
}

// unionQueryIDs returns the sorted union of query ids across both runs.
func unionQueryIDs(openai, claude map[string]model.AnswerRecord) []string {
	seen := make(map[string]bool, len(openai)+len(claude))
	for id := range openai {
		seen[id] = true
	}
	for id := range claude {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// compareQueries builds the per-query agreement table over the union of
// query ids and the resulting agreement rate. A query missing from one run
// counts as absent there.
func compareQueries(openai, claude map[string]model.AnswerRecord) ([]model.QueryComparison, float64) {
	ids := unionQueryIDs(openai, claude)
	if len(ids) == 0 {
		return nil, 0
	}

	comparisons := make([]model.QueryComparison, 0, len(ids))
	agreed := 0
	for _, id := range ids {
		qc := model.QueryComparison{QueryID: id}
		if rec, ok := openai[id]; ok {
			qc.OpenAIPresence = rec.Score.Presence
			qc.OpenAIRank = rec.Score.LLMRank
		}
		if rec, ok := claude[id]; ok {
			qc.ClaudePresence = rec.Score.Presence
			qc.ClaudeRank = rec.Score.LLMRank
		}
		qc.PresenceAgreement = qc.OpenAIPresence == qc.ClaudePresence
		qc.RankAgreement = ranksAgree(qc.OpenAIRank, qc.ClaudeRank)
		if qc.PresenceAgreement {
			agreed++
		}
		comparisons = append(comparisons, qc)
	}

	return comparisons, 100 * float64(agreed) / float64(len(ids))
}

// ranksAgree treats two absent ranks as agreement.
func ranksAgree(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// compareEntities splits each query's entity-name sets into consensus
// (deduplicated across the run) and one-sided occurrences (tagged per
// query, not deduplicated).
func compareEntities(openai, claude map[string]model.AnswerRecord) ([]string, model.DivergentEntities) {
	consensusSeen := make(map[string]bool)
	var consensus []string
	var divergent model.DivergentEntities

	for _, id := range unionQueryIDs(openai, claude) {
		openaiNames := entityNames(openai[id].Answer)
		claudeNames := entityNames(claude[id].Answer)

		for folded, display := range openaiNames {
			if _, both := claudeNames[folded]; both {
				if !consensusSeen[folded] {
					consensusSeen[folded] = true
					consensus = append(consensus, display)
				}
			} else {
				divergent.OpenAIOnly = append(divergent.OpenAIOnly, model.DivergentEntity{Name: display, QueryID: id})
			}
		}
		for folded, display := range claudeNames {
			if _, both := openaiNames[folded]; !both {
				divergent.ClaudeOnly = append(divergent.ClaudeOnly, model.DivergentEntity{Name: display, QueryID: id})
			}
		}
	}

	sort.Strings(consensus)
	sortDivergent(divergent.OpenAIOnly)
	sortDivergent(divergent.ClaudeOnly)
	return consensus, divergent
}

// entityNames maps folded name to first-seen display name for one answer.
func entityNames(answer model.AnswerBlock) map[string]string {
	names := make(map[string]string, len(answer.OrderedEntities))
	for _, e := range answer.OrderedEntities {
		folded := foldName(e.Name)
		if folded == "" {
			continue
		}
		if _, ok := names[folded]; !ok {
			names[folded] = e.Name
		}
	}
	return names
}

func sortDivergent(entities []model.DivergentEntity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].QueryID != entities[j].QueryID {
			return entities[i].QueryID < entities[j].QueryID
		}
		return entities[i].Name < entities[j].Name
	})
}

// Compare computes the full cross-model comparison for one batch. Pure;
// recommendation synthesis and persistence happen elsewhere.
func Compare(batchID, propertyName string, openai, claude RunView) model.CrossModelAnalysis {
	analysis := model.CrossModelAnalysis{
		BatchID:              batchID,
		PropertyName:         propertyName,
		ScoreComparison:      compareMetric(openai.Aggregate.OverallScore, claude.Aggregate.OverallScore),
		VisibilityComparison: compareMetric(openai.Aggregate.VisibilityPct, claude.Aggregate.VisibilityPct),
	}
	analysis.QueryComparisons, analysis.AgreementRate = compareQueries(openai.Answers, claude.Answers)
	analysis.ConsensusEntities, analysis.DivergentEntities = compareEntities(openai.Answers, claude.Answers)
	return analysis
}
