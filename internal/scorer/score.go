// Package scorer turns a canonical answer block into a deterministic
// visibility score. Scoring is pure: same answer and context in, same
// breakdown out, no I/O.
package scorer

import (
	"strings"

	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/normalize"
)

// Component weights. They sum to 1.00; position dominates because rank in
// the ranked list is the strongest visibility signal.
const (
	weightPosition = 0.45
	weightLink     = 0.25
	weightSOV      = 0.20
	weightAccuracy = 0.10
)

// flagPenalty is the accuracy deduction per quality flag.
const flagPenalty = 25.0

// genericBrandWords are too common in apartment branding to identify a
// specific property on their own.
var genericBrandWords = map[string]bool{
	"apartment":  true,
	"apartments": true,
	"living":     true,
	"home":       true,
	"homes":      true,
	"residences": true,
	"community":  true,
	"place":      true,
}

// Score computes the ScoreBreakdown for one answer.
func Score(answer model.AnswerBlock, qc model.QueryContext) model.ScoreBreakdown {
	b := model.ScoreBreakdown{
		Flags: model.NormalizeFlags(answer.Flags),
	}

	b.LLMRank = llmRank(answer.OrderedEntities, qc)
	b.LinkRank = linkRank(answer.Citations, qc.BrandDomains)
	b.SOV = shareOfVoice(answer.Citations, qc.BrandDomains)
	b.Presence = b.LLMRank != nil || summaryMentionsBrand(answer.AnswerSummary, qc.BrandName)

	b.Components = model.ComponentScores{
		Position: rankComponent(b.LLMRank),
		Link:     rankComponent(b.LinkRank),
		SOV:      sovComponent(b.SOV),
		Accuracy: accuracyComponent(b.Flags),
	}
	b.Score = weightPosition*b.Components.Position +
		weightLink*b.Components.Link +
		weightSOV*b.Components.SOV +
		weightAccuracy*b.Components.Accuracy
	return b
}

// llmRank finds the position of the first entity that matches the brand.
// Matching tries domain first, then case-insensitive name containment,
// then the brand's first distinctive name word.
func llmRank(entities []model.OrderedEntity, qc model.QueryContext) *int {
	brandLower := strings.ToLower(strings.TrimSpace(qc.BrandName))
	distinctive := distinctiveWord(qc.BrandName)

	for i, e := range entities {
		if matchesBrand(e, brandLower, distinctive, qc.BrandDomains) {
			rank := e.Position
			if rank < 1 {
				rank = i + 1
			}
			return &rank
		}
	}
	return nil
}

func matchesBrand(e model.OrderedEntity, brandLower, distinctive string, brandDomains []string) bool {
	if normalize.IsBrandDomain(e.Domain, brandDomains) {
		return true
	}
	nameLower := strings.ToLower(e.Name)
	if brandLower != "" && (strings.Contains(nameLower, brandLower) || strings.Contains(brandLower, nameLower)) {
		return true
	}
	return distinctive != "" && strings.Contains(nameLower, distinctive)
}

// distinctiveWord returns the brand's first name word longer than three
// characters that is not a generic apartment-marketing word.
func distinctiveWord(brandName string) string {
	for _, w := range strings.Fields(strings.ToLower(brandName)) {
		w = strings.Trim(w, ".,&-")
		if len(w) > 3 && !genericBrandWords[w] {
			return w
		}
	}
	return ""
}

// linkRank is the 1-based index of the first brand-domain citation.
func linkRank(citations []model.Citation, brandDomains []string) *int {
	for i, c := range citations {
		if normalize.IsBrandDomain(c.Domain, brandDomains) {
			rank := i + 1
			return &rank
		}
	}
	return nil
}

// shareOfVoice is the fraction of citations pointing at the brand. Nil
// when the answer has no citations at all.
func shareOfVoice(citations []model.Citation, brandDomains []string) *float64 {
	if len(citations) == 0 {
		return nil
	}
	brand := 0
	for _, c := range citations {
		if normalize.IsBrandDomain(c.Domain, brandDomains) {
			brand++
		}
	}
	sov := float64(brand) / float64(len(citations))
	return &sov
}

func summaryMentionsBrand(summary, brandName string) bool {
	brand := strings.ToLower(strings.TrimSpace(brandName))
	if brand == "" {
		return false
	}
	return strings.Contains(strings.ToLower(summary), brand)
}

// rankComponent decays linearly from 100 at rank 1 to 10 at rank 10, and
// is 0 for an absent or out-of-window rank.
func rankComponent(rank *int) float64 {
	if rank == nil || *rank < 1 || *rank > 10 {
		return 0
	}
	return 110 - 10*float64(*rank)
}

func sovComponent(sov *float64) float64 {
	if sov == nil {
		return 0
	}
	return 100 * *sov
}

func accuracyComponent(flags []model.Flag) float64 {
	penalty := flagPenalty * float64(len(flags))
	if penalty >= 100 {
		return 0
	}
	return 100 - penalty
}
