// Package coerce maps arbitrary model JSON into the canonical AnswerBlock.
// It is the single validation choke-point: whatever shape a provider
// returns, scoring only ever sees a well-formed block.
package coerce

import (
	"github.com/rotisserie/eris"

	"github.com/propsignal/geo-audit/internal/model"
)

// Placeholder values for fields a model omitted.
const (
	DefaultRationale = "No rationale provided"
	FallbackSummary  = "No summary provided"
)

// Coercion failures. Callers convert these into a canonical empty block;
// they are never retried.
var (
	ErrNotObject       = eris.New("coerce: candidate is not a JSON object")
	ErrNoEntities      = eris.New("coerce: no non-empty entity array present")
	ErrNoValidEntities = eris.New("coerce: no entities with both name and domain")
)

// entityKeys are the accepted aliases for the ranked entity array, in
// lookup order.
var entityKeys = []string{"ordered_entities", "results", "providers"}

// Coerce validates and repairs a decoded JSON candidate into an
// AnswerBlock. Entities missing a name or domain are dropped; missing
// rationales and positions are backfilled. Caller-supplied notes.flags are
// kept when they belong to the closed enum. A nil error guarantees a
// non-empty entity list.
func Coerce(candidate any) (*model.AnswerBlock, error) {
	obj, ok := candidate.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	items := findEntityArray(obj)
	if len(items) == 0 {
		return nil, ErrNoEntities
	}

	entities := make([]model.OrderedEntity, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(m, "name")
		domain := stringField(m, "domain")
		if name == "" || domain == "" {
			continue
		}
		e := model.OrderedEntity{
			Name:      name,
			Domain:    domain,
			Rationale: stringField(m, "rationale"),
			Position:  intField(m, "position"),
		}
		if e.Rationale == "" {
			e.Rationale = DefaultRationale
		}
		if e.Position < 1 {
			e.Position = i + 1
		}
		entities = append(entities, e)
	}
	if len(entities) == 0 {
		return nil, ErrNoValidEntities
	}

	block := &model.AnswerBlock{
		OrderedEntities: entities,
		Citations:       coerceCitations(obj["citations"]),
		AnswerSummary:   firstString(obj, "answer_summary", "summary"),
		Flags:           model.NormalizeFlags(notesFlags(obj)),
	}
	if block.AnswerSummary == "" {
		block.AnswerSummary = FallbackSummary
	}
	return block, nil
}

// DetectFlags runs the quality heuristics over a coerced block. Structured
// mode unions these into the block's flags; natural mode relies on the
// model's self-reported flags instead.
func DetectFlags(a *model.AnswerBlock) []model.Flag {
	var flags []model.Flag
	if len(a.Citations) == 0 {
		flags = append(flags, model.FlagNoSources)
	}
	if (len(a.OrderedEntities) > 0 && len(a.Citations) == 0) || len(a.AnswerSummary) < 20 {
		flags = append(flags, model.FlagPossibleHallucination)
	}
	return flags
}

// ApplyDetector merges detector output into a block's flag set.
func ApplyDetector(a *model.AnswerBlock) {
	a.Flags = model.NormalizeFlags(append(a.Flags, DetectFlags(a)...))
}

// EmptySchemaMismatch builds the canonical empty block for well-formed but
// wrongly shaped model output.
func EmptySchemaMismatch(diagnostic string) model.AnswerBlock {
	return model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{},
		Citations:       []model.Citation{},
		AnswerSummary:   diagnostic,
		Flags:           []model.Flag{model.FlagPossibleHallucination},
	}
}

// EmptyCallFailure builds the canonical empty block for a call-level
// failure (network, auth, retry exhaustion).
func EmptyCallFailure(diagnostic string) model.AnswerBlock {
	return model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{},
		Citations:       []model.Citation{},
		AnswerSummary:   diagnostic,
		Flags:           []model.Flag{model.FlagNoSources},
	}
}

func findEntityArray(obj map[string]any) []any {
	for _, key := range entityKeys {
		if arr, ok := obj[key].([]any); ok && len(arr) > 0 {
			return arr
		}
	}
	return nil
}

func coerceCitations(raw any) []model.Citation {
	arr, ok := raw.([]any)
	if !ok {
		return []model.Citation{}
	}
	out := make([]model.Citation, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url := stringField(m, "url")
		domain := stringField(m, "domain")
		if url == "" || domain == "" {
			continue
		}
		out = append(out, model.Citation{
			URL:       url,
			Domain:    domain,
			EntityRef: stringField(m, "entity_ref"),
		})
	}
	return out
}

func notesFlags(obj map[string]any) []model.Flag {
	notes, ok := obj["notes"].(map[string]any)
	if !ok {
		return nil
	}
	arr, ok := notes["flags"].([]any)
	if !ok {
		return nil
	}
	var flags []model.Flag
	for _, v := range arr {
		if s, ok := v.(string); ok {
			flags = append(flags, model.Flag(s))
		}
	}
	return flags
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
