package coerce

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/geo-audit/internal/model"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestCoerce_HappyPath(t *testing.T) {
	block, err := Coerce(decode(t, `{
		"ordered_entities": [
			{"name": "Sunset Apts", "domain": "sunsetapts.com", "rationale": "top pick", "position": 1},
			{"name": "Oak Grove", "domain": "oakgrove.com", "position": 2}
		],
		"citations": [
			{"url": "https://sunsetapts.com/x", "domain": "sunsetapts.com"}
		],
		"answer_summary": "Sunset Apts leads the local market for renters."
	}`))
	require.NoError(t, err)
	require.Len(t, block.OrderedEntities, 2)
	assert.Equal(t, "top pick", block.OrderedEntities[0].Rationale)
	assert.Equal(t, DefaultRationale, block.OrderedEntities[1].Rationale)
	assert.Equal(t, 2, block.OrderedEntities[1].Position)
	assert.Len(t, block.Citations, 1)
	assert.Equal(t, "Sunset Apts leads the local market for renters.", block.AnswerSummary)
}

func TestCoerce_AcceptsAliasKeys(t *testing.T) {
	for _, key := range []string{"ordered_entities", "results", "providers"} {
		block, err := Coerce(decode(t, `{"`+key+`": [{"name": "A", "domain": "a.com"}]}`))
		require.NoError(t, err, key)
		assert.Len(t, block.OrderedEntities, 1)
	}
}

func TestCoerce_NotObject(t *testing.T) {
	_, err := Coerce(decode(t, `[1, 2, 3]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = Coerce("just a string")
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestCoerce_NoEntityArray(t *testing.T) {
	_, err := Coerce(decode(t, `{"answer_summary": "nothing here"}`))
	assert.ErrorIs(t, err, ErrNoEntities)

	_, err = Coerce(decode(t, `{"ordered_entities": []}`))
	assert.ErrorIs(t, err, ErrNoEntities)
}

func TestCoerce_AllEntitiesInvalid(t *testing.T) {
	_, err := Coerce(decode(t, `{"ordered_entities": [
		{"name": "", "domain": "a.com"},
		{"name": "B"},
		{"domain": "c.com"},
		"not an object"
	]}`))
	assert.ErrorIs(t, err, ErrNoValidEntities)
}

func TestCoerce_NeverReturnsEmptyEntities(t *testing.T) {
	// Either an error or a non-empty list, never both ways degenerate.
	inputs := []string{
		`{}`,
		`{"ordered_entities": []}`,
		`{"ordered_entities": [{"name": "A", "domain": "a.com"}]}`,
	}
	for _, in := range inputs {
		block, err := Coerce(decode(t, in))
		if err == nil {
			assert.NotEmpty(t, block.OrderedEntities)
		} else {
			assert.Nil(t, block)
		}
	}
}

func TestCoerce_PositionBackfill(t *testing.T) {
	block, err := Coerce(decode(t, `{"ordered_entities": [
		{"name": "A", "domain": "a.com", "position": "first"},
		{"name": "B", "domain": "b.com", "position": 0},
		{"name": "C", "domain": "c.com", "position": 7}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, block.OrderedEntities[0].Position)
	assert.Equal(t, 2, block.OrderedEntities[1].Position)
	assert.Equal(t, 7, block.OrderedEntities[2].Position)
}

func TestCoerce_CitationsFiltered(t *testing.T) {
	block, err := Coerce(decode(t, `{
		"ordered_entities": [{"name": "A", "domain": "a.com"}],
		"citations": [
			{"url": "https://a.com/x", "domain": "a.com", "entity_ref": "A"},
			{"url": "https://b.com/y"},
			{"domain": "c.com"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, block.Citations, 1)
	assert.Equal(t, "A", block.Citations[0].EntityRef)
}

func TestCoerce_SummaryFallbackChain(t *testing.T) {
	block, err := Coerce(decode(t, `{
		"ordered_entities": [{"name": "A", "domain": "a.com"}],
		"summary": "short form summary"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "short form summary", block.AnswerSummary)

	block, err = Coerce(decode(t, `{"ordered_entities": [{"name": "A", "domain": "a.com"}]}`))
	require.NoError(t, err)
	assert.Equal(t, FallbackSummary, block.AnswerSummary)
}

func TestCoerce_NotesFlagsFilteredToEnum(t *testing.T) {
	block, err := Coerce(decode(t, `{
		"ordered_entities": [{"name": "A", "domain": "a.com"}],
		"notes": {"flags": ["outdated_info", "made_up_flag", "outdated_info", "nap_mismatch"]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, []model.Flag{model.FlagNAPMismatch, model.FlagOutdatedInfo}, block.Flags)
}

func TestDetectFlags(t *testing.T) {
	longSummary := "This summary is comfortably longer than twenty characters."

	// Entities without citations: both flags.
	a := &model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{{Name: "A", Domain: "a.com"}},
		AnswerSummary:   longSummary,
	}
	flags := model.NormalizeFlags(DetectFlags(a))
	assert.Contains(t, flags, model.FlagNoSources)
	assert.Contains(t, flags, model.FlagPossibleHallucination)

	// Citations present and a long summary: clean.
	b := &model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{{Name: "A", Domain: "a.com"}},
		Citations:       []model.Citation{{URL: "https://a.com", Domain: "a.com"}},
		AnswerSummary:   longSummary,
	}
	assert.Empty(t, DetectFlags(b))

	// Short summary alone triggers the hallucination flag.
	c := &model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{{Name: "A", Domain: "a.com"}},
		Citations:       []model.Citation{{URL: "https://a.com", Domain: "a.com"}},
		AnswerSummary:   "too short",
	}
	assert.Equal(t, []model.Flag{model.FlagPossibleHallucination}, model.NormalizeFlags(DetectFlags(c)))
}

func TestApplyDetector_Union(t *testing.T) {
	a := &model.AnswerBlock{
		OrderedEntities: []model.OrderedEntity{{Name: "A", Domain: "a.com"}},
		AnswerSummary:   "short",
		Flags:           []model.Flag{model.FlagOutdatedInfo},
	}
	ApplyDetector(a)
	assert.Equal(t, []model.Flag{
		model.FlagNoSources,
		model.FlagOutdatedInfo,
		model.FlagPossibleHallucination,
	}, a.Flags)
}

func TestCanonicalEmptyBlocks(t *testing.T) {
	sm := EmptySchemaMismatch("model returned prose instead of JSON")
	assert.Empty(t, sm.OrderedEntities)
	assert.Equal(t, []model.Flag{model.FlagPossibleHallucination}, sm.Flags)
	assert.Equal(t, "model returned prose instead of JSON", sm.AnswerSummary)

	cf := EmptyCallFailure("openai: request timed out")
	assert.Empty(t, cf.OrderedEntities)
	assert.Equal(t, []model.Flag{model.FlagNoSources}, cf.Flags)
}
