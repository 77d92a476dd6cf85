// Package connector drives one model provider through one invocation
// protocol. Four concrete (provider, mode) instances are built by
// NewRegistry; callers select one by key instead of branching on
// provider names.
package connector

import (
	"context"
	"encoding/json"

	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/resilience"
)

// ResponseFormat tells a ChatClient how hard to constrain the output.
type ResponseFormat string

const (
	FormatText       ResponseFormat = "text"
	FormatJSON       ResponseFormat = "json"
	FormatJSONSchema ResponseFormat = "json_schema"
)

// ChatRequest is the provider-agnostic request the connectors build.
type ChatRequest struct {
	System      string
	User        string
	Format      ResponseFormat
	SchemaName  string
	Schema      json.RawMessage
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the provider-agnostic call result.
type ChatResponse struct {
	Text         string
	Sources      []model.SearchSource
	ID           string
	StopReason   string
	ModelID      string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// ChatClient is the single "complete chat" capability the connectors
// consume. Schema-constrained mode is best effort; clients that cannot
// enforce a schema report it and the connectors fall back to free text
// plus bracket extraction.
type ChatClient interface {
	Provider() model.Surface
	SupportsSchema() bool
	CompleteChat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	CompleteChatWithWebSearch(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Result pairs the canonical answer with the raw diagnostics of the calls
// that produced it. Connectors always return a well-formed Result; call
// and parse failures degrade to a canonical empty AnswerBlock.
type Result struct {
	Answer model.AnswerBlock
	Raw    model.RawDiagnostics
}

// Connector runs one provider through one invocation protocol for a query.
type Connector interface {
	Invoke(ctx context.Context, qc model.QueryContext) Result
}

// Config holds the knobs shared by all connector instances. Built once at
// orchestrator start and passed down.
type Config struct {
	Temperature float64
	MaxTokens   int
	WebSearch   bool
	Retry       resilience.RetryConfig
}

// Key selects a connector by provider surface and invocation mode.
type Key struct {
	Surface model.Surface
	Mode    model.Mode
}

// Registry maps (surface, mode) to a ready connector instance.
type Registry map[Key]Connector

// NewRegistry builds all four connector instances over the two provider
// clients.
func NewRegistry(openaiClient, claudeClient ChatClient, cfg Config) Registry {
	return Registry{
		{Surface: model.SurfaceOpenAI, Mode: model.ModeStructured}: NewStructured(openaiClient, cfg),
		{Surface: model.SurfaceOpenAI, Mode: model.ModeNatural}:    NewNatural(openaiClient, cfg),
		{Surface: model.SurfaceClaude, Mode: model.ModeStructured}: NewStructured(claudeClient, cfg),
		{Surface: model.SurfaceClaude, Mode: model.ModeNatural}:    NewNatural(claudeClient, cfg),
	}
}
