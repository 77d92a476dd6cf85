package connector

import (
	"context"

	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/coerce"
	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/resilience"
)

// Structured implements the single-call protocol: ask the provider
// directly for machine-readable GEO data, parse, coerce, detect quality
// flags. Failures never propagate; they degrade to a canonical empty
// answer with the error recorded in diagnostics.
type Structured struct {
	client ChatClient
	cfg    Config
}

// NewStructured builds a structured-mode connector over client.
func NewStructured(client ChatClient, cfg Config) *Structured {
	return &Structured{client: client, cfg: cfg}
}

func (s *Structured) Invoke(ctx context.Context, qc model.QueryContext) Result {
	provider := string(s.client.Provider())
	raw := model.RawDiagnostics{Mode: string(model.ModeStructured)}

	req := ChatRequest{
		System:      structuredSystemText,
		User:        buildStructuredPrompt(qc),
		Format:      FormatJSON,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
	if s.client.SupportsSchema() {
		req.Format = FormatJSONSchema
		req.SchemaName = "geo_answer"
		req.Schema = analysisSchema
	}

	retry := s.cfg.Retry
	retry.OnRetry = resilience.RetryLogger(provider, "structured invoke")

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*ChatResponse, error) {
		return s.client.CompleteChat(ctx, req)
	})
	if err != nil {
		zap.L().Warn("structured call failed",
			zap.String("provider", provider),
			zap.String("query_id", qc.QueryID),
			zap.Error(err),
		)
		raw.Phase1 = &model.CallDiagnostics{Provider: provider, Error: err.Error()}
		return Result{Answer: coerce.EmptyCallFailure("model call failed: " + err.Error()), Raw: raw}
	}
	raw.Phase1 = callDiagnostics(provider, resp, "")

	decoded, err := DecodeLooseJSON(resp.Text)
	if err != nil {
		raw.Phase1.Error = err.Error()
		return Result{Answer: coerce.EmptyCallFailure("unparseable model reply: " + err.Error()), Raw: raw}
	}

	block, err := coerce.Coerce(decoded)
	if err != nil {
		raw.Phase1.Error = err.Error()
		return Result{Answer: coerce.EmptySchemaMismatch("coercion failed: " + err.Error()), Raw: raw}
	}

	// Structured output carries no conversation to self-report from, so
	// the detector supplies the quality flags.
	coerce.ApplyDetector(block)

	return Result{Answer: *block, Raw: raw}
}

func callDiagnostics(provider string, resp *ChatResponse, errMsg string) *model.CallDiagnostics {
	d := &model.CallDiagnostics{Provider: provider, Error: errMsg}
	if resp != nil {
		d.Model = resp.ModelID
		d.ResponseID = resp.ID
		d.StopReason = resp.StopReason
		d.InputTokens = resp.InputTokens
		d.OutputTokens = resp.OutputTokens
		d.CostUSD = resp.CostUSD
	}
	return d
}
