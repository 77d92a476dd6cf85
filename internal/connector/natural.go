package connector

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/coerce"
	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/resilience"
)

// Natural implements the two-phase protocol. Phase 1 asks the provider
// the renter's question conversationally, with no brand context, so the
// answer reflects what an organic user would see. Phase 2 sends that
// answer back with full brand context and extracts a structured envelope.
type Natural struct {
	client ChatClient
	cfg    Config
}

// NewNatural builds a natural-mode connector over client.
func NewNatural(client ChatClient, cfg Config) *Natural {
	return &Natural{client: client, cfg: cfg}
}

func (n *Natural) Invoke(ctx context.Context, qc model.QueryContext) Result {
	provider := string(n.client.Provider())
	raw := model.RawDiagnostics{Mode: string(model.ModeNatural)}

	// Phase 1: organic conversational answer.
	resp, err := n.phase1(ctx, qc)
	if err != nil {
		zap.L().Warn("natural phase 1 failed",
			zap.String("provider", provider),
			zap.String("query_id", qc.QueryID),
			zap.Error(err),
		)
		raw.Phase1 = &model.CallDiagnostics{Provider: provider, Error: err.Error()}
		return Result{Answer: coerce.EmptyCallFailure("natural response failed: " + err.Error()), Raw: raw}
	}
	raw.Phase1 = callDiagnostics(provider, resp, "")
	raw.NaturalResponseText = resp.Text
	raw.SearchSources = resp.Sources

	// Phase 2: structured extraction over the Phase-1 text.
	analysisReq := ChatRequest{
		System:      analysisSystemText,
		User:        buildAnalysisPrompt(qc, resp.Text),
		Format:      FormatJSON,
		Temperature: n.cfg.Temperature,
		MaxTokens:   n.cfg.MaxTokens,
	}
	if n.client.SupportsSchema() {
		analysisReq.Format = FormatJSONSchema
		analysisReq.SchemaName = "geo_analysis"
		analysisReq.Schema = analysisSchema
	}

	retry := n.cfg.Retry
	retry.OnRetry = resilience.RetryLogger(provider, "natural analysis")

	aResp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*ChatResponse, error) {
		return n.client.CompleteChat(ctx, analysisReq)
	})
	if err != nil {
		zap.L().Warn("natural phase 2 failed",
			zap.String("provider", provider),
			zap.String("query_id", qc.QueryID),
			zap.Error(err),
		)
		raw.Phase2 = &model.CallDiagnostics{Provider: provider, Error: err.Error()}
		return Result{Answer: coerce.EmptyCallFailure("analysis call failed: " + err.Error()), Raw: raw}
	}
	raw.Phase2 = callDiagnostics(provider, aResp, "")

	decoded, err := DecodeLooseJSON(aResp.Text)
	if err != nil {
		raw.Phase2.Error = err.Error()
		return Result{Answer: coerce.EmptyCallFailure("unparseable analysis reply: " + err.Error()), Raw: raw}
	}

	blockCandidate, analysis := splitEnvelope(decoded)
	raw.Analysis = analysis

	block, err := coerce.Coerce(blockCandidate)
	if err != nil {
		raw.Phase2.Error = err.Error()
		return Result{Answer: coerce.EmptySchemaMismatch("coercion failed: " + err.Error()), Raw: raw}
	}

	// Phase 2 self-reports flags via notes.flags; the heuristic detector
	// stays off in this mode.
	return Result{Answer: *block, Raw: raw}
}

// phase1 runs the conversational call. When web search is enabled the
// tool path is tried first; a tool-path failure falls back to a plain
// call with empty sources.
func (n *Natural) phase1(ctx context.Context, qc model.QueryContext) (*ChatResponse, error) {
	provider := string(n.client.Provider())

	req := ChatRequest{
		System:      naturalSystemText,
		User:        qc.QueryText,
		Format:      FormatText,
		Temperature: n.cfg.Temperature,
		MaxTokens:   n.cfg.MaxTokens,
	}

	retry := n.cfg.Retry
	retry.OnRetry = resilience.RetryLogger(provider, "natural response")

	if n.cfg.WebSearch {
		resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*ChatResponse, error) {
			return n.client.CompleteChatWithWebSearch(ctx, req)
		})
		if err == nil {
			return resp, nil
		}
		zap.L().Warn("web search path failed, falling back to plain call",
			zap.String("provider", provider),
			zap.String("query_id", qc.QueryID),
			zap.Error(err),
		)
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*ChatResponse, error) {
		return n.client.CompleteChat(ctx, req)
	})
}

// splitEnvelope separates the answer block from the analysis object. The
// analysis side is best effort: a malformed analysis never fails the
// answer extraction.
func splitEnvelope(decoded any) (any, *model.AnswerAnalysis) {
	obj, ok := decoded.(map[string]any)
	if !ok {
		return decoded, nil
	}

	inner, hasBlock := obj["answer_block"]
	if !hasBlock {
		// The whole payload is treated as the answer block.
		return decoded, nil
	}

	var analysis *model.AnswerAnalysis
	if rawAnalysis, ok := obj["analysis"]; ok {
		if b, err := json.Marshal(rawAnalysis); err == nil {
			var a model.AnswerAnalysis
			if err := json.Unmarshal(b, &a); err == nil {
				analysis = &a
			}
		}
	}

	return inner, analysis
}
