package connector

import (
	"context"

	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/pkg/anthropic"
)

// ClaudeChat adapts pkg/anthropic to the ChatClient capability. The
// Messages API has no schema-constrained mode, so the connectors fall
// back to free text plus bracket extraction for JSON requests.
type ClaudeChat struct {
	client anthropic.Client
	model  string
}

// NewClaudeChat wraps an Anthropic client for the connectors.
func NewClaudeChat(client anthropic.Client, chatModel string) *ClaudeChat {
	return &ClaudeChat{client: client, model: chatModel}
}

func (c *ClaudeChat) Provider() model.Surface { return model.SurfaceClaude }

func (c *ClaudeChat) SupportsSchema() bool { return false }

func (c *ClaudeChat) CompleteChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := c.client.CreateMessage(ctx, c.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return c.fromResponse(resp), nil
}

func (c *ClaudeChat) CompleteChatWithWebSearch(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := c.client.CreateMessageWithWebSearch(ctx, c.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return c.fromResponse(resp), nil
}

func (c *ClaudeChat) buildRequest(req ChatRequest) anthropic.MessageRequest {
	out := anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.Message{
			{Role: "user", Content: req.User},
		},
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 2048
	}
	if req.System != "" {
		// The per-run system prompt repeats across queries; cache it.
		out.System = anthropic.BuildCachedSystemBlocks(req.System)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		out.Temperature = &temp
	}
	return out
}

func (c *ClaudeChat) fromResponse(resp *anthropic.MessageResponse) *ChatResponse {
	out := &ChatResponse{
		Text:         resp.Text,
		ID:           resp.ID,
		StopReason:   resp.StopReason,
		ModelID:      resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      resp.Usage.EstimateCost(resp.Model),
	}
	for _, s := range resp.Sources {
		out.Sources = append(out.Sources, model.SearchSource{URL: s.URL, Title: s.Title})
	}
	return out
}
