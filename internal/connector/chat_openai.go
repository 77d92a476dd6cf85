package connector

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/pkg/openai"
)

// OpenAIChat adapts pkg/openai to the ChatClient capability. Web search
// runs on the search-preview model variant; plain calls use the
// configured default model.
type OpenAIChat struct {
	client      openai.Client
	model       string
	searchModel string
}

// NewOpenAIChat wraps an OpenAI client for the connectors.
func NewOpenAIChat(client openai.Client, chatModel, searchModel string) *OpenAIChat {
	if searchModel == "" {
		searchModel = "gpt-4o-search-preview"
	}
	return &OpenAIChat{client: client, model: chatModel, searchModel: searchModel}
}

func (c *OpenAIChat) Provider() model.Surface { return model.SurfaceOpenAI }

// SupportsSchema is true: chat completions accept a json_schema response
// format.
func (c *OpenAIChat) SupportsSchema() bool { return true }

func (c *OpenAIChat) CompleteChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return c.complete(ctx, req, false)
}

func (c *OpenAIChat) CompleteChatWithWebSearch(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return c.complete(ctx, req, true)
}

func (c *OpenAIChat) complete(ctx context.Context, req ChatRequest, webSearch bool) (*ChatResponse, error) {
	var messages []openai.Message
	if req.System != "" {
		messages = append(messages, openai.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, openai.Message{Role: "user", Content: req.User})

	apiReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		apiReq.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		apiReq.MaxTokens = &mt
	}

	if webSearch {
		// The search models reject response_format and temperature.
		apiReq.Model = c.searchModel
		apiReq.Temperature = nil
		apiReq.WebSearchOptions = &openai.WebSearchOptions{}
	} else {
		switch req.Format {
		case FormatJSON:
			apiReq.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
		case FormatJSONSchema:
			apiReq.ResponseFormat = &openai.ResponseFormat{
				Type: "json_schema",
				JSONSchema: &openai.JSONSchema{
					Name:   req.SchemaName,
					Schema: req.Schema,
					Strict: false,
				},
			}
		}
	}

	resp, err := c.client.ChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: response has no choices")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Text:         choice.Message.Content,
		ID:           resp.ID,
		StopReason:   choice.FinishReason,
		ModelID:      resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      resp.Usage.EstimateCost(apiReq.Model),
	}
	for _, a := range choice.Message.Annotations {
		if a.URLCitation == nil || a.URLCitation.URL == "" {
			continue
		}
		out.Sources = append(out.Sources, model.SearchSource{
			URL:   a.URLCitation.URL,
			Title: a.URLCitation.Title,
		})
	}
	return out, nil
}
