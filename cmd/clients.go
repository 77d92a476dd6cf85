package main

import (
	"github.com/propsignal/geo-audit/internal/analyzer"
	"github.com/propsignal/geo-audit/internal/audit"
	"github.com/propsignal/geo-audit/internal/connector"
	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/store"
	anthropicpkg "github.com/propsignal/geo-audit/pkg/anthropic"
	openaipkg "github.com/propsignal/geo-audit/pkg/openai"
)

// initChatClients builds the two provider adapters from config.
func initChatClients() (openaiChat, claudeChat connector.ChatClient) {
	openaiClient := openaipkg.NewClient(cfg.OpenAI.Key,
		openaipkg.WithBaseURL(cfg.OpenAI.BaseURL),
		openaipkg.WithModel(cfg.OpenAI.Model),
		openaipkg.WithRateLimit(cfg.OpenAI.RateLimitRPS, cfg.OpenAI.RateLimitBurst),
	)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithRateLimit(cfg.Anthropic.RateLimitRPS, cfg.Anthropic.RateLimitBurst),
	)

	openaiChat = connector.NewOpenAIChat(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.SearchModel)
	claudeChat = connector.NewClaudeChat(anthropicClient, cfg.Anthropic.Model)
	return openaiChat, claudeChat
}

// connectorConfig maps audit config onto the shared connector knobs.
func connectorConfig() connector.Config {
	return connector.Config{
		Temperature: cfg.Audit.Temperature,
		MaxTokens:   cfg.Audit.MaxTokens,
		WebSearch:   cfg.Audit.WebSearch,
		Retry:       cfg.Audit.Retry.Resilience(),
	}
}

// initOrchestrator wires the connector registry into a run orchestrator.
func initOrchestrator(st store.Store) *audit.Orchestrator {
	openaiChat, claudeChat := initChatClients()
	registry := connector.NewRegistry(openaiChat, claudeChat, connectorConfig())
	return audit.NewOrchestrator(st, registry, model.Mode(cfg.Audit.Mode))
}

// initAnalyzer wires the cross-model analyzer. OpenAI is the primary
// recommendation provider, Claude the reduced-prompt fallback.
func initAnalyzer(st store.Store) *analyzer.Analyzer {
	openaiChat, claudeChat := initChatClients()
	return analyzer.New(st, openaiChat, claudeChat, cfg.Audit.Retry.Resilience())
}
