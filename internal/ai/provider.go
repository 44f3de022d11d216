// Package ai is the LLM collaborator: it turns raw invoice text into a
// structured field bag. Providers are interchangeable; the extractor owns
// the prompt and the lenient response parsing.
package ai

import (
	"context"
	"fmt"

	"github.com/gulfstack/invoice-agent/internal/config"
)

// Provider is a chat-completion backend for field extraction.
type Provider interface {
	// ExtractData sends the prompt and returns the raw model output,
	// which should be (but is not guaranteed to be) a JSON object.
	ExtractData(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Name identifies the provider in logs.
	Name() string
}

// NewProvider builds the provider selected by name, falling back to the
// configured default when name is empty.
func NewProvider(cfg config.AIConfig, name string) (Provider, error) {
	if name == "" {
		name = cfg.DefaultProvider
	}
	switch name {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but no API key configured")
		}
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but no API key configured")
		}
		return NewGeminiProvider(cfg.Gemini.APIKey, cfg.Gemini.Model), nil
	case "ollama":
		return NewOllamaProvider(cfg.Ollama.BaseURL, cfg.Ollama.Model), nil
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", name)
	}
}
