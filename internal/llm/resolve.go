package llm

import "fmt"

// providerDefaults carries the endpoint and model used when the caller does
// not override them.
type providerDefaults struct {
	baseURL string
	model   string
}

var defaults = map[string]providerDefaults{
	ProviderOpenAI: {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini"},
	ProviderClaude: {baseURL: "https://api.anthropic.com/v1", model: "claude-sonnet-4-20250514"},
	ProviderOllama: {baseURL: "http://localhost:11434/v1", model: "qwen2.5:7b"},
}

// Resolve builds a client for a named provider. model and baseURL override
// the provider defaults when non-empty; extra options apply on top. Ollama
// ignores API keys, so an empty key resolves to a placeholder there; the
// hosted providers require a real one.
func Resolve(provider, model, apiKey, baseURL string, opts ...Option) (*Client, error) {
	if provider == "" {
		provider = ProviderOpenAI
	}
	def, ok := defaults[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if model == "" {
		model = def.model
	}
	if baseURL == "" {
		baseURL = def.baseURL
	}
	if apiKey == "" && provider == ProviderOllama {
		apiKey = "ollama"
	}
	all := append([]Option{
		WithProviderName(provider),
		WithBaseURL(baseURL),
		WithModel(model),
	}, opts...)
	return NewClient(apiKey, all...)
}
