package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const defaultOllamaURL = "http://localhost:11434"

func newChatModel(config ChatConfig) (Generator, error) {
	switch config.Provider {
	case "", ProviderOllama:
		return ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(ollamaURL(config.BaseURL)))
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
}

func newEmbeddingClient(config EmbedderConfig) (EmbeddingClient, error) {
	switch config.Provider {
	case "", ProviderOllama:
		model := config.Model
		if model == "" {
			model = "nomic-embed-text:latest"
		}
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(ollamaURL(config.BaseURL)))
	case ProviderOpenAI:
		model := config.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		opts := []openai.Option{openai.WithEmbeddingModel(model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}
}

func ollamaURL(base string) string {
	if base == "" {
		return defaultOllamaURL
	}
	return base
}
