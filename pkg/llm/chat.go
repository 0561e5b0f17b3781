package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
	"github.com/xhad/pdfchat/pkg/logging"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Generator is the part of llms.Model the engine uses.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// ChatEngine sends prompts to the completion service. Calls are not retried
// so a slow generation is never paid for twice.
type ChatEngine struct {
	config ChatConfig
	llm    Generator
	logger *slog.Logger
}

var _ types.Completer = (*ChatEngine)(nil)

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig, logger *slog.Logger) (*ChatEngine, error) {
	config = chatDefaults(config)
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	}

	model, err := newChatModel(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return NewChatEngine(model, config, logger), nil
}

// NewChatEngine wraps an already constructed model.
func NewChatEngine(model Generator, config ChatConfig, logger *slog.Logger) *ChatEngine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ChatEngine{
		config: chatDefaults(config),
		llm:    model,
		logger: logger,
	}
}

func chatDefaults(config ChatConfig) ChatConfig {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	return config
}

// Complete sends system, the prior turns and prompt as one chat exchange.
func (ce *ChatEngine) Complete(ctx context.Context, system, prompt string, history []models.Turn) (string, error) {
	content := make([]llms.MessageContent, 0, len(history)+2)
	if system != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		content = append(content, llms.TextParts(messageType(turn.Role), turn.Content))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	callCtx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
	defer cancel()

	start := time.Now()
	response, err := ce.llm.GenerateContent(callCtx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		// The caller gave up; only our own timeout counts against the service.
		if ctx.Err() != nil {
			return "", fmt.Errorf("completion: %w", ctx.Err())
		}
		return "", &types.ServiceError{Service: "completion", Attempts: 1, Err: err}
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", &types.ServiceError{Service: "completion", Attempts: 1, Err: fmt.Errorf("no response from LLM")}
	}

	ce.logger.Debug("completion finished", "model", ce.config.Model, "elapsed", time.Since(start))
	return strings.TrimSpace(response.Choices[0].Content), nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}
