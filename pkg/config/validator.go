package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	providers = []string{"ollama", "openai"}
	backends  = []string{"pgvector", "sqlite", "memory"}
	levels    = []string{"debug", "info", "warn", "error"}
	formats   = []string{"text", "json"}
)

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// LLM
	if !slices.Contains(providers, c.LLM.Provider) {
		add("llm.provider", "provider must be one of %s", strings.Join(providers, ", "))
	}
	if c.LLM.Provider == "ollama" && c.LLM.BaseURL == "" {
		add("llm.base_url", "Ollama base URL is required")
	}
	if c.LLM.BaseURL != "" && !validURL(c.LLM.BaseURL) {
		add("llm.base_url", "invalid base URL")
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		add("llm.api_key", "api_key (or OPENAI_API_KEY) is required for openai")
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		add("llm.max_tokens", "max_tokens must be between 1 and 8192")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	// Embedding
	if !slices.Contains(providers, c.Embedding.Provider) {
		add("embedding.provider", "provider must be one of %s", strings.Join(providers, ", "))
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		add("embedding.api_key", "api_key (or OPENAI_API_KEY) is required for openai")
	}
	if c.Embedding.Dimensions < 1 {
		add("embedding.dimensions", "dimensions must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size", "batch_size must be positive")
	}
	if c.Embedding.Concurrency < 1 {
		add("embedding.concurrency", "concurrency must be positive")
	}
	if c.Embedding.RateLimit < 0 {
		add("embedding.rate_limit", "rate_limit cannot be negative")
	}
	if c.Embedding.MaxRetries < 0 {
		add("embedding.max_retries", "max_retries cannot be negative")
	}

	// Database
	if !slices.Contains(backends, c.Database.Backend) {
		add("database.backend", "backend must be one of %s", strings.Join(backends, ", "))
	}
	if c.Database.Fallback != "memory" && c.Database.Fallback != "sqlite" {
		add("database.fallback", "fallback must be memory or sqlite")
	}
	if c.Database.URL != "" && !validURL(c.Database.URL) {
		add("database.url", "invalid database URL")
	}
	if (c.Database.Backend == "sqlite" || c.Database.Fallback == "sqlite") && c.Database.SQLitePath == "" {
		add("database.sqlite_path", "sqlite_path is required for the sqlite backend")
	}

	// Processor
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}
	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}
	if c.Processor.MaxFileSizeMB < 1 {
		add("processor.max_file_size_mb", "max_file_size_mb must be positive")
	}

	// Retrieval
	if s := c.MinScore(); s < 0 || s > 1 {
		add("retrieval.min_score", "min_score must be between 0 and 1")
	}

	// Agents
	for _, f := range []struct {
		name  string
		value int
	}{
		{"qa_top_k", c.Agents.QATopK},
		{"summary_top_k", c.Agents.SummaryTopK},
		{"summary_max_words", c.Agents.SummaryMaxWords},
		{"mcq_top_k", c.Agents.MCQTopK},
		{"num_questions", c.Agents.NumQuestions},
	} {
		if f.value < 1 {
			add("agents."+f.name, "%s must be positive", f.name)
		}
	}

	// Server and logging
	if c.Server.MaxUploadFiles < 1 {
		add("server.max_upload_files", "max_upload_files must be positive")
	}
	if !slices.Contains(levels, strings.ToLower(c.Log.Level)) {
		add("log.level", "level must be one of %s", strings.Join(levels, ", "))
	}
	if !slices.Contains(formats, c.Log.Format) {
		add("log.format", "format must be text or json")
	}

	return errors
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
