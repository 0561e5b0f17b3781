package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("PDFCHAT_LOG_LEVEL", "")

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 800
  temperature: 0.5
  timeout: 45s

embedding:
  dimensions: 1024
  batch_size: 16
  rate_limit: 4

database:
  url: "postgres://localhost:5432/test"
  table_name: "test_chunks"

processor:
  chunk_size: 500
  chunk_overlap: 100

retrieval:
  min_score: 0

agents:
  num_questions: 3

log:
  level: debug
  format: json
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 800, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, 45*time.Second, config.LLM.Timeout)

	assert.Equal(t, "http://localhost:11434", config.Embedding.BaseURL, "embedding shares the llm endpoint")
	assert.Equal(t, "nomic-embed-text:latest", config.Embedding.Model)
	assert.Equal(t, 1024, config.Embedding.Dimensions)
	assert.Equal(t, 16, config.Embedding.BatchSize)
	assert.Equal(t, 4.0, config.Embedding.RateLimit)

	assert.Equal(t, "pgvector", config.Database.Backend, "a database url selects pgvector")
	assert.Equal(t, "memory", config.Database.Fallback)
	assert.Equal(t, "test_chunks", config.Database.TableName)

	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, int64(50<<20), config.MaxFileSize())
	assert.Equal(t, 0.0, config.MinScore(), "an explicit zero floor is kept")
	assert.Equal(t, 3, config.Agents.NumQuestions)
	assert.Equal(t, 5, config.Agents.QATopK)
	assert.Equal(t, "json", config.Log.Format)

	assert.Empty(t, config.Validate())
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("PDFCHAT_LOG_LEVEL", "")

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", config.Database.Backend)
	assert.Equal(t, 0.5, config.MinScore())
	assert.Equal(t, 1000, config.Processor.ChunkSize)
	assert.Equal(t, 200, config.Processor.ChunkOverlap)
	assert.Equal(t, 768, config.Embedding.Dimensions)
	assert.Equal(t, 32, config.Embedding.BatchSize)
	assert.Equal(t, 12, config.Agents.SummaryTopK)
	assert.Equal(t, 8, config.Agents.MCQTopK)
	assert.Equal(t, 10, config.Server.MaxUploadFiles)
	assert.Empty(t, config.Validate())
}

func TestOpenAIDefaults(t *testing.T) {
	config := &Config{LLM: LLMConfig{Provider: "openai", APIKey: "sk-test"}}
	applyDefaults(config)

	assert.Equal(t, "gpt-4o-mini", config.LLM.Model)
	assert.Empty(t, config.LLM.BaseURL)
	assert.Equal(t, "openai", config.Embedding.Provider)
	assert.Equal(t, "sk-test", config.Embedding.APIKey)
	assert.Equal(t, "text-embedding-3-small", config.Embedding.Model)
	assert.Equal(t, 1536, config.Embedding.Dimensions)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		applyDefaults(&c)
		return c
	}
	negative := -0.1

	tests := []struct {
		name   string
		mutate func(c *Config)
		fields []string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name: "bad llm",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "invalid-url"
				c.LLM.MaxTokens = 50000
				c.LLM.Temperature = 3.0
			},
			fields: []string{"llm.base_url", "llm.max_tokens", "llm.temperature"},
		},
		{
			name:   "openai without key",
			mutate: func(c *Config) { c.LLM.Provider = "openai" },
			fields: []string{"llm.api_key"},
		},
		{
			name: "bad storage",
			mutate: func(c *Config) {
				c.Database.Backend = "faiss"
				c.Database.URL = "invalid-url"
				c.Embedding.Dimensions = -1
			},
			fields: []string{"embedding.dimensions", "database.backend", "database.url"},
		},
		{
			name: "bad chunking and retrieval",
			mutate: func(c *Config) {
				c.Processor.ChunkOverlap = c.Processor.ChunkSize
				c.Retrieval.MinScore = &negative
				c.Agents.NumQuestions = -2
			},
			fields: []string{"processor.chunk_overlap", "retrieval.min_score", "agents.num_questions"},
		},
		{
			name:   "bad logging",
			mutate: func(c *Config) { c.Log.Level = "verbose"; c.Log.Format = "xml" },
			fields: []string{"log.level", "log.format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)

			errors := c.Validate()

			var fields []string
			for _, e := range errors {
				fields = append(fields, e.Field)
				assert.Contains(t, e.Error(), e.Field+": ")
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("PDFCHAT_LOG_LEVEL", "warn")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "sk-env", config.LLM.APIKey)
	assert.Equal(t, "warn", config.Log.Level)
}
