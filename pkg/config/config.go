package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type EmbeddingConfig struct {
	Provider       string        `yaml:"provider"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Dimensions     int           `yaml:"dimensions"`
	BatchSize      int           `yaml:"batch_size"`
	Concurrency    int           `yaml:"concurrency"`
	RateLimit      float64       `yaml:"rate_limit"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

type DatabaseConfig struct {
	// Backend is pgvector, sqlite or memory.
	Backend    string `yaml:"backend"`
	Fallback   string `yaml:"fallback"`
	URL        string `yaml:"url"`
	TableName  string `yaml:"table_name"`
	Lists      int    `yaml:"lists"`
	SQLitePath string `yaml:"sqlite_path"`
}

type ProcessorConfig struct {
	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

type RetrievalConfig struct {
	// MinScore is the lowest similarity score, in [0,1], a chunk needs to be
	// used as context. Unset means 0.5.
	MinScore *float64 `yaml:"min_score"`
}

type AgentsConfig struct {
	QATopK          int `yaml:"qa_top_k"`
	SummaryTopK     int `yaml:"summary_top_k"`
	SummaryMaxWords int `yaml:"summary_max_words"`
	MCQTopK         int `yaml:"mcq_top_k"`
	NumQuestions    int `yaml:"num_questions"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadFiles int           `yaml:"max_upload_files"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Agents    AgentsConfig    `yaml:"agents"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/pdfchat/config.yaml"),
			"/etc/pdfchat/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// MinScore returns the configured score floor.
func (c *Config) MinScore() float64 {
	if c.Retrieval.MinScore == nil {
		return 0.5
	}
	return *c.Retrieval.MinScore
}

// MaxFileSize returns the upload limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.Processor.MaxFileSizeMB) << 20
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "openai" {
			config.LLM.Model = "gpt-4o-mini"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.1
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 120 * time.Second
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = config.LLM.Provider
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == config.LLM.Provider {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.APIKey == "" && config.Embedding.Provider == config.LLM.Provider {
		config.Embedding.APIKey = config.LLM.APIKey
	}
	if config.Embedding.Model == "" {
		if config.Embedding.Provider == "openai" {
			config.Embedding.Model = "text-embedding-3-small"
		} else {
			config.Embedding.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedding.Dimensions == 0 {
		if config.Embedding.Provider == "openai" {
			config.Embedding.Dimensions = 1536
		} else {
			config.Embedding.Dimensions = 768
		}
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}
	if config.Embedding.Concurrency == 0 {
		config.Embedding.Concurrency = 2
	}
	if config.Embedding.MaxRetries == 0 {
		config.Embedding.MaxRetries = 3
	}
	if config.Embedding.RetryBaseDelay == 0 {
		config.Embedding.RetryBaseDelay = 500 * time.Millisecond
	}
	if config.Embedding.RetryMaxDelay == 0 {
		config.Embedding.RetryMaxDelay = 5 * time.Second
	}
	if config.Embedding.AttemptTimeout == 0 {
		config.Embedding.AttemptTimeout = 30 * time.Second
	}

	if config.Database.Backend == "" {
		if config.Database.URL != "" {
			config.Database.Backend = "pgvector"
		} else {
			config.Database.Backend = "memory"
		}
	}
	if config.Database.Fallback == "" {
		config.Database.Fallback = "memory"
	}
	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.Lists == 0 {
		config.Database.Lists = 100
	}
	if config.Database.SQLitePath == "" {
		config.Database.SQLitePath = filepath.Join(os.Getenv("HOME"), ".pdfchat", "index.db")
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}
	if config.Processor.MaxFileSizeMB == 0 {
		config.Processor.MaxFileSizeMB = 50
	}

	if config.Retrieval.MinScore == nil {
		minScore := 0.5
		config.Retrieval.MinScore = &minScore
	}

	if config.Agents.QATopK == 0 {
		config.Agents.QATopK = 5
	}
	if config.Agents.SummaryTopK == 0 {
		config.Agents.SummaryTopK = 12
	}
	if config.Agents.SummaryMaxWords == 0 {
		config.Agents.SummaryMaxWords = 500
	}
	if config.Agents.MCQTopK == 0 {
		config.Agents.MCQTopK = 8
	}
	if config.Agents.NumQuestions == 0 {
		config.Agents.NumQuestions = 5
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.MaxUploadFiles == 0 {
		config.Server.MaxUploadFiles = 10
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 3 * time.Minute
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if level := os.Getenv("PDFCHAT_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
