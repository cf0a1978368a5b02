package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Embedding struct {
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		Model     string `yaml:"model"`
		Dimension int    `yaml:"dimension"`
	} `yaml:"embedding"`

	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		SearchK     int     `yaml:"search_k"`
		NoThink     bool    `yaml:"no_think"`
	} `yaml:"llm"`

	Rerank struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		TopK    int    `yaml:"top_k"`
	} `yaml:"rerank"`

	Store struct {
		Backend    string `yaml:"backend"`
		URL        string `yaml:"url"`
		Collection string `yaml:"collection"`
		BatchSize  int    `yaml:"batch_size"`
	} `yaml:"store"`

	Splitter struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"splitter"`

	Ingest struct {
		TempDir string `yaml:"temp_dir"`
	} `yaml:"ingest"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/pharmaquery/config.yaml"),
			"/etc/pharmaquery/config.yaml",
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

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:50001/v1"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "qwen3-embedding-0.6b"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}

	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:8800/v1"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "qwen3-0.6b"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 300
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.SearchK == 0 {
		config.LLM.SearchK = 5
	}

	if config.Rerank.BaseURL == "" {
		config.Rerank.BaseURL = "http://localhost:60001/v1"
	}
	if config.Rerank.Model == "" {
		config.Rerank.Model = "qwen3-reranker-0.6b"
	}
	if config.Rerank.TopK == 0 {
		config.Rerank.TopK = 3
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "pgvector"
	}
	if config.Store.Collection == "" {
		config.Store.Collection = "pharma_chunks"
	}
	if config.Store.BatchSize == 0 {
		config.Store.BatchSize = 100
	}

	if config.Splitter.ChunkSize == 0 {
		config.Splitter.ChunkSize = 200
	}
	if config.Splitter.ChunkOverlap == 0 {
		config.Splitter.ChunkOverlap = 20
	}

	if config.Ingest.TempDir == "" {
		config.Ingest.TempDir = "./temp"
	}
}

func mergeWithEnv(config *Config) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
	}
	// CHROMA_URL selects the chroma backend only when the file left the
	// backend unset; an explicit backend choice wins over the environment.
	if chromaURL := os.Getenv("CHROMA_URL"); chromaURL != "" {
		if config.Store.Backend == "" {
			config.Store.Backend = "chroma"
		}
		if config.Store.Backend == "chroma" {
			config.Store.URL = chromaURL
		}
	}
	if baseURL := os.Getenv("EMBEDDING_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
	}
	if key := os.Getenv("EMBEDDING_API_KEY"); key != "" {
		config.Embedding.APIKey = key
	}
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if baseURL := os.Getenv("RERANK_BASE_URL"); baseURL != "" {
		config.Rerank.BaseURL = baseURL
	}
	if key := os.Getenv("RERANK_API_KEY"); key != "" {
		config.Rerank.APIKey = key
	}
}
