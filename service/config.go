// CLAUDE:SUMMARY YAML service configuration with defaults, load and validation.
package service

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full horosheet service configuration.
type Config struct {
	Listen        string    `yaml:"listen"`
	WorkDir       string    `yaml:"work_dir"`   // scratch space for ingestion and query temp files
	BlobRoot      string    `yaml:"blob_root"`  // filesystem blob store root
	RecordsDB     string    `yaml:"records_db"` // workbook lifecycle records
	ObservDB      string    `yaml:"observ_db"`  // observability database
	MaxUploadMB   int       `yaml:"max_upload_mb"`
	SQLRetries    int       `yaml:"sql_retries"`
	LLM           LLMConfig `yaml:"llm"`
	RetentionDays int       `yaml:"retention_days"`
}

// LLMConfig configures the language-model backend.
type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:        ":8084",
		WorkDir:       "work",
		BlobRoot:      "blobs",
		RecordsDB:     "horosheet.db",
		ObservDB:      "horosheet_observ.db",
		MaxUploadMB:   50,
		SQLRetries:    2,
		RetentionDays: 30,
		LLM: LLMConfig{
			Endpoint:  "http://localhost:11434",
			Model:     "qwen3:8b",
			MaxTokens: 2048,
			Timeout:   120 * time.Second,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig
// merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir is required")
	}
	if c.BlobRoot == "" {
		return fmt.Errorf("blob_root is required")
	}
	if c.RecordsDB == "" {
		return fmt.Errorf("records_db is required")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0")
	}
	if c.SQLRetries < 0 {
		return fmt.Errorf("sql_retries must be >= 0")
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}
