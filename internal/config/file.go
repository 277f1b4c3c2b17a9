package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML overlay for pipeline tuning. Zero values
// leave the default in place.
type FileConfig struct {
	Chunking  ChunkingSection  `yaml:"chunking"`
	Embedding EmbeddingSection `yaml:"embedding"`
	Retrieval RetrievalSection `yaml:"retrieval"`
	Ingestion IngestionSection `yaml:"ingestion"`

	// Extra keeps keys this version does not know about.
	Extra map[string]any `yaml:",inline"`
}

type ChunkingSection struct {
	Size int `yaml:"size"`
	// Overlap is a pointer because 0 turns overlap off.
	Overlap *int `yaml:"overlap"`
}

type EmbeddingSection struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	Dimensions    int           `yaml:"dimensions"`
	BatchSize     int           `yaml:"batch_size"`
	BatchDelay    time.Duration `yaml:"batch_delay"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxInputChars int           `yaml:"max_input_chars"`
	Strict        *bool         `yaml:"strict"`
}

type RetrievalSection struct {
	// Threshold is a pointer because 0 is a valid threshold.
	Threshold *float64 `yaml:"threshold"`
	Limit     int      `yaml:"limit"`
}

type IngestionSection struct {
	Workers int `yaml:"workers"`
}

// LoadFile reads and parses a YAML overlay.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &fc, nil
}

// Apply copies every set field onto cfg.
func (f *FileConfig) Apply(cfg *Config) {
	if f.Chunking.Size > 0 {
		cfg.ChunkSize = f.Chunking.Size
	}
	if f.Chunking.Overlap != nil && *f.Chunking.Overlap >= 0 {
		cfg.ChunkOverlap = *f.Chunking.Overlap
	}

	e := f.Embedding
	if e.Provider != "" {
		cfg.EmbedProvider = e.Provider
	}
	if e.Model != "" {
		cfg.EmbedModel = e.Model
	}
	if e.Dimensions > 0 {
		cfg.EmbedDim = e.Dimensions
	}
	if e.BatchSize > 0 {
		cfg.EmbedBatchSize = e.BatchSize
	}
	if e.BatchDelay > 0 {
		cfg.EmbedBatchDelay = e.BatchDelay
	}
	if e.Timeout > 0 {
		cfg.EmbedTimeout = e.Timeout
	}
	if e.MaxInputChars > 0 {
		cfg.EmbedMaxInputChars = e.MaxInputChars
	}
	if e.Strict != nil {
		cfg.EmbedStrict = *e.Strict
	}

	if f.Retrieval.Threshold != nil {
		cfg.RetrievalThreshold = *f.Retrieval.Threshold
	}
	if f.Retrieval.Limit > 0 {
		cfg.RetrievalLimit = f.Retrieval.Limit
	}
	if f.Ingestion.Workers > 0 {
		cfg.IngestWorkers = f.Ingestion.Workers
	}

	if len(f.Extra) > 0 {
		cfg.Extra = f.Extra
	}
}
