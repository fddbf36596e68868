// Package config provides configuration loading and structs for the kioku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Enhancement EnhancementConfig `yaml:"enhancement"`
	Circuit     CircuitConfig     `yaml:"circuit"`
	Cache       CacheConfig       `yaml:"cache"`
	Search      SearchConfig      `yaml:"search"`
	Watch       WatchConfig       `yaml:"watch"`
}

// WatchConfig holds deck directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	// UserID owns the cards imported from watched directories.
	UserID string `yaml:"user_id"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// WeightOrDefault returns the blend weight; 0 is a valid setting (neutral blend).
func (e *EnhancementConfig) WeightOrDefault() float64 {
	if e.GNNWeight != nil {
		return *e.GNNWeight
	}
	return DefaultGNNWeight
}

// BaselineOrDefault returns the mastery baseline; 0 is a valid setting.
func (e *EnhancementConfig) BaselineOrDefault() float64 {
	if e.MasteryBaseline != nil {
		return *e.MasteryBaseline
	}
	return DefaultMasteryBaseline
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// EmbeddingConfig holds embedder settings. An empty or missing model falls back to the mock embedder.
type EmbeddingConfig struct {
	ModelPath       string `yaml:"model_path"`
	Dimensions      int    `yaml:"dimensions"`
	MaxTokens       int    `yaml:"max_tokens"`
}

// SchedulerConfig holds SM-2 and review settings.
type SchedulerConfig struct {
	// Timezone names the location whose calendar day due dates are aligned to.
	Timezone   string `yaml:"timezone"`
	MaxRetries int    `yaml:"max_retries"`
	// DueLimit is the default page size of the due queue.
	DueLimit int `yaml:"due_limit"`
}

// Location resolves Timezone, falling back to UTC.
func (s *SchedulerConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EnhancementConfig holds graph predictor and blending settings.
type EnhancementConfig struct {
	Enabled            *bool         `yaml:"enabled"`
	GNNWeight          *float64      `yaml:"gnn_weight"`
	MasteryBaseline    *float64      `yaml:"mastery_baseline"`
	MinConfidence      float64       `yaml:"min_confidence"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	GraphDeadline      time.Duration `yaml:"graph_deadline"`
	// RelationDepth bounds how many hops the relational provider walks.
	RelationDepth int `yaml:"relation_depth"`
}

// EnabledOrDefault returns whether the enhancement starts enabled; defaults to true when unset.
func (e *EnhancementConfig) EnabledOrDefault() bool {
	if e.Enabled != nil {
		return *e.Enabled
	}
	return true
}

// CircuitConfig holds circuit breaker settings shared by the graph and vector gates.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Window           time.Duration `yaml:"window"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
	Backoff          float64       `yaml:"backoff"`
}

// CacheConfig holds semantic cache settings.
type CacheConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	NegativeTTL    time.Duration `yaml:"negative_ttl"`
	MaxEntries     int           `yaml:"max_entries"`
	ComputeTimeout time.Duration `yaml:"compute_timeout"`
}

// SearchConfig holds hybrid search settings.
type SearchConfig struct {
	DefaultLimit    int           `yaml:"default_limit"`
	MaxLimit        int           `yaml:"max_limit"`
	Deadline        time.Duration `yaml:"deadline"`
	TopKCandidates  int           `yaml:"top_k_candidates"`
	VectorWeight    float64       `yaml:"vector_weight"`
	RecencyWeight   float64       `yaml:"recency_weight"`
	RecencyHalfLife time.Duration `yaml:"recency_half_life"`
	FrontBoost      float64       `yaml:"front_boost"`
	// Fuzziness is the lexical edit distance tolerated for typos (0 disables, max 2).
	Fuzziness int `yaml:"fuzziness"`
}

// Load reads and parses the config file at path, expands paths, applies environment
// overrides and defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Default returns a config with environment overrides and defaults applied, for use
// when no config file exists.
func Default() (*Config, error) {
	var cfg Config
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
