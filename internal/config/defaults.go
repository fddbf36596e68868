package config

import "time"

// Defaults of the enhancement settings that accept an explicit zero.
const (
	DefaultGNNWeight       = 0.4
	DefaultMasteryBaseline = 0.5
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kioku/data/db/kioku.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/kioku/data/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/kioku/data/indices/vectors.bin"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}

	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 3
	}
	if cfg.Scheduler.DueLimit == 0 {
		cfg.Scheduler.DueLimit = 50
	}

	if cfg.Enhancement.StalenessThreshold == 0 {
		cfg.Enhancement.StalenessThreshold = 24 * time.Hour
	}
	if cfg.Enhancement.GraphDeadline == 0 {
		cfg.Enhancement.GraphDeadline = 100 * time.Millisecond
	}
	if cfg.Enhancement.RelationDepth == 0 {
		cfg.Enhancement.RelationDepth = 1
	}

	if cfg.Circuit.FailureThreshold == 0 {
		cfg.Circuit.FailureThreshold = 5
	}
	if cfg.Circuit.Window == 0 {
		cfg.Circuit.Window = time.Minute
	}
	if cfg.Circuit.Cooldown == 0 {
		cfg.Circuit.Cooldown = 30 * time.Second
	}
	if cfg.Circuit.MaxCooldown == 0 {
		cfg.Circuit.MaxCooldown = 5 * time.Minute
	}
	if cfg.Circuit.Backoff == 0 {
		cfg.Circuit.Backoff = 2
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 10 * time.Minute
	}
	if cfg.Cache.NegativeTTL == 0 {
		cfg.Cache.NegativeTTL = 5 * time.Second
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}
	if cfg.Cache.ComputeTimeout == 0 {
		cfg.Cache.ComputeTimeout = 30 * time.Second
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.Deadline == 0 {
		cfg.Search.Deadline = 250 * time.Millisecond
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 100
	}
	if cfg.Search.VectorWeight == 0 && cfg.Search.RecencyWeight == 0 {
		cfg.Search.VectorWeight = 0.6
		cfg.Search.RecencyWeight = 0.4
	}
	if cfg.Search.RecencyHalfLife == 0 {
		cfg.Search.RecencyHalfLife = 30 * 24 * time.Hour
	}
	if cfg.Search.FrontBoost == 0 {
		cfg.Search.FrontBoost = 2.0
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".yaml", ".yml", ".txt", ".tsv", ".md", ".xlsx", ".pdf"}
	}
	if cfg.Watch.UserID == "" {
		cfg.Watch.UserID = "default"
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
