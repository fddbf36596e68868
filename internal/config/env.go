package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. KIOKU_GNN_WEIGHT.
const EnvPrefix = "KIOKU"

// ApplyEnv overrides cfg fields from KIOKU_* environment variables. Durations use Go
// duration syntax ("250ms", "24h").
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)

	keys := []string{
		"debug", "server_host", "server_port", "database_path",
		"enhancement_enabled", "gnn_weight", "mastery_baseline", "min_confidence",
		"staleness_threshold", "graph_deadline",
		"circuit_failure_threshold", "circuit_cooldown",
		"cache_ttl", "cache_max_entries",
		"search_deadline", "review_max_retries", "timezone",
	}
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", k, err)
		}
	}

	if v.IsSet("debug") {
		cfg.Debug = v.GetBool("debug")
	}
	if v.IsSet("server_host") {
		cfg.Server.Host = v.GetString("server_host")
	}
	if v.IsSet("server_port") {
		cfg.Server.Port = v.GetInt("server_port")
	}
	if v.IsSet("database_path") {
		cfg.Storage.DatabasePath = v.GetString("database_path")
	}
	if v.IsSet("enhancement_enabled") {
		enabled := v.GetBool("enhancement_enabled")
		cfg.Enhancement.Enabled = &enabled
	}
	if v.IsSet("gnn_weight") {
		w := v.GetFloat64("gnn_weight")
		cfg.Enhancement.GNNWeight = &w
	}
	if v.IsSet("mastery_baseline") {
		baseline := v.GetFloat64("mastery_baseline")
		cfg.Enhancement.MasteryBaseline = &baseline
	}
	if v.IsSet("min_confidence") {
		cfg.Enhancement.MinConfidence = v.GetFloat64("min_confidence")
	}
	if v.IsSet("staleness_threshold") {
		cfg.Enhancement.StalenessThreshold = v.GetDuration("staleness_threshold")
	}
	if v.IsSet("graph_deadline") {
		cfg.Enhancement.GraphDeadline = v.GetDuration("graph_deadline")
	}
	if v.IsSet("circuit_failure_threshold") {
		cfg.Circuit.FailureThreshold = v.GetInt("circuit_failure_threshold")
	}
	if v.IsSet("circuit_cooldown") {
		cfg.Circuit.Cooldown = v.GetDuration("circuit_cooldown")
	}
	if v.IsSet("cache_ttl") {
		cfg.Cache.TTL = v.GetDuration("cache_ttl")
	}
	if v.IsSet("cache_max_entries") {
		cfg.Cache.MaxEntries = v.GetInt("cache_max_entries")
	}
	if v.IsSet("search_deadline") {
		cfg.Search.Deadline = v.GetDuration("search_deadline")
	}
	if v.IsSet("review_max_retries") {
		cfg.Scheduler.MaxRetries = v.GetInt("review_max_retries")
	}
	if v.IsSet("timezone") {
		cfg.Scheduler.Timezone = v.GetString("timezone")
	}
	return nil
}
