package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kioku/internal/blend"
	"github.com/hyperjump/kioku/internal/breaker"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/deck"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/graph"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/review"
	"github.com/hyperjump/kioku/internal/scheduler"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Config       *config.Config
	Storage      *storage.SQLiteStorage
	Embedder     *embedding.CachedEmbedder
	VectorIndex  *vector.MemoryIndex
	KeywordIndex *keyword.BleveIndex
	GraphGate    *breaker.Gate
	VectorGate   *breaker.Gate
	Bridge       *graph.Bridge
	Reviews      *review.Service
	Search       *search.Merger
	Importer     *deck.Importer
	logger       *zap.Logger
}

// Deps returns the services the HTTP API fronts.
func (c *Components) Deps() server.Deps {
	return server.Deps{
		Reviews:    c.Reviews,
		Search:     c.Search,
		Importer:   c.Importer,
		Storage:    c.Storage,
		VectorSize: c.VectorIndex.Size,
		Gates:      []*breaker.Gate{c.GraphGate, c.VectorGate},
		Caches:     []server.CacheStatser{c.Bridge, c.Search},
	}
}

// SaveVectors persists the vector index when a path is configured.
func (c *Components) SaveVectors() {
	path := c.Config.Storage.VectorIndexPath
	if path == "" || c.VectorIndex == nil {
		return
	}
	if err := c.VectorIndex.Save(path); err != nil {
		c.logger.Warn("vector index save failed", zap.String("path", path), zap.Error(err))
	}
}

// Close releases every store. It does not save the vector index.
func (c *Components) Close() {
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) embedding.Embedder {
	if cfg.Embedding.ModelPath == "" {
		logger.Debug("no embedding model configured, using mock embedder")
		return embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	onnxEmbedder, err := embedding.NewONNXEmbedder(cfg.Embedding.ModelPath, cfg.Embedding.Dimensions, cfg.Embedding.MaxTokens)
	if err != nil {
		logger.Warn("ONNX embedder unavailable, using mock embedder",
			zap.String("model_path", cfg.Embedding.ModelPath), zap.Error(err))
		return embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	return onnxEmbedder
}

func breakerSettings(c config.CircuitConfig) breaker.Settings {
	return breaker.Settings{
		FailureThreshold:  c.FailureThreshold,
		Window:            c.Window,
		Cooldown:          c.Cooldown,
		MaxCooldown:       c.MaxCooldown,
		BackoffMultiplier: c.Backoff,
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	cacheCfg := cache.Config{
		TTL:            cfg.Cache.TTL,
		NegativeTTL:    cfg.Cache.NegativeTTL,
		MaxEntries:     cfg.Cache.MaxEntries,
		ComputeTimeout: cfg.Cache.ComputeTimeout,
	}
	embeddings := cache.New[[]float32]("embeddings", cacheCfg, cache.WithLogger(logger))
	c.Embedder = embedding.NewCachedEmbedder(newEmbedder(cfg, logger), embeddings)

	vectorIndex, err := vector.NewMemoryIndex(c.Embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.VectorIndex = vectorIndex
	if loadErr := vectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
		logger.Warn("vector index load skipped (re-import decks to rebuild)",
			zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.BleveIndexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = keywordIndex

	enabled := cfg.Enhancement.EnabledOrDefault()
	settings := breakerSettings(cfg.Circuit)
	c.GraphGate = breaker.NewGate("graph", enabled,
		breaker.New("graph", settings, breaker.WithLogger(logger)), breaker.WithGateLogger(logger))
	c.VectorGate = breaker.NewGate("vector", enabled,
		breaker.New("vector", settings, breaker.WithLogger(logger)), breaker.WithGateLogger(logger))

	// A detached prediction never outlives the deadline its callers wait for.
	predCfg := cacheCfg
	predCfg.ComputeTimeout = cfg.Enhancement.GraphDeadline
	predictions := cache.New[*models.GraphPrediction]("predictions", predCfg, cache.WithLogger(logger))
	provider := graph.NewRelationalProvider(store, store, cfg.Enhancement.RelationDepth)
	c.Bridge = graph.NewBridge(provider, c.GraphGate, cfg.Enhancement.GraphDeadline,
		graph.WithCache(predictions), graph.WithLogger(logger))

	blender := blend.New(c.Bridge, blend.Config{
		Weight:             cfg.Enhancement.GNNWeight,
		Baseline:           cfg.Enhancement.MasteryBaseline,
		MinConfidence:      cfg.Enhancement.MinConfidence,
		StalenessThreshold: cfg.Enhancement.StalenessThreshold,
	}, blend.WithLogger(logger))
	core := scheduler.NewCore(scheduler.WithLocation(cfg.Scheduler.Location()))
	c.Reviews = review.NewService(store, core, blender,
		review.WithLogger(logger),
		review.WithMaxRetries(cfg.Scheduler.MaxRetries),
		review.WithPredictionCache(c.Bridge),
		review.WithEmbeddingCache(c.Embedder),
	)

	c.Search = search.NewMerger(keywordIndex, c.Embedder, vectorIndex, store, c.VectorGate, search.Config{
		Deadline:        cfg.Search.Deadline,
		TopK:            cfg.Search.TopKCandidates,
		Weights:         search.Weights{Vector: cfg.Search.VectorWeight, Recency: cfg.Search.RecencyWeight},
		RecencyHalfLife: cfg.Search.RecencyHalfLife,
		FrontBoost:      cfg.Search.FrontBoost,
		Fuzziness:       cfg.Search.Fuzziness,
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxLimit:        cfg.Search.MaxLimit,
	}, search.WithLogger(logger))

	c.Importer = deck.NewImporter(store, c.Embedder, vectorIndex, keywordIndex, nil, cfg.Watch.UserID,
		deck.WithLogger(logger))

	logger.Info("components initialized",
		zap.String("database_path", cfg.Storage.DatabasePath),
		zap.Int("vector_index_size", vectorIndex.Size()),
		zap.Bool("enhancement_enabled", enabled))
	ok = true
	return c, nil
}
