// Package server provides the HTTP API for kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kioku/internal/breaker"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/deck"
	"github.com/hyperjump/kioku/internal/review"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/watcher"
	"go.uber.org/zap"
)

// WatchService manages the watched deck directories.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
	Stats() watcher.Stats
}

// CacheStatser reports the statistics of one semantic cache.
type CacheStatser interface {
	CacheStats() (cache.Stats, bool)
}

// Deps are the services the API is a front for.
type Deps struct {
	Reviews  *review.Service
	Search   *search.Merger
	Importer *deck.Importer
	Storage  storage.Storage
	// VectorSize reports the number of vectors in the index; nil reports 0.
	VectorSize func() int
	// Gates are the named feature gates the enhancement endpoint can toggle.
	Gates []*breaker.Gate
	// Caches are the caches listed in the status response.
	Caches []CacheStatser
}

// Server is the HTTP server for the kioku API.
type Server struct {
	deps       Deps
	config     *config.ServerConfig
	logger     *zap.Logger
	watch      WatchService
	configPath string
	fullConfig *config.Config
	configMu   sync.Mutex
	now        func() time.Time
	server     *http.Server
}

// NewServer creates a server with the given dependencies. watch may be nil when no
// directories are watched; configPath and fullCfg are used to persist watch changes and
// to report storage paths in the status response.
func NewServer(
	deps Deps,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
	fullCfg *config.Config,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps:       deps,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
		fullConfig: fullCfg,
		now:        time.Now,
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reviews", s.handleReview)
		r.Get("/reviews/preview", s.handlePreview)
		r.Get("/users/{userID}/due", s.handleDue)

		r.Post("/search", s.handleSearch)

		r.Post("/cards", s.handleAddCard)
		r.Get("/cards/{id}", s.handleGetCard)
		r.Delete("/cards/{id}", s.handleDeleteCard)
		r.Get("/cards/{id}/history", s.handleHistory)
		r.Post("/relations", s.handleLink)
		r.Post("/decks/import", s.handleImportDeck)

		r.Delete("/cache/{fingerprint}", s.handleInvalidateCache)
		r.Put("/enhancement", s.handleEnhancement)
		r.Get("/status", s.handleStatus)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
