// Package search merges the lexical and vector retrieval legs into one ranked result list.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kioku/internal/breaker"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// Reasons reported in SearchResponse.DegradedReason.
const (
	ReasonDisabled    = "disabled"
	ReasonCircuitOpen = "circuit_open"
	ReasonTimeout     = "timeout"
	ReasonError       = "error"
)

// DefaultDeadline bounds the vector leg when none is configured.
const DefaultDeadline = 250 * time.Millisecond

// CardLookup resolves card ids to cards.
type CardLookup interface {
	GetCards(ctx context.Context, ids []string) (map[string]*models.Card, error)
}

// Config holds merger settings.
type Config struct {
	// Deadline bounds the vector leg. The lexical leg is never cut short.
	Deadline time.Duration
	// TopK is the number of candidates requested from each leg before merging.
	TopK            int
	Weights         Weights
	RecencyHalfLife time.Duration
	FrontBoost      float64
	Fuzziness       int
	// DefaultLimit and MaxLimit override the model defaults for a query's result limit.
	DefaultLimit int
	MaxLimit     int
}

// Merger runs hybrid card search.
type Merger struct {
	lexical  keyword.LexicalIndex
	embedder embedding.Embedder
	vectors  vector.VectorIndex
	cards    CardLookup
	gate     *breaker.Gate
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the merger logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Merger) { m.logger = l }
}

// WithClock overrides time.Now for recency scoring.
func WithClock(now func() time.Time) Option {
	return func(m *Merger) { m.now = now }
}

// NewMerger creates a Merger. gate guards the vector leg and may be nil.
func NewMerger(lexical keyword.LexicalIndex, embedder embedding.Embedder, vectors vector.VectorIndex, cards CardLookup, gate *breaker.Gate, cfg Config, opts ...Option) *Merger {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.TopK <= 0 {
		cfg.TopK = models.MaxSearchLimit
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.FrontBoost <= 0 {
		cfg.FrontBoost = 1
	}
	m := &Merger{
		lexical:  lexical,
		embedder: embedder,
		vectors:  vectors,
		cards:    cards,
		gate:     gate,
		cfg:      cfg,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Search runs both legs concurrently and merges them. A slow or failing vector leg never
// fails the search: its results are dropped and the response is marked degraded. Errors
// from the lexical leg or the card catalog are returned.
func (m *Merger) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	// Normalize a copy; the caller's query is left as passed.
	q := *query
	query = &q
	if query.Limit <= 0 && m.cfg.DefaultLimit > 0 {
		query.Limit = m.cfg.DefaultLimit
	}
	if m.cfg.MaxLimit > 0 && query.Limit > m.cfg.MaxLimit {
		query.Limit = m.cfg.MaxLimit
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}

	var (
		lexHits []*keyword.Hit
		vecHits []VectorHit
		vecErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := m.lexical.Search(gctx, query.Query, query.UserID, m.cfg.TopK, &keyword.SearchOptions{
			FrontBoost: m.cfg.FrontBoost,
			Fuzziness:  m.cfg.Fuzziness,
		})
		if err != nil {
			return fmt.Errorf("lexical search failed: %w", err)
		}
		lexHits = hits
		return nil
	})
	if !query.LexicalOnly {
		g.Go(func() error {
			vecHits, vecErr = m.vectorLeg(gctx, query)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &models.SearchResponse{Query: query.Query}
	if vecErr != nil {
		resp.Degraded = true
		resp.DegradedReason = degradedReason(vecErr)
		vecHits = nil
		m.logger.Debug("vector leg dropped",
			zap.String("query", query.Query),
			zap.String("reason", resp.DegradedReason),
			zap.Error(vecErr))
	}

	merged := Merge(lexHits, vecHits, m.cfg.Weights)
	merged, err := m.attachCards(ctx, merged, query.UserID)
	if err != nil {
		return nil, err
	}

	resp.Total = len(merged)
	if len(merged) > query.Limit {
		merged = merged[:query.Limit]
	}
	for i, r := range merged {
		r.Rank = i + 1
	}
	resp.Results = merged
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

type vectorOutcome struct {
	hits []VectorHit
	err  error
}

// vectorLeg returns within the deadline even when the embedder or index ignore cancellation.
func (m *Merger) vectorLeg(ctx context.Context, query *models.SearchQuery) ([]VectorHit, error) {
	if m.embedder == nil || m.vectors == nil {
		return nil, breaker.ErrDisabled
	}
	if m.gate != nil && !m.gate.Enabled() {
		return nil, breaker.ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Deadline)
	defer cancel()

	done := make(chan vectorOutcome, 1)
	go func() {
		var hits []VectorHit
		call := func(ctx context.Context) error {
			var err error
			hits, err = m.vectorSearch(ctx, query)
			return err
		}
		var err error
		if m.gate != nil {
			err = m.gate.Do(ctx, call)
		} else {
			err = call(ctx)
		}
		done <- vectorOutcome{hits: hits, err: err}
	}()

	select {
	case out := <-done:
		return out.hits, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Merger) vectorSearch(ctx context.Context, query *models.SearchQuery) ([]VectorHit, error) {
	emb, err := m.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := m.vectors.Search(ctx, emb, m.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	cards, err := m.cards.GetCards(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector hits: %w", err)
	}

	now := m.now()
	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		card, ok := cards[r.ID]
		if !ok || (query.UserID != "" && card.UserID != query.UserID) {
			continue
		}
		hits = append(hits, VectorHit{
			ID:      r.ID,
			Score:   clamp01(r.Score),
			Recency: Recency(card.CreatedAt, now, m.cfg.RecencyHalfLife),
			Card:    card,
		})
	}
	return hits, nil
}

// attachCards loads the cards of lexical-only results. Results whose card no longer exists
// are dropped; the order of the rest is kept.
func (m *Merger) attachCards(ctx context.Context, results []*models.SearchResult, userID string) ([]*models.SearchResult, error) {
	var missing []string
	for _, r := range results {
		if r.Card == nil {
			missing = append(missing, r.ID)
		}
	}
	if len(missing) == 0 {
		return results, nil
	}
	cards, err := m.cards.GetCards(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to load search results: %w", err)
	}
	out := results[:0]
	for _, r := range results {
		if r.Card == nil {
			card, ok := cards[r.ID]
			if !ok || (userID != "" && card.UserID != userID) {
				continue
			}
			r.Card = card
		}
		out = append(out, r)
	}
	return out, nil
}

// InvalidateCache drops the cached embedding stored under fingerprint. It reports whether
// an entry was removed.
func (m *Merger) InvalidateCache(fingerprint string) bool {
	inv, ok := m.embedder.(interface{ Invalidate(string) bool })
	if !ok {
		return false
	}
	return inv.Invalidate(fingerprint)
}

// CacheStats returns the embedding cache statistics; ok is false when the embedder is uncached.
func (m *Merger) CacheStats() (stats cache.Stats, ok bool) {
	c, ok := m.embedder.(*embedding.CachedEmbedder)
	if !ok {
		return cache.Stats{}, false
	}
	return c.Stats(), true
}

// Gate returns the vector leg's feature gate, or nil.
func (m *Merger) Gate() *breaker.Gate { return m.gate }

func degradedReason(err error) string {
	switch {
	case errors.Is(err, breaker.ErrDisabled):
		return ReasonDisabled
	case errors.Is(err, breaker.ErrOpen):
		return ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonError
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
