// Package cache provides a fingerprint-keyed cache with TTL and LRU eviction, negative caching,
// and at most one concurrent computation per key.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/kioku/internal/models"
)

// Config holds cache limits. Zero values fall back to the defaults below.
type Config struct {
	TTL         time.Duration
	NegativeTTL time.Duration
	MaxEntries  int
	// ComputeTimeout bounds a shared computation once it has been detached from its callers.
	ComputeTimeout time.Duration
}

const (
	defaultTTL            = 10 * time.Minute
	defaultNegativeTTL    = 5 * time.Second
	defaultMaxEntries     = 10000
	defaultComputeTimeout = 30 * time.Second
)

// ComputeFunc produces the value for a key on a miss.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// SemanticCache caches values of type V by fingerprint. It is safe for concurrent use.
type SemanticCache[V any] struct {
	name   string
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	group   singleflight.Group
	flights map[string]*flight

	hits, negativeHits, misses, computations, evictions, corruptions atomic.Int64
}

// flight tracks one computation. Invalidate and Purge mark it stale so its result is not stored.
type flight struct {
	stale bool
}

// replayedError is a failure the caller did not observe first-hand: a negative entry or the
// result of a computation started by another caller. It matches both models.ErrCachedFailure
// and the original error.
type replayedError struct {
	err error
}

func (e *replayedError) Error() string   { return e.err.Error() }
func (e *replayedError) Unwrap() []error { return []error{models.ErrCachedFailure, e.err} }

func replayed(err error) error {
	if err == nil || errors.Is(err, models.ErrCachedFailure) {
		return err
	}
	return &replayedError{err: err}
}

type entry struct {
	key       string
	value     any
	err       error
	expiresAt time.Time
}

// Option configures a SemanticCache.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets a logger for evictions and corrupt entries.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a cache.
func New[V any](name string, cfg Config, opts ...Option) *SemanticCache[V] {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = defaultNegativeTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = defaultComputeTimeout
	}
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &SemanticCache[V]{
		name:   name,
		cfg:    cfg,
		now:    o.now,
		logger: o.logger,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		flights: make(map[string]*flight),
	}
}

// Get returns the cached value for key, computing it on a miss.
//
// Concurrent callers for the same missing key share one computation. The computation runs on
// a context detached from any single caller (bounded by ComputeTimeout); a caller whose ctx is
// done returns ctx.Err() immediately while the others keep waiting.
//
// Errors not produced by this caller's own computation (negative entries, or failures shared
// from another caller's flight) match models.ErrCachedFailure.
func (c *SemanticCache[V]) Get(ctx context.Context, key string, compute ComputeFunc[V]) (V, error) {
	if v, ok, err := c.lookup(key); ok {
		return v, replayed(err)
	}
	c.misses.Add(1)

	// Only the caller whose function singleflight runs sets ran.
	var ran bool
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok, err := c.lookup(key); ok {
			return v, replayed(err)
		}
		ran = true
		f := c.startFlight(key)
		c.computations.Add(1)
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ComputeTimeout)
		defer cancel()
		v, err := compute(cctx)
		c.finishFlight(key, f, v, err)
		return v, err
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if !ran {
				return zero, replayed(res.Err)
			}
			return zero, res.Err
		}
		if res.Val == nil {
			return zero, nil
		}
		v, ok := res.Val.(V)
		if !ok {
			return zero, fmt.Errorf("%s: unexpected type %T: %w", c.name, res.Val, models.ErrCacheCorruption)
		}
		return v, nil
	}
}

// lookup returns a live entry. Expired entries are removed; entries whose payload is not a V
// are evicted and reported as a miss.
func (c *SemanticCache[V]) lookup(key string) (V, bool, error) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return zero, false, nil
	}
	e := elem.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(elem)
		return zero, false, nil
	}
	if e.err != nil {
		c.lru.MoveToFront(elem)
		c.negativeHits.Add(1)
		return zero, true, e.err
	}
	v, ok := e.value.(V)
	if !ok {
		c.removeLocked(elem)
		c.corruptions.Add(1)
		c.logger.Warn("evicting corrupt cache entry",
			zap.String("cache", c.name),
			zap.String("key", key),
			zap.String("type", fmt.Sprintf("%T", e.value)))
		return zero, false, nil
	}
	c.lru.MoveToFront(elem)
	c.hits.Add(1)
	return v, true, nil
}

func (c *SemanticCache[V]) startFlight(key string) *flight {
	f := &flight{}
	c.mu.Lock()
	c.flights[key] = f
	c.mu.Unlock()
	return f
}

// finishFlight stores the result unless the key was invalidated while f was computing.
func (c *SemanticCache[V]) finishFlight(key string, f *flight, v V, err error) {
	ttl := c.cfg.TTL
	if err != nil {
		ttl = c.cfg.NegativeTTL
	}
	e := &entry{key: key, value: v, err: err, expiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	if f.stale {
		c.logger.Debug("dropping result of invalidated computation",
			zap.String("cache", c.name),
			zap.String("key", key))
		return
	}
	c.setLocked(key, e)
}

// Set stores v for key with the regular TTL.
func (c *SemanticCache[V]) Set(key string, v V) {
	c.set(key, &entry{key: key, value: v, expiresAt: c.now().Add(c.cfg.TTL)})
}

func (c *SemanticCache[V]) set(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, e)
}

func (c *SemanticCache[V]) setLocked(key string, e *entry) {
	if elem, ok := c.items[key]; ok {
		elem.Value = e
		c.lru.MoveToFront(elem)
		return
	}
	c.items[key] = c.lru.PushFront(e)
	for c.lru.Len() > c.cfg.MaxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions.Add(1)
	}
}

func (c *SemanticCache[V]) removeLocked(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}

// Invalidate drops key. A computation already in flight for key still completes for its
// waiters, but its result is not stored and later callers start a fresh one.
func (c *SemanticCache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.group.Forget(key)
	if f, ok := c.flights[key]; ok {
		f.stale = true
		delete(c.flights, key)
	}
	elem, ok := c.items[key]
	if ok {
		c.removeLocked(elem)
	}
	return ok
}

// Purge drops every entry and discards the results of computations in flight.
func (c *SemanticCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		c.group.Forget(key)
	}
	for key, f := range c.flights {
		c.group.Forget(key)
		f.stale = true
	}
	c.flights = make(map[string]*flight)
	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of stored entries, including expired ones not yet collected.
func (c *SemanticCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats are cumulative cache counters.
type Stats struct {
	Name         string `json:"name"`
	Entries      int    `json:"entries"`
	Hits         int64  `json:"hits"`
	NegativeHits int64  `json:"negative_hits"`
	Misses       int64  `json:"misses"`
	Computations int64  `json:"computations"`
	Evictions    int64  `json:"evictions"`
	Corruptions  int64  `json:"corruptions"`
}

// Stats returns the cache counters.
func (c *SemanticCache[V]) Stats() Stats {
	return Stats{
		Name:         c.name,
		Entries:      c.Len(),
		Hits:         c.hits.Load(),
		NegativeHits: c.negativeHits.Load(),
		Misses:       c.misses.Load(),
		Computations: c.computations.Load(),
		Evictions:    c.evictions.Load(),
		Corruptions:  c.corruptions.Load(),
	}
}
