package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/breaker"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

type stubLexical struct {
	hits []*keyword.Hit
	err  error
}

func (s *stubLexical) Index(context.Context, *models.Card) error { return nil }
func (s *stubLexical) Delete(context.Context, string) error      { return nil }
func (s *stubLexical) DocCount() (uint64, error)                 { return uint64(len(s.hits)), nil }
func (s *stubLexical) Close() error                              { return nil }

func (s *stubLexical) Search(ctx context.Context, query, userID string, limit int, opts *keyword.SearchOptions) ([]*keyword.Hit, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*keyword.Hit, len(s.hits))
	for i, h := range s.hits {
		c := *h
		out[i] = &c
	}
	return out, nil
}

// slowEmbedder ignores cancellation to prove the merger does not wait for it.
type slowEmbedder struct {
	delay time.Duration
}

func (e *slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	time.Sleep(e.delay)
	return []float32{1, 0}, nil
}

func (e *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}
func (e *slowEmbedder) Dimensions() int { return 2 }
func (e *slowEmbedder) Close() error    { return nil }

type failingEmbedder struct{ slowEmbedder }

func (e *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model crashed")
}

type stubVectors struct {
	vector.VectorIndex
	results []*vector.VectorResult
}

func (s *stubVectors) Search(ctx context.Context, query []float32, k int) ([]*vector.VectorResult, error) {
	return s.results, nil
}

type mapCatalog map[string]*models.Card

func (m mapCatalog) GetCards(ctx context.Context, ids []string) (map[string]*models.Card, error) {
	out := make(map[string]*models.Card)
	for _, id := range ids {
		if c, ok := m[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

var testNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func catalog(userID string, ids ...string) mapCatalog {
	m := mapCatalog{}
	for _, id := range ids {
		m[id] = &models.Card{ID: id, UserID: userID, Front: id, CreatedAt: testNow}
	}
	return m
}

func resultIDs(results []*models.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestMerger_VectorTimeoutReturnsLexicalUnchanged(t *testing.T) {
	lex := &stubLexical{hits: []*keyword.Hit{{ID: "1", Score: 0.8}, {ID: "2", Score: 0.5}}}
	vec := &stubVectors{results: []*vector.VectorResult{{ID: "3", Score: 0.99}}}
	m := NewMerger(lex, &slowEmbedder{delay: 2 * time.Second}, vec, catalog("u", "1", "2", "3"), nil,
		Config{Deadline: 50 * time.Millisecond})

	start := time.Now()
	resp, err := m.Search(context.Background(), &models.SearchQuery{Query: "capital", Limit: 10})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, time.Second, "search must not wait for the vector leg past its deadline")
	assert.True(t, resp.Degraded)
	assert.Equal(t, ReasonTimeout, resp.DegradedReason)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, []string{"1", "2"}, resultIDs(resp.Results))
	assert.Equal(t, 0.8, resp.Results[0].BlendedScore)
	assert.Equal(t, 0.5, resp.Results[1].BlendedScore)
	assert.Equal(t, models.SourceLexical, resp.Results[0].Source)
}

func TestMerger_BlendsVectorHits(t *testing.T) {
	lex := &stubLexical{hits: []*keyword.Hit{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.3}}}
	vec := &stubVectors{results: []*vector.VectorResult{{ID: "b", Score: 0.8}, {ID: "c", Score: 0.5}}}
	m := NewMerger(lex, embedding.NewMockEmbedder(2), vec, catalog("u", "a", "b", "c"), nil,
		Config{Deadline: time.Second, RecencyHalfLife: 30 * 24 * time.Hour},
		WithClock(func() time.Time { return testNow }))

	resp, err := m.Search(context.Background(), &models.SearchQuery{Query: "q", UserID: "u"})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)

	// b: max(0.3, 0.6*0.8+0.4*1) = 0.88; c: 0.6*0.5+0.4 = 0.7
	assert.Equal(t, []string{"a", "b", "c"}, resultIDs(resp.Results))
	assert.InDelta(t, 0.88, resp.Results[1].BlendedScore, 1e-9)
	assert.Equal(t, models.SourceBoth, resp.Results[1].Source)
	assert.InDelta(t, 0.7, resp.Results[2].BlendedScore, 1e-9)
	assert.Equal(t, models.SourceVector, resp.Results[2].Source)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.NotNil(t, r.Card)
	}
}

func TestMerger_LimitAppliedAfterMerge(t *testing.T) {
	lex := &stubLexical{hits: []*keyword.Hit{{ID: "a", Score: 0.2}}}
	vec := &stubVectors{results: []*vector.VectorResult{{ID: "b", Score: 1}}}
	m := NewMerger(lex, embedding.NewMockEmbedder(2), vec, catalog("u", "a", "b"), nil,
		Config{Deadline: time.Second}, WithClock(func() time.Time { return testNow }))

	resp, err := m.Search(context.Background(), &models.SearchQuery{Query: "q", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, []string{"b"}, resultIDs(resp.Results))
}

func TestMerger_DoesNotModifyCallerQuery(t *testing.T) {
	lex := &stubLexical{hits: []*keyword.Hit{{ID: "a", Score: 0.4}, {ID: "b", Score: 0.3}}}
	m := NewMerger(lex, &failingEmbedder{}, &stubVectors{}, catalog("u", "a", "b"), nil,
		Config{DefaultLimit: 1, MaxLimit: 5})

	unset := &models.SearchQuery{Query: "  q  ", LexicalOnly: true}
	resp, err := m.Search(context.Background(), unset)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, &models.SearchQuery{Query: "  q  ", LexicalOnly: true}, unset)

	tooLarge := &models.SearchQuery{Query: "q", Limit: 50, LexicalOnly: true}
	_, err = m.Search(context.Background(), tooLarge)
	require.NoError(t, err)
	assert.Equal(t, 50, tooLarge.Limit)

	// Reusing the same query value gives the same page each time.
	again, err := m.Search(context.Background(), unset)
	require.NoError(t, err)
	assert.Equal(t, resultIDs(resp.Results), resultIDs(again.Results))
}

func TestMerger_LexicalOnlyIsNotDegraded(t *testing.T) {
	lex := &stubLexical{hits: []*keyword.Hit{{ID: "a", Score: 0.4}}}
	m := NewMerger(lex, &failingEmbedder{}, &stubVectors{}, catalog("u", "a"), nil, Config{})

	resp, err := m.Search(context.Background(), &models.SearchQuery{Query: "q", LexicalOnly: true})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.Equal(t, []string{"a"}, resultIDs(resp.Results))
}

func TestMerger_DegradedReasons(t *testing.T) {
	lex := &stubLexical{hits: []*keyword.Hit{{ID: "a", Score: 0.4}}}
	cards := catalog("u", "a")

	t.Run("disabled", func(t *testing.T) {
		gate := breaker.NewGate("vector", false, nil)
		m := NewMerger(lex, embedding.NewMockEmbedder(2), &stubVectors{}, cards, gate, Config{})
		resp, err := m.Search(context.Background(), &models.SearchQuery{Query: "q"})
		require.NoError(t, err)
		assert.True(t, resp.Degraded)
		assert.Equal(t, ReasonDisabled, resp.DegradedReason)
	})

	t.Run("error", func(t *testing.T) {
		m := NewMerger(lex, &failingEmbedder{}, &stubVectors{}, cards, nil, Config{})
		resp, err := m.Search(context.Background(), &models.SearchQuery{Query: "q"})
		require.NoError(t, err)
		assert.True(t, resp.Degraded)
		assert.Equal(t, ReasonError, resp.DegradedReason)
		assert.Equal(t, []string{"a"}, resultIDs(resp.Results))
	})

	t.Run("circuit_open", func(t *testing.T) {
		b := breaker.New("vector", breaker.Settings{FailureThreshold: 1, Cooldown: time.Hour})
		gate := breaker.NewGate("vector", true, b)
		m := NewMerger(lex, &failingEmbedder{}, &stubVectors{}, cards, gate, Config{})

		_, err := m.Search(context.Background(), &models.SearchQuery{Query: "q"})
		require.NoError(t, err)
		resp, err := m.Search(context.Background(), &models.SearchQuery{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, ReasonCircuitOpen, resp.DegradedReason)
	})
}

func TestMerger_LexicalErrorFailsSearch(t *testing.T) {
	lex := &stubLexical{err: errors.New("index closed")}
	m := NewMerger(lex, embedding.NewMockEmbedder(2), &stubVectors{}, catalog("u"), nil, Config{})

	_, err := m.Search(context.Background(), &models.SearchQuery{Query: "q"})
	assert.Error(t, err)
}

func TestMerger_EmptyQueryRejected(t *testing.T) {
	m := NewMerger(&stubLexical{}, nil, nil, catalog("u"), nil, Config{})
	_, err := m.Search(context.Background(), &models.SearchQuery{Query: "  "})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestMerger_FiltersOtherUsersAndMissingCards(t *testing.T) {
	cards := catalog("u", "a")
	cards["theirs"] = &models.Card{ID: "theirs", UserID: "other", CreatedAt: testNow}
	lex := &stubLexical{hits: []*keyword.Hit{{ID: "a", Score: 0.5}, {ID: "deleted", Score: 0.9}}}
	vec := &stubVectors{results: []*vector.VectorResult{{ID: "theirs", Score: 1}}}
	m := NewMerger(lex, embedding.NewMockEmbedder(2), vec, cards, nil, Config{Deadline: time.Second})

	resp, err := m.Search(context.Background(), &models.SearchQuery{Query: "q", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, resultIDs(resp.Results))
}

func TestMerger_InvalidateCache(t *testing.T) {
	c := cache.New[[]float32]("embeddings", cache.Config{})
	emb := embedding.NewCachedEmbedder(embedding.NewMockEmbedder(2), c)
	m := NewMerger(&stubLexical{}, emb, &stubVectors{}, catalog("u"), nil, Config{})

	_, err := emb.Embed(context.Background(), "capital of France")
	require.NoError(t, err)
	assert.True(t, m.InvalidateCache(cache.TextFingerprint("capital of France")))
	assert.False(t, m.InvalidateCache(cache.TextFingerprint("capital of France")))

	_, ok := m.CacheStats()
	assert.True(t, ok)
}
