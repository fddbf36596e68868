package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/breaker"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/deck"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// backend is what the one-shot commands talk to: a running server over HTTP, or the stores
// opened directly when no server is running.
type backend interface {
	Review(ctx context.Context, cardID string, grade int) (*models.ScheduleState, error)
	Preview(ctx context.Context, cardID string) ([]*models.ScheduleState, error)
	Due(ctx context.Context, userID string, limit int) ([]*models.DueCard, error)
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
	ImportFile(ctx context.Context, path string) (*deck.Result, error)
	ImportDirectory(ctx context.Context, dir string) (int, error)
	Link(ctx context.Context, rel models.Relation) error
	Status(ctx context.Context) (*statusResponse, error)
	Close()
}

// statusResponse is the shape of the GET /api/v1/status response.
type statusResponse struct {
	Cards           int64                  `json:"cards"`
	Reviews         int64                  `json:"reviews"`
	VectorIndexSize int                    `json:"vector_index_size"`
	Gates           []breaker.GateStatus   `json:"gates"`
	Caches          []cache.Stats          `json:"caches"`
	DiskUsageBytes  *int64                 `json:"disk_usage_bytes,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
}

type localBackend struct {
	c   *Components
	now func() time.Time
}

func newLocalBackend(c *Components) *localBackend {
	return &localBackend{c: c, now: time.Now}
}

func (b *localBackend) Review(ctx context.Context, cardID string, grade int) (*models.ScheduleState, error) {
	return b.c.Reviews.ScheduleReview(ctx, cardID, grade, b.now())
}

func (b *localBackend) Preview(ctx context.Context, cardID string) ([]*models.ScheduleState, error) {
	return b.c.Reviews.Preview(ctx, cardID, b.now())
}

func (b *localBackend) Due(ctx context.Context, userID string, limit int) ([]*models.DueCard, error) {
	return b.c.Reviews.DueQueue(ctx, userID, b.now(), limit)
}

func (b *localBackend) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	return b.c.Search.Search(ctx, query)
}

func (b *localBackend) ImportFile(ctx context.Context, path string) (*deck.Result, error) {
	res, err := b.c.Importer.ImportFile(ctx, path, b.c.Config.Watch.Extensions)
	if err == nil && !res.Skipped {
		b.c.SaveVectors()
	}
	return res, err
}

func (b *localBackend) ImportDirectory(ctx context.Context, dir string) (int, error) {
	n, err := b.c.Importer.ImportDirectory(ctx, dir, b.c.Config.Watch.Extensions)
	if n > 0 {
		b.c.SaveVectors()
	}
	return n, err
}

func (b *localBackend) Link(ctx context.Context, rel models.Relation) error {
	return b.c.Reviews.Link(ctx, rel)
}

func (b *localBackend) Status(ctx context.Context) (*statusResponse, error) {
	cards, err := b.c.Storage.CountCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("count cards: %w", err)
	}
	reviews, err := b.c.Storage.CountReviews(ctx)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}
	deps := b.c.Deps()
	st := &statusResponse{
		Cards:           cards,
		Reviews:         reviews,
		VectorIndexSize: deps.VectorSize(),
	}
	for _, g := range deps.Gates {
		st.Gates = append(st.Gates, g.Status())
	}
	for _, c := range deps.Caches {
		if s, ok := c.CacheStats(); ok {
			st.Caches = append(st.Caches, s)
		}
	}
	cfg := b.c.Config
	st.Config = map[string]interface{}{
		"database_path":     cfg.Storage.DatabasePath,
		"bleve_index_path":  cfg.Storage.BleveIndexPath,
		"vector_index_path": cfg.Storage.VectorIndexPath,
	}
	if diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorIndexPath); err == nil {
		st.DiskUsageBytes = &diskBytes
	}
	return st, nil
}

func (b *localBackend) Close() { b.c.Close() }

type httpBackend struct {
	baseURL string
	client  *http.Client
}

func newHTTPBackend(baseURL string) *httpBackend {
	return &httpBackend{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: 30 * time.Second}}
}

// do sends body as JSON and decodes a response with status want into out.
func (b *httpBackend) do(ctx context.Context, method, path string, body, out interface{}, want int) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (b *httpBackend) Review(ctx context.Context, cardID string, grade int) (*models.ScheduleState, error) {
	var st models.ScheduleState
	err := b.do(ctx, http.MethodPost, "/api/v1/reviews", models.ReviewRequest{CardID: cardID, Grade: grade}, &st, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (b *httpBackend) Preview(ctx context.Context, cardID string) ([]*models.ScheduleState, error) {
	var out struct {
		Grades []*models.ScheduleState `json:"grades"`
	}
	err := b.do(ctx, http.MethodGet, "/api/v1/reviews/preview?card_id="+url.QueryEscape(cardID), nil, &out, http.StatusOK)
	return out.Grades, err
}

func (b *httpBackend) Due(ctx context.Context, userID string, limit int) ([]*models.DueCard, error) {
	var out struct {
		Cards []*models.DueCard `json:"cards"`
	}
	path := "/api/v1/users/" + url.PathEscape(userID) + "/due"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := b.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK)
	return out.Cards, err
}

func (b *httpBackend) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := b.do(ctx, http.MethodPost, "/api/v1/search", query, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *httpBackend) ImportFile(ctx context.Context, path string) (*deck.Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	var res deck.Result
	if err := b.do(ctx, http.MethodPost, "/api/v1/decks/import", map[string]string{"path": abs}, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return &res, nil
}

// ImportDirectory asks the server to import every regular file under dir. The server applies
// its own extension filter; files it rejects are skipped.
func (b *httpBackend) ImportDirectory(ctx context.Context, dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() || !d.Type().IsRegular() {
			return walkErr
		}
		if _, err := b.ImportFile(ctx, path); err != nil {
			if strings.Contains(err.Error(), "not in allowed list") {
				return nil
			}
			return fmt.Errorf("import %s: %w", path, err)
		}
		n++
		return nil
	})
	return n, err
}

func (b *httpBackend) Link(ctx context.Context, rel models.Relation) error {
	return b.do(ctx, http.MethodPost, "/api/v1/relations", rel, nil, http.StatusCreated)
}

func (b *httpBackend) Status(ctx context.Context) (*statusResponse, error) {
	var st statusResponse
	if err := b.do(ctx, http.MethodGet, "/api/v1/status", nil, &st, http.StatusOK); err != nil {
		return nil, err
	}
	return &st, nil
}

func (b *httpBackend) Close() {}
