package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func indexCards(t *testing.T, idx LexicalIndex, cards ...*models.Card) {
	t.Helper()
	for _, c := range cards {
		if err := idx.Index(context.Background(), c); err != nil {
			t.Fatalf("Index(%s): %v", c.ID, err)
		}
	}
}

func TestBleveIndex_SearchFindsBackAndTags(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	indexCards(t, idx,
		&models.Card{ID: "c1", UserID: "u1", Front: "le chat", Back: "the cat", Tags: []string{"animals"}},
		&models.Card{ID: "c2", UserID: "u1", Front: "la maison", Back: "the house"},
	)

	results, err := idx.Search(ctx, "cat", "u1", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c1" {
		t.Fatalf("expected c1 for back match, got %+v", results)
	}
	if results[0].Score != 1 {
		t.Errorf("top hit score = %v, want 1 after normalization", results[0].Score)
	}

	results, err = idx.Search(ctx, "animals", "u1", 10, nil)
	if err != nil {
		t.Fatalf("Search tags: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c1" {
		t.Errorf("expected c1 for tag match, got %+v", results)
	}
}

func TestBleveIndex_FiltersByUser(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	indexCards(t, idx,
		&models.Card{ID: "c1", UserID: "u1", Front: "hund", Back: "dog"},
		&models.Card{ID: "c2", UserID: "u2", Front: "inu", Back: "dog"},
	)

	results, err := idx.Search(ctx, "dog", "u2", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "c2" {
		t.Errorf("expected only u2's card, got %+v", results)
	}

	all, err := idx.Search(ctx, "dog", "", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("empty user should search all cards, got %d", len(all))
	}
	// Equal scores are ordered by id.
	if all[0].ID != "c1" || all[1].ID != "c2" {
		t.Errorf("expected id order on ties, got %s, %s", all[0].ID, all[1].ID)
	}
}

func TestBleveIndex_FrontBoost(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	indexCards(t, idx,
		&models.Card{ID: "a", UserID: "u", Front: "river", Back: "fleuve"},
		&models.Card{ID: "b", UserID: "u", Front: "fleuve", Back: "river"},
	)

	results, err := idx.Search(ctx, "river", "u", 10, &SearchOptions{FrontBoost: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" {
		t.Errorf("front match should rank first with boost, got %s", results[0].ID)
	}
	if results[1].Score >= results[0].Score {
		t.Errorf("expected boosted score to dominate: %v vs %v", results[0].Score, results[1].Score)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	indexCards(t, idx, &models.Card{ID: "c1", UserID: "u", Front: "Schmetterling", Back: "butterfly"})

	results, err := idx.Search(ctx, "butterfyl", "u", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("exact search should not match a typo, got %+v", results)
	}
	results, err = idx.Search(ctx, "butterfyl", "u", 10, &SearchOptions{Fuzziness: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("fuzzy search should tolerate a transposition, got %+v", results)
	}
}

func TestBleveIndex_DeleteAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	indexCards(t, idx,
		&models.Card{ID: "c1", UserID: "u", Front: "eins", Back: "one"},
		&models.Card{ID: "c2", UserID: "u", Front: "zwei", Back: "two"},
	)
	if err := idx.Delete(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	n, err := reopened.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("DocCount = %d, want 1", n)
	}
	results, _ := reopened.Search(ctx, "one", "u", 10, nil)
	if len(results) != 0 {
		t.Errorf("deleted card still found: %+v", results)
	}
}

func TestMemBleveIndex(t *testing.T) {
	idx, err := NewMemBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	indexCards(t, idx, &models.Card{ID: "c1", UserID: "u", Front: "uno", Back: "one"})
	results, err := idx.Search(context.Background(), "uno", "u", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("got %+v", results)
	}
}
