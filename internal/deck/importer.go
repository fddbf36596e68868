// Package deck imports deck files into the card catalog, the lexical index and the vector index.
package deck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

// Store is the persistence the importer needs.
type Store interface {
	storage.CardCatalog
	storage.DeckStore
}

// Result summarizes one file import.
type Result struct {
	Deck    *models.Deck `json:"deck"`
	Added   int          `json:"added"`
	Updated int          `json:"updated"`
	Removed int          `json:"removed"`
	// Skipped is true when the file was unchanged since the last import.
	Skipped bool `json:"skipped"`
}

// Importer keeps the catalog and both search indices in sync with deck files.
type Importer struct {
	store     Store
	embedder  embedding.Embedder
	vectors   vector.VectorIndex
	lexical   keyword.LexicalIndex
	extractor *extract.Extractor
	userID    string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets a logger for debug output (file imported, deck removed, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// WithClock overrides time.Now for card and deck timestamps.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

// NewImporter returns an Importer that assigns imported cards to userID.
// When embedder caches by text fingerprint, entries of edited cards are invalidated.
func NewImporter(
	store Store,
	embedder embedding.Embedder,
	vectors vector.VectorIndex,
	lexical keyword.LexicalIndex,
	extractor *extract.Extractor,
	userID string,
	opts ...Option,
) *Importer {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	im := &Importer{
		store:     store,
		embedder:  embedder,
		vectors:   vectors,
		lexical:   lexical,
		extractor: extractor,
		userID:    userID,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportFile imports the deck at path. If allowedExts is non-empty, the file's extension must
// be in the list (case-insensitive). Unchanged files (same mtime and size as the last import)
// are skipped. Cards are keyed by their front, so editing a back keeps the card's review
// history; cards that disappeared from the file are removed.
func (im *Importer) ImportFile(ctx context.Context, path string, allowedExts []string) (*Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !ExtensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	deckID := fileid.DeckID(absPath)
	if prev, err := im.store.GetDeck(ctx, deckID); err == nil && unchanged(prev, absPath, info) {
		im.logger.Debug("skipping unchanged deck", zap.String("path", absPath))
		return &Result{Deck: prev, Skipped: true}, nil
	}

	parsed, err := im.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("parse deck: %w", err)
	}
	name := parsed.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	}

	existing, err := im.store.ListDeckCards(ctx, deckID)
	if err != nil {
		return nil, fmt.Errorf("list deck cards: %w", err)
	}
	old := make(map[string]*models.Card, len(existing))
	for _, c := range existing {
		old[c.ID] = c
	}

	res := &Result{}
	now := im.now().UTC()
	seen := make(map[string]bool, len(parsed.Entries))
	var changed []*models.Card
	for _, en := range parsed.Entries {
		id := fileid.CardID(deckID, en.Front)
		if seen[id] {
			continue
		}
		seen[id] = true
		card := &models.Card{
			ID:        id,
			UserID:    im.userID,
			DeckID:    deckID,
			Front:     en.Front,
			Back:      en.Back,
			Tags:      en.Tags,
			CreatedAt: now,
		}
		card.Fingerprint = cache.TextFingerprint(card.Text())
		prev, ok := old[id]
		switch {
		case !ok:
			res.Added++
		case prev.Fingerprint == card.Fingerprint && slices.Equal(prev.Tags, card.Tags) && prev.UserID == card.UserID:
			continue
		default:
			card.CreatedAt = prev.CreatedAt
			if prev.Fingerprint != card.Fingerprint {
				im.invalidateEmbedding(prev.Fingerprint)
			}
			res.Updated++
		}
		changed = append(changed, card)
	}
	if err := im.putCards(ctx, changed); err != nil {
		return nil, err
	}

	var removed []string
	for id := range old {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	if err := im.removeCards(ctx, removed); err != nil {
		return nil, err
	}
	res.Removed = len(removed)

	deck := &models.Deck{
		ID:          deckID,
		UserID:      im.userID,
		Name:        name,
		SourcePath:  absPath,
		SourceMtime: info.ModTime().UnixNano(),
		SourceSize:  info.Size(),
		CardCount:   len(seen),
		ImportedAt:  now,
	}
	if err := im.store.PutDeck(ctx, deck); err != nil {
		return nil, fmt.Errorf("store deck: %w", err)
	}
	res.Deck = deck
	im.logger.Debug("deck imported",
		zap.String("path", absPath),
		zap.String("deck_id", deckID),
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("removed", res.Removed))
	return res, nil
}

// unchanged returns true if the deck was imported from the same file with the same mtime and size.
func unchanged(prev *models.Deck, absPath string, info os.FileInfo) bool {
	return prev.SourcePath == absPath &&
		prev.SourceMtime == info.ModTime().UnixNano() &&
		prev.SourceSize == info.Size()
}

// ImportDirectory walks dir recursively and imports each regular file whose extension is in
// allowedExts (if non-empty; otherwise all files). Returns the number of files imported,
// skipped files included, and the first error encountered, if any.
func (im *Importer) ImportDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !ExtensionAllowed(ext, allowedExts) {
			return nil
		}
		// Resolve symlinks so we only import regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, importErr := im.ImportFile(ctx, path, allowedExts); importErr != nil {
			return fmt.Errorf("import %s: %w", path, importErr)
		}
		n++
		return nil
	})
	return n, err
}

// RemoveFile removes the deck imported from path and all of its cards.
func (im *Importer) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	deckID := fileid.DeckID(absPath)
	cards, err := im.store.ListDeckCards(ctx, deckID)
	if err != nil {
		return fmt.Errorf("list deck cards: %w", err)
	}
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
		im.invalidateEmbedding(c.Fingerprint)
	}
	if err := im.removeCards(ctx, ids); err != nil {
		return err
	}
	if err := im.store.DeleteDeck(ctx, deckID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("delete deck: %w", err)
	}
	im.logger.Debug("deck removed", zap.String("path", absPath), zap.Int("cards", len(ids)))
	return nil
}

// AddCard stores and indexes a single card. An empty ID gets a random one.
func (im *Importer) AddCard(ctx context.Context, in *models.CardInput) (*models.Card, error) {
	if strings.TrimSpace(in.Front) == "" {
		return nil, models.NewValidationError("front", "must not be empty")
	}
	userID := in.UserID
	if userID == "" {
		userID = im.userID
	}
	if userID == "" {
		return nil, models.NewValidationError("user_id", "must not be empty")
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	card := &models.Card{
		ID:        id,
		UserID:    userID,
		DeckID:    in.DeckID,
		Front:     strings.TrimSpace(in.Front),
		Back:      strings.TrimSpace(in.Back),
		Tags:      in.Tags,
		CreatedAt: im.now().UTC(),
	}
	card.Fingerprint = cache.TextFingerprint(card.Text())
	if prev, err := im.store.GetCard(ctx, id); err == nil {
		card.CreatedAt = prev.CreatedAt
		if prev.Fingerprint != card.Fingerprint {
			im.invalidateEmbedding(prev.Fingerprint)
		}
	}
	if err := im.putCards(ctx, []*models.Card{card}); err != nil {
		return nil, err
	}
	return card, nil
}

// DeleteCard removes a card from the catalog and both indices. Its review history is kept.
func (im *Importer) DeleteCard(ctx context.Context, id string) error {
	card, err := im.store.GetCard(ctx, id)
	if err != nil {
		return err
	}
	im.invalidateEmbedding(card.Fingerprint)
	return im.removeCards(ctx, []string{id})
}

func (im *Importer) putCards(ctx context.Context, cards []*models.Card) error {
	if len(cards) == 0 {
		return nil
	}
	texts := make([]string, len(cards))
	ids := make([]string, len(cards))
	for i, c := range cards {
		if err := im.store.PutCard(ctx, c); err != nil {
			return fmt.Errorf("store card %s: %w", c.ID, err)
		}
		if err := im.lexical.Index(ctx, c); err != nil {
			return fmt.Errorf("index card %s: %w", c.ID, err)
		}
		texts[i] = c.Text()
		ids[i] = c.ID
	}
	embeddings, err := im.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if err := im.vectors.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("failed to index vectors: %w", err)
	}
	return nil
}

func (im *Importer) removeCards(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := im.lexical.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete from lexical index: %w", err)
		}
	}
	if err := im.vectors.Remove(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	for _, id := range ids {
		if err := im.store.DeleteCard(ctx, id); err != nil {
			return fmt.Errorf("failed to delete card %s: %w", id, err)
		}
	}
	return nil
}

func (im *Importer) invalidateEmbedding(fingerprint string) {
	if inv, ok := im.embedder.(interface{ Invalidate(string) bool }); ok {
		inv.Invalidate(fingerprint)
	}
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and the leading dot.
func ExtensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
