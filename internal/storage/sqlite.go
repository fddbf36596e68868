// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Conditional state writes rely on a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		deck_id TEXT,
		front TEXT NOT NULL,
		back TEXT,
		tags TEXT,
		fingerprint TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_cards_user ON cards(user_id);
	CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id);

	CREATE TABLE IF NOT EXISTS schedule_states (
		card_id TEXT PRIMARY KEY,
		easiness_factor REAL NOT NULL,
		repetition_count INTEGER NOT NULL,
		interval_days INTEGER NOT NULL,
		base_interval_days INTEGER NOT NULL,
		due_at INTEGER NOT NULL,
		last_grade INTEGER NOT NULL,
		enhanced INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_states_due ON schedule_states(due_at);

	CREATE TABLE IF NOT EXISTS review_log (
		id TEXT PRIMARY KEY,
		card_id TEXT NOT NULL,
		grade INTEGER NOT NULL,
		reviewed_at TIMESTAMP NOT NULL,
		resulting_state TEXT NOT NULL,
		degraded INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_card ON review_log(card_id, reviewed_at);

	CREATE TABLE IF NOT EXISTS card_relations (
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		weight REAL NOT NULL,
		PRIMARY KEY (from_id, to_id)
	);

	CREATE INDEX IF NOT EXISTS idx_relations_to ON card_relations(to_id);

	CREATE TABLE IF NOT EXISTS decks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT,
		source_path TEXT,
		source_mtime INTEGER,
		source_size INTEGER,
		card_count INTEGER NOT NULL DEFAULT 0,
		imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// GetState returns the schedule state for cardID, or nil when the card was never reviewed.
func (s *SQLiteStorage) GetState(ctx context.Context, cardID string) (*models.ScheduleState, error) {
	var st models.ScheduleState
	var dueAt int64
	var enhanced int
	err := s.db.QueryRowContext(ctx,
		`SELECT card_id, easiness_factor, repetition_count, interval_days, base_interval_days,
		        due_at, last_grade, enhanced, updated_at, version
		 FROM schedule_states WHERE card_id = ?`, cardID,
	).Scan(&st.CardID, &st.EasinessFactor, &st.RepetitionCount, &st.IntervalDays, &st.BaseIntervalDays,
		&dueAt, &st.LastGrade, &enhanced, &st.UpdatedAt, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.DueDate = time.Unix(dueAt, 0).UTC()
	st.Enhanced = enhanced != 0
	return &st, nil
}

// PutState performs a conditional write of state against expectedVersion.
func (s *SQLiteStorage) PutState(ctx context.Context, state *models.ScheduleState, expectedVersion int64) error {
	next := expectedVersion + 1
	var res sql.Result
	var err error
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO schedule_states (card_id, easiness_factor, repetition_count, interval_days,
			        base_interval_days, due_at, last_grade, enhanced, updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(card_id) DO NOTHING`,
			state.CardID, state.EasinessFactor, state.RepetitionCount, state.IntervalDays,
			state.BaseIntervalDays, state.DueDate.Unix(), state.LastGrade, boolToInt(state.Enhanced),
			state.UpdatedAt.UTC(), next,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE schedule_states SET easiness_factor = ?, repetition_count = ?, interval_days = ?,
			        base_interval_days = ?, due_at = ?, last_grade = ?, enhanced = ?, updated_at = ?, version = ?
			 WHERE card_id = ? AND version = ?`,
			state.EasinessFactor, state.RepetitionCount, state.IntervalDays,
			state.BaseIntervalDays, state.DueDate.Unix(), state.LastGrade, boolToInt(state.Enhanced),
			state.UpdatedAt.UTC(), next, state.CardID, expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("card %s at version %d: %w", state.CardID, expectedVersion, models.ErrConflict)
	}
	state.Version = next
	return nil
}

// AppendReview inserts a review record.
func (s *SQLiteStorage) AppendReview(ctx context.Context, rec *models.ReviewRecord) error {
	stateJSON, err := json.Marshal(rec.ResultingState)
	if err != nil {
		return fmt.Errorf("failed to marshal resulting state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_log (id, card_id, grade, reviewed_at, resulting_state, degraded)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CardID, rec.Grade, rec.Timestamp.UTC(), string(stateJSON), boolToInt(rec.Degraded),
	)
	return err
}

// ListReviews returns up to limit reviews of cardID, newest first.
func (s *SQLiteStorage) ListReviews(ctx context.Context, cardID string, limit int) ([]*models.ReviewRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, card_id, grade, reviewed_at, resulting_state, degraded
		 FROM review_log WHERE card_id = ? ORDER BY reviewed_at DESC, rowid DESC LIMIT ?`,
		cardID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ReviewRecord
	for rows.Next() {
		var rec models.ReviewRecord
		var stateJSON string
		var degraded int
		if err := rows.Scan(&rec.ID, &rec.CardID, &rec.Grade, &rec.Timestamp, &stateJSON, &degraded); err != nil {
			return nil, err
		}
		rec.Degraded = degraded != 0
		if err := json.Unmarshal([]byte(stateJSON), &rec.ResultingState); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resulting state: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CountReviews returns the total number of reviews.
func (s *SQLiteStorage) CountReviews(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_log`).Scan(&count)
	return count, err
}

// PutCard inserts or replaces a card. CreatedAt is set when zero.
func (s *SQLiteStorage) PutCard(ctx context.Context, card *models.Card) error {
	tagsJSON, err := json.Marshal(card.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cards (id, user_id, deck_id, front, back, tags, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, deck_id = excluded.deck_id,
		        front = excluded.front, back = excluded.back, tags = excluded.tags,
		        fingerprint = excluded.fingerprint`,
		card.ID, card.UserID, card.DeckID, card.Front, card.Back, string(tagsJSON), card.Fingerprint, card.CreatedAt.UTC(),
	)
	return err
}

const cardColumns = `c.id, c.user_id, c.deck_id, c.front, c.back, c.tags, c.fingerprint, c.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner, extra ...any) (*models.Card, error) {
	var card models.Card
	var deckID, back, tagsJSON sql.NullString
	dest := append([]any{&card.ID, &card.UserID, &deckID, &card.Front, &back, &tagsJSON, &card.Fingerprint, &card.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	card.DeckID = deckID.String
	card.Back = back.String
	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &card.Tags)
	}
	return &card, nil
}

// GetCard returns a card by ID.
func (s *SQLiteStorage) GetCard(ctx context.Context, id string) (*models.Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.id = ?`, id)
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", id, models.ErrNotFound)
	}
	return card, err
}

// GetCards returns the cards with the given IDs keyed by ID; unknown IDs are omitted.
func (s *SQLiteStorage) GetCards(ctx context.Context, ids []string) (map[string]*models.Card, error) {
	out := make(map[string]*models.Card, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out[card.ID] = card
	}
	return out, rows.Err()
}

// DeleteCard removes a card and its relations. Schedule state and reviews are kept as history.
func (s *SQLiteStorage) DeleteCard(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM card_relations WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDeckCards returns the cards of a deck ordered by ID.
func (s *SQLiteStorage) ListDeckCards(ctx context.Context, deckID string) ([]*models.Card, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.deck_id = ? ORDER BY c.id`, deckID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, rows.Err()
}

// DueCards returns the user's cards due at now.
func (s *SQLiteStorage) DueCards(ctx context.Context, userID string, now time.Time, limit int) ([]*models.DueCard, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardColumns+`,
		        s.card_id, s.easiness_factor, s.repetition_count, s.interval_days, s.base_interval_days,
		        s.due_at, s.last_grade, s.enhanced, s.updated_at, s.version
		 FROM cards c LEFT JOIN schedule_states s ON s.card_id = c.id
		 WHERE c.user_id = ? AND (s.card_id IS NULL OR s.due_at <= ?)
		 ORDER BY CASE WHEN s.card_id IS NULL THEN 1 ELSE 0 END, s.due_at, c.created_at, c.id
		 LIMIT ?`,
		userID, now.Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DueCard
	for rows.Next() {
		var (
			stateID                        sql.NullString
			ef                             sql.NullFloat64
			reps, ivl, baseIvl, due, grade sql.NullInt64
			enhanced, version              sql.NullInt64
			updatedAt                      sql.NullTime
		)
		card, err := scanCard(rows, &stateID, &ef, &reps, &ivl, &baseIvl, &due, &grade, &enhanced, &updatedAt, &version)
		if err != nil {
			return nil, err
		}
		dc := &models.DueCard{Card: card}
		if stateID.Valid {
			dc.State = &models.ScheduleState{
				CardID:           stateID.String,
				EasinessFactor:   ef.Float64,
				RepetitionCount:  int(reps.Int64),
				IntervalDays:     int(ivl.Int64),
				BaseIntervalDays: int(baseIvl.Int64),
				DueDate:          time.Unix(due.Int64, 0).UTC(),
				LastGrade:        int(grade.Int64),
				Enhanced:         enhanced.Int64 != 0,
				UpdatedAt:        updatedAt.Time,
				Version:          version.Int64,
			}
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// LinkCards inserts or updates a relation edge.
func (s *SQLiteStorage) LinkCards(ctx context.Context, rel models.Relation) error {
	if rel.FromID == "" || rel.ToID == "" || rel.FromID == rel.ToID {
		return models.NewValidationError("relation", "needs two distinct card ids")
	}
	if rel.Weight <= 0 {
		rel.Weight = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO card_relations (from_id, to_id, weight) VALUES (?, ?, ?)
		 ON CONFLICT(from_id, to_id) DO UPDATE SET weight = excluded.weight`,
		rel.FromID, rel.ToID, rel.Weight,
	)
	return err
}

// Relations returns the edges touching cardID, oriented away from it.
func (s *SQLiteStorage) Relations(ctx context.Context, cardID string) ([]models.Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT to_id, weight FROM card_relations WHERE from_id = ?
		 UNION ALL
		 SELECT from_id, weight FROM card_relations WHERE to_id = ?
		 ORDER BY 1`,
		cardID, cardID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Relation
	for rows.Next() {
		rel := models.Relation{FromID: cardID}
		if err := rows.Scan(&rel.ToID, &rel.Weight); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// CountCards returns the total number of cards.
func (s *SQLiteStorage) CountCards(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&count)
	return count, err
}

// PutDeck inserts or replaces a deck.
func (s *SQLiteStorage) PutDeck(ctx context.Context, deck *models.Deck) error {
	if deck.ImportedAt.IsZero() {
		deck.ImportedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decks (id, user_id, name, source_path, source_mtime, source_size, card_count, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, name = excluded.name,
		        source_path = excluded.source_path, source_mtime = excluded.source_mtime,
		        source_size = excluded.source_size, card_count = excluded.card_count,
		        imported_at = excluded.imported_at`,
		deck.ID, deck.UserID, deck.Name, deck.SourcePath, deck.SourceMtime, deck.SourceSize, deck.CardCount, deck.ImportedAt.UTC(),
	)
	return err
}

// GetDeck returns a deck by ID.
func (s *SQLiteStorage) GetDeck(ctx context.Context, id string) (*models.Deck, error) {
	var d models.Deck
	var name, path sql.NullString
	var mtime, size sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, source_path, source_mtime, source_size, card_count, imported_at
		 FROM decks WHERE id = ?`, id,
	).Scan(&d.ID, &d.UserID, &name, &path, &mtime, &size, &d.CardCount, &d.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deck %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	d.Name = name.String
	d.SourcePath = path.String
	d.SourceMtime = mtime.Int64
	d.SourceSize = size.Int64
	return &d, nil
}

// DeleteDeck removes a deck row. Its cards are removed by the caller.
func (s *SQLiteStorage) DeleteDeck(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM decks WHERE id = ?`, id)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
