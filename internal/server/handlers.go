package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kioku/internal/breaker"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"go.uber.org/zap"
)

type reviewRequest struct {
	CardID string `json:"card_id"`
	Grade  int    `json:"grade"`
	// ReviewedAt defaults to the server clock. Resubmitting the same grade and time is a no-op.
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	now := s.now()
	if req.ReviewedAt != nil {
		now = *req.ReviewedAt
	}
	s.logger.Debug("review request", zap.String("card_id", req.CardID), zap.Int("grade", req.Grade))
	state, err := s.deps.Reviews.ScheduleReview(r.Context(), req.CardID, req.Grade, now)
	if err != nil {
		s.fail(w, "review failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	cardID := r.URL.Query().Get("card_id")
	if cardID == "" {
		s.respondError(w, http.StatusBadRequest, "card_id is required")
		return
	}
	states, err := s.deps.Reviews.Preview(r.Context(), cardID, s.now())
	if err != nil {
		s.fail(w, "preview failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"card_id": cardID, "grades": states})
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit == 0 && s.fullConfig != nil {
		limit = s.fullConfig.Scheduler.DueLimit
	}
	due, err := s.deps.Reviews.DueQueue(r.Context(), userID, s.now(), limit)
	if err != nil {
		s.fail(w, "due queue failed", err)
		return
	}
	if due == nil {
		due = []*models.DueCard{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "cards": due, "total": len(due)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	records, err := s.deps.Reviews.History(r.Context(), id, limit)
	if err != nil {
		s.fail(w, "history failed", err)
		return
	}
	if records == nil {
		records = []*models.ReviewRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"card_id": id, "reviews": records})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.deps.Search.Search(r.Context(), &query)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var input models.CardInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("add card request", zap.String("id", input.ID), zap.String("user_id", input.UserID))
	card, err := s.deps.Importer.AddCard(r.Context(), &input)
	if err != nil {
		s.fail(w, "add card failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, card)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	card, err := s.deps.Storage.GetCard(r.Context(), id)
	if err != nil {
		s.fail(w, "get card failed", err)
		return
	}
	state, err := s.deps.Reviews.State(r.Context(), id)
	if err != nil {
		s.fail(w, "get card state failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.DueCard{Card: card, State: state})
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete card request", zap.String("id", id))
	if err := s.deps.Importer.DeleteCard(r.Context(), id); err != nil {
		s.fail(w, "delete card failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var rel models.Relation
	if err := json.NewDecoder(r.Body).Decode(&rel); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.deps.Reviews.Link(r.Context(), rel); err != nil {
		s.fail(w, "link failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleImportDeck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	var exts []string
	if s.fullConfig != nil {
		exts = s.fullConfig.Watch.Extensions
	}
	res, err := s.deps.Importer.ImportFile(r.Context(), body.Path, exts)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.respondError(w, http.StatusNotFound, "deck file not found")
			return
		}
		s.logger.Error("deck import failed", zap.String("path", body.Path), zap.Error(err))
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	removed := s.deps.Reviews.InvalidateCache(fp)
	if s.deps.Search != nil && s.deps.Search.InvalidateCache(fp) {
		removed = true
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"fingerprint": fp, "removed": removed})
}

type enhancementRequest struct {
	// Name selects one gate; empty applies to every gate.
	Name    string `json:"name,omitempty"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleEnhancement(w http.ResponseWriter, r *http.Request) {
	var req enhancementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var statuses []breaker.GateStatus
	for _, g := range s.deps.Gates {
		if req.Name != "" && g.Name() != req.Name {
			continue
		}
		g.SetEnabled(req.Enabled)
		statuses = append(statuses, g.Status())
	}
	if len(statuses) == 0 {
		s.respondError(w, http.StatusNotFound, "unknown gate")
		return
	}
	s.logger.Info("enhancement toggled", zap.String("name", req.Name), zap.Bool("enabled", req.Enabled))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"gates": statuses})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardCount, err := s.deps.Storage.CountCards(ctx)
	if err != nil {
		s.logger.Error("status: count cards failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	reviewCount, err := s.deps.Storage.CountReviews(ctx)
	if err != nil {
		s.logger.Error("status: count reviews failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	vectorSize := 0
	if s.deps.VectorSize != nil {
		vectorSize = s.deps.VectorSize()
	}
	gates := make([]breaker.GateStatus, 0, len(s.deps.Gates))
	for _, g := range s.deps.Gates {
		gates = append(gates, g.Status())
	}
	caches := make([]cache.Stats, 0, len(s.deps.Caches))
	for _, c := range s.deps.Caches {
		if st, ok := c.CacheStats(); ok {
			caches = append(caches, st)
		}
	}
	resp := map[string]interface{}{
		"cards":             cardCount,
		"reviews":           reviewCount,
		"vector_index_size": vectorSize,
		"gates":             gates,
		"caches":            caches,
	}
	if s.watch != nil {
		resp["watch"] = s.watch.Stats()
	}

	if s.fullConfig != nil {
		resp["config"] = map[string]interface{}{
			"embedding_dimensions": s.fullConfig.Embedding.Dimensions,
			"gnn_weight":           s.fullConfig.Enhancement.WeightOrDefault(),
			"mastery_baseline":     s.fullConfig.Enhancement.BaselineOrDefault(),
			"graph_deadline":       s.fullConfig.Enhancement.GraphDeadline.String(),
			"search_deadline":      s.fullConfig.Search.Deadline.String(),
			"database_path":        s.fullConfig.Storage.DatabasePath,
			"bleve_index_path":     s.fullConfig.Storage.BleveIndexPath,
			"vector_index_path":    s.fullConfig.Storage.VectorIndexPath,
		}
		diskBytes, err := storage.DiskUsageBytes(
			s.fullConfig.Storage.DatabasePath,
			s.fullConfig.Storage.BleveIndexPath,
			s.fullConfig.Storage.VectorIndexPath,
		)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	dirs := s.watch.Directories()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": dirs})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.fullConfig == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.fullConfig.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.fullConfig); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// fail maps err onto an HTTP status. Validation and lookup failures are the caller's fault and
// are not logged as errors.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrRetriesExhausted), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
