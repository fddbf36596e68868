package models

import (
	"fmt"
	"strings"
)

// Search limits applied by Validate.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// SearchQuery represents a hybrid card search request.
type SearchQuery struct {
	Query  string `json:"query"`
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	// LexicalOnly skips the vector leg entirely; the response is not marked degraded.
	LexicalOnly bool `json:"lexical_only,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty; otherwise normalizes limit.
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrValidation)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}
	return nil
}

// ReviewRequest is the body of a review submission.
type ReviewRequest struct {
	CardID string `json:"card_id"`
	Grade  int    `json:"grade"`
}

// Validate checks the card id and grade range.
func (r *ReviewRequest) Validate() error {
	if strings.TrimSpace(r.CardID) == "" {
		return NewValidationError("card_id", "must not be empty")
	}
	if r.Grade < MinGrade || r.Grade > MaxGrade {
		return NewValidationError("grade", "%d outside [%d, %d]", r.Grade, MinGrade, MaxGrade)
	}
	return nil
}
