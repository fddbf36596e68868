package models

// ResultSource identifies which retrieval leg produced a search result.
type ResultSource string

const (
	SourceLexical ResultSource = "lexical"
	SourceVector  ResultSource = "vector"
	SourceBoth    ResultSource = "both"
)

// SearchResult is a single merged search hit.
type SearchResult struct {
	ID           string       `json:"id"`
	Card         *Card        `json:"card,omitempty"`
	LexicalScore float64      `json:"lexical_score"`
	VectorScore  float64      `json:"vector_score"`
	RecencyScore float64      `json:"recency_score"`
	BlendedScore float64      `json:"blended_score"`
	Source       ResultSource `json:"source"`
	Rank         int          `json:"rank"`
}

// SearchResponse is the response for a search request.
// Degraded is true when the vector leg was requested but did not contribute.
type SearchResponse struct {
	Results        []*SearchResult `json:"results"`
	Total          int             `json:"total"`
	Degraded       bool            `json:"degraded"`
	DegradedReason string          `json:"degraded_reason,omitempty"`
	QueryTime      int64           `json:"query_time_ms"`
	Query          string          `json:"query"`
}
