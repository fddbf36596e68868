// Package cli formats kioku results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseFormat returns the format named s. Anything other than "json" is text.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(s, string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n", response.Total, response.QueryTime)
	if response.Degraded {
		fmt.Fprintf(w, "(vector search skipped: %s)\n", response.DegradedReason)
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "[%s] Rank: %d | Score: %.4f (Lexical: %.4f, Vector: %.4f, Recency: %.4f)\n",
			result.Source, result.Rank, result.BlendedScore, result.LexicalScore, result.VectorScore, result.RecencyScore)
		fmt.Fprintf(w, "ID: %s\n", result.ID)
		if result.Card != nil {
			writeCard(w, result.Card)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteSchedule writes a card's schedule state.
func WriteSchedule(w io.Writer, state *models.ScheduleState, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, state)
	}
	if state == nil {
		fmt.Fprintln(w, "Not reviewed yet.")
		return nil
	}
	fmt.Fprintf(w, "Card:        %s\n", state.CardID)
	fmt.Fprintf(w, "Next review: %s (in %d days)\n", state.DueDate.Format(time.DateOnly), state.IntervalDays)
	if state.Enhanced && state.IntervalDays != state.BaseIntervalDays {
		fmt.Fprintf(w, "SM-2 interval: %d days, adjusted by the knowledge graph\n", state.BaseIntervalDays)
	}
	fmt.Fprintf(w, "Easiness:    %.2f\n", state.EasinessFactor)
	fmt.Fprintf(w, "Repetitions: %d\n", state.RepetitionCount)
	return nil
}

// WritePreview writes the outcome of each grade, one per line.
func WritePreview(w io.Writer, states []*models.ScheduleState, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, states)
	}
	fmt.Fprintln(w, "Grade  Interval  Easiness  Due")
	for grade, st := range states {
		fmt.Fprintf(w, "%-5d  %-8s  %-8.2f  %s\n",
			grade, fmt.Sprintf("%dd", st.IntervalDays), st.EasinessFactor, st.DueDate.Format(time.DateOnly))
	}
	return nil
}

// WriteDueCards writes the due queue.
func WriteDueCards(w io.Writer, due []*models.DueCard, format OutputFormat) error {
	if format == OutputJSON {
		if due == nil {
			due = []*models.DueCard{}
		}
		return WriteJSON(w, due)
	}
	if len(due) == 0 {
		fmt.Fprintln(w, "Nothing due.")
		return nil
	}
	fmt.Fprintf(w, "%d cards due\n\n", len(due))
	for _, d := range due {
		fmt.Fprintln(w, rule)
		status := "new"
		if d.State != nil {
			status = "due " + d.State.DueDate.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "ID: %s (%s)\n", d.Card.ID, status)
		writeCard(w, d.Card)
	}
	return nil
}

func writeCard(w io.Writer, card *models.Card) {
	fmt.Fprintf(w, "Front: %s\n", utils.Truncate(card.Front, 120))
	if card.Back != "" {
		fmt.Fprintf(w, "Back:  %s\n", TruncateWords(card.Back, 30))
	}
	if len(card.Tags) > 0 {
		fmt.Fprintf(w, "Tags:  %s\n", strings.Join(card.Tags, ", "))
	}
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
