// Package extract parses deck files of various formats into card entries.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one card parsed from a deck file.
type Entry struct {
	Front string   `yaml:"front"`
	Back  string   `yaml:"back"`
	Tags  []string `yaml:"tags"`
}

// Deck is the parsed content of a deck file. Name is empty when the format has no title.
type Deck struct {
	Name    string   `yaml:"name"`
	Tags    []string `yaml:"tags"`
	Entries []Entry  `yaml:"cards"`
}

// Extractor parses deck files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the deck file at path and returns its entries.
// YAML decks carry explicit fields. Text, TSV and Markdown lists hold one card per line with
// the front and back split by a tab, " = " or " - ". Excel sheets hold the front in column A,
// the back in B and comma-separated tags in C. PDF word lists are read as text lists.
func (e *Extractor) Extract(path string) (*Deck, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.ExtractBytes(content, ext)
}

// ExtractBytes parses content based on the given extension.
// ext should include the leading dot (e.g. ".yaml").
func (e *Extractor) ExtractBytes(content []byte, ext string) (*Deck, error) {
	var (
		deck *Deck
		err  error
	)
	switch ext {
	case ".yaml", ".yml":
		deck, err = extractYAML(content)
	case ".xlsx":
		deck, err = extractExcel(content)
	case ".pdf":
		deck, err = extractPDF(content)
	case ".txt", ".tsv", ".md", "":
		deck, err = extractPlain(content)
	default:
		return nil, fmt.Errorf("unsupported deck format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	deck.Entries = clean(deck.Entries, deck.Tags)
	return deck, nil
}

// clean trims entries, drops those without a front and merges the deck tags into each entry.
func clean(entries []Entry, deckTags []string) []Entry {
	out := entries[:0]
	for _, en := range entries {
		en.Front = strings.TrimSpace(en.Front)
		en.Back = strings.TrimSpace(en.Back)
		if en.Front == "" {
			continue
		}
		en.Tags = mergeTags(deckTags, en.Tags)
		out = append(out, en)
	}
	return out
}

func mergeTags(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string{}, a...), b...) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// splitTags splits a comma- or space-separated tag list.
func splitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
}
