package fileid

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDeckID(t *testing.T) {
	id1 := DeckID("/decks/french.yaml")
	id2 := DeckID("/decks/french.yaml")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, deckPrefix) {
		t.Errorf("ID should have prefix %q: got %q", deckPrefix, id1)
	}
	if len(id1) != len(deckPrefix)+hashLen {
		t.Errorf("unexpected ID length: %q", id1)
	}
}

func TestDeckID_differentPaths(t *testing.T) {
	if DeckID("/decks/french.yaml") == DeckID("/decks/german.yaml") {
		t.Error("different paths should give different IDs")
	}
}

func TestDeckID_cleanPath(t *testing.T) {
	p := filepath.Join("/decks", "sub", "..", "french.yaml")
	if DeckID(p) != DeckID("/decks/french.yaml") {
		t.Error("path should be cleaned before hashing")
	}
}

func TestCardID(t *testing.T) {
	deck := DeckID("/decks/french.yaml")
	tests := []struct {
		name  string
		a, b  string
		equal bool
	}{
		{"same front", "bonjour", "bonjour", true},
		{"case insensitive", "Bonjour", "bonjour", true},
		{"whitespace insensitive", "  au   revoir ", "au revoir", true},
		{"different front", "bonjour", "merci", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CardID(deck, tt.a) == CardID(deck, tt.b)
			if got != tt.equal {
				t.Errorf("CardID(%q) == CardID(%q) is %v, want %v", tt.a, tt.b, got, tt.equal)
			}
		})
	}
	if CardID(deck, "bonjour") == CardID(DeckID("/decks/other.yaml"), "bonjour") {
		t.Error("same front in different decks should give different IDs")
	}
	if strings.Contains(CardID(deck, "x"), ":") {
		t.Error("card IDs should not carry the deck prefix")
	}
}
