// Package fileid derives stable deck and card ids from deck file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const (
	deckPrefix = "deck:"
	// hashLen is the number of hex characters kept from each hash.
	hashLen = 16
)

// DeckID returns a stable deck id for the given absolute path.
// Same path always yields the same id, so re-importing a file updates the same deck.
func DeckID(absolutePath string) string {
	return deckPrefix + shortHash(filepath.Clean(absolutePath))
}

// CardID returns a stable card id for the card with the given front in deckID. The front is
// compared case- and space-insensitively, so fixing the back of a card keeps its id and its
// review history.
func CardID(deckID, front string) string {
	key := strings.ToLower(strings.Join(strings.Fields(front), " "))
	return strings.TrimPrefix(deckID, deckPrefix) + "-" + shortHash(key)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}
