package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns a stable hex sha256 over parts, NUL-separated so that
// ("ab", "c") and ("a", "bc") differ.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText lowercases s and collapses runs of whitespace, so that trivially different
// spellings of the same text share a fingerprint.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// TextFingerprint is the fingerprint of normalized text.
func TextFingerprint(text string) string {
	return Fingerprint(NormalizeText(text))
}
