package extract

import (
	"strings"
	"unicode/utf8"
)

// separators split a list line into front and back, tried in order.
var separators = []string{"\t", " = ", " - ", " : "}

// extractPlain parses one card per line. Blank lines, Markdown headings and "//" comments are
// skipped; list markers are stripped. Invalid UTF-8 sequences are replaced with the
// replacement character.
func extractPlain(content []byte) (*Deck, error) {
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\ufffd")
	}
	deck := &Deck{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		switch {
		case line == "", strings.HasPrefix(line, "//"):
			continue
		case strings.HasPrefix(line, "#"):
			if deck.Name == "" && strings.HasPrefix(line, "# ") {
				deck.Name = strings.TrimSpace(line[2:])
			}
			continue
		}
		deck.Entries = append(deck.Entries, parseLine(line))
	}
	return deck, nil
}

// parseLine splits a list line into an entry. A tab-separated line may carry tags in a third
// column. A line without any separator is a front-only card.
func parseLine(line string) Entry {
	for _, marker := range []string{"- ", "* ", "+ "} {
		if strings.HasPrefix(line, marker) {
			line = strings.TrimSpace(line[len(marker):])
			break
		}
	}
	if strings.Contains(line, "\t") {
		cols := strings.Split(line, "\t")
		en := Entry{Front: cols[0]}
		if len(cols) > 1 {
			en.Back = cols[1]
		}
		if len(cols) > 2 {
			en.Tags = splitTags(cols[2])
		}
		return en
	}
	for _, sep := range separators[1:] {
		if front, back, ok := strings.Cut(line, sep); ok {
			return Entry{Front: front, Back: back}
		}
	}
	return Entry{Front: line}
}
