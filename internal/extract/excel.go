package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel reads every sheet: column A is the front, B the back, C the tags. A first row
// whose column A reads "front" is treated as a header.
func extractExcel(content []byte) (*Deck, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	deck := &Deck{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		for i, row := range rows {
			if len(row) == 0 {
				continue
			}
			if i == 0 && strings.EqualFold(strings.TrimSpace(row[0]), "front") {
				continue
			}
			en := Entry{Front: row[0]}
			if len(row) > 1 {
				en.Back = row[1]
			}
			if len(row) > 2 {
				en.Tags = splitTags(row[2])
			}
			deck.Entries = append(deck.Entries, en)
		}
	}
	return deck, nil
}
