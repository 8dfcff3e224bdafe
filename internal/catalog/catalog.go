package catalog

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Item is one entry of the index catalog: code, display name, and the
// optional official full name.
type Item struct {
	Code     string
	Name     string
	FullName string
}

// Source yields the ordered index catalog for a refresh pass. An empty or
// unreadable source is pass-fatal at the caller.
type Source interface {
	ListIndices() ([]Item, error)
}

// ExcelSource reads the catalog from a spreadsheet: first sheet, one header
// row, columns A/B/C as code/name/full name.
type ExcelSource struct {
	path string
}

// NewExcelSource constructs a source for the given spreadsheet path.
func NewExcelSource(path string) *ExcelSource {
	return &ExcelSource{path: path}
}

// ListIndices loads and parses the spreadsheet. Rows with a blank code are
// skipped; a blank name falls back to INDEX-<code>.
func (s *ExcelSource) ListIndices() ([]Item, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open index list %s: %w", s.path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("index list %s has no sheets", s.path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read index list %s: %w", s.path, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	items := make([]Item, 0, len(rows)-1)
	for _, row := range rows[1:] {
		code := columnValue(row, 0)
		if code == "" {
			continue
		}
		name := columnValue(row, 1)
		if name == "" {
			name = "INDEX-" + code
		}
		items = append(items, Item{
			Code:     code,
			Name:     name,
			FullName: columnValue(row, 2),
		})
	}
	return items, nil
}

func columnValue(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

var _ Source = (*ExcelSource)(nil)
