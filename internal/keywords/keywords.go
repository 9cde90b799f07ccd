// Package keywords reads search strings from CSV exports such as the Primo
// Analytics "popular searches" report.
package keywords

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultColumn is the header of the search string column in Primo
// Analytics exports.
const DefaultColumn = "Search String"

var ErrNoColumn = errors.New("column not found")

// LoadCSV returns the trimmed, non-empty values of column in file order with
// duplicates removed. The first row is the header; column matching ignores
// case and surrounding space. UTF-8 and UTF-16 input with a byte order mark
// is decoded, input without one is read as UTF-8. A positive limit caps the
// number of values returned.
func LoadCSV(r io.Reader, column string, limit int) ([]string, error) {
	if column == "" {
		column = DefaultColumn
	}

	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %q (empty file)", ErrNoColumn, column)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(column)) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, column)
	}

	seen := make(map[string]struct{})
	var out []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx >= len(record) {
			continue
		}
		v := strings.TrimSpace(record[idx])
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LoadFile opens path and calls LoadCSV.
func LoadFile(path, column string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f, column, limit)
}
