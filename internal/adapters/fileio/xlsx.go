package fileio

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

const defaultSheet = "Questions"

// ReadXLSX parses the first sheet of a workbook. The first row holds field names and
// every following row is one question. Cells that decode as JSON keep the decoded
// value, other cells stay text, and empty cells are left out. Whitespace-only cells are
// kept as text so they read as empty values rather than missing fields. Rows without
// any visible content are skipped.
func ReadXLSX(r io.Reader) ([]domain.Question, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", domain.ErrInvalidInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	var qs []domain.Question
	for _, row := range rows[1:] {
		q := domain.Question{}
		visible := false
		for i, cell := range row {
			if i >= len(header) || header[i] == "" || cell == "" {
				continue
			}
			if strings.TrimSpace(cell) != "" {
				visible = true
			}
			q[header[i]] = cellValue(cell)
		}
		if visible {
			qs = append(qs, q)
		}
	}
	return qs, nil
}

func cellValue(cell string) any {
	if v, err := domain.DecodeValue([]byte(cell)); err == nil {
		return v
	}
	return cell
}

// WriteXLSX writes qs as a single sheet: one header row with the sorted union of all
// field names, then one row per question. Non-string values are written as JSON.
func WriteXLSX(w io.Writer, qs []domain.Question) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), defaultSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	columns := columnNames(qs)
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(defaultSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, q := range qs {
		row := make([]any, len(columns))
		for j, c := range columns {
			v, ok := q[c]
			if !ok {
				row[j] = nil
				continue
			}
			text, err := cellText(v)
			if err != nil {
				return fmt.Errorf("encode %s of %q: %w", c, q.Name(), err)
			}
			row[j] = text
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(defaultSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func columnNames(qs []domain.Question) []string {
	seen := map[string]bool{}
	var columns []string
	for _, q := range qs {
		for k := range q {
			if k == domain.FieldID || seen[k] {
				continue
			}
			seen[k] = true
			columns = append(columns, k)
		}
	}
	sort.Strings(columns)
	return columns
}

// cellText renders a value so that cellValue reads it back unchanged. Strings that
// would decode as JSON are quoted.
func cellText(v any) (string, error) {
	if s, ok := v.(string); ok {
		if _, err := domain.DecodeValue([]byte(s)); err != nil {
			return s, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
