// Package sheet models the external tabular store: named tables of string
// cells where row 1 is a header and data starts at row 2.
package sheet

import (
	"context"
	"errors"
)

// HeaderRow is the 1-based number of the header row of every table.
const HeaderRow = 1

var ErrNoSuchRow = errors.New("sheet: no such row")

// Row is one data row. Num is the 1-based row number inside the table,
// so the first data row has Num == 2.
type Row struct {
	Num   int
	Cells []string
}

// Cell returns the i-th cell or "" when the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i]
}

// Table is a single named table.
type Table interface {
	Name() string
	// Rows returns all data rows in table order, header excluded.
	Rows(ctx context.Context) ([]Row, error)
	Append(ctx context.Context, rows ...[]string) error
	// UpdateCell sets one cell; col is 0-based.
	UpdateCell(ctx context.Context, rowNum, col int, value string) error
	UpdateRow(ctx context.Context, rowNum int, cells []string) error
	// Replace clears all data rows (the header stays) and writes rows in one call.
	Replace(ctx context.Context, rows [][]string) error
}

// Schema describes a table to create.
type Schema struct {
	Name   string
	Header []string
}

// Book is a set of tables, e.g. one spreadsheet.
type Book interface {
	Table(name string) Table
	// Ensure creates missing tables and writes their header rows.
	Ensure(ctx context.Context, schemas ...Schema) error
}

func padRow(cells []string, width int) []string {
	if len(cells) >= width {
		return cells
	}
	out := make([]string, width)
	copy(out, cells)
	return out
}
