package sheet

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBook keeps tables in process memory. It backs STORE_BACKEND=memory and tests.
type MemoryBook struct {
	mu     sync.Mutex
	tables map[string]*MemoryTable
}

func NewMemoryBook() *MemoryBook {
	return &MemoryBook{tables: make(map[string]*MemoryTable)}
}

func (b *MemoryBook) Table(name string) Table {
	return b.memoryTable(name)
}

func (b *MemoryBook) memoryTable(name string) *MemoryTable {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[name]
	if !ok {
		t = &MemoryTable{name: name, rows: [][]string{nil}}
		b.tables[name] = t
	}
	return t
}

func (b *MemoryBook) Ensure(_ context.Context, schemas ...Schema) error {
	for _, s := range schemas {
		t := b.memoryTable(s.Name)
		t.mu.Lock()
		t.rows[0] = append([]string(nil), s.Header...)
		t.mu.Unlock()
	}
	return nil
}

// MemoryTable holds rows[0] as the header.
type MemoryTable struct {
	name string
	mu   sync.Mutex
	rows [][]string
}

func (t *MemoryTable) Name() string { return t.name }

// Header returns a copy of the header row.
func (t *MemoryTable) Header() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.rows[0]...)
}

func (t *MemoryTable) Rows(_ context.Context) ([]Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, 0, len(t.rows)-1)
	for i := 1; i < len(t.rows); i++ {
		out = append(out, Row{Num: i + 1, Cells: append([]string(nil), t.rows[i]...)})
	}
	return out, nil
}

func (t *MemoryTable) Append(_ context.Context, rows ...[]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		t.rows = append(t.rows, append([]string(nil), r...))
	}
	return nil
}

func (t *MemoryTable) UpdateCell(_ context.Context, rowNum, col int, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, err := t.index(rowNum)
	if err != nil {
		return err
	}
	if col < 0 {
		return fmt.Errorf("sheet %s: negative column %d", t.name, col)
	}
	t.rows[i] = padRow(t.rows[i], col+1)
	t.rows[i][col] = value
	return nil
}

func (t *MemoryTable) UpdateRow(_ context.Context, rowNum int, cells []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, err := t.index(rowNum)
	if err != nil {
		return err
	}
	t.rows[i] = append([]string(nil), cells...)
	return nil
}

func (t *MemoryTable) Replace(_ context.Context, rows [][]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([][]string, 1, len(rows)+1)
	next[0] = t.rows[0]
	for _, r := range rows {
		next = append(next, append([]string(nil), r...))
	}
	t.rows = next
	return nil
}

func (t *MemoryTable) index(rowNum int) (int, error) {
	i := rowNum - 1
	if rowNum <= HeaderRow || i >= len(t.rows) {
		return 0, fmt.Errorf("sheet %s row %d: %w", t.name, rowNum, ErrNoSuchRow)
	}
	return i, nil
}
