package sheet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBook emulates a spreadsheet in the sheet_rows table
// (see migrations/001_sheet_rows.sql). Appends and bulk replaces take a
// per-sheet advisory lock so concurrent appends get distinct row numbers.
type PostgresBook struct {
	pool *pgxpool.Pool
}

func NewPostgresBook(pool *pgxpool.Pool) *PostgresBook {
	return &PostgresBook{pool: pool}
}

func (b *PostgresBook) Table(name string) Table {
	return &pgTable{pool: b.pool, name: name}
}

func (b *PostgresBook) Ensure(ctx context.Context, schemas ...Schema) error {
	for _, s := range schemas {
		_, err := b.pool.Exec(ctx, `
			INSERT INTO sheet_rows (sheet, row_num, cells, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (sheet, row_num) DO UPDATE SET cells = EXCLUDED.cells, updated_at = now()`,
			s.Name, HeaderRow, s.Header,
		)
		if err != nil {
			return fmt.Errorf("write header %s: %w", s.Name, err)
		}
	}
	return nil
}

type pgTable struct {
	pool *pgxpool.Pool
	name string
}

func (t *pgTable) Name() string { return t.name }

func (t *pgTable) Rows(ctx context.Context) ([]Row, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT row_num, cells FROM sheet_rows
		WHERE sheet = $1 AND row_num > $2
		ORDER BY row_num`,
		t.name, HeaderRow,
	)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.name, err)
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Num, &r.Cells); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func lockSheet(ctx context.Context, tx pgx.Tx, name string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name)
	return err
}

func insertRows(ctx context.Context, tx pgx.Tx, name string, first int, rows [][]string) error {
	batch := &pgx.Batch{}
	for i, r := range rows {
		batch.Queue(`INSERT INTO sheet_rows (sheet, row_num, cells) VALUES ($1, $2, $3)`, name, first+i, r)
	}
	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func (t *pgTable) Append(ctx context.Context, rows ...[]string) error {
	if len(rows) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		if err := lockSheet(ctx, tx, t.name); err != nil {
			return err
		}
		var last int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(row_num), $2) FROM sheet_rows WHERE sheet = $1`, t.name, HeaderRow).Scan(&last); err != nil {
			return err
		}
		return insertRows(ctx, tx, t.name, last+1, rows)
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", t.name, err)
	}
	return nil
}

func (t *pgTable) UpdateCell(ctx context.Context, rowNum, col int, value string) error {
	if rowNum <= HeaderRow || col < 0 {
		return fmt.Errorf("sheet %s row %d col %d: %w", t.name, rowNum, col, ErrNoSuchRow)
	}
	return pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		var cells []string
		err := tx.QueryRow(ctx, `SELECT cells FROM sheet_rows WHERE sheet = $1 AND row_num = $2 FOR UPDATE`, t.name, rowNum).Scan(&cells)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("sheet %s row %d: %w", t.name, rowNum, ErrNoSuchRow)
		}
		if err != nil {
			return fmt.Errorf("read %s row %d: %w", t.name, rowNum, err)
		}
		cells = padRow(cells, col+1)
		cells[col] = value
		if _, err := tx.Exec(ctx, `UPDATE sheet_rows SET cells = $3, updated_at = now() WHERE sheet = $1 AND row_num = $2`, t.name, rowNum, cells); err != nil {
			return fmt.Errorf("update %s row %d: %w", t.name, rowNum, err)
		}
		return nil
	})
}

func (t *pgTable) UpdateRow(ctx context.Context, rowNum int, cells []string) error {
	if rowNum <= HeaderRow {
		return fmt.Errorf("sheet %s row %d: %w", t.name, rowNum, ErrNoSuchRow)
	}
	tag, err := t.pool.Exec(ctx, `UPDATE sheet_rows SET cells = $3, updated_at = now() WHERE sheet = $1 AND row_num = $2`, t.name, rowNum, cells)
	if err != nil {
		return fmt.Errorf("update %s row %d: %w", t.name, rowNum, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sheet %s row %d: %w", t.name, rowNum, ErrNoSuchRow)
	}
	return nil
}

func (t *pgTable) Replace(ctx context.Context, rows [][]string) error {
	err := pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		if err := lockSheet(ctx, tx, t.name); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sheet_rows WHERE sheet = $1 AND row_num > $2`, t.name, HeaderRow); err != nil {
			return err
		}
		return insertRows(ctx, tx, t.name, HeaderRow+1, rows)
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", t.name, err)
	}
	return nil
}
