package sheet

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const valueInputRaw = "RAW"

// GoogleBook is a Google Sheets spreadsheet; each table is one sheet (tab).
type GoogleBook struct {
	srv           *sheets.Service
	spreadsheetID string
}

// NewGoogleBook authenticates with a service account key.
func NewGoogleBook(ctx context.Context, spreadsheetID, email, privateKey string) (*GoogleBook, error) {
	conf := &jwt.Config{
		Email:      email,
		PrivateKey: []byte(privateKey),
		Scopes:     []string{sheets.SpreadsheetsScope},
		TokenURL:   google.JWTTokenURL,
	}
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &GoogleBook{srv: srv, spreadsheetID: spreadsheetID}, nil
}

func (b *GoogleBook) Table(name string) Table {
	return &googleTable{book: b, name: name}
}

func (b *GoogleBook) Ensure(ctx context.Context, schemas ...Schema) error {
	ss, err := b.srv.Spreadsheets.Get(b.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	existing := make(map[string]bool, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			existing[s.Properties.Title] = true
		}
	}

	var reqs []*sheets.Request
	for _, s := range schemas {
		if existing[s.Name] {
			continue
		}
		reqs = append(reqs, &sheets.Request{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: s.Name}},
		})
	}
	if len(reqs) > 0 {
		_, err := b.srv.Spreadsheets.BatchUpdate(b.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: reqs}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("add sheets: %w", err)
		}
	}

	for _, s := range schemas {
		vr := &sheets.ValueRange{Values: [][]interface{}{toValues(s.Header)}}
		_, err := b.srv.Spreadsheets.Values.Update(b.spreadsheetID, a1(s.Name, "A1"), vr).
			ValueInputOption(valueInputRaw).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("write header %s: %w", s.Name, err)
		}
	}
	return nil
}

type googleTable struct {
	book *GoogleBook
	name string
}

func (t *googleTable) Name() string { return t.name }

func (t *googleTable) values() *sheets.SpreadsheetsValuesService {
	return t.book.srv.Spreadsheets.Values
}

func (t *googleTable) Rows(ctx context.Context) ([]Row, error) {
	resp, err := t.values().Get(t.book.spreadsheetID, quote(t.name)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.name, err)
	}
	var out []Row
	for i, raw := range resp.Values {
		if i+1 <= HeaderRow {
			continue
		}
		cells := make([]string, len(raw))
		for j, v := range raw {
			cells[j] = fmt.Sprint(v)
		}
		out = append(out, Row{Num: i + 1, Cells: cells})
	}
	return out, nil
}

func (t *googleTable) Append(ctx context.Context, rows ...[]string) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := t.values().Append(t.book.spreadsheetID, quote(t.name), &sheets.ValueRange{Values: toGrid(rows)}).
		ValueInputOption(valueInputRaw).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append %s: %w", t.name, err)
	}
	return nil
}

func (t *googleTable) UpdateCell(ctx context.Context, rowNum, col int, value string) error {
	if rowNum <= HeaderRow {
		return fmt.Errorf("sheet %s row %d: %w", t.name, rowNum, ErrNoSuchRow)
	}
	cell := fmt.Sprintf("%s%d", ColumnName(col), rowNum)
	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := t.values().Update(t.book.spreadsheetID, a1(t.name, cell), vr).
		ValueInputOption(valueInputRaw).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s!%s: %w", t.name, cell, err)
	}
	return nil
}

func (t *googleTable) UpdateRow(ctx context.Context, rowNum int, cells []string) error {
	if rowNum <= HeaderRow {
		return fmt.Errorf("sheet %s row %d: %w", t.name, rowNum, ErrNoSuchRow)
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{toValues(cells)}}
	_, err := t.values().Update(t.book.spreadsheetID, a1(t.name, fmt.Sprintf("A%d", rowNum)), vr).
		ValueInputOption(valueInputRaw).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s row %d: %w", t.name, rowNum, err)
	}
	return nil
}

func (t *googleTable) Replace(ctx context.Context, rows [][]string) error {
	_, err := t.values().Clear(t.book.spreadsheetID, a1(t.name, "A2:ZZ"), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear %s: %w", t.name, err)
	}
	if len(rows) == 0 {
		return nil
	}
	_, err = t.values().Update(t.book.spreadsheetID, a1(t.name, "A2"), &sheets.ValueRange{Values: toGrid(rows)}).
		ValueInputOption(valueInputRaw).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write %s: %w", t.name, err)
	}
	return nil
}

// ColumnName converts a 0-based column index to A1 letters (0 -> A, 26 -> AA).
func ColumnName(col int) string {
	name := ""
	for col >= 0 {
		name = string(rune('A'+col%26)) + name
		col = col/26 - 1
	}
	return name
}

func quote(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func a1(title, ref string) string {
	return quote(title) + "!" + ref
}

func toValues(cells []string) []interface{} {
	out := make([]interface{}, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}

func toGrid(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		out[i] = toValues(r)
	}
	return out
}
