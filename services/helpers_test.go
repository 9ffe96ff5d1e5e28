package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ice-telegram/models"
	"ice-telegram/sheet"
)

var errBoom = errors.New("quota exceeded")

var testZone = FixedZone(DefaultUTCOffset)

func localTime(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, testZone)
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock { return &testClock{now: now} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.In(testZone)
}

func (c *testClock) Location() *time.Location { return testZone }

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// flakyTable fails selected calls.
type flakyTable struct {
	sheet.Table
	mu          sync.Mutex
	failRead    error
	failAppend  error
	failUpdate  error
	failReplace error
}

func (f *flakyTable) set(fn func(*flakyTable)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *flakyTable) Rows(ctx context.Context) ([]sheet.Row, error) {
	f.mu.Lock()
	err := f.failRead
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Table.Rows(ctx)
}

func (f *flakyTable) Append(ctx context.Context, rows ...[]string) error {
	f.mu.Lock()
	err := f.failAppend
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Table.Append(ctx, rows...)
}

func (f *flakyTable) UpdateCell(ctx context.Context, rowNum, col int, value string) error {
	f.mu.Lock()
	err := f.failUpdate
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Table.UpdateCell(ctx, rowNum, col, value)
}

func (f *flakyTable) Replace(ctx context.Context, rows [][]string) error {
	f.mu.Lock()
	err := f.failReplace
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Table.Replace(ctx, rows)
}

type testEnv struct {
	book    *sheet.MemoryBook
	archive *flakyTable
	live    *flakyTable
	venues  *VenueDirectory
	store   *OrderStore
	clock   *testClock
}

func newTestEnv(t *testing.T, opts ...OrderStoreOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	book := sheet.NewMemoryBook()
	require.NoError(t, book.Ensure(ctx,
		sheet.Schema{Name: "venues", Header: VenueHeader},
		sheet.Schema{Name: "archive", Header: ArchiveHeader},
		sheet.Schema{Name: "live", Header: LiveHeader},
	))
	env := &testEnv{
		book:    book,
		archive: &flakyTable{Table: book.Table("archive")},
		live:    &flakyTable{Table: book.Table("live")},
		venues:  NewVenueDirectory(book.Table("venues")),
		clock:   newTestClock(localTime(2024, time.March, 18, 10, 0)),
	}
	n := 0
	ids := WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("order-%d", n)
	})
	env.store = NewOrderStore(env.archive, env.live, env.venues, env.clock, append([]OrderStoreOption{ids}, opts...)...)
	return env
}

func (e *testEnv) addVenue(t *testing.T, id, name, address string, price int64) {
	t.Helper()
	require.NoError(t, e.venues.Create(context.Background(), models.Venue{
		ID: id, Name: name, Address: address, UnitPrice: decimal.NewFromInt(price),
	}))
}

func (e *testEnv) order(t *testing.T, userID int64, venueID string, amount int, date models.Date) *models.Order {
	t.Helper()
	o, err := e.store.AddOrder(context.Background(), models.NewOrder{
		UserID: userID, VenueID: venueID, Address: "addr-" + venueID, Amount: amount,
		DeliveryDate: date, CreatedAt: e.clock.Now(),
	})
	require.NoError(t, err)
	return o
}

func (e *testEnv) rows(t *testing.T, tbl sheet.Table) []sheet.Row {
	t.Helper()
	rows, err := tbl.Rows(context.Background())
	require.NoError(t, err)
	return rows
}

func date(y int, m time.Month, d int) models.Date {
	return models.Date{Year: y, Month: m, Day: d}
}
