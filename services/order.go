package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ice-telegram/logger"
	"ice-telegram/models"
	"ice-telegram/sheet"
)

// Archive columns.
const (
	archiveColID = iota
	archiveColUserID
	archiveColVenueID
	archiveColAddress
	archiveColAmount
	archiveColDeliveryDate
	archiveColCreatedAt
	archiveColStatus
	archiveColUnitPrice
	archiveColTotal
	archiveCols
)

// Live columns. The order id is shared with the archive row.
const (
	liveColID = iota
	liveColVenueName
	liveColAddress
	liveColAmount
	liveColTotal
	liveColStatus
	liveCols
)

var (
	ArchiveHeader = []string{"ID заказа", "ID пользователя", "ID заведения", "Адрес", "Количество (кг)", "Дата доставки", "Время заказа", "Статус", "Цена за кг", "Сумма"}
	LiveHeader    = []string{"ID заказа", "Заведение", "Адрес", "Количество (кг)", "Сумма", "Статус"}
)

// OrderStore keeps the archive (system of record, every order ever placed) and
// the live table (today's active orders for the couriers) consistent.
//
// There is no transaction across the two tables: the archive is always written
// first and wins; a missed live write is repaired by the next RebuildLiveTable.
type OrderStore struct {
	archive   sheet.Table
	live      sheet.Table
	venues    *VenueDirectory
	clock     Clock
	surcharge decimal.Decimal
	newID     func() string

	rebuildMu sync.Mutex
}

type OrderStoreOption func(*OrderStore)

// WithSurcharge adds a flat delivery fee to every order total.
func WithSurcharge(d decimal.Decimal) OrderStoreOption {
	return func(s *OrderStore) { s.surcharge = d }
}

// WithIDGenerator replaces uuid order ids (tests use sequential ids).
func WithIDGenerator(f func() string) OrderStoreOption {
	return func(s *OrderStore) { s.newID = f }
}

func NewOrderStore(archive, live sheet.Table, venues *VenueDirectory, clock Clock, opts ...OrderStoreOption) *OrderStore {
	s := &OrderStore{
		archive:   archive,
		live:      live,
		venues:    venues,
		clock:     clock,
		surcharge: decimal.Zero,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Surcharge is the flat fee added to each order.
func (s *OrderStore) Surcharge() decimal.Decimal { return s.surcharge }

func (s *OrderStore) GetVenue(ctx context.Context, venueID string) (*models.Venue, error) {
	return s.venues.Get(ctx, venueID)
}

// AddOrder prices the order from the venue directory, appends it to the
// archive and, for same-day delivery, mirrors it into the live table.
// A failed archive append fails the call; a failed live append is only logged.
func (s *OrderStore) AddOrder(ctx context.Context, in models.NewOrder) (*models.Order, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("add order: amount must be positive, got %d", in.Amount)
	}
	if in.DeliveryDate.IsZero() {
		return nil, fmt.Errorf("add order: delivery date not set")
	}
	venue, err := s.venues.Get(ctx, in.VenueID)
	if err != nil {
		return nil, fmt.Errorf("add order: %w", err)
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}
	address := in.Address
	if address == "" {
		address = venue.Address
	}

	subtotal := venue.UnitPrice.Mul(decimal.NewFromInt(int64(in.Amount)))
	o := &models.Order{
		ID:           s.newID(),
		UserID:       in.UserID,
		VenueID:      venue.ID,
		Address:      address,
		Amount:       in.Amount,
		DeliveryDate: in.DeliveryDate,
		CreatedAt:    createdAt.In(s.clock.Location()),
		Status:       models.OrderStatusActive,
		UnitPrice:    venue.UnitPrice,
		Subtotal:     subtotal,
		Surcharge:    s.surcharge,
		Total:        subtotal.Add(s.surcharge),
	}

	if err := s.archive.Append(ctx, archiveRow(o)); err != nil {
		return nil, storeErr("append archive", err)
	}

	if o.DeliveryDate == Today(s.clock) {
		if err := s.live.Append(ctx, liveRow(o, venue.Name)); err != nil {
			logger.Warn("live mirror append failed, next rollover repairs it",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	logger.Info("order added",
		zap.String("order_id", o.ID),
		zap.Int64("user_id", o.UserID),
		zap.String("venue_id", o.VenueID),
		zap.Int("amount", o.Amount),
		zap.String("delivery_date", o.DeliveryDate.String()),
	)
	return o, nil
}

type activeEntry struct {
	models.ActiveOrder
	createdAt time.Time
	rowNum    int
}

// activeEntries re-reads the archive and numbers the user's active orders by
// delivery date, then creation time. Rows with equal keys keep archive order.
func (s *OrderStore) activeEntries(ctx context.Context, userID int64) ([]activeEntry, error) {
	orders, err := s.archiveOrders(ctx)
	if err != nil {
		return nil, err
	}
	var out []activeEntry
	for _, po := range orders {
		o := po.order
		if o.UserID != userID || o.Status != models.OrderStatusActive {
			continue
		}
		out = append(out, activeEntry{
			ActiveOrder: models.ActiveOrder{
				OrderID:      o.ID,
				Amount:       o.Amount,
				DeliveryDate: o.DeliveryDate,
				UnitPrice:    o.UnitPrice,
				Total:        o.Total,
			},
			createdAt: o.CreatedAt,
			rowNum:    po.rowNum,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DeliveryDate != b.DeliveryDate {
			return a.DeliveryDate.Before(b.DeliveryDate)
		}
		return a.createdAt.Before(b.createdAt)
	})
	for i := range out {
		out[i].Index = i + 1
	}
	return out, nil
}

// ListActiveOrders returns the user's active orders indexed 1..N by delivery
// date. Indices are recomputed on every call.
func (s *OrderStore) ListActiveOrders(ctx context.Context, userID int64) ([]models.ActiveOrder, error) {
	entries, err := s.activeEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ActiveOrder, len(entries))
	for i, e := range entries {
		out[i] = e.ActiveOrder
	}
	return out, nil
}

// CancelOrder re-derives the listing and cancels the entry at ref.Index.
// ErrStaleIndex is returned when the index is out of range or, if ref.OrderID
// is set, now points at a different order. The live mirror is updated best
// effort; only the archive outcome is reported.
func (s *OrderStore) CancelOrder(ctx context.Context, userID int64, ref models.OrderRef) (*models.ActiveOrder, error) {
	entries, err := s.activeEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ref.Index < 1 || ref.Index > len(entries) {
		return nil, ErrStaleIndex
	}
	e := entries[ref.Index-1]
	if ref.OrderID != "" && e.OrderID != ref.OrderID {
		return nil, ErrStaleIndex
	}

	if err := s.archive.UpdateCell(ctx, e.rowNum, archiveColStatus, string(models.OrderStatusCancelled)); err != nil {
		return nil, storeErr("cancel archive row", err)
	}
	s.cancelLiveMirror(ctx, e.OrderID)

	logger.Info("order cancelled",
		zap.String("order_id", e.OrderID),
		zap.Int64("user_id", userID),
		zap.Int("index", ref.Index),
	)
	return &e.ActiveOrder, nil
}

func (s *OrderStore) cancelLiveMirror(ctx context.Context, orderID string) {
	rows, err := s.live.Rows(ctx)
	if err != nil {
		logger.Warn("read live table for cancellation", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	for _, r := range rows {
		if strings.TrimSpace(r.Cell(liveColID)) != orderID {
			continue
		}
		if err := s.live.UpdateCell(ctx, r.Num, liveColStatus, string(models.OrderStatusCancelled)); err != nil {
			logger.Warn("cancel live mirror", zap.String("order_id", orderID), zap.Error(err))
		}
		return
	}
	// Orders for other days have no live row; that is the common case.
	logger.Debug("no live mirror for cancelled order", zap.String("order_id", orderID))
}

// RebuildLiveTable replaces the live table with the archive's active orders
// for today. It never writes to the archive and only one rebuild runs at a
// time per store. Returns the number of rows written.
func (s *OrderStore) RebuildLiveTable(ctx context.Context) (int, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	orders, err := s.archiveOrders(ctx)
	if err != nil {
		return 0, err
	}
	venues, err := s.venues.All(ctx)
	if err != nil {
		return 0, err
	}

	today := Today(s.clock)
	var rows [][]string
	for _, po := range orders {
		o := po.order
		if o.DeliveryDate != today || o.Status != models.OrderStatusActive {
			continue
		}
		name := o.VenueID
		if v, ok := venues[o.VenueID]; ok {
			name = v.Name
			if o.Address == "" {
				o.Address = v.Address
			}
		} else {
			logger.Warn("rollover: venue missing from directory", zap.String("order_id", o.ID), zap.String("venue_id", o.VenueID))
		}
		rows = append(rows, liveRow(o, name))
	}

	if err := s.live.Replace(ctx, rows); err != nil {
		return 0, storeErr("replace live table", err)
	}
	logger.Info("live table rebuilt", zap.String("date", today.String()), zap.Int("rows", len(rows)))
	return len(rows), nil
}

// Stats aggregates the whole archive.
func (s *OrderStore) Stats(ctx context.Context) (*models.OrderStats, error) {
	orders, err := s.archiveOrders(ctx)
	if err != nil {
		return nil, err
	}
	st := &models.OrderStats{
		ByStatus: make(map[models.OrderStatus]int),
		ByDate:   make(map[models.Date]map[models.OrderStatus]int),
		Amount:   make(map[models.Date]int),
	}
	for _, po := range orders {
		o := po.order
		st.Total++
		st.ByStatus[o.Status]++
		if st.ByDate[o.DeliveryDate] == nil {
			st.ByDate[o.DeliveryDate] = make(map[models.OrderStatus]int)
		}
		st.ByDate[o.DeliveryDate][o.Status]++
		if o.Status == models.OrderStatusActive {
			st.Amount[o.DeliveryDate] += o.Amount
		}
	}
	return st, nil
}

type parsedOrder struct {
	order  *models.Order
	rowNum int
}

func (s *OrderStore) archiveOrders(ctx context.Context) ([]parsedOrder, error) {
	rows, err := s.archive.Rows(ctx)
	if err != nil {
		return nil, storeErr("read archive", err)
	}
	out := make([]parsedOrder, 0, len(rows))
	for _, r := range rows {
		if isBlank(r) {
			continue
		}
		o, err := parseArchiveRow(r, s.clock.Location())
		if err != nil {
			logger.Warn("skipping malformed archive row", zap.Int("row", r.Num), zap.Error(err))
			continue
		}
		out = append(out, parsedOrder{order: o, rowNum: r.Num})
	}
	return out, nil
}

func isBlank(r sheet.Row) bool {
	for _, c := range r.Cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func archiveRow(o *models.Order) []string {
	row := make([]string, archiveCols)
	row[archiveColID] = o.ID
	row[archiveColUserID] = strconv.FormatInt(o.UserID, 10)
	row[archiveColVenueID] = o.VenueID
	row[archiveColAddress] = o.Address
	row[archiveColAmount] = strconv.Itoa(o.Amount)
	row[archiveColDeliveryDate] = o.DeliveryDate.String()
	row[archiveColCreatedAt] = o.CreatedAt.Format(time.RFC3339)
	row[archiveColStatus] = string(o.Status)
	row[archiveColUnitPrice] = o.UnitPrice.String()
	row[archiveColTotal] = o.Total.String()
	return row
}

func liveRow(o *models.Order, venueName string) []string {
	row := make([]string, liveCols)
	row[liveColID] = o.ID
	row[liveColVenueName] = venueName
	row[liveColAddress] = o.Address
	row[liveColAmount] = strconv.Itoa(o.Amount)
	row[liveColTotal] = o.Total.String()
	row[liveColStatus] = string(o.Status)
	return row
}

func parseArchiveRow(r sheet.Row, loc *time.Location) (*models.Order, error) {
	o := &models.Order{
		ID:      strings.TrimSpace(r.Cell(archiveColID)),
		VenueID: strings.TrimSpace(r.Cell(archiveColVenueID)),
		Address: r.Cell(archiveColAddress),
		Status:  models.OrderStatus(strings.TrimSpace(r.Cell(archiveColStatus))),
	}
	if o.ID == "" {
		return nil, fmt.Errorf("empty order id")
	}
	var err error
	if o.UserID, err = strconv.ParseInt(strings.TrimSpace(r.Cell(archiveColUserID)), 10, 64); err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	if o.Amount, err = strconv.Atoi(strings.TrimSpace(r.Cell(archiveColAmount))); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if o.DeliveryDate, err = models.ParseDate(strings.TrimSpace(r.Cell(archiveColDeliveryDate))); err != nil {
		return nil, err
	}
	if ts := strings.TrimSpace(r.Cell(archiveColCreatedAt)); ts != "" {
		if o.CreatedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("created at: %w", err)
		}
		o.CreatedAt = o.CreatedAt.In(loc)
	}
	if o.UnitPrice, err = parsePrice(r.Cell(archiveColUnitPrice)); err != nil {
		return nil, fmt.Errorf("unit price: %w", err)
	}
	if o.Total, err = parsePrice(r.Cell(archiveColTotal)); err != nil {
		return nil, fmt.Errorf("total: %w", err)
	}
	o.Subtotal = o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Amount)))
	o.Surcharge = o.Total.Sub(o.Subtotal)
	return o, nil
}
