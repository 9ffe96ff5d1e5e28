package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ice-telegram/models"
	"ice-telegram/services"
	"ice-telegram/sheet"
)

var zone = services.FixedZone(services.DefaultUTCOffset)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, zone)
}

type harness struct {
	engine   *Engine
	book     *sheet.MemoryBook
	venues   *services.VenueDirectory
	store    *services.OrderStore
	profiles *services.ProfileStore
	sessions *MemorySessionStore
	now      time.Time
}

type harnessOpts struct {
	orders     func(*services.OrderStore) Orders
	venues     func(*services.VenueDirectory) Venues
	profiles   func(*services.ProfileStore) Profiles
	cutoffHour *int
}

func newHarness(t *testing.T, opts ...func(*harnessOpts)) *harness {
	t.Helper()
	var o harnessOpts
	for _, fn := range opts {
		fn(&o)
	}
	ctx := context.Background()
	h := &harness{book: sheet.NewMemoryBook(), now: at(2024, time.March, 18, 10, 0)}
	require.NoError(t, h.book.Ensure(ctx,
		sheet.Schema{Name: "venues", Header: services.VenueHeader},
		sheet.Schema{Name: "archive", Header: services.ArchiveHeader},
		sheet.Schema{Name: "live", Header: services.LiveHeader},
	))
	clock := services.ClockFunc{Source: func() time.Time { return h.now }, Loc: zone}

	h.venues = services.NewVenueDirectory(h.book.Table("venues"))
	n := 0
	h.store = services.NewOrderStore(h.book.Table("archive"), h.book.Table("live"), h.venues, clock,
		services.WithSurcharge(decimal.NewFromInt(500)),
		services.WithIDGenerator(func() string { n++; return fmt.Sprintf("order-%d", n) }),
	)
	profileStore, err := services.LoadProfileStore(filepath.Join(t.TempDir(), "userData.json"))
	require.NoError(t, err)
	h.profiles = profileStore
	h.sessions = NewMemorySessionStore()

	var orders Orders = h.store
	if o.orders != nil {
		orders = o.orders(h.store)
	}
	var venues Venues = h.venues
	if o.venues != nil {
		venues = o.venues(h.venues)
	}
	var profiles Profiles = h.profiles
	if o.profiles != nil {
		profiles = o.profiles(h.profiles)
	}
	cutoff := services.DefaultCutoffHour
	if o.cutoffHour != nil {
		cutoff = *o.cutoffHour
	}
	v := 0
	h.engine = NewEngine(profiles, venues, orders, h.sessions, Config{
		DefaultUnitPrice: decimal.NewFromInt(150),
		Rules:            services.DateRules{Clock: clock, CutoffHour: cutoff},
		NewVenueID:       func() string { v++; return fmt.Sprintf("venue-%d", v) },
	})
	return h
}

func (h *harness) send(t *testing.T, userID int64, text string) []Reply {
	t.Helper()
	replies := h.engine.Handle(context.Background(), Input{UserID: userID, DisplayName: "Айгерим", Text: text})
	require.NotEmpty(t, replies)
	return replies
}

func (h *harness) state(t *testing.T, userID int64) State {
	t.Helper()
	st, err := h.engine.State(context.Background(), userID)
	require.NoError(t, err)
	return st
}

func (h *harness) register(t *testing.T, userID int64) {
	t.Helper()
	h.send(t, userID, CmdStart)
	h.send(t, userID, "Кафе Лёд")
	h.send(t, userID, "ул. Абая 1")
	require.Equal(t, StateIdle, h.state(t, userID))
}

func (h *harness) active(t *testing.T, userID int64) []models.ActiveOrder {
	t.Helper()
	list, err := h.store.ListActiveOrders(context.Background(), userID)
	require.NoError(t, err)
	return list
}

func last(replies []Reply) Reply { return replies[len(replies)-1] }

func TestRegistration(t *testing.T) {
	h := newHarness(t)

	replies := h.send(t, 1, CmdStart)
	require.Len(t, replies, 2)
	assert.Equal(t, msgAskVenueName, replies[1].Text)
	assert.True(t, replies[1].Menu.Remove)
	assert.Equal(t, StateCollectingVenueName, h.state(t, 1))

	replies = h.send(t, 1, "Кафе Лёд")
	assert.Contains(t, last(replies).Text, "Кафе Лёд")
	assert.Equal(t, StateCollectingAddress, h.state(t, 1))

	// the name is persisted before the address is known
	p, ok := h.profiles.Get(1)
	require.True(t, ok)
	assert.Equal(t, "Кафе Лёд", p.VenueName)
	assert.False(t, p.CanOrder())

	replies = h.send(t, 1, "ул. Абая 1")
	assert.Contains(t, last(replies).Text, "ул. Абая 1")
	assert.Equal(t, MainMenu(), last(replies).Menu)
	assert.Equal(t, StateIdle, h.state(t, 1))

	p, _ = h.profiles.Get(1)
	assert.True(t, p.CanOrder())
	assert.Equal(t, "venue-1", p.VenueID)
	assert.Equal(t, "Айгерим", p.DisplayName)

	v, err := h.venues.Get(context.Background(), "venue-1")
	require.NoError(t, err)
	assert.Equal(t, "Кафе Лёд", v.Name)
	assert.Equal(t, "ул. Абая 1", v.Address)
	assert.True(t, decimal.NewFromInt(150).Equal(v.UnitPrice))

	replies = h.send(t, 1, CmdStart)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Кафе Лёд")
}

func TestRegistrationRejectsEmptyInput(t *testing.T) {
	h := newHarness(t)
	h.send(t, 1, CmdAddress)

	h.send(t, 1, "   ")
	assert.Equal(t, StateCollectingVenueName, h.state(t, 1))

	h.send(t, 1, "Кафе")
	h.send(t, 1, "")
	assert.Equal(t, StateCollectingAddress, h.state(t, 1))
}

func TestMainButtonsAreDataWhileCollecting(t *testing.T) {
	h := newHarness(t)
	h.send(t, 1, CmdStart)
	h.send(t, 1, BtnMyOrders)
	assert.Equal(t, StateCollectingAddress, h.state(t, 1))
	p, _ := h.profiles.Get(1)
	assert.Equal(t, BtnMyOrders, p.VenueName)
}

func TestChangeAddressKeepsVenueAndPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 1)
	require.NoError(t, h.venues.Update(ctx, models.Venue{ID: "venue-1", Name: "Кафе Лёд", Address: "ул. Абая 1", UnitPrice: decimal.NewFromInt(200)}))

	h.send(t, 1, BtnChangeAddress)
	assert.Equal(t, StateCollectingVenueName, h.state(t, 1))
	h.send(t, 1, "Кафе Снег")
	h.send(t, 1, "пр. Достык 5")

	p, _ := h.profiles.Get(1)
	assert.Equal(t, "venue-1", p.VenueID)
	assert.Equal(t, "пр. Достык 5", p.Address)

	v, err := h.venues.Get(ctx, "venue-1")
	require.NoError(t, err)
	assert.Equal(t, "Кафе Снег", v.Name)
	assert.Equal(t, "пр. Достык 5", v.Address)
	assert.True(t, decimal.NewFromInt(200).Equal(v.UnitPrice))

	all, err := h.venues.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAddressStoreFailureKeepsState(t *testing.T) {
	boom := &services.StoreError{Op: "create venue", Err: errors.New("quota")}
	h := newHarness(t, func(o *harnessOpts) {
		o.venues = func(d *services.VenueDirectory) Venues { return failingVenues{VenueDirectory: d, err: boom} }
	})
	h.send(t, 1, CmdStart)
	h.send(t, 1, "Кафе")
	replies := h.send(t, 1, "ул. Абая 1")

	assert.ErrorIs(t, last(replies).Err, services.ErrStoreUnavailable)
	assert.Equal(t, StateCollectingAddress, h.state(t, 1))
	p, _ := h.profiles.Get(1)
	assert.False(t, p.CanOrder())
}

func TestAddressRetryReusesVenueID(t *testing.T) {
	h := newHarness(t, func(o *harnessOpts) {
		o.profiles = func(p *services.ProfileStore) Profiles {
			return &flakyProfiles{ProfileStore: p, failRegistered: 1}
		}
	})
	ctx := context.Background()
	h.send(t, 1, CmdStart)
	h.send(t, 1, "Кафе Лёд")

	// venue row is created, then the final profile write fails
	replies := h.send(t, 1, "ул. Абая 1")
	require.Error(t, last(replies).Err)
	assert.Equal(t, StateCollectingAddress, h.state(t, 1))
	p, _ := h.profiles.Get(1)
	assert.Equal(t, "venue-1", p.VenueID)
	assert.False(t, p.CanOrder())

	replies = h.send(t, 1, "ул. Абая 1")
	require.NoError(t, last(replies).Err)
	assert.Equal(t, StateIdle, h.state(t, 1))
	p, _ = h.profiles.Get(1)
	assert.True(t, p.CanOrder())
	assert.Equal(t, "venue-1", p.VenueID)

	all, err := h.venues.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "venue-1")
}

func TestOrderRequiresRegistration(t *testing.T) {
	h := newHarness(t)
	for _, entry := range []string{BtnOrder, CmdOrder} {
		replies := h.send(t, 1, entry)
		assert.ErrorIs(t, replies[0].Err, services.ErrNotRegistered)
		assert.Equal(t, StateCollectingVenueName, h.state(t, 1))
		h.send(t, 1, CmdBack)
	}
}

func TestOrderForToday(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)
	h.now = at(2024, time.March, 18, 16, 59)

	replies := h.send(t, 1, BtnOrder)
	assert.Equal(t, AmountMenu(), last(replies).Menu)
	assert.Equal(t, StateSelectingAmount, h.state(t, 1))

	for _, bad := range []string{"35 кг", "0 кг", "110 кг", "тридцать"} {
		h.send(t, 1, bad)
		assert.Equal(t, StateSelectingAmount, h.state(t, 1), bad)
	}

	replies = h.send(t, 1, "30 кг")
	assert.Contains(t, last(replies).Text, "150.00")
	assert.Contains(t, last(replies).Text, "4500.00")
	assert.Equal(t, DateMenu(), last(replies).Menu)
	assert.Equal(t, StateSelectingDate, h.state(t, 1))

	replies = h.send(t, 1, BtnToday)
	r := last(replies)
	require.NoError(t, r.Err)
	assert.Contains(t, r.Text, "Заказ оформлен")
	assert.Contains(t, r.Text, "Кафе Лёд")
	assert.Contains(t, r.Text, "30 кг")
	assert.Contains(t, r.Text, "500.00")
	assert.Contains(t, r.Text, "5000.00")
	assert.Contains(t, r.Text, "18.03.2024")
	assert.Equal(t, StateIdle, h.state(t, 1))

	list := h.active(t, 1)
	require.Len(t, list, 1)
	assert.Equal(t, 30, list[0].Amount)
	assert.Equal(t, models.Date{Year: 2024, Month: time.March, Day: 18}, list[0].DeliveryDate)
	assert.True(t, decimal.NewFromInt(5000).Equal(list[0].Total))

	live, err := h.book.Table("live").Rows(context.Background())
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestOrderForTodayAfterCutoff(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)
	h.now = at(2024, time.March, 18, 17, 0)

	h.send(t, 1, BtnOrder)
	h.send(t, 1, "20 кг")
	replies := h.send(t, 1, BtnToday)
	assert.ErrorIs(t, last(replies).Err, services.ErrPastCutoff)
	assert.Contains(t, last(replies).Text, "17:00")
	assert.Equal(t, StateSelectingDate, h.state(t, 1))
	assert.Empty(t, h.active(t, 1))

	replies = h.send(t, 1, BtnTomorrow)
	require.NoError(t, last(replies).Err)
	assert.Contains(t, last(replies).Text, "19.03.2024")
	assert.Equal(t, StateIdle, h.state(t, 1))
	list := h.active(t, 1)
	require.Len(t, list, 1)
	assert.Equal(t, 20, list[0].Amount)
}

func TestZeroCutoffClosesSameDayOrders(t *testing.T) {
	zero := 0
	h := newHarness(t, func(o *harnessOpts) { o.cutoffHour = &zero })
	h.register(t, 1)
	h.now = at(2024, time.March, 18, 0, 30)

	h.send(t, 1, BtnOrder)
	h.send(t, 1, "20 кг")
	replies := h.send(t, 1, BtnToday)
	assert.ErrorIs(t, last(replies).Err, services.ErrPastCutoff)
	assert.Empty(t, h.active(t, 1))
}

func TestPriceChangeAfterQuoteIsReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 1)

	h.send(t, 1, BtnOrder)
	replies := h.send(t, 1, "10 кг")
	assert.Contains(t, last(replies).Text, "150.00")

	require.NoError(t, h.venues.Update(ctx, models.Venue{ID: "venue-1", Name: "Кафе Лёд", Address: "ул. Абая 1", UnitPrice: decimal.NewFromInt(200)}))
	replies = h.send(t, 1, BtnTomorrow)
	require.Len(t, replies, 2)
	assert.Equal(t, priceChanged(decimal.NewFromInt(150), decimal.NewFromInt(200)), replies[0].Text)
	assert.Contains(t, replies[1].Text, "2000.00")

	// unchanged price: receipt only
	h.send(t, 1, BtnOrder)
	h.send(t, 1, "10 кг")
	replies = h.send(t, 1, BtnTomorrow)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Заказ оформлен")
}

func TestOrderForExplicitDate(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)

	h.send(t, 1, BtnOrder)
	h.send(t, 1, "50 кг")
	replies := h.send(t, 1, BtnPickDate)
	assert.True(t, last(replies).Menu.Remove)
	assert.Equal(t, StateSelectingDate, h.state(t, 1))

	replies = h.send(t, 1, "17.03.2024")
	assert.ErrorIs(t, last(replies).Err, services.ErrPastDate)
	assert.Equal(t, StateSelectingDate, h.state(t, 1))

	for _, bad := range []string{"31.02.2024", "2024-03-20", "завтра"} {
		replies = h.send(t, 1, bad)
		assert.Equal(t, msgBadDate, last(replies).Text, bad)
		assert.Equal(t, StateSelectingDate, h.state(t, 1), bad)
	}

	replies = h.send(t, 1, "25.03.2024")
	require.NoError(t, last(replies).Err)
	assert.Equal(t, StateIdle, h.state(t, 1))
	list := h.active(t, 1)
	require.Len(t, list, 1)
	assert.Equal(t, models.Date{Year: 2024, Month: time.March, Day: 25}, list[0].DeliveryDate)

	// today typed explicitly follows the same-day rules
	h.send(t, 1, BtnOrder)
	h.send(t, 1, "10 кг")
	replies = h.send(t, 1, "18.03.2024")
	require.NoError(t, last(replies).Err)

	h.now = at(2024, time.March, 18, 18, 0)
	h.send(t, 1, BtnOrder)
	h.send(t, 1, "10 кг")
	replies = h.send(t, 1, "18.03.2024")
	assert.ErrorIs(t, last(replies).Err, services.ErrPastCutoff)
	assert.Len(t, h.active(t, 1), 2)
}

func TestBackAbandonsScratch(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)

	for _, back := range []string{BtnBack, BtnBackIcon, CmdBack} {
		h.send(t, 1, BtnOrder)
		h.send(t, 1, "40 кг")
		replies := h.send(t, 1, back)
		assert.Equal(t, msgMainMenu, last(replies).Text)
		assert.Equal(t, StateIdle, h.state(t, 1), back)
	}

	h.send(t, 1, BtnOrder)
	h.send(t, 1, BtnBack)
	assert.Equal(t, StateIdle, h.state(t, 1))

	h.send(t, 1, CmdAddress)
	h.send(t, 1, "Другое кафе")
	h.send(t, 1, BtnBack)
	assert.Equal(t, StateIdle, h.state(t, 1))

	assert.Empty(t, h.active(t, 1))
	// the venue still carries the original registration
	v, err := h.venues.Get(context.Background(), "venue-1")
	require.NoError(t, err)
	assert.Equal(t, "Кафе Лёд", v.Name)
}

func TestVenueRemovedRedirectsToRegistration(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)
	require.NoError(t, h.book.Table("venues").Replace(context.Background(), nil))

	h.send(t, 1, BtnOrder)
	replies := h.send(t, 1, "30 кг")
	assert.ErrorIs(t, replies[0].Err, services.ErrVenueNotFound)
	assert.Equal(t, StateCollectingVenueName, h.state(t, 1))

	h.send(t, 1, "Кафе Лёд")
	h.send(t, 1, "ул. Абая 1")
	_, err := h.venues.Get(context.Background(), "venue-1")
	assert.NoError(t, err)
}

func TestAddOrderFailureEndsIdle(t *testing.T) {
	boom := &services.StoreError{Op: "append archive", Err: errors.New("quota")}
	h := newHarness(t, func(o *harnessOpts) {
		o.orders = func(s *services.OrderStore) Orders { return failingOrders{OrderStore: s, addErr: boom} }
	})
	h.register(t, 1)

	h.send(t, 1, BtnOrder)
	h.send(t, 1, "30 кг")
	replies := h.send(t, 1, BtnTomorrow)
	assert.Equal(t, msgTryLater, last(replies).Text)
	assert.ErrorIs(t, last(replies).Err, services.ErrStoreUnavailable)
	assert.Equal(t, StateIdle, h.state(t, 1))
	assert.Empty(t, h.active(t, 1))
}

func placeOrders(t *testing.T, h *harness, userID int64, amounts ...string) {
	t.Helper()
	for _, a := range amounts {
		h.send(t, userID, BtnOrder)
		h.send(t, userID, a)
		replies := h.send(t, userID, BtnTomorrow)
		require.NoError(t, last(replies).Err)
	}
}

func TestCancelFlow(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)

	replies := h.send(t, 1, BtnCancelOrder)
	assert.Equal(t, msgNoActiveOrders, last(replies).Text)
	assert.Equal(t, StateIdle, h.state(t, 1))

	placeOrders(t, h, 1, "20 кг", "40 кг")

	replies = h.send(t, 1, BtnCancelOrder)
	menu := last(replies).Menu
	require.NotNil(t, menu)
	assert.Equal(t, [][]string{
		{"Отменить заказ №1: 20 кг"},
		{"Отменить заказ №2: 40 кг"},
		{BtnBackIcon},
	}, menu.Rows)
	assert.Equal(t, StateSelectingCancellation, h.state(t, 1))

	h.send(t, 1, "что-то")
	assert.Equal(t, StateSelectingCancellation, h.state(t, 1))

	replies = h.send(t, 1, "Отменить заказ №1: 20 кг")
	require.NoError(t, last(replies).Err)
	assert.Contains(t, last(replies).Text, "отменён")
	assert.Equal(t, StateIdle, h.state(t, 1))

	list := h.active(t, 1)
	require.Len(t, list, 1)
	assert.Equal(t, 40, list[0].Amount)
}

func TestCancelStaleIndex(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)
	placeOrders(t, h, 1, "20 кг", "40 кг")

	h.send(t, 1, CmdCancel)

	// another device cancels the first order in between
	_, err := h.store.CancelOrder(context.Background(), 1, models.OrderRef{Index: 1})
	require.NoError(t, err)

	replies := h.send(t, 1, "Отменить заказ №2: 40 кг")
	assert.ErrorIs(t, last(replies).Err, services.ErrStaleIndex)
	assert.Equal(t, StateSelectingCancellation, h.state(t, 1))
	assert.Equal(t, [][]string{{"Отменить заказ №1: 40 кг"}, {BtnBackIcon}}, last(replies).Menu.Rows)
	require.Len(t, h.active(t, 1), 1)

	replies = h.send(t, 1, "Отменить заказ №1: 40 кг")
	require.NoError(t, last(replies).Err)
	assert.Empty(t, h.active(t, 1))
}

func TestCancelStaleIndexNothingLeft(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)
	placeOrders(t, h, 1, "20 кг")

	h.send(t, 1, BtnCancelOrder)
	_, err := h.store.CancelOrder(context.Background(), 1, models.OrderRef{Index: 1})
	require.NoError(t, err)

	replies := h.send(t, 1, "Отменить заказ №1: 20 кг")
	assert.ErrorIs(t, last(replies).Err, services.ErrStaleIndex)
	assert.Equal(t, msgStaleIndexNoMore, last(replies).Text)
	assert.Equal(t, StateIdle, h.state(t, 1))
}

func TestMyOrders(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)

	replies := h.send(t, 1, CmdOrders)
	assert.Equal(t, msgNoActiveOrders, last(replies).Text)

	placeOrders(t, h, 1, "20 кг")
	replies = h.send(t, 1, BtnMyOrders)
	text := last(replies).Text
	assert.True(t, strings.HasPrefix(text, "Ваши активные заказы"))
	assert.Contains(t, text, "№1: 20 кг на 19.03.2024")
	assert.Contains(t, text, "3500.00")
}

func TestUsersAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1)
	h.register(t, 2)

	h.send(t, 1, BtnOrder)
	h.send(t, 2, BtnCancelOrder)
	assert.Equal(t, StateSelectingAmount, h.state(t, 1))
	assert.Equal(t, StateIdle, h.state(t, 2))

	p1, _ := h.profiles.Get(1)
	p2, _ := h.profiles.Get(2)
	assert.NotEqual(t, p1.VenueID, p2.VenueID)
}

func TestUnknownTextInIdle(t *testing.T) {
	h := newHarness(t)
	replies := h.send(t, 1, "привет")
	assert.Equal(t, msgChooseAction, last(replies).Text)
	assert.Equal(t, StateIdle, h.state(t, 1))
}

type failingOrders struct {
	*services.OrderStore
	addErr error
}

func (f failingOrders) AddOrder(context.Context, models.NewOrder) (*models.Order, error) {
	return nil, f.addErr
}

type failingVenues struct {
	*services.VenueDirectory
	err error
}

func (f failingVenues) Create(context.Context, models.Venue) error { return f.err }
func (f failingVenues) Update(context.Context, models.Venue) error { return f.err }

// flakyProfiles fails the next failRegistered saves of a completed registration.
type flakyProfiles struct {
	*services.ProfileStore
	failRegistered int
}

func (f *flakyProfiles) Save(p *models.UserProfile) error {
	if p.Registered && f.failRegistered > 0 {
		f.failRegistered--
		return errors.New("disk full")
	}
	return f.ProfileStore.Save(p)
}
