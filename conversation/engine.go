// Package conversation is the per-user dialogue for registering a venue and
// placing, listing and cancelling ice orders. It knows nothing about Telegram:
// the transport feeds it Input and renders the returned Replies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ice-telegram/logger"
	"ice-telegram/models"
	"ice-telegram/services"
)

// Input is one message from a user.
type Input struct {
	UserID      int64
	DisplayName string
	Text        string
}

// Reply is one message back. Err carries the domain error that produced it.
type Reply struct {
	Text string
	Menu *Menu
	Err  error
}

// Profiles persists registration data.
type Profiles interface {
	Get(userID int64) (*models.UserProfile, bool)
	Save(p *models.UserProfile) error
}

// Venues is the directory the engine registers venues in.
type Venues interface {
	Get(ctx context.Context, id string) (*models.Venue, error)
	Create(ctx context.Context, v models.Venue) error
	Update(ctx context.Context, v models.Venue) error
}

// Orders is the order store as seen by the dialogue.
type Orders interface {
	GetVenue(ctx context.Context, venueID string) (*models.Venue, error)
	AddOrder(ctx context.Context, in models.NewOrder) (*models.Order, error)
	ListActiveOrders(ctx context.Context, userID int64) ([]models.ActiveOrder, error)
	CancelOrder(ctx context.Context, userID int64, ref models.OrderRef) (*models.ActiveOrder, error)
}

type Config struct {
	DefaultUnitPrice decimal.Decimal
	Rules            services.DateRules
	// NewVenueID defaults to uuid.NewString.
	NewVenueID func() string
}

// Engine runs the state machine. Calls for one user must not overlap; the
// transport serialises them. Different users may be handled concurrently.
type Engine struct {
	profiles Profiles
	venues   Venues
	orders   Orders
	sessions SessionStore
	cfg      Config
}

func NewEngine(profiles Profiles, venues Venues, orders Orders, sessions SessionStore, cfg Config) *Engine {
	if cfg.NewVenueID == nil {
		cfg.NewVenueID = uuid.NewString
	}
	if cfg.Rules.Clock == nil {
		cfg.Rules.Clock = services.NewClock(services.DefaultUTCOffset)
	}
	return &Engine{profiles: profiles, venues: venues, orders: orders, sessions: sessions, cfg: cfg}
}

// State reports where the user currently is.
func (e *Engine) State(ctx context.Context, userID int64) (State, error) {
	s, err := e.sessions.Load(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.State, nil
}

// Handle advances the user's conversation by one message.
func (e *Engine) Handle(ctx context.Context, in Input) []Reply {
	text := strings.TrimSpace(in.Text)

	s, err := e.sessions.Load(ctx, in.UserID)
	if err != nil {
		logger.Error("load session", zap.Int64("user_id", in.UserID), zap.Error(err))
		return []Reply{{Text: msgStoreDown, Err: err}}
	}

	replies := e.dispatch(ctx, in, text, s)

	if err := e.sessions.Save(ctx, in.UserID, s); err != nil {
		logger.Error("save session", zap.Int64("user_id", in.UserID), zap.String("state", string(s.State)), zap.Error(err))
	}
	return replies
}

func (e *Engine) dispatch(ctx context.Context, in Input, text string, s *Session) []Reply {
	if isBack(text) {
		s.reset()
		return []Reply{{Text: msgMainMenu, Menu: MainMenu()}}
	}

	collecting := s.State == StateCollectingVenueName || s.State == StateCollectingAddress
	switch cmd := command(text); {
	case cmd == CmdStart:
		return e.start(in, s)
	case cmd == CmdOrder, !collecting && text == BtnOrder:
		return e.beginOrder(in, s)
	case cmd == CmdAddress, !collecting && text == BtnChangeAddress:
		return e.beginRegistration(s)
	case cmd == CmdOrders, !collecting && text == BtnMyOrders:
		return e.listOrders(ctx, in, s)
	case cmd == CmdCancel, !collecting && text == BtnCancelOrder:
		return e.beginCancel(ctx, in, s)
	}

	switch s.State {
	case StateCollectingVenueName:
		return e.venueName(in, text, s)
	case StateCollectingAddress:
		return e.address(ctx, in, text, s)
	case StateSelectingAmount:
		return e.amount(ctx, in, text, s)
	case StateSelectingDate:
		return e.date(ctx, in, text, s)
	case StateSelectingCancellation:
		return e.cancel(ctx, in, text, s)
	default:
		s.reset()
		return []Reply{{Text: msgChooseAction, Menu: MainMenu()}}
	}
}

func (e *Engine) profile(in Input) *models.UserProfile {
	p, ok := e.profiles.Get(in.UserID)
	if !ok {
		p = &models.UserProfile{UserID: in.UserID}
	}
	if in.DisplayName != "" {
		p.DisplayName = in.DisplayName
	}
	return p
}

func (e *Engine) start(in Input, s *Session) []Reply {
	p := e.profile(in)
	if p.CanOrder() {
		s.reset()
		return []Reply{{Text: welcomeBack(p), Menu: MainMenu()}}
	}
	return append([]Reply{{Text: msgWelcomeNew}}, e.beginRegistration(s)...)
}

func (e *Engine) beginRegistration(s *Session) []Reply {
	s.reset()
	s.State = StateCollectingVenueName
	return []Reply{{Text: msgAskVenueName, Menu: removeMenu}}
}

func (e *Engine) venueName(in Input, text string, s *Session) []Reply {
	if text == "" {
		return []Reply{{Text: msgEmptyVenueName}}
	}
	p := e.profile(in)
	p.VenueName = text
	if err := e.profiles.Save(p); err != nil {
		logger.Error("save profile", zap.Int64("user_id", in.UserID), zap.Error(err))
		return []Reply{{Text: msgStoreDown, Err: err}}
	}
	s.State = StateCollectingAddress
	return []Reply{{Text: venueNameSaved(text)}}
}

func (e *Engine) address(ctx context.Context, in Input, text string, s *Session) []Reply {
	if text == "" {
		return []Reply{{Text: msgEmptyAddress}}
	}
	p := e.profile(in)
	if strings.TrimSpace(p.VenueName) == "" {
		return e.beginRegistration(s)
	}

	if err := e.upsertVenue(ctx, p, text); err != nil {
		logger.Error("register venue", zap.Int64("user_id", in.UserID), zap.String("venue_id", p.VenueID), zap.Error(err))
		return []Reply{{Text: msgStoreDown, Err: err}}
	}

	p.Address = text
	p.Registered = true
	if err := e.profiles.Save(p); err != nil {
		logger.Error("save profile", zap.Int64("user_id", in.UserID), zap.Error(err))
		return []Reply{{Text: msgStoreDown, Err: err}}
	}
	s.reset()
	logger.Info("venue registered", zap.Int64("user_id", in.UserID), zap.String("venue_id", p.VenueID))
	return []Reply{{Text: registered(p), Menu: MainMenu()}}
}

// upsertVenue creates the user's venue or rewrites name and address of an
// existing one, keeping its price. A new venue id is saved to the profile
// before the row is created, so a retry after a failure reuses it.
func (e *Engine) upsertVenue(ctx context.Context, p *models.UserProfile, address string) error {
	if p.VenueID != "" {
		v, err := e.venues.Get(ctx, p.VenueID)
		switch {
		case err == nil:
			v.Name = p.VenueName
			v.Address = address
			return e.venues.Update(ctx, *v)
		case !errors.Is(err, services.ErrVenueNotFound):
			return err
		}
		// Deleted from the directory by hand: register it again under the same id.
	} else {
		p.VenueID = e.cfg.NewVenueID()
		if err := e.profiles.Save(p); err != nil {
			return fmt.Errorf("save venue id: %w", err)
		}
	}
	err := e.venues.Create(ctx, models.Venue{
		ID:        p.VenueID,
		Name:      p.VenueName,
		Address:   address,
		UnitPrice: e.cfg.DefaultUnitPrice,
	})
	if err != nil {
		return fmt.Errorf("create venue %s: %w", p.VenueID, err)
	}
	return nil
}

func (e *Engine) beginOrder(in Input, s *Session) []Reply {
	p := e.profile(in)
	if !p.CanOrder() {
		replies := []Reply{{Text: msgNotRegistered, Err: services.ErrNotRegistered}}
		return append(replies, e.beginRegistration(s)...)
	}
	s.reset()
	s.State = StateSelectingAmount
	return []Reply{{Text: askAmount(p), Menu: AmountMenu()}}
}

func (e *Engine) amount(ctx context.Context, in Input, text string, s *Session) []Reply {
	kg, ok := parseAmount(text)
	if !ok {
		return []Reply{{Text: msgPickAmount, Menu: AmountMenu()}}
	}
	p := e.profile(in)
	if !p.CanOrder() {
		replies := []Reply{{Text: msgNotRegistered, Err: services.ErrNotRegistered}}
		return append(replies, e.beginRegistration(s)...)
	}

	v, err := e.orders.GetVenue(ctx, p.VenueID)
	if errors.Is(err, services.ErrVenueNotFound) {
		logger.Warn("venue missing at amount step", zap.Int64("user_id", in.UserID), zap.String("venue_id", p.VenueID))
		return append([]Reply{{Text: msgVenueMissing, Err: err}}, e.beginRegistration(s)...)
	}
	if err != nil {
		logger.Error("price lookup", zap.Int64("user_id", in.UserID), zap.Error(err))
		return []Reply{{Text: msgStoreDown, Err: err}}
	}

	s.Amount = kg
	s.UnitPrice = v.UnitPrice
	s.AwaitingDate = false
	s.State = StateSelectingDate
	return []Reply{{Text: priceQuote(kg, v.UnitPrice), Menu: DateMenu()}}
}

func (e *Engine) date(ctx context.Context, in Input, text string, s *Session) []Reply {
	rules := e.cfg.Rules
	var d models.Date
	switch text {
	case BtnToday:
		d = rules.Today()
	case BtnTomorrow:
		d = rules.Tomorrow()
	case BtnPickDate:
		s.AwaitingDate = true
		return []Reply{{Text: msgAskExplicitDate, Menu: removeMenu}}
	default:
		parsed, err := models.ParseDisplayDate(text)
		if err != nil {
			return []Reply{{Text: msgBadDate, Menu: e.dateMenu(s)}}
		}
		d = parsed
	}

	if err := rules.Check(d); err != nil {
		msg := msgPastDate
		if errors.Is(err, services.ErrPastCutoff) {
			msg = fmt.Sprintf(msgPastCutoff, rules.CutoffHour)
		}
		s.AwaitingDate = false
		return []Reply{{Text: msg, Menu: DateMenu(), Err: err}}
	}
	return e.placeOrder(ctx, in, d, s)
}

func (e *Engine) dateMenu(s *Session) *Menu {
	if s.AwaitingDate {
		return nil
	}
	return DateMenu()
}

// placeOrder is the terminal step; the user ends in Idle whatever the outcome.
func (e *Engine) placeOrder(ctx context.Context, in Input, d models.Date, s *Session) []Reply {
	p := e.profile(in)
	amount, quoted := s.Amount, s.UnitPrice
	s.reset()

	if !p.CanOrder() {
		replies := []Reply{{Text: msgNotRegistered, Err: services.ErrNotRegistered}}
		return append(replies, e.beginRegistration(s)...)
	}

	o, err := e.orders.AddOrder(ctx, models.NewOrder{
		UserID:       in.UserID,
		VenueID:      p.VenueID,
		Address:      p.Address,
		Amount:       amount,
		DeliveryDate: d,
		CreatedAt:    e.cfg.Rules.Clock.Now(),
	})
	if errors.Is(err, services.ErrVenueNotFound) {
		return append([]Reply{{Text: msgVenueMissing, Err: err}}, e.beginRegistration(s)...)
	}
	if err != nil {
		logger.Error("add order", zap.Int64("user_id", in.UserID), zap.Int("amount", amount), zap.String("date", d.String()), zap.Error(err))
		return []Reply{{Text: msgTryLater, Menu: MainMenu(), Err: err}}
	}
	replies := []Reply{{Text: receipt(p, o), Menu: MainMenu()}}
	if !quoted.IsZero() && !quoted.Equal(o.UnitPrice) {
		replies = append([]Reply{{Text: priceChanged(quoted, o.UnitPrice)}}, replies...)
	}
	return replies
}

func (e *Engine) listOrders(ctx context.Context, in Input, s *Session) []Reply {
	s.reset()
	orders, err := e.orders.ListActiveOrders(ctx, in.UserID)
	if err != nil {
		logger.Error("list orders", zap.Int64("user_id", in.UserID), zap.Error(err))
		return []Reply{{Text: msgStoreDown, Menu: MainMenu(), Err: err}}
	}
	if len(orders) == 0 {
		return []Reply{{Text: msgNoActiveOrders, Menu: MainMenu()}}
	}
	return []Reply{{Text: activeOrdersList(orders), Menu: MainMenu()}}
}

func (e *Engine) beginCancel(ctx context.Context, in Input, s *Session) []Reply {
	s.reset()
	orders, err := e.orders.ListActiveOrders(ctx, in.UserID)
	if err != nil {
		logger.Error("list orders", zap.Int64("user_id", in.UserID), zap.Error(err))
		return []Reply{{Text: msgStoreDown, Menu: MainMenu(), Err: err}}
	}
	if len(orders) == 0 {
		return []Reply{{Text: msgNoActiveOrders, Menu: MainMenu()}}
	}
	offer(s, orders)
	return []Reply{{Text: msgChooseCancel, Menu: CancelMenu(orders)}}
}

func offer(s *Session, orders []models.ActiveOrder) {
	s.State = StateSelectingCancellation
	s.Shown = make([]models.OrderRef, len(orders))
	for i, o := range orders {
		s.Shown[i] = models.OrderRef{Index: o.Index, OrderID: o.OrderID}
	}
}

func (e *Engine) cancel(ctx context.Context, in Input, text string, s *Session) []Reply {
	idx, ok := parseCancelIndex(text)
	if !ok {
		return []Reply{{Text: msgPickCancel}}
	}
	ref := models.OrderRef{Index: idx}
	for _, shown := range s.Shown {
		if shown.Index == idx {
			ref = shown
			break
		}
	}
	if ref.OrderID == "" {
		return e.reoffer(ctx, in, s, services.ErrStaleIndex)
	}

	got, err := e.orders.CancelOrder(ctx, in.UserID, ref)
	if errors.Is(err, services.ErrStaleIndex) {
		return e.reoffer(ctx, in, s, err)
	}
	if err != nil {
		logger.Error("cancel order", zap.Int64("user_id", in.UserID), zap.Int("index", idx), zap.Error(err))
		return []Reply{{Text: msgStoreDown, Err: err}}
	}
	s.reset()
	return []Reply{{Text: cancelled(got), Menu: MainMenu()}}
}

// reoffer lists the orders again after the displayed index went stale.
func (e *Engine) reoffer(ctx context.Context, in Input, s *Session, cause error) []Reply {
	orders, err := e.orders.ListActiveOrders(ctx, in.UserID)
	if err != nil {
		logger.Error("list orders", zap.Int64("user_id", in.UserID), zap.Error(err))
		return []Reply{{Text: msgStoreDown, Err: err}}
	}
	if len(orders) == 0 {
		s.reset()
		return []Reply{{Text: msgStaleIndexNoMore, Menu: MainMenu(), Err: cause}}
	}
	offer(s, orders)
	return []Reply{{Text: msgStaleIndex, Menu: CancelMenu(orders), Err: cause}}
}
