package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ice-telegram/config"
	"ice-telegram/conversation"
	"ice-telegram/db"
	"ice-telegram/logger"
	"ice-telegram/services"
	"ice-telegram/sheet"
)

// app holds what every subcommand shares: logger, Sentry, the tabular
// store and the order services built on it.
type app struct {
	cfg    *config.Config
	book   sheet.Book
	clock  services.Clock
	venues *services.VenueDirectory
	store  *services.OrderStore

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, closers: []func(){logger.Sync}}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			logger.Warn("sentry disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { sentry.Flush(2 * time.Second) })
		}
	}

	book, err := a.openBook(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.book = book
	a.clock = services.NewClock(cfg.Ordering.UTCOffset)
	a.venues = services.NewVenueDirectory(book.Table(cfg.Store.VenuesTable))
	a.store = services.NewOrderStore(
		book.Table(cfg.Store.ArchiveTable),
		book.Table(cfg.Store.LiveTable),
		a.venues,
		a.clock,
		services.WithSurcharge(cfg.Ordering.Surcharge),
	)
	logger.Info("store ready",
		zap.String("backend", cfg.Store.Backend),
		zap.Duration("utc_offset", cfg.Ordering.UTCOffset),
		zap.Int("cutoff_hour", cfg.Ordering.CutoffHour),
	)
	return a, nil
}

func (a *app) openBook(ctx context.Context) (sheet.Book, error) {
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("memory backend: orders are lost on restart")
		return sheet.NewMemoryBook(), nil
	case config.BackendPostgres:
		if err := db.Init(a.cfg.DB); err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if a.cfg.AutoMigrate {
			if err := applyMigrations(ctx, false); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return sheet.NewPostgresBook(db.Pool), nil
	default:
		book, err := sheet.NewGoogleBook(ctx, a.cfg.Store.SpreadsheetID, a.cfg.Store.ServiceAccountEmail, a.cfg.Store.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("google sheets: %w", err)
		}
		return book, nil
	}
}

func (a *app) ensureTables(ctx context.Context) error {
	err := a.book.Ensure(ctx,
		sheet.Schema{Name: a.cfg.Store.VenuesTable, Header: services.VenueHeader},
		sheet.Schema{Name: a.cfg.Store.ArchiveTable, Header: services.ArchiveHeader},
		sheet.Schema{Name: a.cfg.Store.LiveTable, Header: services.LiveHeader},
	)
	if err != nil {
		return fmt.Errorf("init tables: %w", err)
	}
	return nil
}

func (a *app) engine(ctx context.Context) (*conversation.Engine, error) {
	profiles, err := services.LoadProfileStore(a.cfg.ProfileSnapshot)
	if err != nil {
		return nil, err
	}
	sessions, err := a.sessionStore(ctx)
	if err != nil {
		return nil, err
	}
	return conversation.NewEngine(profiles, a.venues, a.store, sessions, conversation.Config{
		DefaultUnitPrice: a.cfg.Ordering.DefaultUnitPrice,
		Rules:            services.DateRules{Clock: a.clock, CutoffHour: a.cfg.Ordering.CutoffHour},
	}), nil
}

func (a *app) sessionStore(ctx context.Context) (conversation.SessionStore, error) {
	if a.cfg.Redis.Addr == "" {
		return conversation.NewMemorySessionStore(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	logger.Info("conversation state in redis", zap.String("addr", a.cfg.Redis.Addr))
	return conversation.NewRedisSessionStore(client, "", conversation.DefaultSessionTTL), nil
}

func (a *app) rolloverScheduler() *services.RolloverScheduler {
	return services.NewRolloverScheduler(a.store, a.clock.Location(), a.cfg.Ordering.RolloverAt)
}

func (a *app) operatorAuth() *services.OperatorAuth {
	return services.NewOperatorAuth(a.cfg.Telegram.AdminIDs, a.cfg.Telegram.OperatorPasswordHash)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
