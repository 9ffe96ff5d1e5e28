package db

import (
	"context"
	"fmt"
	"net/url"

	"ice-telegram/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool backs STORE_BACKEND=postgres.
var Pool *pgxpool.Pool

func Init(cfg config.DBConfig) error {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.Database,
	}
	var err error
	Pool, err = pgxpool.New(context.Background(), u.String())
	if err != nil {
		return err
	}
	if err := Pool.Ping(context.Background()); err != nil {
		Pool.Close()
		Pool = nil
		return fmt.Errorf("ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return nil
}

func Close() {
	if Pool != nil {
		Pool.Close()
		Pool = nil
	}
}
