package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ice-telegram/bot"
	"ice-telegram/config"
	"ice-telegram/db"
	"ice-telegram/logger"
	"ice-telegram/services"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ice-telegram",
		Short:         "Telegram bot for ice delivery orders",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot and the daily rollover (default)",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the Postgres schema for STORE_BACKEND=postgres",
			Args:  cobra.NoArgs,
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "init-sheets",
			Short: "Create missing tables and write their header rows",
			Args:  cobra.NoArgs,
			RunE:  runInitSheets,
		},
		&cobra.Command{
			Use:   "rollover",
			Short: "Rebuild today's live table from the archive once",
			Args:  cobra.NoArgs,
			RunE:  runRollover,
		},
		&cobra.Command{
			Use:   "hash-password [password]",
			Short: "Print a bcrypt hash for OPERATOR_PASSWORD_HASH, generating a password if none is given",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runHashPassword,
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print order counts by status and delivery date",
			Args:  cobra.NoArgs,
			RunE:  runStats,
		},
	)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("BOT_TOKEN not set")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ensureTables(ctx); err != nil {
		return err
	}
	engine, err := a.engine(ctx)
	if err != nil {
		return err
	}

	sched := a.rolloverScheduler()
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	b, err := bot.New(cfg.Telegram, bot.Deps{
		Engine:   engine,
		Auth:     a.operatorAuth(),
		Stats:    a.store,
		Rollover: sched,
	})
	if err != nil {
		return err
	}
	b.Start(ctx)
	logger.Info("shutdown complete")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logger.Sync()

	if err := db.Init(cfg.DB); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()
	return applyMigrations(cmd.Context(), true)
}

func runInitSheets(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		if err := a.ensureTables(ctx); err != nil {
			return err
		}
		fmt.Println("Tables ready:", a.cfg.Store.VenuesTable, a.cfg.Store.ArchiveTable, a.cfg.Store.LiveTable)
		return nil
	})
}

func runRollover(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		n, err := a.store.RebuildLiveTable(ctx)
		if err != nil {
			return fmt.Errorf("rollover: %w", err)
		}
		fmt.Printf("Live table rebuilt, %d rows.\n", n)
		return nil
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		st, err := a.store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		fmt.Println(bot.FormatStats(st))
		return nil
	})
}

func runHashPassword(_ *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		generated, err := services.GenerateOperatorPassword()
		if err != nil {
			return err
		}
		password = generated
		fmt.Println("Password:", password)
	}
	hash, err := services.HashOperatorPassword(password)
	if err != nil {
		return err
	}
	fmt.Println("OPERATOR_PASSWORD_HASH=" + hash)
	return nil
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := fn(ctx, a); err != nil {
		logger.Error("command failed", zap.Error(err))
		return err
	}
	return nil
}
