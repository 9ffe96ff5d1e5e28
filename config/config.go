package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	DB       DBConfig
	Telegram TelegramConfig
	Store    StoreConfig
	Redis    RedisConfig
	Ordering OrderingConfig
	Log      LogConfig

	ProfileSnapshot string
	AutoMigrate     bool
	SentryDSN       string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type TelegramConfig struct {
	Token                string
	AdminIDs             []int64
	OperatorPasswordHash string // bcrypt hash for /login
}

type StoreConfig struct {
	Backend             string // sheets, postgres or memory
	SpreadsheetID       string
	ServiceAccountEmail string
	PrivateKey          string
	VenuesTable         string
	ArchiveTable        string
	LiveTable           string
}

type RedisConfig struct {
	Addr     string // empty keeps conversation state in memory
	Password string
	DB       int
}

type OrderingConfig struct {
	DefaultUnitPrice decimal.Decimal
	Surcharge        decimal.Decimal
	UTCOffset        time.Duration
	CutoffHour       int
	RolloverAt       string // HH:MM local
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	admins, err := parseIDs(v.GetString("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS: %w", err)
	}
	price, err := decimal.NewFromString(v.GetString("DEFAULT_UNIT_PRICE"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_UNIT_PRICE: %w", err)
	}
	surcharge, err := decimal.NewFromString(v.GetString("DELIVERY_SURCHARGE"))
	if err != nil {
		return nil, fmt.Errorf("DELIVERY_SURCHARGE: %w", err)
	}

	cfg := &Config{
		DB: DBConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Database: v.GetString("DB_NAME"),
		},
		Telegram: TelegramConfig{
			Token:                v.GetString("BOT_TOKEN"),
			AdminIDs:             admins,
			OperatorPasswordHash: v.GetString("OPERATOR_PASSWORD_HASH"),
		},
		Store: StoreConfig{
			Backend:             strings.ToLower(v.GetString("STORE_BACKEND")),
			SpreadsheetID:       v.GetString("SPREADSHEET_ID"),
			ServiceAccountEmail: v.GetString("GOOGLE_SERVICE_ACCOUNT_EMAIL"),
			// keys pasted into .env usually carry escaped newlines
			PrivateKey:   strings.ReplaceAll(v.GetString("GOOGLE_PRIVATE_KEY"), `\n`, "\n"),
			VenuesTable:  v.GetString("SHEET_VENUES"),
			ArchiveTable: v.GetString("SHEET_ARCHIVE"),
			LiveTable:    v.GetString("SHEET_LIVE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Ordering: OrderingConfig{
			DefaultUnitPrice: price,
			Surcharge:        surcharge,
			UTCOffset:        time.Duration(v.GetInt("UTC_OFFSET_HOURS")) * time.Hour,
			CutoffHour:       v.GetInt("CUTOFF_HOUR"),
			RolloverAt:       v.GetString("ROLLOVER_AT"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		ProfileSnapshot: v.GetString("PROFILE_SNAPSHOT"),
		AutoMigrate:     v.GetBool("AUTO_MIGRATE"),
		SentryDSN:       v.GetString("SENTRY_DSN"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "ice")
	v.SetDefault("STORE_BACKEND", BackendSheets)
	v.SetDefault("SHEET_VENUES", "Заведения")
	v.SetDefault("SHEET_ARCHIVE", "Архив")
	v.SetDefault("SHEET_LIVE", "Заказы")
	v.SetDefault("DEFAULT_UNIT_PRICE", "150")
	v.SetDefault("DELIVERY_SURCHARGE", "0")
	v.SetDefault("UTC_OFFSET_HOURS", 6)
	v.SetDefault("CUTOFF_HOUR", 17)
	v.SetDefault("ROLLOVER_AT", "00:00")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("PROFILE_SNAPSHOT", "userData.json")
	v.SetDefault("AUTO_MIGRATE", false)
}

// Validate checks values that would otherwise fail deep inside the bot.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSheets:
		if c.Store.SpreadsheetID == "" {
			return fmt.Errorf("SPREADSHEET_ID not set")
		}
		if c.Store.ServiceAccountEmail == "" || c.Store.PrivateKey == "" {
			return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_EMAIL and GOOGLE_PRIVATE_KEY must be set")
		}
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Ordering.CutoffHour < 0 || c.Ordering.CutoffHour > 24 {
		return fmt.Errorf("CUTOFF_HOUR out of range: %d", c.Ordering.CutoffHour)
	}
	if c.Ordering.DefaultUnitPrice.IsNegative() || c.Ordering.Surcharge.IsNegative() {
		return fmt.Errorf("prices must not be negative")
	}
	if _, err := time.Parse("15:04", c.Ordering.RolloverAt); err != nil {
		return fmt.Errorf("ROLLOVER_AT: %w", err)
	}
	return nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
