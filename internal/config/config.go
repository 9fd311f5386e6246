// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"snipebot/internal/allowlist"
	"snipebot/pkg/snipebot"
)

// Driver names accepted by DRIVER.
const (
	DriverDiscord  = "discord"
	DriverTelegram = "telegram"
)

// ErrMissingToken indicates that the selected driver has no credentials.
var ErrMissingToken = errors.New("config: missing token")

// Config is the full process configuration.
type Config struct {
	CommandPrefix string `env:"COMMAND_PREFIX" envDefault:"!!"`
	ServerID      string `env:"SERVER_ID" envDefault:"1216444463262470324"`
	Timezone      string `env:"TIMEZONE" envDefault:"Europe/Paris"`
	Driver        string `env:"DRIVER" envDefault:"discord"`

	DiscordToken     string `env:"DISCORD_TOKEN"`
	PresenceStatus   string `env:"PRESENCE_STATUS" envDefault:"dnd"`
	PresenceActivity string `env:"PRESENCE_ACTIVITY" envDefault:"vos messages"`

	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAppID       int    `env:"TELEGRAM_APP_ID"`
	TelegramAppHash     string `env:"TELEGRAM_APP_HASH"`
	TelegramSessionFile string `env:"TELEGRAM_SESSION_FILE" envDefault:".cache/telegram/session.json"`
	TelegramUpdateQueue int    `env:"TELEGRAM_UPDATE_QUEUE" envDefault:"256"`

	AllowListBackend   string   `env:"ALLOWLIST_BACKEND" envDefault:"file"`
	AllowListPath      string   `env:"ALLOWLIST_PATH" envDefault:"data/whitelist.json"`
	AllowListPebbleDir string   `env:"ALLOWLIST_PEBBLE_DIR" envDefault:"data/allowlist"`
	AdminUserIDs       []string `env:"ADMIN_USER_IDS" envSeparator:","`

	HistoryDepth     int           `env:"HISTORY_DEPTH" envDefault:"5"`
	IdentityCapacity int           `env:"IDENTITY_CAPACITY" envDefault:"500"`
	Retention        time.Duration `env:"RETENTION" envDefault:"0s"`

	CommandCooldown time.Duration `env:"COMMAND_COOLDOWN" envDefault:"2s"`
	CommandBurst    int           `env:"COMMAND_BURST" envDefault:"3"`

	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	SubscriptionBuffer  int           `env:"SUBSCRIPTION_BUFFER" envDefault:"256"`
	SubscriptionWorkers int           `env:"SUBSCRIPTION_WORKERS" envDefault:"2"`
	HandlerTimeout      time.Duration `env:"HANDLER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	location *time.Location
	level    slog.Level
}

// Load reads an optional .env file, parses the environment and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return Parse(env.Options{})
}

// Parse parses configuration with opts and validates it.
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values and resolves the display location and log level.
func (c *Config) Validate() error {
	if err := snipebot.ValidateCommandPrefix(c.CommandPrefix); err != nil {
		return fmt.Errorf("COMMAND_PREFIX: %w", err)
	}
	if strings.TrimSpace(c.ServerID) == "" {
		return fmt.Errorf("SERVER_ID is required")
	}

	location, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	c.location = location

	switch c.Driver {
	case DriverDiscord:
		if strings.TrimSpace(c.DiscordToken) == "" {
			return fmt.Errorf("%w: DISCORD_TOKEN is required", ErrMissingToken)
		}
	case DriverTelegram:
		if strings.TrimSpace(c.TelegramBotToken) == "" {
			return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is required", ErrMissingToken)
		}
		if c.TelegramAppID <= 0 || strings.TrimSpace(c.TelegramAppHash) == "" {
			return fmt.Errorf("%w: TELEGRAM_APP_ID and TELEGRAM_APP_HASH are required", ErrMissingToken)
		}
	default:
		return fmt.Errorf("DRIVER: unsupported driver %q", c.Driver)
	}

	switch allowlist.Backend(c.AllowListBackend) {
	case allowlist.BackendFile, allowlist.BackendPebble:
	default:
		return fmt.Errorf("ALLOWLIST_BACKEND: unsupported backend %q", c.AllowListBackend)
	}

	if c.HistoryDepth <= 0 {
		return fmt.Errorf("HISTORY_DEPTH: must be > 0")
	}
	if c.IdentityCapacity <= 0 {
		return fmt.Errorf("IDENTITY_CAPACITY: must be > 0")
	}
	if c.Retention < 0 {
		return fmt.Errorf("RETENTION: must be >= 0")
	}
	if c.CommandCooldown < 0 || c.CommandBurst <= 0 {
		return fmt.Errorf("COMMAND_COOLDOWN/COMMAND_BURST: cooldown must be >= 0 and burst > 0")
	}
	if c.SubscriptionBuffer <= 0 || c.SubscriptionWorkers <= 0 {
		return fmt.Errorf("SUBSCRIPTION_BUFFER/SUBSCRIPTION_WORKERS: must be > 0")
	}
	if c.HandlerTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("HANDLER_TIMEOUT/SHUTDOWN_TIMEOUT: must be > 0")
	}

	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	c.level = level
	if !slices.Contains([]string{"json", "text"}, c.LogFormat) {
		return fmt.Errorf("LOG_FORMAT: unsupported format %q", c.LogFormat)
	}

	c.AdminUserIDs = slices.DeleteFunc(c.AdminUserIDs, func(id string) bool {
		return strings.TrimSpace(id) == ""
	})
	for idx := range c.AdminUserIDs {
		c.AdminUserIDs[idx] = strings.TrimSpace(c.AdminUserIDs[idx])
	}

	return nil
}

// Location returns the display timezone resolved by Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}

	return c.location
}

// Level returns the log level resolved by Validate.
func (c *Config) Level() slog.Level {
	return c.level
}

// AllowList returns the allow-list backend selection.
func (c *Config) AllowList() allowlist.Config {
	return allowlist.Config{
		Backend:   allowlist.Backend(c.AllowListBackend),
		FilePath:  c.AllowListPath,
		PebbleDir: c.AllowListPebbleDir,
	}
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
