package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	BotURL                string
	MediaDir              string
	MediaBaseURL          string
	TelegramBotUsername   string
	DeviceAPIToken        string
	DispatchQueueSize     int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.BotURL, "bot-url", "", "telegram bot notification endpoint (empty = notifications disabled)")
	fs.StringVar(&c.MediaDir, "media-dir", "media", "filesystem root for stored alert images and videos")
	fs.StringVar(&c.MediaBaseURL, "media-base-url", "", "public base URL prefixed to stored media paths in bot payloads")
	fs.StringVar(&c.TelegramBotUsername, "telegram-bot-username", "sentinel_bot", "bot username used to build t.me registration deep links")
	fs.StringVar(&c.DeviceAPIToken, "device-api-token", "", "bearer token required on the alert intake endpoint (empty = open)")
	fs.IntVar(&c.DispatchQueueSize, "dispatch-queue-size", 256, "notification queue capacity; enqueues drop when full (1..100000)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Media root is where intake persists image/video blobs
	if c.MediaDir == "" {
		errs = append(errs, errors.New("MEDIA_DIR is required"))
	}

	// Bot username is embedded in registration deep links
	if c.TelegramBotUsername == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_USERNAME is required"))
	}

	if c.DispatchQueueSize <= 0 || c.DispatchQueueSize > 100000 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_QUEUE_SIZE %d (must be 1..100000)", c.DispatchQueueSize))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
