package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		MediaDir:              "media",
		TelegramBotUsername:   "sentinel_bot",
		DispatchQueueSize:     256,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.MediaDir != "media" {
		t.Errorf("MediaDir = %q, want %q", c.MediaDir, "media")
	}
	if c.TelegramBotUsername != "sentinel_bot" {
		t.Errorf("TelegramBotUsername = %q, want %q", c.TelegramBotUsername, "sentinel_bot")
	}
	if c.DispatchQueueSize != 256 {
		t.Errorf("DispatchQueueSize = %d, want 256", c.DispatchQueueSize)
	}
	if c.DatabaseURL != "" || c.BotURL != "" || c.DeviceAPIToken != "" {
		t.Error("DatabaseURL, BotURL and DeviceAPIToken should default to empty")
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://localhost/sentinel",
		"-bot-url", "http://bot:8000/notify",
		"-media-dir", "/var/lib/sentinel/media",
		"-media-base-url", "https://media.example.com",
		"-telegram-bot-username", "acme_alerts_bot",
		"-device-api-token", "tok-123",
		"-dispatch-queue-size", "1024",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.DatabaseURL != "postgres://localhost/sentinel" {
		t.Errorf("DatabaseURL = %q, want %q", c.DatabaseURL, "postgres://localhost/sentinel")
	}
	if c.BotURL != "http://bot:8000/notify" {
		t.Errorf("BotURL = %q, want %q", c.BotURL, "http://bot:8000/notify")
	}
	if c.MediaBaseURL != "https://media.example.com" {
		t.Errorf("MediaBaseURL = %q, want %q", c.MediaBaseURL, "https://media.example.com")
	}
	if c.TelegramBotUsername != "acme_alerts_bot" {
		t.Errorf("TelegramBotUsername = %q, want %q", c.TelegramBotUsername, "acme_alerts_bot")
	}
	if c.DeviceAPIToken != "tok-123" {
		t.Errorf("DeviceAPIToken = %q, want %q", c.DeviceAPIToken, "tok-123")
	}
	if c.DispatchQueueSize != 1024 {
		t.Errorf("DispatchQueueSize = %d, want 1024", c.DispatchQueueSize)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: Config{
				DrainSeconds: 1, ShutdownBudgetSeconds: 2, APIPort: 1,
				MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 1,
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: Config{
				DrainSeconds: 299, ShutdownBudgetSeconds: 300, APIPort: 65535,
				MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 100000,
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       Config{DrainSeconds: 0, ShutdownBudgetSeconds: 90, APIPort: 8080, MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 1},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       Config{DrainSeconds: 301, ShutdownBudgetSeconds: 302, APIPort: 8080, MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 1},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 0, APIPort: 8080, MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 1},
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 60, APIPort: 8080, MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 1},
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name: "budget is drain plus one",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 61, APIPort: 8080,
				MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 1,
			},
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 0, MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 1},
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 65536, MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 1},
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Required string fields
		{
			name: "empty media dir",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				MediaDir: "", TelegramBotUsername: "b", DispatchQueueSize: 1,
			},
			wantErr:   true,
			errSubstr: []string{"MEDIA_DIR"},
		},
		{
			name: "empty bot username",
			cfg: Config{
				DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080,
				MediaDir: "m", TelegramBotUsername: "", DispatchQueueSize: 1,
			},
			wantErr:   true,
			errSubstr: []string{"TELEGRAM_BOT_USERNAME"},
		},
		// DispatchQueueSize boundaries
		{
			name:      "queue size zero",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 0},
			wantErr:   true,
			errSubstr: []string{"DISPATCH_QUEUE_SIZE"},
		},
		{
			name:      "queue size above max",
			cfg:       Config{DrainSeconds: 60, ShutdownBudgetSeconds: 90, APIPort: 8080, MediaDir: "m", TelegramBotUsername: "b", DispatchQueueSize: 100001},
			wantErr:   true,
			errSubstr: []string{"DISPATCH_QUEUE_SIZE"},
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "MEDIA_DIR", "TELEGRAM_BOT_USERNAME", "DISPATCH_QUEUE_SIZE"},
		},
		// Extreme values
		{
			name:      "extreme negative values",
			cfg:       Config{DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32, APIPort: math.MinInt32, DispatchQueueSize: math.MinInt32},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "DISPATCH_QUEUE_SIZE"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, queue int
		mediaDir, botUsername      string
	}{
		{60, 90, 8080, 256, "media", "sentinel_bot"},
		{1, 2, 1, 1, "m", "b"},
		{299, 300, 65535, 100000, "m", "b"},
		{0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, "", ""},
		{300, 300, 65535, 1, "m", "b"},
		{301, 302, 65536, 100001, "", ""},
		{150, 100, 8080, 256, "m", "b"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.queue, s.mediaDir, s.botUsername)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, queue int, mediaDir, botUsername string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			MediaDir:              mediaDir,
			TelegramBotUsername:   botUsername,
			DispatchQueueSize:     queue,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		mediaOK := mediaDir != ""
		botOK := botUsername != ""
		queueOK := queue >= 1 && queue <= 100000

		allValid := drainOK && budgetOK && portOK && crossOK && mediaOK && botOK && queueOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
