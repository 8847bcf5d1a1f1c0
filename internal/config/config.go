package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"saldobot/internal/entities"
)

const (
	CacheBackendRedis    = "redis"
	CacheBackendPostgres = "postgres"

	SessionModePerSender = "per-sender"
	SessionModeSingle    = "single"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":3002"`

	CacheBackend string `env:"CACHE_BACKEND" envDefault:"redis"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	DatabaseURL  string `env:"DATABASE_URL"`

	WhatsAppDBPath   string `env:"WHATSAPP_DB_PATH" envDefault:"whatsapp.db"`
	WhatsAppLogLevel string `env:"WHATSAPP_LOG_LEVEL" envDefault:"WARN"`

	NoSaldoPhrases        []string      `env:"NO_SALDO_PHRASES" envSeparator:","`
	AmountRequireCurrency bool          `env:"AMOUNT_REQUIRE_CURRENCY" envDefault:"false"`
	FlowsFile             string        `env:"FLOWS_FILE"`
	StrictSenders         bool          `env:"STRICT_SENDERS" envDefault:"false"`
	SessionMode           string        `env:"SESSION_MODE" envDefault:"per-sender"`
	PendingTTL            time.Duration `env:"PENDING_TTL" envDefault:"10m"`
	TriggerText           string        `env:"TRIGGER_TEXT" envDefault:"SALDO"`
	FailureReply          string        `env:"FAILURE_REPLY"`
	BalanceLocale         string        `env:"BALANCE_LOCALE" envDefault:"es-AR"`

	JWTSecret         string  `env:"JWT_SECRET"`
	AdminUser         string  `env:"API_ADMIN_USER" envDefault:"admin"`
	AdminPasswordHash string  `env:"API_ADMIN_PASSWORD_HASH"`
	RateLimitRPS      float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`

	RefreshSchedule string        `env:"REFRESH_SCHEDULE"`
	RefreshAccounts []string      `env:"REFRESH_ACCOUNTS" envSeparator:","`
	RefreshStagger  time.Duration `env:"REFRESH_STAGGER" envDefault:"2m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{})
}

// FromMap parses configuration from an explicit environment, for tests and tooling.
func FromMap(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.NoSaldoPhrases = compact(cfg.NoSaldoPhrases)
	cfg.RefreshAccounts = compact(cfg.RefreshAccounts)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.CacheBackend {
	case CacheBackendRedis:
	case CacheBackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when CACHE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.SessionMode != SessionModePerSender && c.SessionMode != SessionModeSingle {
		return fmt.Errorf("unsupported SESSION_MODE %q", c.SessionMode)
	}
	if c.BalanceLocale != "es-AR" && c.BalanceLocale != "en-US" {
		return fmt.Errorf("unsupported BALANCE_LOCALE %q", c.BalanceLocale)
	}
	if c.AuthEnabled() && c.AdminPasswordHash == "" {
		return errors.New("API_ADMIN_PASSWORD_HASH is required when JWT_SECRET is set")
	}
	if strings.TrimSpace(c.TriggerText) == "" {
		return errors.New("TRIGGER_TEXT must not be empty")
	}
	if c.RefreshSchedule != "" && len(c.RefreshAccounts) == 0 {
		return errors.New("REFRESH_ACCOUNTS is required when REFRESH_SCHEDULE is set")
	}
	if _, err := c.RefreshTargets(); err != nil {
		return err
	}
	return nil
}

func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func (c Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func (c Config) SingleSlotSession() bool {
	return c.SessionMode == SessionModeSingle
}

// RefreshTargets parses REFRESH_ACCOUNTS entries of the form SERVICE:account.
func (c Config) RefreshTargets() ([]entities.RefreshTarget, error) {
	targets := make([]entities.RefreshTarget, 0, len(c.RefreshAccounts))
	for _, entry := range c.RefreshAccounts {
		service, account, ok := strings.Cut(entry, ":")
		service, account = strings.TrimSpace(service), strings.TrimSpace(account)
		if !ok || service == "" || account == "" {
			return nil, fmt.Errorf("invalid REFRESH_ACCOUNTS entry %q (want SERVICE:account)", entry)
		}
		targets = append(targets, entities.RefreshTarget{Service: service, AccountNumber: account})
	}
	return targets, nil
}

// SenderIdentities resolves the {SERVICE}_NUM variable of every service once.
// Services without a value are absent from the result.
func SenderIdentities(services []string, lookup func(string) (string, bool)) map[string]string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	senders := make(map[string]string, len(services))
	for _, name := range services {
		value, ok := lookup(SenderVariable(name))
		value = strings.TrimSpace(value)
		if ok && value != "" {
			senders[name] = value
		}
	}
	return senders
}

func SenderVariable(service string) string {
	return strings.ToUpper(service) + "_NUM"
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
