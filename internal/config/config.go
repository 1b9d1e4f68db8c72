// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, logging, persistence, the Telegram bot, the dialog provider,
// priority payments, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "ideabot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and configures the relational store.
type DBConfig struct {
	Driver  string // sqlite|postgres
	Path    string // SQLite path
	URL     string // Postgres DSN
	Migrate bool   // run SQL migrations on boot (postgres)
	Metrics bool   // export connection pool stats to Prometheus
}

// TelegramConfig configures the bot and the channel it publishes to.
type TelegramConfig struct {
	Token         string
	ChannelID     int64
	Mode          string // webhook|polling
	WebhookURL    string
	WebhookSecret string
	APITimeout    time.Duration
	AdminIDs      []int64
	RelayRPS      float64 // per-user free-text relay rate
	RelayBurst    int
}

// DialogConfig configures the conversational provider.
type DialogConfig struct {
	Provider string // voiceflow|botpress|openai|none
	Timeout  time.Duration
	MaxText  int // input truncation (runes)

	VoiceflowKey     string
	VoiceflowVersion string
	VoiceflowBaseURL string

	BotpressKey       string
	BotpressBotID     string
	BotpressBaseURL   string
	BotpressPollDelay time.Duration

	OpenAIKey          string
	OpenAIModel        string
	OpenAISystemPrompt string
}

// PriorityConfig configures the paid priority boost.
type PriorityConfig struct {
	Boost    int    // vote increment per paid boost
	Stars    int    // invoice amount
	Currency string // XTR for Telegram Stars
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful drain
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogRedact      bool   // redact query strings in access logs
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes
	AdminToken     string // bearer token for ledger admin routes (empty = disabled)

	// Persistence
	DB DBConfig

	// Sessions
	RedisURL   string        // empty = in-memory store
	SessionTTL time.Duration // idle session lifetime

	// Bot / dialog / payments
	Telegram TelegramConfig
	Dialog   DialogConfig
	Priority PriorityConfig

	// Extraction limits
	MaxImageMB int
	MaxDocMB   int

	// Ledger
	TopIdeasLimit int   // entries on the pinned board
	NodeID        int64 // snowflake node [0..1023]

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      getint64("MAX_BODY_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		LogRedact:      getbool("LOG_REDACT", true),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		AdminToken:     getenv("ADMIN_TOKEN", ""),

		// Persistence
		DB: DBConfig{
			Driver:  strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:    getenv("DB_PATH", "ideabot.db"),
			URL:     getenv("DATABASE_URL", ""),
			Migrate: getbool("DB_MIGRATE", true),
			Metrics: getbool("METRICS_DB", false),
		},

		// Sessions
		RedisURL:   getenv("REDIS_URL", ""),
		SessionTTL: getdur("SESSION_TTL", 30*time.Minute),

		Telegram: TelegramConfig{
			Token:         getenv("TELEGRAM_BOT_TOKEN", ""),
			ChannelID:     getint64("TELEGRAM_CHANNEL_ID", 0),
			Mode:          strings.ToLower(getenv("TELEGRAM_MODE", "polling")),
			WebhookURL:    getenv("TELEGRAM_WEBHOOK_URL", ""),
			WebhookSecret: getenv("TELEGRAM_WEBHOOK_SECRET", ""),
			APITimeout:    getdur("TELEGRAM_API_TIMEOUT", 10*time.Second),
			AdminIDs:      splitInt64CSV(getenv("ADMIN_USER_IDS", "")),
			RelayRPS:      getfloat("RELAY_RPS", 0.5),
			RelayBurst:    getint("RELAY_BURST", 3),
		},

		Dialog: DialogConfig{
			Provider: strings.ToLower(getenv("DIALOG_PROVIDER", "none")),
			Timeout:  getdur("DIALOG_TIMEOUT", 20*time.Second),
			MaxText:  getint("DIALOG_MAX_TEXT", 6000),

			VoiceflowKey:     getenv("VOICEFLOW_API_KEY", ""),
			VoiceflowVersion: getenv("VOICEFLOW_VERSION_ID", "production"),
			VoiceflowBaseURL: getenv("VOICEFLOW_BASE_URL", "https://general-runtime.voiceflow.com"),

			BotpressKey:       getenv("BOTPRESS_API_KEY", ""),
			BotpressBotID:     getenv("BOTPRESS_BOT_ID", ""),
			BotpressBaseURL:   getenv("BOTPRESS_BASE_URL", "https://api.botpress.cloud/v1"),
			BotpressPollDelay: getdur("BOTPRESS_POLL_DELAY", time.Second),

			OpenAIKey:          getenv("OPENAI_API_KEY", ""),
			OpenAIModel:        getenv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAISystemPrompt: getenv("OPENAI_SYSTEM_PROMPT", ""),
		},

		Priority: PriorityConfig{
			Boost:    getint("PRIORITY_BOOST", 10),
			Stars:    getint("PRIORITY_STARS", 300),
			Currency: strings.ToUpper(getenv("PRIORITY_CURRENCY", "XTR")),
		},

		MaxImageMB: getint("MAX_IMAGE_MB", 15),
		MaxDocMB:   getint("MAX_DOC_MB", 20),

		TopIdeasLimit: getint("TOP_IDEAS_LIMIT", 10),
		NodeID:        getint64("NODE_ID", 1),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "ideabot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if p, err := strconv.Atoi(cfg.Port); err != nil || p <= 0 || p > 65535 {
		return cfg, errors.New("PORT must be a number in 1..65535")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.GinMode == "release" && strings.TrimSpace(cfg.AdminToken) == "" {
		return cfg, errors.New("ADMIN_TOKEN is required when GIN_MODE=release")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.SessionTTL <= 0 {
		return cfg, errors.New("SESSION_TTL must be > 0")
	}
	switch cfg.Telegram.Mode {
	case "polling":
	case "webhook":
		if strings.TrimSpace(cfg.Telegram.WebhookURL) == "" {
			return cfg, errors.New("TELEGRAM_WEBHOOK_URL is required when TELEGRAM_MODE=webhook")
		}
	default:
		return cfg, errors.New("TELEGRAM_MODE must be one of: webhook, polling")
	}
	if cfg.Telegram.APITimeout <= 0 {
		return cfg, errors.New("TELEGRAM_API_TIMEOUT must be > 0")
	}
	if cfg.Telegram.RelayRPS < 0 || cfg.Telegram.RelayBurst < 1 {
		return cfg, errors.New("RELAY_RPS must be >= 0 and RELAY_BURST >= 1")
	}
	switch cfg.Dialog.Provider {
	case "none":
	case "voiceflow":
		if cfg.Dialog.VoiceflowKey == "" {
			return cfg, errors.New("VOICEFLOW_API_KEY is required when DIALOG_PROVIDER=voiceflow")
		}
	case "botpress":
		if cfg.Dialog.BotpressKey == "" || cfg.Dialog.BotpressBotID == "" {
			return cfg, errors.New("BOTPRESS_API_KEY and BOTPRESS_BOT_ID are required when DIALOG_PROVIDER=botpress")
		}
	case "openai":
		if cfg.Dialog.OpenAIKey == "" {
			return cfg, errors.New("OPENAI_API_KEY is required when DIALOG_PROVIDER=openai")
		}
	default:
		return cfg, errors.New("DIALOG_PROVIDER must be one of: voiceflow, botpress, openai, none")
	}
	if cfg.Dialog.Timeout <= 0 {
		return cfg, errors.New("DIALOG_TIMEOUT must be > 0")
	}
	if cfg.Dialog.MaxText < 1 {
		return cfg, errors.New("DIALOG_MAX_TEXT must be >= 1")
	}
	if cfg.Priority.Boost <= 0 || cfg.Priority.Stars <= 0 {
		return cfg, errors.New("PRIORITY_BOOST and PRIORITY_STARS must be > 0")
	}
	if cfg.MaxImageMB <= 0 || cfg.MaxDocMB <= 0 {
		return cfg, errors.New("MAX_IMAGE_MB and MAX_DOC_MB must be > 0")
	}
	if cfg.TopIdeasLimit < 1 {
		return cfg, errors.New("TOP_IDEAS_LIMIT must be >= 1")
	}
	if cfg.NodeID < 0 || cfg.NodeID > 1023 {
		return cfg, errors.New("NODE_ID must be in [0,1023]")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// IsAdmin reports whether the Telegram user id is listed in ADMIN_USER_IDS.
func (c TelegramConfig) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitInt64CSV parses a comma list of ids, skipping malformed entries.
func splitInt64CSV(s string) []int64 {
	parts := splitCSV(s)
	if len(parts) == 0 {
		return nil
	}
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
