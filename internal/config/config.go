// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, storage, authentication, the realtime
// socket, translation, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-social-chat")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig selects how request and socket identities are verified.
type AuthConfig struct {
	Mode      string // jwt|header
	JWTSecret []byte // required when Mode == "jwt"
}

// SocketConfig tunes the websocket gateway.
type SocketConfig struct {
	WriteWait           time.Duration // deadline for a single frame write
	PongWait            time.Duration // read deadline refreshed by pongs
	SendBuffer          int           // per-connection outbound queue
	MaxMessageBytes     int64         // inbound frame cap
	TrustClientIdentity bool          // accept client-supplied userId on reconnect/disconnect
}

// TranslateConfig configures the external translation provider.
type TranslateConfig struct {
	Enabled bool
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful shutdown window
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBDriver           string // sqlite|postgres
	DBPath             string // SQLite path
	DatabaseURL        string // Postgres DSN
	AttachmentsPath    string // Badger directory for image attachments
	MaxAttachmentBytes int    // decoded attachment ceiling
	MaxTextRunes       int    // message body ceiling
	BodyLimitBytes     int64  // request body ceiling (base64 inflates attachments)

	// Identity, realtime, translation
	Auth      AuthConfig
	Socket    SocketConfig
	Translate TranslateConfig

	// Rate limiting
	RateRPS   float64 // tokens per second; 0 disables limiting
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

// Load reads configuration from environment variables, applies defaults,
// normalizes values and validates the result. Every validation problem is
// reported in the returned error, not just the first.
func Load() (Config, error) {
	cfg := fromEnv()
	cfg.normalize()
	return cfg, cfg.Validate()
}

func fromEnv() Config {
	apiKey := getenv("OPENAI_API_KEY", "")

	return Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           getenv("GIN_MODE", "release"),

		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    getenv("API_BASE_PATH", "/api/v1"),

		DBDriver:           getenv("DB_DRIVER", "sqlite"),
		DBPath:             getenv("DB_PATH", "data/chat.db"),
		DatabaseURL:        getenv("DATABASE_URL", ""),
		AttachmentsPath:    getenv("ATTACHMENTS_PATH", "data/attachments"),
		MaxAttachmentBytes: getint("MAX_ATTACHMENT_BYTES", 10<<20),
		MaxTextRunes:       getint("MAX_TEXT_RUNES", 2000),
		BodyLimitBytes:     int64(getint("BODY_LIMIT_BYTES", 16<<20)),

		Auth: AuthConfig{
			Mode:      getenv("AUTH_MODE", "jwt"),
			JWTSecret: []byte(getenv("JWT_SECRET", "")),
		},
		Socket: SocketConfig{
			WriteWait:           getdur("WS_WRITE_WAIT", 10*time.Second),
			PongWait:            getdur("WS_PONG_WAIT", 60*time.Second),
			SendBuffer:          getint("WS_SEND_BUFFER", 256),
			MaxMessageBytes:     int64(getint("WS_MAX_MESSAGE_BYTES", 64<<10)),
			TrustClientIdentity: getbool("WS_TRUST_CLIENT_IDENTITY", false),
		},
		Translate: TranslateConfig{
			Enabled: getbool("TRANSLATE_ENABLED", apiKey != ""),
			APIKey:  apiKey,
			Model:   getenv("TRANSLATE_MODEL", "gpt-4o-mini"),
			Timeout: getdur("TRANSLATE_TIMEOUT", 15*time.Second),
		},

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-social-chat"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
}

// normalize folds case and accepted aliases so Validate only sees canonical values.
func (c *Config) normalize() {
	c.GinMode = strings.ToLower(strings.TrimSpace(c.GinMode))
	if !lo.Contains([]string{"debug", "release", "test"}, c.GinMode) {
		c.GinMode = "release"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	if c.DBDriver == "postgresql" {
		c.DBDriver = "postgres"
	}
	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	c.APIBasePath = normalizeBasePath(c.APIBasePath)
}

var logLevels = []string{"debug", "info", "warn", "error", "fatal", "panic"}

// Validate checks a normalized Config and joins every violation into one error.
func (c Config) Validate() error {
	var errs []error
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, errors.New(msg))
		}
	}

	check(!lo.Contains(logLevels, c.LogLevel), "LOG_LEVEL must be one of: "+strings.Join(logLevels, ", "))
	check(strings.TrimSpace(c.Port) == "", "PORT must not be empty")
	check(lo.Min([]time.Duration{c.ReadTimeout, c.ReadHeaderTimeout, c.WriteTimeout, c.IdleTimeout, c.ShutdownTimeout}) <= 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DBDriver {
	case "sqlite":
		check(strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DatabaseURL) == "", "DATABASE_URL is required when DB_DRIVER=postgres")
	default:
		check(true, "DB_DRIVER must be one of: sqlite, postgres")
	}
	check(strings.TrimSpace(c.AttachmentsPath) == "", "ATTACHMENTS_PATH must not be empty")
	check(c.MaxAttachmentBytes <= 0, "MAX_ATTACHMENT_BYTES must be > 0")
	check(c.MaxTextRunes <= 0, "MAX_TEXT_RUNES must be > 0")
	check(c.BodyLimitBytes <= 0, "BODY_LIMIT_BYTES must be > 0")

	switch c.Auth.Mode {
	case "jwt":
		check(len(c.Auth.JWTSecret) == 0, "JWT_SECRET is required when AUTH_MODE=jwt")
	case "header":
	default:
		check(true, "AUTH_MODE must be one of: jwt, header")
	}

	check(c.Socket.WriteWait <= 0 || c.Socket.PongWait <= 0, "WS_WRITE_WAIT and WS_PONG_WAIT must be positive durations")
	check(c.Socket.SendBuffer < 1, "WS_SEND_BUFFER must be >= 1")
	check(c.Socket.MaxMessageBytes <= 0, "WS_MAX_MESSAGE_BYTES must be > 0")
	check(c.Socket.MaxMessageBytes > c.BodyLimitBytes, "WS_MAX_MESSAGE_BYTES must not exceed BODY_LIMIT_BYTES")
	check(c.Translate.Timeout <= 0, "TRANSLATE_TIMEOUT must be > 0")
	check(c.Translate.Enabled && c.Translate.APIKey == "", "OPENAI_API_KEY is required when TRANSLATE_ENABLED")

	check(c.RateRPS < 0, "RATE_RPS must be >= 0")
	check(c.RateBurst < 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

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
	parts := lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
	if len(parts) == 0 {
		return nil
	}
	return parts
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
