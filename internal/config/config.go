// Package config loads the server configuration from environment variables.
// A .env file in the working directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// Config holds all runtime configuration values.  Sub-structs group the
// settings of one component each.
type Config struct {
	Env           string        // application environment (dev, test, prod)
	Port          string        // HTTP port to listen on
	PublicBaseURL string        // base for ticket and document URLs
	JWTSecret     string        // HS256 key for kiosk and admin tokens
	KioskTokenTTL time.Duration // lifetime of issued kiosk credentials
	RabbitURL     string        // render job broker; empty selects the simulated renderer
	// SandboxKiosks maps kiosk id to device secret for the in-memory
	// registry used when no database is configured.
	SandboxKiosks map[string]string

	DB      DBConfig
	Kafka   KafkaConfig
	Session SessionConfig
	Payment PaymentConfig
	Video   VideoConfig
}

// DBConfig addresses the MySQL registry database.  An empty Host disables
// the repositories.
type DBConfig struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

// Enabled reports whether a database is configured.
func (c DBConfig) Enabled() bool { return c.Host != "" }

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// SessionConfig holds the Session Store timers.
type SessionConfig struct {
	IdleTimeout    time.Duration
	StateTimeouts  map[model.State]time.Duration
	ReconnectGrace time.Duration
	SweepInterval  time.Duration
	Retention      time.Duration
}

// PaymentConfig selects and tunes the payment provider.  Prices are in KRW.
type PaymentConfig struct {
	Provider           string
	GatewayURL         string
	APIKey             string
	WebhookSecret      string
	Timeout            time.Duration
	AllowClientConfirm bool
	Prices             map[model.DurationTier]int64
}

type VideoConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Load reads configuration values from the environment.  Missing required
// variables and malformed values are fatal.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("config: .env not loaded: %v", err)
	}
	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromEnv builds a Config from the current environment.
func FromEnv() (Config, error) {
	secret, ok := os.LookupEnv("JWT_SECRET")
	if !ok || secret == "" {
		return Config{}, fmt.Errorf("missing required env var: JWT_SECRET")
	}
	overrides, err := ParseStateTimeouts(os.Getenv("SESSION_STATE_TIMEOUTS"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Env:           envStr("APP_ENV", "dev"),
		Port:          envStr("APP_PORT", "8080"),
		PublicBaseURL: strings.TrimRight(envStr("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		JWTSecret:     secret,
		KioskTokenTTL: envDur("KIOSK_TOKEN_TTL", 12*time.Hour),
		RabbitURL:     os.Getenv("RABBITMQ_URL"),
		SandboxKiosks: parsePairs(envStr("SANDBOX_KIOSKS", "kiosk-1:dev-secret")),
		DB: DBConfig{
			User: os.Getenv("DB_USER"),
			Pass: os.Getenv("DB_PASS"),
			Host: os.Getenv("DB_HOST"),
			Port: envStr("DB_PORT", "3306"),
			Name: envStr("DB_NAME", "kiosk"),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envStr("KAFKA_AUDIT_TOPIC", "kiosk.session.transitions"),
		},
		Session: SessionConfig{
			IdleTimeout:    envDur("SESSION_IDLE_TIMEOUT", 3*time.Minute),
			StateTimeouts:  overrides,
			ReconnectGrace: envDur("SESSION_RECONNECT_GRACE", 60*time.Second),
			SweepInterval:  envDur("SESSION_SWEEP_INTERVAL", 5*time.Second),
			Retention:      envDur("SESSION_ARCHIVE_RETENTION", 10*time.Minute),
		},
		Payment: PaymentConfig{
			Provider:           strings.ToLower(envStr("PAYMENT_PROVIDER", "sandbox")),
			GatewayURL:         os.Getenv("PAYMENT_GATEWAY_URL"),
			APIKey:             os.Getenv("PAYMENT_API_KEY"),
			WebhookSecret:      os.Getenv("PAYMENT_WEBHOOK_SECRET"),
			Timeout:            envDur("PAYMENT_TIMEOUT", 3*time.Minute),
			AllowClientConfirm: envBool("PAYMENT_ALLOW_CLIENT_CONFIRM", false),
			Prices: map[model.DurationTier]int64{
				model.Duration1Day:    int64(envInt("PRICE_1_DAY", 5000)),
				model.Duration30Days:  int64(envInt("PRICE_30_DAYS", 30000)),
				model.Duration6Months: int64(envInt("PRICE_6_MONTHS", 150000)),
				model.Duration1Year:   int64(envInt("PRICE_1_YEAR", 250000)),
			},
		},
		Video: VideoConfig{
			MaxAttempts:  envInt("VIDEO_MAX_ATTEMPTS", 3),
			RetryBackoff: envDur("VIDEO_RETRY_BACKOFF", 2*time.Second),
		},
	}

	switch cfg.Payment.Provider {
	case "sandbox":
	case "http":
		if cfg.Payment.GatewayURL == "" {
			return Config{}, fmt.Errorf("PAYMENT_GATEWAY_URL is required for the http provider")
		}
		if cfg.Payment.WebhookSecret == "" {
			return Config{}, fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required for the http provider")
		}
	default:
		return Config{}, fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.Payment.Provider)
	}
	if cfg.Video.MaxAttempts < 1 {
		cfg.Video.MaxAttempts = 1
	}
	return cfg, nil
}

// ParseStateTimeouts parses "state=duration" pairs separated by commas,
// e.g. "video_generation=10m,mobile_payment=6m".
func ParseStateTimeouts(s string) (map[model.State]time.Duration, error) {
	out := map[model.State]time.Duration{}
	for _, pair := range splitList(s) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("SESSION_STATE_TIMEOUTS: %q is not state=duration", pair)
		}
		st := model.State(strings.TrimSpace(k))
		if !st.Valid() || st.Terminal() {
			return nil, fmt.Errorf("SESSION_STATE_TIMEOUTS: unknown state %q", k)
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("SESSION_STATE_TIMEOUTS: invalid duration for %s: %q", st, v)
		}
		out[st] = d
	}
	return out, nil
}

// parsePairs parses "id:secret" pairs separated by commas.  Malformed
// pairs are skipped.
func parsePairs(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range splitList(s) {
		if k, v, ok := strings.Cut(pair, ":"); ok && k != "" && v != "" {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
