package config

import (
	"log"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"afyalog/pkg/hash"
)

type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR,default=:8080"`
	DatabaseURL   string `env:"DATABASE_URL"`
	StorageDriver string `env:"STORAGE_DRIVER,default=postgres"` // "postgres" или "memory"
	JWTSecret     string `env:"JWT_SECRET"`
	CORSOrigins   string `env:"CORS_ORIGINS,default=http://localhost:3000"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	MetricsUser     string `env:"METRICS_USER,default=metrics"`
	MetricsPassword string `env:"METRICS_PASSWORD"`

	GatewayMode            string        `env:"GATEWAY_MODE,default=sandbox"` // "intasend" или "sandbox"
	IntaSendBaseURL        string        `env:"INTASEND_BASE_URL,default=https://sandbox.intasend.com/api"`
	IntaSendSecretKey      string        `env:"INTASEND_SECRET_KEY"`
	IntaSendPublishableKey string        `env:"INTASEND_PUBLISHABLE_KEY"`
	GatewayTimeout         time.Duration `env:"GATEWAY_TIMEOUT,default=15s"`

	PaymentTTL        time.Duration `env:"PAYMENT_TTL,default=10m"`
	RegistrationTTL   time.Duration `env:"REGISTRATION_TTL,default=10m"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL,default=1m"`
	WebhookChallenge  string        `env:"WEBHOOK_CHALLENGE"`
	LateSuccessPolicy string        `env:"LATE_SUCCESS_POLICY,default=reject"` // "reject" или "grant"

	// Лимиты на клиента (user id или IP). Вебхук шлёт только шлюз, у него свой лимит.
	APIRateLimit     float64 `env:"API_RATE_LIMIT,default=5"`
	APIBurst         int     `env:"API_BURST,default=20"`
	WebhookRateLimit float64 `env:"WEBHOOK_RATE_LIMIT,default=50"`
	WebhookBurst     int     `env:"WEBHOOK_BURST,default=200"`

	BcryptCost int `env:"BCRYPT_COST,default=10"`
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found")
	}

	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	return cfg
}

// FromEnv decodes and validates the process environment without touching .env.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, errors.Wrap(err, "decode environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres storage driver")
		}
	case "memory":
	default:
		return errors.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.GatewayMode {
	case "intasend":
		if c.IntaSendSecretKey == "" || c.IntaSendPublishableKey == "" {
			return errors.New("INTASEND_SECRET_KEY and INTASEND_PUBLISHABLE_KEY are required in intasend mode")
		}
	case "sandbox":
	default:
		return errors.Errorf("unsupported GATEWAY_MODE %q", c.GatewayMode)
	}

	if c.LateSuccessPolicy != "reject" && c.LateSuccessPolicy != "grant" {
		return errors.Errorf("unsupported LATE_SUCCESS_POLICY %q", c.LateSuccessPolicy)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.PaymentTTL <= 0 || c.RegistrationTTL <= 0 || c.ReconcileInterval <= 0 {
		return errors.New("PAYMENT_TTL, REGISTRATION_TTL and RECONCILE_INTERVAL must be positive")
	}
	if c.APIRateLimit <= 0 || c.APIBurst <= 0 || c.WebhookRateLimit <= 0 || c.WebhookBurst <= 0 {
		return errors.New("rate limits and bursts must be positive")
	}
	if err := hash.ValidateCost(c.BcryptCost); err != nil {
		return errors.Wrap(err, "BCRYPT_COST")
	}
	return nil
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
