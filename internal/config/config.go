package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string        `mapstructure:"PORT"`
	AppEnv      string        `mapstructure:"APP_ENV"`
	LogLevel    string        `mapstructure:"LOG_LEVEL"`
	StaticDir   string        `mapstructure:"STATIC_DIR"`
	PublicURL   string        `mapstructure:"PUBLIC_URL"`
	CORSOrigins []string      `mapstructure:"CORS_ORIGINS"`
	AdminEmails []string      `mapstructure:"ADMIN_EMAILS"`
	JWTKey      string        `mapstructure:"JWT_KEY"`
	JWTTTL      time.Duration `mapstructure:"JWT_TTL"`

	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`

	ResendAPIKey string `mapstructure:"RESEND_API_KEY"`
	FromEmail    string `mapstructure:"FROM_EMAIL"`
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	NotificationDispatchInterval time.Duration `mapstructure:"NOTIFICATION_DISPATCH_INTERVAL"`
	DecisionSyncWorkers          int           `mapstructure:"DECISION_SYNC_WORKERS"`
	DecisionSyncMaxAttempts      int           `mapstructure:"DECISION_SYNC_MAX_ATTEMPTS"`
	RetryBaseDelay               time.Duration `mapstructure:"RETRY_BASE_DELAY"`
}

var defaults = map[string]interface{}{
	"PORT":                           "8080",
	"APP_ENV":                        "production",
	"LOG_LEVEL":                      "",
	"STATIC_DIR":                     "dist",
	"PUBLIC_URL":                     "http://localhost:8080",
	"CORS_ORIGINS":                   "http://localhost:5173",
	"ADMIN_EMAILS":                   "",
	"JWT_KEY":                        "",
	"JWT_TTL":                        "24h",
	"MONGO_URI":                      "",
	"MONGO_DATABASE":                 "opportunity_finder",
	"RESEND_API_KEY":                 "",
	"FROM_EMAIL":                     "",
	"SMTP_HOST":                      "",
	"SMTP_PORT":                      587,
	"SMTP_USERNAME":                  "",
	"SMTP_PASSWORD":                  "",
	"KAFKA_BROKERS":                  "",
	"KAFKA_TOPIC":                    "opportunity-notifications",
	"NOTIFICATION_DISPATCH_INTERVAL": "1m",
	"DECISION_SYNC_WORKERS":          4,
	"DECISION_SYNC_MAX_ATTEMPTS":     5,
	"RETRY_BASE_DELAY":               "200ms",
}

// Load reads the configuration from the environment. Call bootstrap.Loadenv first to pick up .env files.
func Load() (*Config, error) {
	vip := viper.New()
	vip.AutomaticEnv()
	for key, value := range defaults {
		vip.SetDefault(key, value)
		if err := vip.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "binding %s", key)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling config")
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.AdminEmails = splitList(cfg.AdminEmails)
	for i, email := range cfg.AdminEmails {
		cfg.AdminEmails[i] = strings.ToLower(email)
	}
	return &cfg, nil
}

// splitList trims entries and drops empty ones, so an unset variable yields an empty list.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the values the server cannot start without.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return errors.New("MONGO_URI is required")
	}
	if c.JWTKey == "" {
		return errors.New("JWT_KEY is required")
	}
	if c.JWTTTL <= 0 {
		return errors.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}
	if c.DecisionSyncWorkers <= 0 {
		return errors.Errorf("DECISION_SYNC_WORKERS must be positive, got %d", c.DecisionSyncWorkers)
	}
	if c.DecisionSyncMaxAttempts <= 0 {
		return errors.Errorf("DECISION_SYNC_MAX_ATTEMPTS must be positive, got %d", c.DecisionSyncMaxAttempts)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// IsAdmin reports whether email is listed in ADMIN_EMAILS.
func (c *Config) IsAdmin(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, admin := range c.AdminEmails {
		if admin == email {
			return true
		}
	}
	return false
}
