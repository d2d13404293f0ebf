package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Events    EventsConfig
	Blob      BlobConfig
	Mail      MailConfig
	Outreach  OutreachConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port      int    `env:"SERVER_PORT" env-default:"5000"`
	Env       string `env:"ENV" env-default:"development"`
	ClientURL string `env:"CLIENT_URL" env-default:"http://localhost:3000"`
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST" env-default:"localhost"`
	Port     int    `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER" env-default:"resolveit"`
	Password string `env:"DB_PASSWORD" env-default:"resolveit"`
	Database string `env:"DB_NAME" env-default:"resolveit"`
	SSLMode  string `env:"DB_SSLMODE" env-default:"disable"`
	// MaxConns caps the pgx pool
	MaxConns int32 `env:"DB_MAX_CONNS" env-default:"25"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// MigrateURL returns the URL form used by the pgx/v5 migrate driver
func (d DatabaseConfig) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// DevJWTSecret is the signing secret used when JWT_SECRET is unset
const DevJWTSecret = "dev-secret-change-in-prod"

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET" env-default:"dev-secret-change-in-prod"`
}

// EventsConfig selects where domain events are exported.
// Driver is one of "none", "kurrentdb" or "kafka".
type EventsConfig struct {
	Driver string `env:"EVENTS_DRIVER" env-default:"none"`

	KurrentHost     string `env:"KURRENTDB_HOST" env-default:"localhost"`
	KurrentPort     int    `env:"KURRENTDB_PORT" env-default:"2113"`
	KurrentInsecure bool   `env:"KURRENTDB_INSECURE" env-default:"true"`
	KurrentUsername string `env:"KURRENTDB_USERNAME"`
	KurrentPassword string `env:"KURRENTDB_PASSWORD"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" env-default:"case-events"`
}

// BlobConfig selects the evidence store. Driver is "local" or "s3".
type BlobConfig struct {
	Driver    string `env:"BLOB_DRIVER" env-default:"local"`
	LocalDir  string `env:"BLOB_LOCAL_DIR" env-default:"uploads"`
	PublicURL string `env:"BLOB_PUBLIC_URL" env-default:"/uploads"`
	S3Bucket  string `env:"BLOB_S3_BUCKET"`
	S3Region  string `env:"BLOB_S3_REGION" env-default:"us-east-1"`
	S3Prefix  string `env:"BLOB_S3_PREFIX" env-default:"evidence"`
}

type MailConfig struct {
	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	FromName       string `env:"MAIL_FROM_NAME" env-default:"ResolveIt"`
	FromAddress    string `env:"MAIL_FROM_ADDRESS" env-default:"no-reply@resolveit.com"`
}

type OutreachConfig struct {
	Enabled  bool          `env:"OUTREACH_ENABLED" env-default:"false"`
	Interval time.Duration `env:"OUTREACH_INTERVAL" env-default:"5m"`
	// BatchSize limits how many cases one sweep handles
	BatchSize int `env:"OUTREACH_BATCH_SIZE" env-default:"50"`
}

type RealtimeConfig struct {
	QueueSize    int           `env:"REALTIME_QUEUE_SIZE" env-default:"64"`
	WriteTimeout time.Duration `env:"REALTIME_WRITE_TIMEOUT" env-default:"10s"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `env:"RATE_LIMIT_RPS" env-default:"5"`
	Burst             int `env:"RATE_LIMIT_BURST" env-default:"10"`
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if cfg.IsProduction() && cfg.Auth.JWTSecret == DevJWTSecret {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	return &cfg, nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
