package config

import (
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// HTTP
	// ----------------------------
	Port        string `envconfig:"PORT" default:"5000"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	MaxUploadMB int64  `envconfig:"MAX_UPLOAD_MB" default:"25"`

	// ----------------------------
	// Workflow
	// ----------------------------
	UploadDir           string        `envconfig:"UPLOAD_DIR" default:"uploads"`
	UploadRetention     time.Duration `envconfig:"UPLOAD_RETENTION" default:"24h"`
	JanitorSchedule     string        `envconfig:"JANITOR_SCHEDULE" default:"@every 30m"`
	SessionTTL          time.Duration `envconfig:"SESSION_TTL" default:"2h"`
	SignaturePath       string        `envconfig:"SIGNATURE_PATH" default:"templates/_signature.html"`
	CredentialsFile     string        `envconfig:"CREDENTIALS_FILE" default:".env"`
	FilterIncompleteRow bool          `envconfig:"FILTER_INCOMPLETE_ROWS" default:"false"`

	// ----------------------------
	// SMTP
	// ----------------------------
	SendDelay          time.Duration `envconfig:"SEND_DELAY" default:"500ms"`
	SMTPDialTimeout    time.Duration `envconfig:"SMTP_DIAL_TIMEOUT" default:"30s"`
	SMTPSendTimeout    time.Duration `envconfig:"SMTP_SEND_TIMEOUT" default:"60s"`
	SMTPConnectRetries uint64        `envconfig:"SMTP_CONNECT_RETRIES" default:"0"`

	// ----------------------------
	// Storage (optional)
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	RedisURL    string `envconfig:"REDIS_URL" default:""`

	// ----------------------------
	// Logging
	// ----------------------------
	LogDevelopment bool `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

// DefaultCredentialsFile holds the saved SMTP settings unless
// CREDENTIALS_FILE names another file.
const DefaultCredentialsFile = ".env"

// CredentialsPath resolves CREDENTIALS_FILE on its own. The file it names is
// exported before Load runs, so it can carry any other setting.
func CredentialsPath() string {
	if path := os.Getenv("CREDENTIALS_FILE"); path != "" {
		return path
	}
	return DefaultCredentialsFile
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}

// MaxUploadBytes is the request body limit for multipart steps.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
