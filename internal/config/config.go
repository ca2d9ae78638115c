package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	ModeService = "service"
	ModeRelay   = "relay"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"3000"`
	GinMode     string `env:"GIN_MODE" envDefault:"release"`
	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`

	Mode           string   `env:"BIND_MODE" envDefault:"service"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	PublicURL      string   `env:"PUBLIC_URL" envDefault:"http://localhost:3000"`

	PairingCodeEnabled bool `env:"PAIRING_CODE_ENABLED" envDefault:"true"`
	PairingCodeLength  int  `env:"PAIRING_CODE_LENGTH" envDefault:"4"`

	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"10m"`
	ExpiredRetention  time.Duration `env:"EXPIRED_RETENTION" envDefault:"1m"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"15s"`
	StreamGrace       time.Duration `env:"STREAM_GRACE" envDefault:"5s"`
	SignatureMaxSkew  time.Duration `env:"SIGNATURE_MAX_SKEW" envDefault:"5m"`
	ReportCompromised bool          `env:"REPORT_COMPROMISED" envDefault:"false"`

	AdminSecret      string        `env:"ADMIN_SECRET"`
	AdminTokenExpiry time.Duration `env:"ADMIN_TOKEN_EXPIRY" envDefault:"1h"`

	WebAuthnRPID          string   `env:"WEBAUTHN_RP_ID" envDefault:"localhost"`
	WebAuthnRPOrigins     []string `env:"WEBAUTHN_RP_ORIGINS" envDefault:"http://localhost:3001" envSeparator:","`
	WebAuthnRPDisplayName string   `env:"WEBAUTHN_RP_DISPLAY_NAME" envDefault:"OOB Bind Service"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func (c Config) TLSEnabled() bool { return c.TLSCertFile != "" && c.TLSKeyFile != "" }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(env.ToMap(os.Environ()))
}

func LoadConfigFromEnv(environment map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT")
	}

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode != ModeService && cfg.Mode != ModeRelay {
		return Config{}, fmt.Errorf("invalid BIND_MODE")
	}

	if cfg.AdminSecret == "" {
		return Config{}, fmt.Errorf("ADMIN_SECRET is required")
	}

	if cfg.PairingCodeLength < 1 || cfg.PairingCodeLength > 12 {
		return Config{}, fmt.Errorf("invalid PAIRING_CODE_LENGTH")
	}

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	for name, d := range map[string]time.Duration{
		"SESSION_TTL":        cfg.SessionTTL,
		"EXPIRED_RETENTION":  cfg.ExpiredRetention,
		"SWEEP_INTERVAL":     cfg.SweepInterval,
		"STREAM_GRACE":       cfg.StreamGrace,
		"ADMIN_TOKEN_EXPIRY": cfg.AdminTokenExpiry,
	} {
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid %s", name)
		}
	}
	if cfg.SignatureMaxSkew < 0 {
		return Config{}, fmt.Errorf("invalid SIGNATURE_MAX_SKEW")
	}

	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return cfg, nil
}
