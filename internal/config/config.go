package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	ServerPort      string        `env:"PORT" envDefault:"8080"`
	AppBaseURL      string        `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	DatabaseType    string        `env:"DB_TYPE" envDefault:"sqlite"`
	DatabasePath    string        `env:"DB_PATH" envDefault:"./carelog.db"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	TemplatesPath   string        `env:"TEMPLATES_PATH" envDefault:"./web/templates"`
	StaticFilesPath string        `env:"STATIC_FILES_PATH" envDefault:"./web/static"`
	MigrationsPath  string        `env:"MIGRATIONS_PATH"`
	SessionDuration time.Duration `env:"SESSION_DURATION" envDefault:"168h"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	ResetTokenTTL   time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`

	JWTSecret  string `env:"JWT_SECRET"`
	CSRFSecret string `env:"CSRF_SECRET"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogPath   string `env:"LOG_PATH"`

	AWSRegion     string `env:"AWS_REGION" envDefault:"us-east-1"`
	EmailFrom     string `env:"EMAIL_FROM"`
	EmailFromName string `env:"EMAIL_FROM_NAME" envDefault:"CareLog"`
	EmailDebug    bool   `env:"EMAIL_DEBUG"`

	GoogleClientID       string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `env:"GOOGLE_CLIENT_SECRET"`
	FacebookClientID     string `env:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `env:"FACEBOOK_CLIENT_SECRET"`
	OAuthRedirectBaseURL string `env:"OAUTH_REDIRECT_BASE_URL"`

	LoginRateLimit int `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
}

// Load reads an optional .env file and then parses the environment.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.OAuthRedirectBaseURL == "" {
		cfg.OAuthRedirectBaseURL = cfg.AppBaseURL
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// OAuthEnabled reports whether a provider has credentials configured.
func (c *Config) OAuthEnabled(provider string) bool {
	switch provider {
	case "google":
		return c.GoogleClientID != "" && c.GoogleClientSecret != ""
	case "facebook":
		return c.FacebookClientID != "" && c.FacebookClientSecret != ""
	}
	return false
}
