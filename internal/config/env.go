package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds process-level settings and the secrets that may be provided
// outside the config file.
type Env struct {
	AppEnv          string `envconfig:"APP_ENV" default:"prod"`
	ConfigPath      string `envconfig:"DIGEST_CONFIG" default:"config.yaml"`
	YouTubeAPIKey   string `envconfig:"YOUTUBE_API_KEY"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	SMTPUsername    string `envconfig:"SMTP_USERNAME"`
	SMTPPassword    string `envconfig:"SMTP_PASSWORD"`
	GmailAddress    string `envconfig:"GMAIL_ADDRESS"`
	GmailPassword   string `envconfig:"GMAIL_APP_PASSWORD"`
}

// LoadDotEnv loads a .env file into the process environment if one exists.
// Variables already set are left untouched.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, fmt.Errorf("config: failed to read environment: %w", err)
	}
	return env, nil
}

// Dev reports whether the process runs in development mode.
func (e Env) Dev() bool {
	return e.AppEnv == "dev"
}

func (e Env) apply(cfg *Config) {
	if cfg.Source.APIKey == "" {
		cfg.Source.APIKey = e.YouTubeAPIKey
	}
	if cfg.Summarizer.APIKey == "" {
		switch cfg.Summarizer.Type {
		case "openai":
			cfg.Summarizer.APIKey = e.OpenAIAPIKey
		default:
			cfg.Summarizer.APIKey = e.AnthropicAPIKey
		}
	}
	if cfg.Publisher.Email.Username == "" {
		cfg.Publisher.Email.Username = firstNonEmpty(e.SMTPUsername, e.GmailAddress)
	}
	if cfg.Publisher.Email.Password == "" {
		cfg.Publisher.Email.Password = firstNonEmpty(e.SMTPPassword, e.GmailPassword)
	}
	if e.Dev() && cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
