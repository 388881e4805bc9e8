package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
)

type Config struct {
	Schedule    string            `yaml:"schedule"`
	RunOnStart  bool              `yaml:"run_on_start"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	State       StateConfig       `yaml:"state"`
	Source      SourceConfig      `yaml:"source"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Publisher   PublisherConfig   `yaml:"publisher"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
	DigestSpecs []DigestSpec      `yaml:"digests"`

	// Digests holds the specs that passed validation, Rejected the errors of
	// the ones that did not. A rejected digest never stops the others.
	Digests  []digest.Config `yaml:"-"`
	Rejected []error         `yaml:"-"`
}

type ConcurrencyConfig struct {
	Digests  int `yaml:"digests"`
	Channels int `yaml:"channels"`
	Analysis int `yaml:"analysis"`
}

type StateConfig struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	DSN       string `yaml:"dsn"`
	RedisAddr string `yaml:"redis_addr"`
	LockDir   string `yaml:"lock_dir"`
}

type SourceConfig struct {
	Type          string `yaml:"type"`
	APIKey        string `yaml:"api_key"`
	MaxUploads    int    `yaml:"max_uploads"`
	MaxComments   int    `yaml:"max_comments"`
	IncludeShorts bool   `yaml:"include_shorts"`
}

type SummarizerConfig struct {
	Type              string  `yaml:"type"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type PublisherConfig struct {
	Types     []string      `yaml:"types"`
	SendEmpty bool          `yaml:"send_empty"`
	Email     EmailConfig   `yaml:"email"`
	Web       WebConfig     `yaml:"web"`
	Discord   DiscordConfig `yaml:"discord"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type EmailConfig struct {
	SMTPHost       string `yaml:"smtp_host"`
	SMTPPort       int    `yaml:"smtp_port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	From           string `yaml:"from"`
	ImplicitTLS    bool   `yaml:"implicit_tls"`
	UnsubscribeURL string `yaml:"unsubscribe_url"`
}

type WebConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DigestSpec is one digest as written in the config file.
type DigestSpec struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Recipients []string `yaml:"recipients"`
	Channels   []string `yaml:"channels"`
	Cadence    string   `yaml:"cadence"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func setDefaults(cfg *Config) {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 8 * * *"
	}
	if cfg.Concurrency.Digests <= 0 {
		cfg.Concurrency.Digests = 2
	}
	if cfg.Concurrency.Channels <= 0 {
		cfg.Concurrency.Channels = 4
	}
	if cfg.Concurrency.Analysis <= 0 {
		cfg.Concurrency.Analysis = 4
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	if cfg.State.Path == "" {
		switch cfg.State.Backend {
		case "file":
			cfg.State.Path = "state.json"
		case "sqlite":
			cfg.State.Path = "state.db"
		}
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = "youtube"
	}
	if cfg.Source.MaxUploads == 0 {
		cfg.Source.MaxUploads = 15
	}
	if cfg.Source.MaxComments == 0 {
		cfg.Source.MaxComments = 20
	}
	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "anthropic"
	}
	if cfg.Summarizer.Model == "" {
		switch cfg.Summarizer.Type {
		case "openai":
			cfg.Summarizer.Model = "gpt-4.1-mini"
		default:
			cfg.Summarizer.Model = "claude-sonnet-4-20250514"
		}
	}
	if cfg.Summarizer.MaxTokens == 0 {
		cfg.Summarizer.MaxTokens = 500
	}
	if cfg.Summarizer.RequestsPerSecond == 0 {
		cfg.Summarizer.RequestsPerSecond = 2
	}
	if len(cfg.Publisher.Types) == 0 {
		cfg.Publisher.Types = []string{"email"}
	}
	if cfg.Publisher.Web.Addr == "" {
		cfg.Publisher.Web.Addr = ":8080"
	}
	if cfg.Publisher.Email.SMTPPort == 0 {
		cfg.Publisher.Email.SMTPPort = 587
		if cfg.Publisher.Email.ImplicitTLS {
			cfg.Publisher.Email.SMTPPort = 465
		}
	}
	if cfg.Publisher.Email.From == "" {
		cfg.Publisher.Email.From = cfg.Publisher.Email.Username
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func validate(cfg *Config) error {
	switch cfg.State.Backend {
	case "memory", "file", "sqlite":
	case "postgres":
		if cfg.State.DSN == "" {
			return fmt.Errorf("config: state.dsn is required for postgres state backend")
		}
	case "redis":
		if cfg.State.RedisAddr == "" {
			return fmt.Errorf("config: state.redis_addr is required for redis state backend")
		}
	default:
		return fmt.Errorf("config: unsupported state backend %q (supported: memory, file, sqlite, postgres, redis)", cfg.State.Backend)
	}
	if cfg.Source.Type != "youtube" {
		return fmt.Errorf("config: unsupported source type %q (supported: youtube)", cfg.Source.Type)
	}
	switch cfg.Summarizer.Type {
	case "anthropic":
		if cfg.Summarizer.APIKey == "" {
			return fmt.Errorf("config: summarizer.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "openai":
		if cfg.Summarizer.APIKey == "" {
			return fmt.Errorf("config: summarizer.api_key is required (set OPENAI_API_KEY env var)")
		}
	default:
		return fmt.Errorf("config: unsupported summarizer type %q (supported: anthropic, openai)", cfg.Summarizer.Type)
	}
	if cfg.Summarizer.RequestsPerSecond < 0 {
		return fmt.Errorf("config: summarizer.requests_per_second must not be negative")
	}
	for _, typ := range cfg.Publisher.Types {
		switch typ {
		case "stdout", "web":
		case "email":
			if cfg.Publisher.Email.SMTPHost == "" {
				return fmt.Errorf("config: publisher.email.smtp_host is required for email publisher")
			}
			if cfg.Publisher.Email.From == "" {
				return fmt.Errorf("config: publisher.email.from is required for email publisher")
			}
		case "discord":
			if cfg.Publisher.Discord.WebhookURL == "" {
				return fmt.Errorf("config: publisher.discord.webhook_url is required for discord publisher")
			}
		default:
			return fmt.Errorf("config: unsupported publisher type %q (supported: stdout, email, web, discord)", typ)
		}
	}
	return nil
}

// validateDigests converts digest specs into digest.Config values. Each spec
// is judged on its own so one bad entry only takes itself out.
func validateDigests(cfg *Config) {
	seen := make(map[string]bool, len(cfg.DigestSpecs))
	for i, spec := range cfg.DigestSpecs {
		dc, err := spec.toDigest()
		if err == nil && seen[dc.ID] {
			err = fmt.Errorf("duplicate digest id %q", dc.ID)
		}
		if err != nil {
			label := spec.ID
			if label == "" {
				label = fmt.Sprintf("#%d", i+1)
			}
			cfg.Rejected = append(cfg.Rejected, fmt.Errorf("%w: digest %s: %w", digest.ErrConfiguration, label, err))
			continue
		}
		seen[dc.ID] = true
		cfg.Digests = append(cfg.Digests, dc)
	}
}

func (s DigestSpec) toDigest() (digest.Config, error) {
	id := strings.TrimSpace(s.ID)
	name := strings.TrimSpace(s.Name)
	if id == "" {
		// State is keyed by name for digests written without an id.
		id = name
	}
	if id == "" {
		return digest.Config{}, errors.New("id or name is required")
	}
	if name == "" {
		name = id
	}

	recipients := compact(s.Recipients)
	if len(recipients) == 0 {
		return digest.Config{}, errors.New("at least one recipient is required")
	}
	for _, r := range recipients {
		if !strings.Contains(r, "@") {
			return digest.Config{}, fmt.Errorf("recipient %q is not an email address", r)
		}
	}
	channels := compact(s.Channels)
	if len(channels) == 0 {
		return digest.Config{}, errors.New("at least one channel is required")
	}

	cadence, err := digest.ParseCadence(s.Cadence)
	if err != nil {
		return digest.Config{}, err
	}

	return digest.Config{
		ID:         id,
		Name:       name,
		Recipients: recipients,
		Channels:   channels,
		Cadence:    cadence,
	}, nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Load reads the config file, expands environment variables, fills secrets
// from env, applies defaults, and validates the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	return Parse(data, env)
}

// Parse builds a Config from raw YAML using env for secrets left empty.
func Parse(data []byte, env Env) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}

	env.apply(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	validateDigests(&cfg)

	return &cfg, nil
}

// Find returns the validated digest with the given id.
func (c *Config) Find(id string) (digest.Config, bool) {
	for _, d := range c.Digests {
		if d.ID == id {
			return d, true
		}
	}
	return digest.Config{}, false
}
