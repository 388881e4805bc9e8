package config

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config_test_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	tmpfile.Close()
	return tmpfile.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `
summarizer:
  type: anthropic
  api_key: test_api_key
publisher:
  types: [stdout]
digests:
  - id: econ
    name: Economics Weekly
    recipients: [reader@example.com]
    channels: ["@DaronAcemoglu", "UC1234567890abcdefghijkl"]
    cadence: weekly
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.Digests) != 1 {
		t.Fatalf("Expected 1 digest, got %d", len(cfg.Digests))
	}
	d := cfg.Digests[0]
	if d.ID != "econ" || d.Name != "Economics Weekly" {
		t.Errorf("Unexpected digest identity: %+v", d)
	}
	if d.Cadence != digest.CadenceWeekly {
		t.Errorf("Expected weekly cadence, got %v", d.Cadence)
	}
	if len(d.Channels) != 2 || d.Channels[0] != "@DaronAcemoglu" {
		t.Errorf("Unexpected channels: %v", d.Channels)
	}
	if _, ok := cfg.Find("econ"); !ok {
		t.Error("Find should return the loaded digest")
	}
	if _, ok := cfg.Find("missing"); ok {
		t.Error("Find should not return unknown digests")
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
summarizer:
  api_key: test_key
publisher:
  email:
    smtp_host: smtp.example.com
    username: digest@example.com
`), Env{})
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	if cfg.Schedule != "0 8 * * *" {
		t.Errorf("Expected default schedule '0 8 * * *', got '%s'", cfg.Schedule)
	}
	if cfg.State.Backend != "file" || cfg.State.Path != "state.json" {
		t.Errorf("Expected file state at state.json, got %+v", cfg.State)
	}
	if cfg.Source.Type != "youtube" {
		t.Errorf("Expected default source type 'youtube', got '%s'", cfg.Source.Type)
	}
	if cfg.Summarizer.Type != "anthropic" {
		t.Errorf("Expected default summarizer type 'anthropic', got '%s'", cfg.Summarizer.Type)
	}
	if cfg.Summarizer.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Expected default model 'claude-sonnet-4-20250514', got '%s'", cfg.Summarizer.Model)
	}
	if len(cfg.Publisher.Types) != 1 || cfg.Publisher.Types[0] != "email" {
		t.Errorf("Expected default publisher 'email', got %v", cfg.Publisher.Types)
	}
	if cfg.Publisher.Web.Addr != ":8080" {
		t.Errorf("Expected default web addr ':8080', got '%s'", cfg.Publisher.Web.Addr)
	}
	if cfg.Publisher.Email.SMTPPort != 587 {
		t.Errorf("Expected default SMTP port 587, got %d", cfg.Publisher.Email.SMTPPort)
	}
	if cfg.Concurrency.Channels != 4 || cfg.Concurrency.Analysis != 4 || cfg.Concurrency.Digests != 2 {
		t.Errorf("Unexpected concurrency defaults: %+v", cfg.Concurrency)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log defaults: %+v", cfg.Log)
	}
}

func TestImplicitTLSDefaultPort(t *testing.T) {
	cfg, err := Parse([]byte(`
summarizer:
  api_key: k
publisher:
  types: [email]
  email:
    smtp_host: smtp.gmail.com
    username: me@example.com
    implicit_tls: true
`), Env{})
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	if cfg.Publisher.Email.SMTPPort != 465 {
		t.Errorf("Expected port 465 with implicit TLS, got %d", cfg.Publisher.Email.SMTPPort)
	}
	if cfg.Publisher.Email.From != "me@example.com" {
		t.Errorf("Expected from to default to username, got %q", cfg.Publisher.Email.From)
	}
}

func TestSecretsFromEnv(t *testing.T) {
	env := Env{
		AppEnv:          "dev",
		YouTubeAPIKey:   "yt-key",
		AnthropicAPIKey: "anthropic-key",
		GmailAddress:    "digest@gmail.com",
		GmailPassword:   "app-password",
	}
	cfg, err := Parse([]byte(`
publisher:
  types: [email]
  email:
    smtp_host: smtp.gmail.com
`), env)
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	if cfg.Source.APIKey != "yt-key" {
		t.Errorf("Expected YouTube key from env, got %q", cfg.Source.APIKey)
	}
	if cfg.Summarizer.APIKey != "anthropic-key" {
		t.Errorf("Expected Anthropic key from env, got %q", cfg.Summarizer.APIKey)
	}
	if cfg.Publisher.Email.Username != "digest@gmail.com" || cfg.Publisher.Email.Password != "app-password" {
		t.Errorf("Expected Gmail credentials from env, got %+v", cfg.Publisher.Email)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected debug level in dev, got %q", cfg.Log.Level)
	}
}

func TestSecretsFileWins(t *testing.T) {
	cfg, err := Parse([]byte(`
summarizer:
  type: openai
  api_key: from-file
publisher:
  types: [stdout]
`), Env{OpenAIAPIKey: "from-env"})
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	if cfg.Summarizer.APIKey != "from-file" {
		t.Errorf("Expected file key to win, got %q", cfg.Summarizer.APIKey)
	}
	if cfg.Summarizer.Model != "gpt-4.1-mini" {
		t.Errorf("Expected openai default model, got %q", cfg.Summarizer.Model)
	}
}

func TestGlobalValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name:    "missing api key",
			config:  "summarizer:\n  type: anthropic\n",
			wantErr: "ANTHROPIC_API_KEY",
		},
		{
			name:    "unknown summarizer",
			config:  "summarizer:\n  type: gemini\n  api_key: k\n",
			wantErr: "unsupported summarizer type",
		},
		{
			name:    "unknown backend",
			config:  "summarizer:\n  api_key: k\nstate:\n  backend: etcd\n",
			wantErr: "unsupported state backend",
		},
		{
			name:    "postgres without dsn",
			config:  "summarizer:\n  api_key: k\nstate:\n  backend: postgres\n",
			wantErr: "state.dsn is required",
		},
		{
			name:    "redis without addr",
			config:  "summarizer:\n  api_key: k\nstate:\n  backend: redis\n",
			wantErr: "state.redis_addr is required",
		},
		{
			name:    "default email publisher without host",
			config:  "summarizer:\n  api_key: k\n",
			wantErr: "smtp_host is required",
		},
		{
			name:    "email without host",
			config:  "summarizer:\n  api_key: k\npublisher:\n  types: [email]\n  email:\n    from: a@example.com\n",
			wantErr: "smtp_host is required",
		},
		{
			name:    "email without from",
			config:  "summarizer:\n  api_key: k\npublisher:\n  types: [email]\n  email:\n    smtp_host: smtp.example.com\n",
			wantErr: "from is required",
		},
		{
			name:    "discord without webhook",
			config:  "summarizer:\n  api_key: k\npublisher:\n  types: [discord]\n",
			wantErr: "webhook_url is required",
		},
		{
			name:    "unknown publisher",
			config:  "summarizer:\n  api_key: k\npublisher:\n  types: [slack]\n",
			wantErr: "unsupported publisher type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.config), Env{})
			if err == nil {
				t.Fatalf("Expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
			if !strings.HasPrefix(err.Error(), "config: ") {
				t.Errorf("Expected config prefix, got: %v", err)
			}
		})
	}
}

func TestInvalidDigestRejectedOthersKept(t *testing.T) {
	cfg, err := Parse([]byte(`
summarizer:
  api_key: k
publisher:
  types: [stdout]
digests:
  - id: good
    recipients: [a@example.com]
    channels: ["@good"]
    cadence: daily
  - id: bad-cadence
    recipients: [a@example.com]
    channels: ["@x"]
    cadence: monthly
  - id: no-channels
    recipients: [a@example.com]
    cadence: weekly
  - id: no-recipients
    channels: ["@x"]
    cadence: weekly
  - id: good
    recipients: [b@example.com]
    channels: ["@dup"]
    cadence: weekly
  - name: Named Only
    recipients: [c@example.com]
    channels: ["@named"]
    cadence: biweekly
`), Env{})
	if err != nil {
		t.Fatalf("Per-digest errors should not fail the load: %v", err)
	}

	if len(cfg.Digests) != 2 {
		t.Fatalf("Expected 2 valid digests, got %d: %+v", len(cfg.Digests), cfg.Digests)
	}
	if cfg.Digests[0].ID != "good" {
		t.Errorf("Expected first digest 'good', got %q", cfg.Digests[0].ID)
	}
	if cfg.Digests[1].ID != "Named Only" || cfg.Digests[1].Cadence != digest.CadenceTwiceWeekly {
		t.Errorf("Unexpected name-keyed digest: %+v", cfg.Digests[1])
	}

	if len(cfg.Rejected) != 4 {
		t.Fatalf("Expected 4 rejected digests, got %d: %v", len(cfg.Rejected), cfg.Rejected)
	}
	for _, rerr := range cfg.Rejected {
		if !errors.Is(rerr, digest.ErrConfiguration) {
			t.Errorf("Expected ErrConfiguration, got %v", rerr)
		}
	}
	if !strings.Contains(cfg.Rejected[0].Error(), "bad-cadence") {
		t.Errorf("Expected rejection to name the digest, got %v", cfg.Rejected[0])
	}
	if !strings.Contains(cfg.Rejected[3].Error(), "duplicate") {
		t.Errorf("Expected duplicate id rejection, got %v", cfg.Rejected[3])
	}
}

func TestInvalidRecipient(t *testing.T) {
	cfg, err := Parse([]byte(`
summarizer:
  api_key: k
publisher:
  types: [stdout]
digests:
  - id: typo
    recipients: ["not-an-address"]
    channels: ["@x"]
    cadence: daily
`), Env{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(cfg.Digests) != 0 || len(cfg.Rejected) != 1 {
		t.Fatalf("Expected the digest to be rejected, got digests=%v rejected=%v", cfg.Digests, cfg.Rejected)
	}
}

func TestFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Expected error for non-existent file")
	}
	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("Expected 'failed to read' error, got: %v", err)
	}
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded_value")

	input := "value: ${TEST_VAR}"
	expanded := expandEnvVars(input)
	expected := "value: expanded_value"

	if expanded != expected {
		t.Errorf("Expected '%s', got '%s'", expected, expanded)
	}
}

func TestEnvVarExpansionUnset(t *testing.T) {
	os.Unsetenv("UNSET_VAR_12345")

	input := "value: ${UNSET_VAR_12345}"
	expanded := expandEnvVars(input)

	if expanded != input {
		t.Errorf("Expected unset var to remain as-is, got '%s'", expanded)
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("YOUTUBE_API_KEY", "from-process")

	env, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv returned error: %v", err)
	}
	if env.YouTubeAPIKey != "from-process" {
		t.Errorf("Expected key from process env, got %q", env.YouTubeAPIKey)
	}
	if env.Dev() {
		t.Error("Empty APP_ENV should not be dev")
	}
}
