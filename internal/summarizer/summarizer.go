package summarizer

import (
	"fmt"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/retry"
)

// New creates a throttled Completer based on the configuration
func New(cfg config.SummarizerConfig) (Completer, error) {
	var client Completer
	switch cfg.Type {
	case "anthropic":
		client = NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.BaseURL)
	case "openai":
		client = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSummarizerType, cfg.Type)
	}
	return NewThrottled(client, cfg.RequestsPerSecond, retry.DefaultConfig()), nil
}

// ErrUnsupportedSummarizerType is returned when an unsupported summarizer type is specified
var ErrUnsupportedSummarizerType = fmt.Errorf("unsupported summarizer type")
