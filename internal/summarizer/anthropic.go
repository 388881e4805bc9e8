package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/metrics"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/retry"
)

const defaultAnthropicURL = "https://api.anthropic.com/v1/messages"

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
}

func NewAnthropicClient(apiKey, model string, maxTokens int, baseURL string) *AnthropicClient {
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	return &AnthropicClient{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

// Anthropic API request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   *anthropicUsage    `json:"usage,omitempty"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *AnthropicClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("anthropic: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	text, usage, err := c.do(req)
	metrics.ObserveNetworkRequest("anthropic", "messages", start, err)
	if err != nil {
		return "", err
	}
	if usage != nil {
		metrics.ObserveLLMGeneration(c.model, time.Since(start), usage.InputTokens, usage.OutputTokens)
	}
	return text, nil
}

func (c *AnthropicClient) do(req *http.Request) (string, *anthropicUsage, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("anthropic: failed to read response: %w", err)
	}

	var apiResp anthropicResponse
	parseErr := json.Unmarshal(respBody, &apiResp)

	if resp.StatusCode >= 400 {
		statusErr := &retry.StatusError{Service: "anthropic", Code: resp.StatusCode}
		if parseErr == nil && apiResp.Error != nil {
			statusErr.Message = apiResp.Error.Type + " - " + apiResp.Error.Message
		}
		return "", nil, statusErr
	}
	if parseErr != nil {
		return "", nil, fmt.Errorf("anthropic: failed to parse response: %w", parseErr)
	}
	if apiResp.Error != nil {
		return "", nil, fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" || block.Type == "" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", nil, fmt.Errorf("anthropic: empty response")
	}

	return sb.String(), apiResp.Usage, nil
}
