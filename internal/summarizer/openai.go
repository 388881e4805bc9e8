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

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIClient calls the OpenAI Chat Completions API.
type OpenAIClient struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
}

func NewOpenAIClient(apiKey, model string, maxTokens int, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	return &OpenAIClient{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	completion, err := c.do(req)
	metrics.ObserveNetworkRequest("openai", "chat_completions", start, err)
	if err != nil {
		return "", err
	}
	if completion.Usage != nil {
		metrics.ObserveLLMGeneration(c.model, time.Since(start), completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	}

	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai: empty response")
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) do(req *http.Request) (chatResponse, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return chatResponse{}, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatResponse{}, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		statusErr := &retry.StatusError{Service: "openai", Code: resp.StatusCode}
		var apiErr chatErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil {
			statusErr.Message = apiErr.Error.Message
		}
		return chatResponse{}, statusErr
	}

	var completion chatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return chatResponse{}, fmt.Errorf("openai: decode response: %w", err)
	}
	return completion, nil
}
