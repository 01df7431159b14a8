package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wgomg/pulsegen/internal/config"
	"github.com/wgomg/pulsegen/internal/utils"
)

// ErrInvalidJSON marks an answer that was expected to be JSON but was not.
var ErrInvalidJSON = errors.New("LLM returned invalid JSON")

// Backend is one ranked text-generation provider.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string, expectJSON bool) (string, error)
}

// Client talks to one model on an OpenAI-compatible chat completions endpoint.
type Client struct {
	name        string
	url         string
	token       string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *utils.Logger
}

func NewClient(backend config.BackendConfig, cfg *config.LlmConfig, httpTimeout time.Duration, logger *utils.Logger) (*Client, error) {
	if backend.URL == "" || backend.Token == "" {
		return nil, fmt.Errorf("LLM backend %q: url and token are required", backend.Name)
	}

	return &Client{
		name:        backend.Name,
		url:         backend.URL,
		token:       backend.Token,
		model:       backend.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
		logger: logger.Named("llm"),
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

// Complete sends prompt as a single user message. With expectJSON the answer
// has code fences stripped and must parse as JSON.
func (c *Client) Complete(ctx context.Context, prompt string, expectJSON bool) (string, error) {
	reqBody := ChatRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: prompt},
		},
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        1,
		Stream:      false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	if c.logger.RawBodyLog {
		c.logger.Debug(nil, "Sending LLM request to %s: %s", c.name, string(jsonBody))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	c.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.handleAPIError(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug(nil, "LLM usage (%s) - prompt_tokens: %d, completion_tokens: %d, total_tokens: %d",
		c.name,
		chatResp.Usage.PromptTokens,
		chatResp.Usage.CompletionTokens,
		chatResp.Usage.TotalTokens)

	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty response from LLM")
	}

	responseContent := strings.TrimSpace(chatResp.Choices[0].Message.Content)

	c.logger.Debug(nil, "LLM raw response (%s): %s", c.name, responseContent)

	if !expectJSON {
		return responseContent, nil
	}

	cleaned := utils.CleanCodeBlock(responseContent)
	if !json.Valid([]byte(cleaned)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidJSON, utils.Truncate(cleaned, 200))
	}
	return cleaned, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
}

func (c *Client) handleAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       string(body),
	}
}
