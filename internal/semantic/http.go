package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wgomg/pulsegen/internal/config"
	"github.com/wgomg/pulsegen/internal/utils"
)

// HTTPError is a non-2xx answer from the embeddings endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("embeddings endpoint error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("embeddings endpoint error: status=%d body=%s", e.StatusCode, e.Body)
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	logger     *utils.Logger
	url        string
	token      string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewHTTPEmbedder accepts either a base URL or the full /v1/embeddings URL.
func NewHTTPEmbedder(logger *utils.Logger, cfg *config.SemanticConfig, httpClient *http.Client) *HTTPEmbedder {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	url := strings.TrimRight(cfg.URL, "/")
	if !strings.HasSuffix(url, "/embeddings") {
		url += "/v1/embeddings"
	}

	return &HTTPEmbedder{
		logger:     logger.Named("semantic"),
		url:        url,
		token:      cfg.Token,
		model:      cfg.Model,
		timeout:    time.Duration(cfg.TimeoutMs) * time.Millisecond,
		httpClient: httpClient,
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	body, err := json.Marshal(embeddingsRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings response has no vector (model=%s)", e.model)
	}

	return Embedding(out.Data[0].Embedding), nil
}

func (e *HTTPEmbedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
