package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wgomg/pulsegen/internal/config"
	"github.com/wgomg/pulsegen/internal/utils"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama" || len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected request %+v", req)
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(
		config.BackendConfig{Name: "primary", URL: url, Token: "tok", Model: "llama"},
		&config.LlmConfig{MaxTokens: 256},
		5*time.Second,
		utils.NewDiscardLogger(),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresURLAndToken(t *testing.T) {
	_, err := NewClient(config.BackendConfig{Name: "x"}, &config.LlmConfig{}, time.Second, utils.NewDiscardLogger())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestClientCompleteText(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "  - bullet one\n- bullet two  ")
	c := newTestClient(t, srv.URL)

	got, err := c.Complete(context.Background(), "summarize", false)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "- bullet one\n- bullet two" {
		t.Fatalf("got %q", got)
	}
	if c.Name() != "primary" {
		t.Fatalf("Name = %q", c.Name())
	}
}

func TestClientCompleteJSONStripsFences(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "```json\n[\"Cold food\", \"Late delivery\"]\n```")
	c := newTestClient(t, srv.URL)

	got, err := c.Complete(context.Background(), "extract", true)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `["Cold food", "Late delivery"]` {
		t.Fatalf("got %q", got)
	}
}

func TestClientCompleteInvalidJSON(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "Here are the topics: Cold food")
	c := newTestClient(t, srv.URL)

	_, err := c.Complete(context.Background(), "extract", true)
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestClientCompleteAPIError(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "")
	c := newTestClient(t, srv.URL)

	_, err := c.Complete(context.Background(), "extract", true)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("StatusCode = %d", apiErr.StatusCode)
	}
	if Classify(err) != OutcomeRateLimited {
		t.Fatalf("Classify = %s", Classify(err))
	}
}

func TestClientCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	if _, err := c.Complete(context.Background(), "x", false); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
