package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wgomg/pulsegen/internal/trends"
	"github.com/wgomg/pulsegen/internal/utils"
)

type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
)

// Attempt records one failed backend call.
type Attempt struct {
	Backend string
	Outcome Outcome
	Err     error
}

// ExhaustedError means every backend was tried once and none succeeded.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all LLM backends exhausted: no backends configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s (%s): %v", a.Backend, a.Outcome, a.Err)
	}
	return "all LLM backends exhausted: " + strings.Join(parts, "; ")
}

// Unwrap exposes the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

var rateLimitMarkers = []string{"rate limit", "rate_limit", "too many requests", "overloaded"}

// Classify maps a backend call error to an Outcome. Typed API errors are
// checked first; message matching is the fallback for untyped errors.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeFailed
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, 529:
			return OutcomeRateLimited
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return OutcomeRateLimited
		}
	}
	return OutcomeFailed
}

// AttemptObserver is told about every backend call.
type AttemptObserver interface {
	LLMAttempt(backend string, outcome Outcome)
}

type ExtractionStatus string

const (
	StatusOK       ExtractionStatus = "ok"
	StatusDegraded ExtractionStatus = "degraded"
)

// Extraction is the result of topic extraction for one chunk. Degraded
// results carry no topics.
type Extraction struct {
	Status ExtractionStatus
	Topics []string
	Reason string
}

// Insight is the period summary; Degraded means Text is FallbackInsight.
type Insight struct {
	Text     string
	Degraded bool
}

// Orchestrator calls ranked backends with one attempt each until one succeeds.
type Orchestrator struct {
	backends    []Backend
	callTimeout time.Duration
	logger      *utils.Logger
	observer    AttemptObserver
}

// NewOrchestrator keeps backends in the given order. observer may be nil.
func NewOrchestrator(backends []Backend, callTimeout time.Duration, logger *utils.Logger, observer AttemptObserver) *Orchestrator {
	return &Orchestrator{
		backends:    backends,
		callTimeout: callTimeout,
		logger:      logger.Named("llm"),
		observer:    observer,
	}
}

func (o *Orchestrator) Backends() []string {
	names := make([]string, len(o.backends))
	for i, b := range o.backends {
		names[i] = b.Name()
	}
	return names
}

// InvokeWithFallback returns the first successful answer or *ExhaustedError.
func (o *Orchestrator) InvokeWithFallback(ctx context.Context, prompt string, expectJSON bool) (string, error) {
	var attempts []Attempt

	for _, backend := range o.backends {
		if ctx.Err() != nil {
			attempts = append(attempts, Attempt{Backend: backend.Name(), Outcome: OutcomeFailed, Err: ctx.Err()})
			break
		}

		answer, err := o.call(ctx, backend, prompt, expectJSON)
		outcome := Classify(err)
		if o.observer != nil {
			o.observer.LLMAttempt(backend.Name(), outcome)
		}
		if outcome == OutcomeSuccess {
			return answer, nil
		}

		attempts = append(attempts, Attempt{Backend: backend.Name(), Outcome: outcome, Err: err})
		o.logger.Warn(nil, "LLM backend %s %s: %v", backend.Name(), outcome, err)
	}

	return "", &ExhaustedError{Attempts: attempts}
}

func (o *Orchestrator) call(ctx context.Context, backend Backend, prompt string, expectJSON bool) (string, error) {
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}
	return backend.Complete(ctx, prompt, expectJSON)
}

// ExtractTopics asks for a JSON list of topic strings. Any failure degrades
// the extraction instead of returning an error.
func (o *Orchestrator) ExtractTopics(ctx context.Context, reviewsText string) Extraction {
	answer, err := o.InvokeWithFallback(ctx, buildExtractPrompt(reviewsText), true)
	if err != nil {
		o.logger.Error(nil, "Extraction failed: %v", err)
		return Extraction{Status: StatusDegraded, Reason: err.Error()}
	}

	topics, err := parseTopicList(answer)
	if err != nil {
		o.logger.Error(nil, "Extraction returned malformed answer: %v", err)
		return Extraction{Status: StatusDegraded, Reason: err.Error()}
	}
	return Extraction{Status: StatusOK, Topics: topics}
}

func parseTopicList(answer string) ([]string, error) {
	var items []any
	if err := json.Unmarshal([]byte(answer), &items); err != nil {
		return nil, fmt.Errorf("expected a JSON list of strings: %w", err)
	}
	if items == nil {
		return nil, errors.New("expected a JSON list of strings, got null")
	}

	topics := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("topic #%d is %T, not a string", i+1, item)
		}
		topics = append(topics, s)
	}
	return topics, nil
}

// GenerateInsights summarizes the top rows of matrix together with the
// anomaly lists. On failure it returns FallbackInsight.
func (o *Orchestrator) GenerateInsights(ctx context.Context, matrix trends.Matrix, newTopics, spikes []string) Insight {
	answer, err := o.InvokeWithFallback(ctx, buildInsightPrompt(matrix, newTopics, spikes), false)
	if err != nil {
		o.logger.Error(nil, "Insight generation failed: %v", err)
		return Insight{Text: FallbackInsight, Degraded: true}
	}
	return Insight{Text: answer}
}
