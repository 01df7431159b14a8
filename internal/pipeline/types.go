package pipeline

import (
	"context"
	"time"

	"github.com/wgomg/pulsegen/internal/llm"
	"github.com/wgomg/pulsegen/internal/trends"
)

// Inference is the LLM surface the pipeline needs.
type Inference interface {
	ExtractTopics(ctx context.Context, reviewsText string) llm.Extraction
	GenerateInsights(ctx context.Context, matrix trends.Matrix, newTopics, spikes []string) llm.Insight
}

// Recorder receives pipeline events, typically for metrics.
type Recorder interface {
	Extraction(status llm.ExtractionStatus)
	Insight(degraded bool)
	TopicMatched(existing bool)
	TopicAdmitted()
	ReviewsProcessed(n int)
	BatchDuration(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Extraction(llm.ExtractionStatus) {}
func (nopRecorder) Insight(bool)                    {}
func (nopRecorder) TopicMatched(bool)               {}
func (nopRecorder) TopicAdmitted()                  {}
func (nopRecorder) ReviewsProcessed(int)            {}
func (nopRecorder) BatchDuration(time.Duration)     {}

// Report is the outcome of analysing an app over a set of dates.
type Report struct {
	Topics           []string      `json:"topics"`
	Trend            trends.Matrix `json:"trend"`
	Dates            []string      `json:"dates"`
	NewTopics        []string      `json:"newTopics"`
	Spikes           []string      `json:"spikes"`
	Insights         string        `json:"insights"`
	InsightsDegraded bool          `json:"-"`
}

// TrendResult returns the report's matrix and dates for CSV export.
func (r *Report) TrendResult() trends.Result {
	return trends.Result{
		Matrix:    r.Trend,
		NewTopics: r.NewTopics,
		Spikes:    r.Spikes,
		Dates:     r.Dates,
	}
}
