package api

import (
	"github.com/wgomg/pulsegen/internal/pipeline"
	"github.com/wgomg/pulsegen/internal/trends"
)

// mockAppName short-circuits /analyze with a canned report.
const mockAppName = "TEST"

const mockInsights = "Users recently experienced more app crashes (spike detected), increasing by 200%. " +
	"'Stories not uploading' emerged as a new issue on the last day."

type AnalyzeRequest struct {
	AppName string   `json:"app_name" validate:"required"`
	Dates   []string `json:"dates" validate:"required,min=1,dive,datetime=2006-01-02"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Error   string `json:"error,omitempty"`
}

func mockReport(dates []string) *pipeline.Report {
	if len(dates) == 0 {
		dates = []string{"2025-01-01", "2025-01-02"}
	}
	trend := trends.Matrix{
		{Topic: "Delivery delay", Counts: []int{12, 8}},
		{Topic: "Cold food", Counts: []int{5, 1}},
		{Topic: "App crashes", Counts: []int{2, 4}},
	}
	return &pipeline.Report{
		Topics:    trend.Topics(),
		Trend:     trend,
		Dates:     dates,
		NewTopics: []string{"Stories not uploading"},
		Spikes:    []string{"App crashes"},
		Insights:  mockInsights,
	}
}
