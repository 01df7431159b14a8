package feedback

import (
	"errors"
	"fmt"
)

// ErrAppNotFound is returned when an app name resolves to nothing.
var ErrAppNotFound = errors.New("app not found")

// Review is one piece of user feedback for a single day.
type Review struct {
	ReviewID string `json:"reviewId"`
	Content  string `json:"content"`
	Score    int    `json:"score"`
	At       string `json:"at"`
	Date     string `json:"date"`
}

type ReviewsResponse struct {
	Count   int      `json:"count"`
	Results []Review `json:"results"`
	Next    string   `json:"next"`
}

type App struct {
	AppID string `json:"app_id"`
	Title string `json:"title"`
}

type AppSearchResponse struct {
	Count   int   `json:"count"`
	Results []App `json:"results"`
}

type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d: %s: %s", e.StatusCode, e.Message, e.Body)
}
