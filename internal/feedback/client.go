package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wgomg/pulsegen/internal/config"
	"github.com/wgomg/pulsegen/internal/utils"
	"github.com/wgomg/pulsegen/internal/utils/httputils"
)

// maxPages bounds how many "next" links one listing follows.
const maxPages = 200

// Client reads apps and reviews from the review service REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *utils.Logger
}

func NewClient(cfg *config.Config, logger *utils.Logger) (*Client, error) {
	if cfg.Feedback.URL == "" {
		return nil, fmt.Errorf("FEEDBACK_URL is required")
	}

	return &Client{
		baseURL: cfg.Feedback.URL,
		token:   cfg.Feedback.Token,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.App.HttpTimeoutSeconds) * time.Second,
		},
		logger: logger.Named("feedback"),
	}, nil
}

// ResolveApp checks the alias table, then takes the first search hit.
func (c *Client) ResolveApp(ctx context.Context, name string, reqID string) (string, error) {
	if id, ok := LookupAlias(name); ok {
		c.logger.Info(&reqID, "Using known app id for '%s': %s", name, id)
		return id, nil
	}

	u := fmt.Sprintf("%s/apps/search?q=%s", c.baseURL, url.QueryEscape(name))

	c.logger.Debug(&reqID, "Searching app '%s' at %s", name, u)
	var search AppSearchResponse
	if err := c.getJSON(ctx, u, reqID, &search); err != nil {
		return "", fmt.Errorf("failed to search app: %w", err)
	}

	if len(search.Results) == 0 || search.Results[0].AppID == "" {
		return "", fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}

	c.logger.Info(&reqID, "Found app '%s': %s", name, search.Results[0].AppID)
	return search.Results[0].AppID, nil
}

// Reviews follows the paginated listing for one app and day.
func (c *Client) Reviews(ctx context.Context, appID, date string, reqID string) ([]Review, error) {
	u := fmt.Sprintf("%s/apps/%s/reviews?date=%s", c.baseURL, url.PathEscape(appID), url.QueryEscape(date))
	var allReviews []Review

	c.logger.Debug(&reqID, "Fetching reviews from %s", u)
	for page := 0; u != ""; page++ {
		if page >= maxPages {
			c.logger.Warn(&reqID, "Stopped after %d review pages for %s on %s", maxPages, appID, date)
			break
		}

		var reviewsResponse ReviewsResponse
		if err := c.getJSON(ctx, u, reqID, &reviewsResponse); err != nil {
			return nil, fmt.Errorf("failed to fetch reviews: %w", err)
		}

		allReviews = append(allReviews, reviewsResponse.Results...)
		u = reviewsResponse.Next
	}

	allReviews = keepDay(allReviews, date)
	c.logger.Info(&reqID, "Fetched %d reviews for %s on %s", len(allReviews), appID, date)

	return allReviews, nil
}

func (c *Client) getJSON(ctx context.Context, u string, reqID string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setAuthHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = httputils.LogResponseBody(resp, c.logger, reqID)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return c.handleAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Token %s", c.token))
	}
}

func (c *Client) handleAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       string(body),
	}
}
