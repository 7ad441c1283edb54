// Package broker provides the REST client for the brokerage execution API.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/bucketeer/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxLoggedBody = 500

// Config holds client settings
type Config struct {
	BaseURL       string
	APIToken      string
	AccountID     string
	RatePerMinute int
	Timeout       time.Duration
}

// Client talks to the execution API. All requests share one rate limiter.
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates a new execution API client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		accountID:  cfg.AccountID,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60), 2),
		log:        log.With().Str("component", "broker-client").Logger(),
	}
}

// APIError is a non-2xx response that is not a transient condition
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// do performs one request and decodes the JSON body into a generic map.
// 429 maps to domain.ErrRateLimited and 404 to domain.ErrOrderNotFound.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, form url.Values) (map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.log.Warn().Str("path", path).Msg("Rate limited by API")
		return nil, fmt.Errorf("%s %s: %w", method, path, domain.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, domain.ErrOrderNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		bodyStr := truncate(string(raw))
		c.log.Error().
			Int("status_code", resp.StatusCode).
			Str("response_body", bodyStr).
			Str("method", method).
			Str("path", path).
			Msg("API returned non-2xx status")
		return nil, &APIError{StatusCode: resp.StatusCode, Body: bodyStr}
	}

	var decoded interface{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]interface{}{}, nil
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		bodyStr := truncate(string(raw))
		c.log.Error().Err(err).Str("response_body", bodyStr).Str("path", path).Msg("Failed to parse JSON response")
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	switch v := decoded.(type) {
	case map[string]interface{}:
		if errs, ok := v["errors"].(map[string]interface{}); ok {
			msg := fmt.Sprint(errs["error"])
			c.log.Warn().Str("path", path).Str("error", msg).Msg("API returned error payload")
			return nil, &APIError{StatusCode: resp.StatusCode, Body: msg}
		}
		return v, nil
	default:
		return map[string]interface{}{"result": v}, nil
	}
}

func (c *Client) accountPath(suffix string) string {
	return "/v1/accounts/" + url.PathEscape(c.accountID) + suffix
}

func truncate(s string) string {
	if len(s) > maxLoggedBody {
		return s[:maxLoggedBody] + "..."
	}
	return s
}
