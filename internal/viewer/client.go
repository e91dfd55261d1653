// Package viewer is a client for the simulator's HTTP API.
package viewer

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tulip-market-sim/internal/api"
	"tulip-market-sim/internal/config"
	"tulip-market-sim/internal/engine"
	"tulip-market-sim/internal/models"
)

const maxRetries = 3

// ClientInterface defines the read operations the terminal viewer needs.
type ClientInterface interface {
	Status(ctx context.Context) (*api.StatusResponse, error)
	PriceHistory(ctx context.Context, limit int) ([]models.PriceObservation, error)
	Agents(ctx context.Context) ([]api.AgentEntry, error)
	Trades(ctx context.Context, limit int) ([]models.Trade, error)
	Statistics(ctx context.Context) (*engine.Statistics, error)
	EndTime(ctx context.Context) (time.Time, error)
}

// Client is a rate-limited REST client for the simulator API.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration
}

var _ ClientInterface = (*Client)(nil)

// NewClient creates a client for the API at cfg.BaseURL.
func NewClient(cfg *config.Viewer, logger *zap.Logger) *Client {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		client:  resty.New().SetBaseURL(cfg.BaseURL).SetHeader("Accept", "application/json"),
		logger:  logger.Named("viewer-client"),
		limiter: rate.NewLimiter(limit, max(cfg.RateLimitBurst, 1)),
		backoff: time.Second,
	}
}

// doRequest executes req with rate limiting, retrying throttled, server-side
// and transport failures with exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	req.SetContext(ctx)
	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)
		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		shouldRetry := err != nil
		var retryAfter time.Duration
		if err == nil {
			switch status := resp.StatusCode(); {
			case status == http.StatusTooManyRequests:
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			case status >= http.StatusInternalServerError:
				shouldRetry = true
			}
		}
		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}
		if err == nil {
			err = fmt.Errorf("status %s", resp.Status())
		}
		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}
		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// Status fetches the market summary.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	req := c.client.R().SetResult(&api.StatusResponse{})
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/status", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return resp.Result().(*api.StatusResponse), nil
}

// PriceHistory fetches the latest limit price observations, oldest first.
func (c *Client) PriceHistory(ctx context.Context, limit int) ([]models.PriceObservation, error) {
	var history []models.PriceObservation
	req := c.client.R().SetResult(&history)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/prices", req); err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	return history, nil
}

// Agents fetches the leaderboard, richest agent first.
func (c *Client) Agents(ctx context.Context) ([]api.AgentEntry, error) {
	var entries []api.AgentEntry
	req := c.client.R().SetResult(&entries)
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/agents", req); err != nil {
		return nil, fmt.Errorf("failed to get agents: %w", err)
	}
	return entries, nil
}

// Trades fetches the latest limit trades, newest first.
func (c *Client) Trades(ctx context.Context, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	req := c.client.R().SetResult(&trades)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/trades", req); err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	return trades, nil
}

// Statistics fetches per-direction trade counts.
func (c *Client) Statistics(ctx context.Context) (*engine.Statistics, error) {
	req := c.client.R().SetResult(&engine.Statistics{})
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/statistics", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return resp.Result().(*engine.Statistics), nil
}

// EndTime fetches the simulation end time. The zero time means the run is open-ended.
func (c *Client) EndTime(ctx context.Context) (time.Time, error) {
	req := c.client.R().SetResult(&api.EndTimeResponse{})
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/end_time", req)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get end time: %w", err)
	}
	if end := resp.Result().(*api.EndTimeResponse).EndTime; end != nil {
		return *end, nil
	}
	return time.Time{}, nil
}
