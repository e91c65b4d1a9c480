package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/acortes/kalmaker/internal/domain"
	"github.com/acortes/kalmaker/internal/ports"
)

const (
	defaultBaseURL = "https://api.elections.kalshi.com"
	apiPrefix      = "/trade-api/v2"

	// Kalshi allows 10 req/s on the basic tier; pace below that.
	requestsPerSec = 8

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// ErrNoResponse is returned when a request exhausts its retries without a
// usable response. Callers must treat it as UNKNOWN state: an unknown order
// list is not an empty one.
var ErrNoResponse = errors.New("kalshi: no response after retries")

// APIError is a non-retryable error status returned by the exchange.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kalshi: status %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the status indicates a transient condition.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client is the signed Kalshi REST client. It implements ports.Exchange.
type Client struct {
	http      *http.Client
	baseURL   string
	creds     *Credentials
	limiter   *rate.Limiter
	retryWait time.Duration
}

// NewClient creates a client for the given base URL (production if empty).
func NewClient(baseURL string, creds *Credentials) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   baseURL,
		creds:     creds,
		limiter:   rate.NewLimiter(requestsPerSec, 4),
		retryWait: baseRetryWait,
	}
}

// do executes one signed request with rate limiting and exponential backoff.
// Headers are regenerated per attempt so the signed timestamp stays fresh.
// A nil return with no error means the caller's out was filled (or nil).
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var payload []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = b
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		headers, err := c.creds.SignRequest(method, path)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("kalshi: network error", "method", method, "path", path, "attempt", attempt+1, "err", err)
			c.sleep(ctx, attempt)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if retryable(resp.StatusCode) {
			slog.Warn("kalshi: transient error", "status", resp.StatusCode, "path", path, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("%s %s: %w", method, path, ErrNoResponse)
}

// sleep waits out the backoff for the given attempt, honoring the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// Balance returns available cash and portfolio value in dollars.
func (c *Client) Balance(ctx context.Context) (ports.Balance, error) {
	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/portfolio/balance", nil, &resp); err != nil {
		return ports.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return ports.Balance{
		Cash:           float64(resp.Balance) / 100.0,
		PortfolioValue: float64(resp.PortfolioValue) / 100.0,
	}, nil
}

// Positions returns all non-zero market positions.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	var resp positionsResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/portfolio/positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(resp.MarketPositions))
	for _, p := range resp.MarketPositions {
		if p.Position == 0 {
			continue
		}
		positions = append(positions, p.toDomain())
	}
	return positions, nil
}

// Orders returns open orders, optionally filtered by ticker.
func (c *Client) Orders(ctx context.Context, ticker string) ([]domain.Order, error) {
	path := apiPrefix + "/portfolio/orders"
	if ticker != "" {
		path += "?ticker=" + url.QueryEscape(ticker)
	}

	var resp ordersResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, o.toDomain())
	}
	return orders, nil
}

// CreateOrder places a limit buy order.
func (c *Client) CreateOrder(ctx context.Context, req ports.CreateOrderRequest) (ports.CreateOrderResult, error) {
	body := createOrderRequest{
		Action:        "buy",
		Count:         req.Quantity,
		Side:          string(req.Side),
		Ticker:        req.Ticker,
		Type:          "limit",
		ClientOrderID: req.ClientOrderID,
	}
	price := req.Price
	if req.Side == domain.SideYes {
		body.YesPrice = &price
	} else {
		body.NoPrice = &price
	}

	var resp createOrderResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/portfolio/orders", body, &resp); err != nil {
		return ports.CreateOrderResult{}, fmt.Errorf("create order: %w", err)
	}

	return ports.CreateOrderResult{
		OrderID:     resp.Order.OrderID,
		Status:      normalizeStatus(resp.Order.Status),
		FilledCount: resp.Order.FilledCount,
	}, nil
}

// CancelOrder cancels a resting order by its exchange order id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.do(ctx, http.MethodDelete, apiPrefix+"/portfolio/orders/"+orderID, nil, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}
