package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"atomicswap/internal/models"
	"atomicswap/internal/service"
)

// Client calls the coordinator's HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Response   ErrorResponse
}

func (e *APIError) Error() string {
	r := e.Response
	if r.Code != "" {
		return fmt.Sprintf("%s (%d, %s/%s)", r.Message, e.StatusCode, r.Kind, r.Code)
	}
	if r.Message != "" {
		return fmt.Sprintf("%s (%d)", r.Message, e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// NewClient creates a client for the API served at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateSwap(ctx context.Context, req CreateSwapRequest) (*CreateSwapResponse, error) {
	var resp CreateSwapResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/swaps", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetSwap(ctx context.Context, swapID string) (*models.Swap, error) {
	var swap models.Swap
	if err := c.do(ctx, http.MethodGet, "/api/v1/swaps/"+url.PathEscape(swapID), nil, &swap); err != nil {
		return nil, err
	}
	return &swap, nil
}

// ListSwaps returns swaps newest first; an empty status matches every swap
func (c *Client) ListSwaps(ctx context.Context, status string, limit, offset int) ([]models.Swap, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/swaps"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp ListSwapsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Swaps, nil
}

func (c *Client) ListEvents(ctx context.Context, swapID string) ([]models.SwapEvent, error) {
	var resp ListEventsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/swaps/"+url.PathEscape(swapID)+"/events", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) RevealSecret(ctx context.Context, swapID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/swaps/"+url.PathEscape(swapID)+"/reveal", nil, nil)
}

func (c *Client) CalculateFee(ctx context.Context, req CalculateFeeRequest) (*CalculateFeeResponse, error) {
	var resp CalculateFeeResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/fees/calculate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Quote asks for a rate; amount is in human units
func (c *Client) Quote(ctx context.Context, from, to, amount string) (*service.Quote, error) {
	query := url.Values{"from": {from}, "to": {to}, "amount": {amount}}
	var quote service.Quote
	if err := c.do(ctx, http.MethodGet, "/api/v1/quote?"+query.Encode(), nil, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// Health returns the health report. A degraded service answers 503 with a
// full report, which is returned together with the error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return &resp, err
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stream calls fn for every swap event until ctx is done, the server closes
// the stream or fn returns an error. An empty swapID streams every swap.
func (c *Client) Stream(ctx context.Context, swapID string, fn func(models.SwapEvent) error) error {
	u, err := url.Parse(c.baseURL + "/api/v1/stream")
	if err != nil {
		return fmt.Errorf("invalid API url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if swapID != "" {
		u.RawQuery = url.Values{"swap_id": {swapID}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var ev models.SwapEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, &apiErr.Response)
		// the health report is still useful when degraded
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
