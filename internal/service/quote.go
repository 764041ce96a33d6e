package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteClient queries an external price service. Quotes are advisory and are
// only used to size the destination amount when the caller leaves it out.
type QuoteClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewQuoteClient creates a new quote client
func NewQuoteClient(endpoint string, timeout time.Duration) (*QuoteClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("quote API endpoint cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &QuoteClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Quote is a rate between two assets
type Quote struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"` // destination units per source unit
	Amount    decimal.Decimal `json:"amount"`
	ToAmount  decimal.Decimal `json:"to_amount"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type quoteResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// GetQuote fetches the rate for swapping amount of from into to
//
// API endpoint: GET {endpoint}/quote?from=ETH&to=ATOM&amount=1.5
func (c *QuoteClient) GetQuote(ctx context.Context, from, to string, amount decimal.Decimal) (*Quote, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("both assets are required")
	}

	params := url.Values{}
	params.Set("from", from)
	params.Set("to", to)
	params.Set("amount", amount.String())
	reqURL := fmt.Sprintf("%s/quote?%s", c.endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result quoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.Rate.IsPositive() {
		return nil, fmt.Errorf("quote API returned non-positive rate %s", result.Rate)
	}

	return &Quote{
		From:      from,
		To:        to,
		Rate:      result.Rate,
		Amount:    amount,
		ToAmount:  amount.Mul(result.Rate),
		FetchedAt: time.Now().UTC(),
	}, nil
}
