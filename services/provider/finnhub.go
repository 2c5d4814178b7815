package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// SourceName identifies this provider on persisted records.
const SourceName = "finnhub"

// Quote is a snapshot of a security's current prices from the provider.
type Quote struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// Candles holds a date-ranged daily candle series as parallel arrays,
// the provider's native shape.
type Candles struct {
	Close      []float64 `json:"c"`
	High       []float64 `json:"h"`
	Low        []float64 `json:"l"`
	Open       []float64 `json:"o"`
	Volume     []int64   `json:"v"`
	Timestamps []int64   `json:"t"`
	Status     string    `json:"s"`
}

// Len returns the number of candles in the series.
func (c *Candles) Len() int {
	return len(c.Timestamps)
}

// CompanyProfile carries the descriptive fields used to enrich a security.
type CompanyProfile struct {
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Industry string `json:"finnhubIndustry"`
}

// Client is the upstream market data provider contract.
type Client interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetCandles(ctx context.Context, symbol string, from, to time.Time, resolution string) (*Candles, error)
}

// FinnhubClient calls the Finnhub REST API.
type FinnhubClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFinnhubClient creates a provider client with the given endpoint and key.
func NewFinnhubClient(baseURL, apiKey string, timeout time.Duration) *FinnhubClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FinnhubClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetQuote fetches the current quote for a symbol
func (c *FinnhubClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var quote Quote
	if err := c.get(ctx, "/quote", params, &quote); err != nil {
		return nil, err
	}

	// The API returns all zeros for unknown symbols rather than an error
	if quote.Current == 0 && quote.PreviousClose == 0 && quote.Timestamp == 0 {
		return nil, fmt.Errorf("no quote data for %s", symbol)
	}

	return &quote, nil
}

// GetCandles fetches daily candles for a symbol over [from, to]
func (c *FinnhubClient) GetCandles(ctx context.Context, symbol string, from, to time.Time, resolution string) (*Candles, error) {
	if resolution == "" {
		resolution = "D"
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("resolution", resolution)
	params.Set("from", fmt.Sprintf("%d", from.Unix()))
	params.Set("to", fmt.Sprintf("%d", to.Unix()))

	var candles Candles
	if err := c.get(ctx, "/stock/candle", params, &candles); err != nil {
		return nil, err
	}

	if candles.Status != "ok" {
		return nil, fmt.Errorf("no candle data for %s (status %q)", symbol, candles.Status)
	}

	return &candles, nil
}

// GetProfile fetches the company profile used for sector enrichment
func (c *FinnhubClient) GetProfile(ctx context.Context, symbol string) (*CompanyProfile, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var profile CompanyProfile
	if err := c.get(ctx, "/stock/profile2", params, &profile); err != nil {
		return nil, err
	}
	if profile.Name == "" && profile.Exchange == "" {
		return nil, fmt.Errorf("no profile data for %s", symbol)
	}
	return &profile, nil
}

// get performs a GET against the provider and decodes the JSON body into out
func (c *FinnhubClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	params.Set("token", c.apiKey)
	fullURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}
