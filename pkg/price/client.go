// Package price resolves ticker symbols to their latest traded price.
package price

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"mehranbot/pkg/failure"
	"mehranbot/pkg/logger"
)

const (
	DefaultBaseURL = "https://query1.finance.yahoo.com"

	chartPath       = "/v8/finance/chart/"
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 4 << 20
	userAgent       = "Mozilla/5.0 (compatible; mehranbot/1.0)"
)

var (
	// ErrRateLimited means the upstream asked us to slow down.
	ErrRateLimited = errors.New("price source rate limited")
	// ErrUnknownSymbol means the upstream has no data for the symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// Fetcher returns the current price of one symbol.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (float64, error)
}

// Client reads quotes from the Yahoo Finance chart endpoint.
type Client struct {
	http    *http.Client
	baseURL string
	log     *slog.Logger
}

// NewClient builds a quote client. A nil httpClient gets a default with timeout.
func NewClient(httpClient *http.Client, baseURL string, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		log:     logger.Component(log, "price.client"),
	}
}

// Fetch returns the regular market price for symbol, falling back to the
// most recent non-null close of the requested range.
func (c *Client) Fetch(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, failure.New(failure.KindUserInput, "symbol is required")
	}

	endpoint := c.baseURL + chartPath + url.PathEscape(symbol) + "?range=1mo&interval=1d"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build quote request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, failure.Wrap(failure.KindExternalTimeout, ctx.Err(), "quote request for "+symbol)
		}
		return 0, failure.Wrap(failure.KindExternalUnavailable, err, "quote request for "+symbol)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, failure.Wrap(failure.KindExternalUnavailable, err, "read quote response")
	}

	c.log.Debug("Quote response", "symbol", symbol, "status", resp.StatusCode, "duration", time.Since(started))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, fmt.Errorf("%s: %w", symbol, ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		// Rate limiting sometimes arrives as a plain-text body on another status.
		if strings.Contains(string(body), "Too Many Requests") {
			return 0, fmt.Errorf("%s: %w", symbol, ErrRateLimited)
		}
		return 0, failure.Wrap(failure.KindExternalUnavailable,
			fmt.Errorf("quote endpoint http %d", resp.StatusCode), "quote request for "+symbol)
	}

	return parseChart(symbol, body)
}

func parseChart(symbol string, body []byte) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, failure.Wrap(failure.KindExternalUnavailable, errors.New("invalid JSON"), "quote response for "+symbol)
	}

	if code := gjson.GetBytes(body, "chart.error.code").String(); code != "" {
		if code == "Not Found" {
			return 0, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
		}
		return 0, failure.Wrap(failure.KindExternalUnavailable,
			fmt.Errorf("chart error %s: %s", code, gjson.GetBytes(body, "chart.error.description").String()),
			"quote response for "+symbol)
	}

	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return 0, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}

	if price := result.Get("meta.regularMarketPrice"); price.Type == gjson.Number {
		return price.Float(), nil
	}

	closes := result.Get("indicators.quote.0.close").Array()
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i].Type == gjson.Number {
			return closes[i].Float(), nil
		}
	}

	return 0, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
}
