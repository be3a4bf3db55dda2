// Package pricing implements a client for the PokemonPriceTracker API v2.
//
// Endpoints used:
//
//	GET  /v2/cards            raw card lookup by tcgPlayerId
//	GET  /v2/sealed-products  sealed product lookup by tcgPlayerId
//	POST /v2/parse-title      fuzzy match product names to suggest tcgPlayerIds
//
// Lookups are best effort. Callers treat a failed lookup as "price unknown"
// and flag the item for manual review rather than failing the intake.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const userAgent = "pack-fresh-intake/1.0"

const maxTries = 4

// APIError carries the HTTP status and response body of a failed API call
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("price tracker API error: status %d: %s", e.Status, e.Body)
}

// Client talks to the PokemonPriceTracker API
type Client struct {
	BaseURL    string
	APIKey     string
	HttpClient *http.Client
	log        *logrus.Logger
}

// NewClient creates a new pricing client. An empty apiKey is allowed; every
// lookup then returns ErrDisabled and staging falls back to manual pricing.
func NewClient(baseURL, apiKey string, timeout time.Duration, log *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HttpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// ErrDisabled is returned when no API key is configured
var ErrDisabled = fmt.Errorf("pricing client disabled: no API key configured")

// Card is a card or sealed product record as returned by the API
type Card struct {
	Name        string      `json:"name"`
	SetName     string      `json:"setName"`
	CardNumber  string      `json:"cardNumber"`
	Rarity      string      `json:"rarity"`
	TCGPlayerID int64       `json:"tcgPlayerId"`
	Prices      CardPrices  `json:"prices"`
	RawMarket   json.Number `json:"marketPrice"`
}

// CardPrices holds the pricing block of a card response. Condition keys mirror
// TCGPlayer condition pricing.
type CardPrices struct {
	Market           *float64 `json:"market"`
	Low              *float64 `json:"low"`
	Mid              *float64 `json:"mid"`
	High             *float64 `json:"high"`
	NearMint         *float64 `json:"nearMint"`
	LightlyPlayed    *float64 `json:"lightlyPlayed"`
	ModeratelyPlayed *float64 `json:"moderatelyPlayed"`
	HeavilyPlayed    *float64 `json:"heavilyPlayed"`
	Damaged          *float64 `json:"damaged"`
}

// TitleMatch is one fuzzy-match suggestion from parse-title
type TitleMatch struct {
	Card       Card    `json:"card"`
	Confidence float64 `json:"confidence"`
}

type listResponse struct {
	Data []Card `json:"data"`
}

type parseTitleResponse struct {
	Matches []TitleMatch `json:"matches"`
	Data    struct {
		Matches []TitleMatch `json:"matches"`
	} `json:"data"`
}

// doRequest performs an HTTP request with retry, backoff, and 429 handling
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params url.Values, body interface{}) ([]byte, error) {
	if c.APIKey == "" {
		return nil, ErrDisabled
	}

	fullURL := c.BaseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastStatus int
	var lastBody string

	for attempt := 1; attempt <= maxTries; attempt++ {
		var reqBody io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request body: %w", err)
			}
			reqBody = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HttpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warnf("Price tracker request failed (attempt %d): %v", attempt, err)
			if !sleepCtx(ctx, time.Duration(attempt)*time.Second) {
				return nil, ctx.Err()
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			c.log.Warnf("Price tracker response read failed (attempt %d): %v", attempt, readErr)
			if !sleepCtx(ctx, time.Duration(attempt)*time.Second) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode < 400 {
			c.respectRateLimit(ctx, resp.Header)
			return data, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := time.Duration(2+attempt) * time.Second
			if reset := resp.Header.Get("X-Ratelimit-Minute-Reset"); reset != "" {
				if resetAt, err := strconv.ParseFloat(reset, 64); err == nil {
					until := time.Until(time.Unix(int64(resetAt), 0)) + 500*time.Millisecond
					if until > 0 {
						wait = until
					}
				}
			}
			c.log.Warnf("Price tracker rate limited, sleeping %s (attempt %d)", wait, attempt)
			if !sleepCtx(ctx, wait) {
				return nil, ctx.Err()
			}
			continue
		}

		lastStatus = resp.StatusCode
		lastBody = string(data)
		if !sleepCtx(ctx, time.Duration(attempt)*time.Second) {
			return nil, ctx.Err()
		}
	}

	return nil, &APIError{Status: lastStatus, Body: lastBody}
}

// respectRateLimit sleeps until the minute window resets when the remaining
// budget is nearly exhausted, so a burst of lookups does not trip a 429.
func (c *Client) respectRateLimit(ctx context.Context, h http.Header) {
	remaining := h.Get("X-Ratelimit-Minute-Remaining")
	reset := h.Get("X-Ratelimit-Minute-Reset")
	if remaining == "" || reset == "" {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil || n > 1 {
		return
	}
	resetAt, err := strconv.ParseFloat(reset, 64)
	if err != nil {
		return
	}
	wait := time.Until(time.Unix(int64(resetAt), 0)) + 500*time.Millisecond
	if wait <= 0 {
		return
	}
	c.log.Infof("Price tracker rate limit near exhaustion, sleeping %s", wait)
	sleepCtx(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// LookupCard looks up a raw card by tcgplayer ID. Returns nil when the API
// has no record for the ID.
func (c *Client) LookupCard(ctx context.Context, tcgplayerID int64) (*Card, error) {
	return c.lookup(ctx, "/v2/cards", tcgplayerID)
}

// LookupSealed looks up a sealed product by tcgplayer ID
func (c *Client) LookupSealed(ctx context.Context, tcgplayerID int64) (*Card, error) {
	return c.lookup(ctx, "/v2/sealed-products", tcgplayerID)
}

func (c *Client) lookup(ctx context.Context, endpoint string, tcgplayerID int64) (*Card, error) {
	params := url.Values{}
	params.Set("tcgPlayerId", strconv.FormatInt(tcgplayerID, 10))
	params.Set("days", "7")

	data, err := c.doRequest(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		// Some responses return a single object rather than a list
		var single Card
		if err2 := json.Unmarshal(data, &single); err2 == nil && single.Name != "" {
			return &single, nil
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return &resp.Data[0], nil
}

// ParseTitle fuzzy-matches a free-form product title and returns suggestions
// ordered by confidence. Errors are logged and swallowed; an empty slice
// means "no suggestions".
func (c *Client) ParseTitle(ctx context.Context, title string, maxSuggestions int) []TitleMatch {
	if maxSuggestions <= 0 {
		maxSuggestions = 5
	}
	body := map[string]interface{}{
		"title": title,
		"options": map[string]interface{}{
			"fuzzyMatching":     true,
			"maxSuggestions":    maxSuggestions,
			"includeConfidence": true,
		},
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v2/parse-title", nil, body)
	if err != nil {
		c.log.Warnf("parse-title failed for %q: %v", title, err)
		return nil
	}

	var resp parseTitleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.log.Warnf("parse-title decode failed for %q: %v", title, err)
		return nil
	}
	if len(resp.Matches) > 0 {
		return resp.Matches
	}
	return resp.Data.Matches
}

// MarketPrice extracts the market price of a card response, falling back to
// the mid price and then the top-level marketPrice field.
func (card *Card) MarketPrice() (decimal.Decimal, bool) {
	if card == nil {
		return decimal.Zero, false
	}
	if card.Prices.Market != nil {
		return decimal.NewFromFloat(*card.Prices.Market), true
	}
	if card.Prices.Mid != nil {
		return decimal.NewFromFloat(*card.Prices.Mid), true
	}
	if s := card.RawMarket.String(); s != "" {
		if d, err := decimal.NewFromString(s); err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

// ConditionPrice extracts the price for a listing condition (NM, LP, MP, HP,
// DMG), falling back to the market price when the API has no condition quote.
func (card *Card) ConditionPrice(condition string) (decimal.Decimal, bool) {
	if card == nil {
		return decimal.Zero, false
	}
	var p *float64
	switch condition {
	case "NM", "Near Mint":
		p = card.Prices.NearMint
	case "LP", "Lightly Played":
		p = card.Prices.LightlyPlayed
	case "MP", "Moderately Played":
		p = card.Prices.ModeratelyPlayed
	case "HP", "Heavily Played":
		p = card.Prices.HeavilyPlayed
	case "DMG", "Damaged":
		p = card.Prices.Damaged
	}
	if p != nil {
		return decimal.NewFromFloat(*p), true
	}
	return card.MarketPrice()
}
