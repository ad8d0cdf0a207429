// Package discovery holds the HTTPS bootstrap collaborators that feed the
// streaming core: user login, symbol search, indicator listings, and
// chart/quote token minting. These endpoints are plain request/response —
// nothing here touches the wire protocol.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"tvfeed/models"
)

const (
	defaultBaseURL   = "https://www.tradingview.com"
	defaultSearchURL = "https://symbol-search.tradingview.com/symbol_search/v3/"
	defaultPineURL   = "https://pine-facade.tradingview.com/pine-facade"

	// pageSize is the server's fixed search page size.
	pageSize = 50
	// maxConcurrentPages bounds concurrent page fetches during a full listing.
	maxConcurrentPages = 30

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Client talks to TradingView's HTTPS helper endpoints with transparent
// retries on transient failures.
type Client struct {
	http      *retryablehttp.Client
	baseURL   string
	searchURL string
	pineURL   string
	log       zerolog.Logger
}

func New(log zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return &Client{
		http:      rc,
		baseURL:   defaultBaseURL,
		searchURL: defaultSearchURL,
		pineURL:   defaultPineURL,
		log:       log,
	}
}

// WithEndpoints overrides the endpoint roots; tests point these at local
// servers.
func (c *Client) WithEndpoints(base, search, pine string) *Client {
	if base != "" {
		c.baseURL = base
	}
	if search != "" {
		c.searchURL = search
	}
	if pine != "" {
		c.pineURL = pine
	}
	return c
}

func (c *Client) get(ctx context.Context, rawURL string, out interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.WrapError(models.ErrInternal, "discovery: build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", c.baseURL)
	resp, err := c.http.Do(req)
	if err != nil {
		return models.WrapError(models.ErrInternal, "discovery: GET "+rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.NewError(models.ErrInternal, fmt.Sprintf("discovery: GET %s: status %d", rawURL, resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WrapError(models.ErrInternal, "discovery: read body", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return models.WrapError(models.ErrProtocolParse, "discovery: decode response", err)
	}
	return nil
}

// SymbolSearchResult is one row of the symbol-search endpoint.
type SymbolSearchResult struct {
	Symbol       string `json:"symbol"`
	Exchange     string `json:"exchange"`
	Description  string `json:"description"`
	Type         string `json:"type"`
	CurrencyCode string `json:"currency_code"`
	ProviderID   string `json:"provider_id"`
	Country      string `json:"country"`
}

type searchResponse struct {
	Remaining int64                `json:"symbols_remaining"`
	Symbols   []SymbolSearchResult `json:"symbols"`
}

// searchPage fetches one page of results starting at the given offset.
func (c *Client) searchPage(ctx context.Context, query, exchange string, start int64) (searchResponse, error) {
	params := url.Values{}
	params.Set("text", query)
	params.Set("exchange", exchange)
	params.Set("domain", "production")
	params.Set("hl", "0")
	params.Set("lang", "en")
	params.Set("start", fmt.Sprintf("%d", start))

	var page searchResponse
	err := c.get(ctx, c.searchURL+"?"+params.Encode(), &page)
	return page, err
}

// SearchSymbols fetches the first page for query/exchange, then fans the
// remaining pages out concurrently, bounded by a semaphore of
// maxConcurrentPages. Page order in the result is not guaranteed beyond
// the first page.
func (c *Client) SearchSymbols(ctx context.Context, query, exchange string) ([]SymbolSearchResult, error) {
	first, err := c.searchPage(ctx, query, exchange, 0)
	if err != nil {
		return nil, err
	}
	symbols := first.Symbols
	if first.Remaining <= 0 {
		return symbols, nil
	}

	sem := make(chan struct{}, maxConcurrentPages)
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		pageErr error
	)
	for start := int64(pageSize); start < int64(pageSize)+first.Remaining; start += pageSize {
		wg.Add(1)
		go func(start int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			page, err := c.searchPage(ctx, query, exchange, start)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if pageErr == nil {
					pageErr = err
				}
				return
			}
			symbols = append(symbols, page.Symbols...)
		}(start)
	}
	wg.Wait()
	if pageErr != nil {
		return symbols, pageErr
	}
	return symbols, nil
}

// Indicator is one entry of a pine-facade listing.
type Indicator struct {
	ScriptName    string `json:"scriptName"`
	ScriptID      string `json:"scriptIdPart"`
	ScriptVersion string `json:"version"`
	Access        int    `json:"access"`
}

// BuiltinIndicators lists the server's standard indicator catalog.
func (c *Client) BuiltinIndicators(ctx context.Context) ([]Indicator, error) {
	var out []Indicator
	if err := c.get(ctx, c.pineURL+"/list/?filter=standard", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PrivateIndicators lists the scripts saved by the logged-in user; requires
// the session cookie obtained from Login.
func (c *Client) PrivateIndicators(ctx context.Context, user *User) ([]Indicator, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.pineURL+"/list?filter=saved", nil)
	if err != nil {
		return nil, models.WrapError(models.ErrInternal, "discovery: build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", user.cookie())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ErrInternal, "discovery: list private indicators", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewError(models.ErrLogin, fmt.Sprintf("discovery: private indicators: status %d", resp.StatusCode))
	}
	var out []Indicator
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.WrapError(models.ErrInternal, "discovery: read body", err)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, models.WrapError(models.ErrProtocolParse, "discovery: decode indicator list", err)
	}
	return out, nil
}

// ChartToken mints the token the streaming side presents when loading a
// saved layout.
func (c *Client) ChartToken(ctx context.Context, layoutID string, user *User) (string, error) {
	rawURL := fmt.Sprintf("%s/chart-token/?image_url=%s&user_id=%d", c.baseURL, url.QueryEscape(layoutID), user.ID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", models.WrapError(models.ErrInternal, "discovery: build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", user.cookie())
	resp, err := c.http.Do(req)
	if err != nil {
		return "", models.WrapError(models.ErrInternal, "discovery: chart token", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Token string `json:"token"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.WrapError(models.ErrInternal, "discovery: read body", err)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", models.WrapError(models.ErrProtocolParse, "discovery: decode chart token", err)
	}
	if payload.Token == "" {
		return "", models.NewError(models.ErrLogin, "discovery: chart token missing from response")
	}
	return strings.ReplaceAll(payload.Token, `"`, ""), nil
}

// QuoteToken mints the token used for standalone quote widgets.
func (c *Client) QuoteToken(ctx context.Context, user *User) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote_token", nil)
	if err != nil {
		return "", models.WrapError(models.ErrInternal, "discovery: build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", user.cookie())
	resp, err := c.http.Do(req)
	if err != nil {
		return "", models.WrapError(models.ErrInternal, "discovery: quote token", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.WrapError(models.ErrInternal, "discovery: read body", err)
	}
	return strings.Trim(string(body), `"`), nil
}
