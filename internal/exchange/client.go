package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/metrics"
)

// Request weights per the venue's rate limit schedule. Depth at the
// full 1000-level limit is by far the most expensive call we make.
const (
	weightDepth        = 50
	weightExchangeInfo = 10
	weightTickers24h   = 40
	weightOrder        = 1
	weightQueryOrder   = 2
	weightCancel       = 1
	weightAccount      = 10
)

// Client handles venue REST API communication: order book snapshots,
// symbol metadata, 24h statistics and (in live mode) order execution.
// All calls pass through the shared weighted rate limiter; order
// mutations additionally go through a circuit breaker so a flapping
// venue stops receiving submissions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *infra.RateLimiter
	breaker    *infra.CircuitBreaker
	signer     *Signer
	metrics    *metrics.Metrics
}

// NewClient creates a REST client from config. The limiter is shared
// with every other caller that consumes request weight.
func NewClient(cfg *infra.Config, limiter *infra.RateLimiter, m *metrics.Metrics) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.Binance.RestURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    limiter,
		breaker:    infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("rest-orders")),
		signer:     NewSigner(cfg.Binance.APIKey, cfg.Binance.SecretKey),
		metrics:    m,
	}
}

// FetchDepth retrieves an order book snapshot.
func (c *Client) FetchDepth(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", fmt.Sprintf("%d", limit))

	var snap DepthSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/v3/depth", params, false, weightDepth, &snap); err != nil {
		return nil, fmt.Errorf("fetch depth %s: %w", symbol, err)
	}
	return &snap, nil
}

// FetchExchangeInfo retrieves the trading filters for one symbol.
func (c *Client) FetchExchangeInfo(ctx context.Context, symbol string) (Filters, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp exchangeInfoResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, weightExchangeInfo, &resp); err != nil {
		return Filters{}, fmt.Errorf("fetch exchange info %s: %w", symbol, err)
	}

	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		f := Filters{Symbol: symbol}
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "PRICE_FILTER":
				f.TickSize = parseDecimal(flt.TickSize)
			case "LOT_SIZE":
				f.StepSize = parseDecimal(flt.StepSize)
			case "NOTIONAL", "MIN_NOTIONAL":
				f.MinNotional = parseDecimal(flt.MinNotional)
			}
		}
		return f, nil
	}
	return Filters{}, fmt.Errorf("fetch exchange info %s: symbol not in response", symbol)
}

// FetchTickers24h retrieves rolling 24h statistics for every symbol.
func (c *Client) FetchTickers24h(ctx context.Context) ([]domain.Ticker24h, error) {
	var rows []ticker24hEntry
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/24hr", nil, false, weightTickers24h, &rows); err != nil {
		return nil, fmt.Errorf("fetch 24h tickers: %w", err)
	}

	out := make([]domain.Ticker24h, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Ticker24h{
			Symbol:         r.Symbol,
			LastPrice:      parseFloat(r.LastPrice),
			PriceChangePct: parseFloat(r.PriceChangePct),
			QuoteVolume:    parseFloat(r.QuoteVolume),
		})
	}
	return out, nil
}

// CreateOrder submits a limit GTC order. A timeout whose outcome the
// venue does not confirm surfaces as ErrAmbiguousTimeout; the caller
// must not assume the order was rejected.
func (c *Client) CreateOrder(ctx context.Context, symbol string, side domain.Side, qty, price float64) (*OrderRecord, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", trimFloat(qty))
	params.Set("price", trimFloat(price))

	var rec OrderRecord
	err := c.breaker.Do(func() error {
		return c.do(ctx, http.MethodPost, "/api/v3/order", params, true, weightOrder, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("create order %s %s: %w", side, symbol, err)
	}
	return &rec, nil
}

// FetchOrder retrieves the current venue state of an order.
func (c *Client) FetchOrder(ctx context.Context, symbol, orderID string) (*OrderRecord, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var rec OrderRecord
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", params, true, weightQueryOrder, &rec); err != nil {
		return nil, fmt.Errorf("fetch order %s/%s: %w", symbol, orderID, err)
	}
	return &rec, nil
}

// CancelOrder cancels an open order on the venue.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	err := c.breaker.Do(func() error {
		return c.do(ctx, http.MethodDelete, "/api/v3/order", params, true, weightCancel, nil)
	})
	if err != nil {
		return fmt.Errorf("cancel order %s/%s: %w", symbol, orderID, err)
	}
	return nil
}

// FetchBalances retrieves free/locked balances per asset.
func (c *Client) FetchBalances(ctx context.Context) (map[string]Balance, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", nil, true, weightAccount, &resp); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	out := make(map[string]Balance, len(resp.Balances))
	for _, b := range resp.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		out[b.Asset] = Balance{Free: free, Locked: locked}
	}
	return out, nil
}

// Close wipes credentials.
func (c *Client) Close() {
	c.signer.Wipe()
}

// do performs one REST call: waits for rate limit budget, signs when
// required, and decodes either the success payload or an APIError.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, weight float64, out any) error {
	if c.limiter != nil {
		if err := c.limiter.WaitContext(ctx, weight); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if params == nil {
		params = url.Values{}
	}

	var query string
	if signed {
		if !c.signer.HasKeys() {
			return errors.New("signed endpoint requires API credentials")
		}
		query = c.signer.Sign(params)
	} else {
		query = params.Encode()
	}

	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", infra.GetUserAgent())
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.signer.APIKey())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordRequest(path, "transport_error")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		c.recordRequest(path, "read_error")
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.recordRequest(path, "api_error")
		apiErr := &APIError{}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Code == 0 {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(body, 256))
		}
		slog.Warn("Exchange API error", "path", path, "code", apiErr.Code, "msg", apiErr.Msg)
		return apiErr
	}

	c.recordRequest(path, "ok")
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) recordRequest(path, outcome string) {
	c.metrics.RecordRestRequest(path, outcome)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
