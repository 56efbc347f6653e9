// Package exchange implements the Binance REST clients (spot and USD-M
// futures) behind the market data and order submission contracts. Signed
// endpoints use HMAC-SHA256 request signing with the account API secret.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/model"
	"github.com/tradewire/order-engine/internal/rules"
)

// Default production endpoints. Overridable for testnets and tests.
const (
	DefaultSpotBaseURL    = "https://api.binance.com"
	DefaultFuturesBaseURL = "https://fapi.binance.com"
)

// Config holds the exchange client configuration.
type Config struct {
	APIKey         string
	APISecret      string
	SpotBaseURL    string
	FuturesBaseURL string
	Timeout        time.Duration
}

// Client talks to the Binance spot and USD-M futures REST APIs. It is
// safe for concurrent use; it holds no per-request state.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates an exchange client. Zero-value base URLs fall back to
// the production endpoints; a zero timeout falls back to 10 seconds.
func NewClient(cfg Config) *Client {
	if cfg.SpotBaseURL == "" {
		cfg.SpotBaseURL = DefaultSpotBaseURL
	}
	if cfg.FuturesBaseURL == "" {
		cfg.FuturesBaseURL = DefaultFuturesBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a structured error response from the exchange.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: code %d: %s", e.Code, e.Msg)
}

// --- marketdata.MarketData implementation ---

// Balances returns available balance per asset: free wallet balances for
// spot, available margin balances for futures.
func (c *Client) Balances(ctx context.Context, market model.MarketType) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal)

	if market == model.MarketFutures {
		var acct struct {
			Assets []struct {
				Asset            string `json:"asset"`
				AvailableBalance string `json:"availableBalance"`
			} `json:"assets"`
		}
		if err := c.signed(ctx, http.MethodGet, c.cfg.FuturesBaseURL, "/fapi/v2/account", nil, &acct); err != nil {
			return nil, err
		}
		for _, a := range acct.Assets {
			v, err := decimal.NewFromString(a.AvailableBalance)
			if err != nil {
				continue
			}
			balances[a.Asset] = v
		}
		return balances, nil
	}

	var acct struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := c.signed(ctx, http.MethodGet, c.cfg.SpotBaseURL, "/api/v3/account", nil, &acct); err != nil {
		return nil, err
	}
	for _, b := range acct.Balances {
		v, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		balances[b.Asset] = v
	}
	return balances, nil
}

// SymbolRules fetches the current exchange info and resolves the symbol's
// trading constraints through the rules adapter.
func (c *Client) SymbolRules(ctx context.Context, symbol string, market model.MarketType) (*model.SymbolRules, error) {
	base, path := c.cfg.SpotBaseURL, "/api/v3/exchangeInfo"
	if market == model.MarketFutures {
		base, path = c.cfg.FuturesBaseURL, "/fapi/v1/exchangeInfo"
	}

	var info rules.ExchangeInfo
	if err := c.public(ctx, base, path, nil, &info); err != nil {
		return nil, err
	}
	return rules.Resolve(&info, symbol)
}

// Price returns the current ticker price for the symbol.
func (c *Client) Price(ctx context.Context, symbol string, market model.MarketType) (decimal.Decimal, error) {
	base, path := c.cfg.SpotBaseURL, "/api/v3/ticker/price"
	if market == model.MarketFutures {
		base, path = c.cfg.FuturesBaseURL, "/fapi/v1/ticker/price"
	}

	var ticker struct {
		Price string `json:"price"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.public(ctx, base, path, params, &ticker); err != nil {
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchange: bad ticker price %q for %s: %w", ticker.Price, symbol, err)
	}
	return price, nil
}

// OpenPosition returns the signed open-position size for the symbol in
// one-way position mode (positionSide BOTH). Zero means no open position.
func (c *Client) OpenPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var positions []struct {
		Symbol       string `json:"symbol"`
		PositionSide string `json:"positionSide"`
		PositionAmt  string `json:"positionAmt"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.signed(ctx, http.MethodGet, c.cfg.FuturesBaseURL, "/fapi/v2/positionRisk", params, &positions); err != nil {
		return decimal.Zero, err
	}

	for _, p := range positions {
		if p.Symbol == symbol && p.PositionSide == "BOTH" {
			amt, err := decimal.NewFromString(p.PositionAmt)
			if err != nil {
				return decimal.Zero, fmt.Errorf("exchange: bad position amount %q for %s: %w", p.PositionAmt, symbol, err)
			}
			return amt, nil
		}
	}
	return decimal.Zero, nil
}

// SetLeverage changes the symbol's leverage on the futures account.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{
		"symbol":   {symbol},
		"leverage": {strconv.Itoa(leverage)},
	}
	return c.signed(ctx, http.MethodPost, c.cfg.FuturesBaseURL, "/fapi/v1/leverage", params, nil)
}

// --- Order submission ---

// Submit places a validated MARKET order and returns the exchange order ID.
// Futures closes are submitted reduce-only so they can never flip the
// position to the opposite side.
func (c *Client) Submit(ctx context.Context, order *model.ValidatedOrder) (string, error) {
	params := url.Values{
		"symbol":   {order.Symbol},
		"side":     {string(order.Side)},
		"type":     {"MARKET"},
		"quantity": {order.Quantity},
	}

	base, path := c.cfg.SpotBaseURL, "/api/v3/order"
	if order.Market == model.MarketFutures {
		base, path = c.cfg.FuturesBaseURL, "/fapi/v1/order"
		if order.ClosePosition {
			params.Set("reduceOnly", "true")
		}
	}

	var resp struct {
		OrderID json.Number `json:"orderId"`
	}
	if err := c.signed(ctx, http.MethodPost, base, path, params, &resp); err != nil {
		return "", err
	}
	return resp.OrderID.String(), nil
}

// --- Request plumbing ---

// public issues an unauthenticated GET request.
func (c *Client) public(ctx context.Context, base, path string, params url.Values, out any) error {
	u := base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// signed issues an authenticated request: timestamped query string, HMAC
// SHA256 signature appended, API key header set.
func (c *Client) signed(ctx context.Context, method, base, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, base+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("exchange: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return &apiErr
		}
		return fmt.Errorf("exchange: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("exchange: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
