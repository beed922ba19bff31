// Package binance implements the exchange.Client interface against the
// Binance spot REST API.
package binance

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
	"strings"
	"sync"
	"time"

	"ladderbot/pkg/exchange"
)

const defaultRecvWindow = 5000

// Client is a Binance spot client.
type Client struct {
	creds      exchange.Credentials
	baseURL    string
	httpClient *http.Client

	mu      sync.RWMutex
	markets map[string]struct{} // tradable symbols, populated by LoadMarkets
}

// New builds a Client from credentials. Registered with the exchange factory
// under "binance".
func New(creds exchange.Credentials) (exchange.Client, error) {
	base := "https://api.binance.com"
	if creds.Testnet {
		base = "https://testnet.binance.vision"
	}
	return &Client{
		creds:      creds,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		markets:    make(map[string]struct{}),
	}, nil
}

func init() {
	exchange.Register("binance", New)
}

// LoadMarkets fetches exchange metadata and records the tradable symbol set.
func (c *Client) LoadMarkets(ctx context.Context) error {
	body, err := c.doPublic(ctx, "loadMarkets", "/api/v3/exchangeInfo", nil)
	if err != nil {
		return err
	}
	var info struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("decode exchange info: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets = make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			c.markets[s.Symbol] = struct{}{}
		}
	}
	return nil
}

// CreateOrder places a GTC limit order.
func (c *Client) CreateOrder(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", formatFloat(amount))
	params.Set("price", formatFloat(price))

	body, err := c.doSigned(ctx, "createOrder", http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return exchange.Order{}, err
	}
	var resp restOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Order{}, fmt.Errorf("decode order response: %w", err)
	}
	return resp.toOrder(symbol), nil
}

// CancelOrder cancels a resting order by exchange order id.
func (c *Client) CancelOrder(ctx context.Context, id, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", id)
	_, err := c.doSigned(ctx, "cancelOrder", http.MethodDelete, "/api/v3/order", params)
	return err
}

// FetchOrder returns the live state of a single order.
func (c *Client) FetchOrder(ctx context.Context, id, symbol string) (exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", id)
	body, err := c.doSigned(ctx, "fetchOrder", http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return exchange.Order{}, err
	}
	var resp restOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toOrder(symbol), nil
}

// FetchOpenOrders returns currently resting orders for a symbol.
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, "fetchOpenOrders", http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}
	var resp []restOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	orders := make([]exchange.Order, 0, len(resp))
	for _, r := range resp {
		orders = append(orders, r.toOrder(symbol))
	}
	return orders, nil
}

// FetchTickers returns last traded prices for the given symbols.
func (c *Client) FetchTickers(ctx context.Context, symbols []string) (map[string]exchange.Ticker, error) {
	params := url.Values{}
	if len(symbols) == 1 {
		params.Set("symbol", symbols[0])
	} else if len(symbols) > 1 {
		quoted := make([]string, len(symbols))
		for i, s := range symbols {
			quoted[i] = strconv.Quote(s)
		}
		params.Set("symbols", "["+strings.Join(quoted, ",")+"]")
	}
	body, err := c.doPublic(ctx, "fetchTickers", "/api/v3/ticker/price", params)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if len(symbols) == 1 {
		var row struct {
			Symbol string `json:"symbol"`
			Price  string `json:"price"`
		}
		if err := json.Unmarshal(body, &row); err != nil {
			return nil, fmt.Errorf("decode ticker: %w", err)
		}
		rows = append(rows, row)
	} else if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}

	tickers := make(map[string]exchange.Ticker, len(rows))
	for _, r := range rows {
		last, err := strconv.ParseFloat(r.Price, 64)
		if err != nil {
			continue
		}
		tickers[r.Symbol] = exchange.Ticker{Symbol: r.Symbol, Last: last}
	}
	return tickers, nil
}

// FetchOHLCV returns up to limit candles for the timeframe (e.g. "1h").
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "fetchOHLCV", "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	// Each kline row is a JSON array of mixed number/string fields.
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	candles := make([]exchange.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := 0; i < 5; i++ {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				ok = false
				break
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = f
		}
		if !ok {
			continue
		}
		candles = append(candles, exchange.Candle{
			OpenTime: time.UnixMilli(openTime),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return candles, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// doPublic performs an unsigned GET request.
func (c *Client) doPublic(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(op, req)
}

// doSigned signs the query with the account secret and performs the request.
func (c *Client) doSigned(ctx context.Context, op, method, path string, params url.Values) ([]byte, error) {
	if c.creds.APIKey == "" || c.creds.APISecret == "" {
		return nil, &exchange.RejectionError{Op: op, Msg: "API key/secret required"}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(defaultRecvWindow))
	params.Set("signature", sign(params.Encode(), c.creds.APISecret))

	encoded := params.Encode()
	endpoint := c.baseURL + path

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)
	return c.do(op, req)
}

// do executes the request and classifies failures into the engine's error
// taxonomy: transport failures and 429/5xx are transient, other non-2xx are
// rejections.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &exchange.NetworkError{Op: op, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &exchange.NetworkError{Op: op, Err: err}
	}
	if res.StatusCode < 300 {
		return body, nil
	}

	apiErr := struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}{}
	_ = json.Unmarshal(body, &apiErr)
	if apiErr.Msg == "" {
		apiErr.Msg = strings.TrimSpace(string(body))
	}

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode == 418 || res.StatusCode >= 500 {
		return nil, &exchange.ExchangeError{Op: op, Code: apiErr.Code, Msg: apiErr.Msg}
	}
	return nil, &exchange.RejectionError{Op: op, Code: apiErr.Code, Msg: apiErr.Msg}
}

type restOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	OrigQty     string `json:"origQty"`
	Status      string `json:"status"`
	Time        int64  `json:"time"`
	TransactTim int64  `json:"transactTime"`
}

func (r restOrder) toOrder(symbol string) exchange.Order {
	price, _ := strconv.ParseFloat(r.Price, 64)
	qty, _ := strconv.ParseFloat(r.OrigQty, 64)
	ts := r.Time
	if ts == 0 {
		ts = r.TransactTim
	}
	created := time.Now()
	if ts > 0 {
		created = time.UnixMilli(ts)
	}
	return exchange.Order{
		ID:        strconv.FormatInt(r.OrderID, 10),
		Symbol:    symbol,
		Side:      exchange.Side(strings.ToLower(r.Side)),
		Amount:    qty,
		Price:     price,
		Status:    mapStatus(r.Status),
		CreatedAt: created,
	}
}

func mapStatus(s string) exchange.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PARTIALLY_FILLED":
		return exchange.StatusOpen
	case "FILLED":
		return exchange.StatusClosed
	case "CANCELED", "REJECTED", "EXPIRED":
		return exchange.StatusCanceled
	default:
		return exchange.StatusUnknown
	}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
