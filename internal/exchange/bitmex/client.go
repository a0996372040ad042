package bitmex

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"futures-engine/internal/config"
	"futures-engine/internal/core"
	"futures-engine/internal/exchange"
)

const contractCacheKey = "instrument/active"

// Client talks to the BitMEX REST API. It implements both the trading and the
// metadata client interfaces. Instrument metadata is cached with a TTL so the
// hot path never waits on the instrument endpoint.
type Client struct {
	apiKey        string
	apiSecret     string
	baseURL       string
	expiresWindow time.Duration
	httpClient    *http.Client

	contracts   *ristretto.Cache
	contractTTL time.Duration
}

func NewClient(cfg config.ExchangeConfig) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	timeout := 15 * time.Second
	if cfg.HTTPTimeoutSec > 0 {
		timeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
	}
	expires := 5 * time.Second
	if cfg.ExpiresWindowSec > 0 {
		expires = time.Duration(cfg.ExpiresWindowSec) * time.Second
	}
	ttl := 10 * time.Minute
	if cfg.ContractTTLSec > 0 {
		ttl = time.Duration(cfg.ContractTTLSec) * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 64,
		MaxCost:     8,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		apiKey:        cfg.APIKey,
		apiSecret:     cfg.APISecret,
		baseURL:       strings.TrimRight(cfg.RestBaseURL, "/"),
		expiresWindow: expires,
		httpClient:    &http.Client{Timeout: timeout},
		contracts:     cache,
		contractTTL:   ttl,
	}, nil
}

func (c *Client) Name() string { return "bitmex" }

func (c *Client) Close() {
	c.contracts.Close()
}

// ActiveContracts returns every tradeable instrument, from cache when fresh.
func (c *Client) ActiveContracts(ctx context.Context) ([]core.Contract, error) {
	if cached, ok := c.contracts.Get(contractCacheKey); ok {
		if contracts, ok := cached.([]core.Contract); ok {
			return contracts, nil
		}
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/instrument/active", nil, false)
	if err != nil {
		return nil, err
	}
	var resp []instrumentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	contracts := make([]core.Contract, 0, len(resp))
	for _, inst := range resp {
		if inst.State != "" && inst.State != "Open" {
			continue
		}
		contracts = append(contracts, inst.toContract())
	}
	c.contracts.SetWithTTL(contractCacheKey, contracts, 1, c.contractTTL)
	return contracts, nil
}

// Contract resolves one symbol's metadata via the active-instrument cache.
func (c *Client) Contract(ctx context.Context, symbol string) (*core.Contract, error) {
	contracts, err := c.ActiveContracts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range contracts {
		if contracts[i].Symbol == symbol {
			return &contracts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", core.ErrContractNotFound, symbol)
}

func (c *Client) Balances(ctx context.Context) (map[string]core.Balance, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/user/margin?currency=all", nil, true)
	if err != nil {
		return nil, err
	}
	var resp []marginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	balances := make(map[string]core.Balance, len(resp))
	for _, m := range resp {
		balances[m.Currency] = m.toBalance()
	}
	return balances, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*core.OrderReport, error) {
	reqBody := orderRequestBody{
		Symbol:      req.Contract.Symbol,
		Side:        string(req.Side),
		OrdType:     string(req.Type),
		OrderQty:    req.Qty.String(),
		ClOrdID:     req.ClientID,
		TimeInForce: string(req.TimeInForce),
	}
	if req.Type == core.Limit {
		reqBody.Price = req.Price.String()
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/order", payload, true)
	if err != nil {
		return nil, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.toReport(), nil
}

// CancelOrder asks the venue to cancel. The venue answers with the affected
// orders; an empty list means nothing was cancelled and is reported as a nil
// report with no error.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*core.OrderReport, error) {
	path := "/api/v1/order?orderID=" + url.QueryEscape(orderID)
	body, err := c.doRequest(ctx, http.MethodDelete, path, nil, true)
	if err != nil {
		return nil, err
	}
	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, nil
	}
	return resp[0].toReport(), nil
}

// OrderStatus fetches one order's current state. A missing order is a nil
// report with no error; the poller treats that as "ask again later".
func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (*core.OrderReport, error) {
	filter, err := json.Marshal(map[string]string{"orderID": orderID})
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("filter", string(filter))
	params.Set("count", "1")
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/order?"+params.Encode(), nil, true)
	if err != nil {
		return nil, err
	}
	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, nil
	}
	return resp[0].toReport(), nil
}

// doRequest performs one HTTP round trip. path carries its own query string;
// the signature covers verb, path-with-query, expiry and body.
func (c *Client) doRequest(ctx context.Context, method, path string, payload []byte, signed bool) ([]byte, error) {
	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		expires := strconv.FormatInt(time.Now().Add(c.expiresWindow).Unix(), 10)
		req.Header.Set("api-expires", expires)
		req.Header.Set("api-key", c.apiKey)
		req.Header.Set("api-signature", sign(c.apiSecret, method+path+expires+string(payload)))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(status int, body []byte) error {
	var wrapper struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		wrapper.Error.Status = status
		return classifyAPIError(wrapper.Error)
	}
	return fmt.Errorf("bitmex http error %d: %s", status, strings.TrimSpace(string(body)))
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
