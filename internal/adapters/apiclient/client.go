package apiclient

// client.go — cliente HTTP tipado de la API del motor, con rate limiting y
// retries. Los GET se reintentan ante errores de red y 5xx; los POST solo ante
// 429, porque una compra o un claim no son idempotentes.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec = 20

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// APIError es una respuesta 4xx/5xx de la API.
type APIError struct {
	Status   int
	Message  string
	Category domain.ErrorCategory
}

func (e *APIError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Category, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Config del cliente. Caller viaja en X-Caller en cada request.
type Config struct {
	BaseURL    string
	Caller     common.Address
	APIKey     string
	RatePerSec float64
	Timeout    time.Duration
}

// Client habla con un servidor httpapi.
type Client struct {
	http    *http.Client
	base    string
	caller  common.Address
	apiKey  string
	limiter *rate.Limiter
	backoff time.Duration
}

func New(cfg Config) *Client {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		caller:  cfg.Caller,
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 5),
		backoff: baseRetryWait,
	}
}

// WithCaller devuelve una copia que firma los requests como caller.
func (c *Client) WithCaller(caller common.Address) *Client {
	cp := *c
	cp.caller = caller
	return &cp
}

// --- vistas ---

type Market struct {
	ID        uint64 `json:"id"`
	Subject   string `json:"subject"`
	Threshold string `json:"threshold"`
	YesPool   string `json:"yes_pool"`
	NoPool    string `json:"no_pool"`
	TotalPool string `json:"total_pool"`
	YesShares string `json:"yes_shares"`
	NoShares  string `json:"no_shares"`
	Outcome   string `json:"outcome"`
}

type Quote struct {
	MarketID       uint64 `json:"market_id"`
	Yes            string `json:"yes"`
	No             string `json:"no"`
	YesProbability string `json:"yes_probability"`
	NoProbability  string `json:"no_probability"`
}

type Trade struct {
	MarketID  uint64 `json:"market_id"`
	Side      string `json:"side"`
	AmountIn  string `json:"amount_in"`
	AvgPrice  string `json:"avg_price"`
	SharesOut string `json:"shares_out"`
	PendingTx string `json:"pending_tx"` // depósito emitido sin receipt todavía
}

type Event struct {
	ID       string `json:"id"`
	Seq      uint64 `json:"seq"`
	Kind     string `json:"kind"`
	Caller   string `json:"caller"`
	MarketID uint64 `json:"market_id"`
	Amount   string `json:"amount"`
	Shares   string `json:"shares"`
	TxHash   string `json:"tx_hash"`
}

// Health devuelve el operador que reporta el servidor.
func (c *Client) Health(ctx context.Context) (common.Address, error) {
	var out struct {
		Status   string `json:"status"`
		Operator string `json:"operator"`
	}
	if err := c.get(ctx, "/api/health", &out); err != nil {
		return common.Address{}, fmt.Errorf("apiclient.Health: %w", err)
	}
	return common.HexToAddress(out.Operator), nil
}

func (c *Client) Market(ctx context.Context, id uint64) (Market, error) {
	var out Market
	if err := c.get(ctx, fmt.Sprintf("/api/markets/%d", id), &out); err != nil {
		return Market{}, fmt.Errorf("apiclient.Market: %w", err)
	}
	return out, nil
}

func (c *Client) Quote(ctx context.Context, id uint64) (Quote, error) {
	var out Quote
	if err := c.get(ctx, fmt.Sprintf("/api/markets/%d/quote", id), &out); err != nil {
		return Quote{}, fmt.Errorf("apiclient.Quote: %w", err)
	}
	return out, nil
}

func (c *Client) PreviewBuy(ctx context.Context, id uint64, side domain.Side, amount *uint256.Int) (Trade, error) {
	q := url.Values{"side": {string(side)}, "amount": {amount.Dec()}}
	var out Trade
	if err := c.get(ctx, fmt.Sprintf("/api/markets/%d/preview?%s", id, q.Encode()), &out); err != nil {
		return Trade{}, fmt.Errorf("apiclient.PreviewBuy: %w", err)
	}
	return out, nil
}

// Events devuelve los eventos con seq > since.
func (c *Client) Events(ctx context.Context, since uint64) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.get(ctx, "/api/events?since="+strconv.FormatUint(since, 10), &out); err != nil {
		return nil, fmt.Errorf("apiclient.Events: %w", err)
	}
	return out.Events, nil
}

// --- mutaciones ---

func (c *Client) Buy(ctx context.Context, id uint64, side domain.Side, amount, minSharesOut *uint256.Int) (Trade, error) {
	body := map[string]string{"side": string(side), "amount": amount.Dec()}
	if minSharesOut != nil {
		body["min_shares_out"] = minSharesOut.Dec()
	}
	var out Trade
	if err := c.post(ctx, fmt.Sprintf("/api/markets/%d/buy", id), body, &out); err != nil {
		return Trade{}, fmt.Errorf("apiclient.Buy: %w", err)
	}
	return out, nil
}

// Claim cobra el payout del caller y devuelve el monto.
func (c *Client) Claim(ctx context.Context, id uint64) (*uint256.Int, error) {
	var out struct {
		Payout string `json:"payout"`
	}
	if err := c.post(ctx, fmt.Sprintf("/api/markets/%d/claim", id), nil, &out); err != nil {
		return nil, fmt.Errorf("apiclient.Claim: %w", err)
	}
	payout, err := domain.ParseAmount(out.Payout)
	if err != nil {
		return nil, fmt.Errorf("apiclient.Claim: %w", err)
	}
	return payout, nil
}

// --- transporte ---

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doWithRetry(ctx, true, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, path, nil)
	}, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}
	return c.doWithRetry(ctx, false, func() (*http.Request, error) {
		var r io.Reader
		if data != nil {
			r = bytes.NewReader(data)
		}
		req, err := c.newRequest(ctx, http.MethodPost, path, r)
		if err != nil {
			return nil, err
		}
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.caller != (common.Address{}) {
		req.Header.Set("X-Caller", c.caller.Hex())
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// doWithRetry ejecuta el request con backoff exponencial, respetando el contexto.
func (c *Client) doWithRetry(ctx context.Context, idempotent bool, build func() (*http.Request, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		req, err := build()
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if !idempotent || attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			(idempotent && resp.StatusCode >= 500)
		if retryable && attempt < maxRetries {
			resp.Body.Close()
			slog.Warn("apiclient: retrying", "status", resp.StatusCode, "attempt", attempt+1, "path", req.URL.Path)
			c.sleep(ctx, attempt)
			continue
		}

		err = decodeResponse(resp, out)
		resp.Body.Close()
		return err
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Error    string `json:"error"`
			Category string `json:"category"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Category = domain.ErrorCategory(payload.Category)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.backoff
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// IsCategory informa si err es un APIError de la categoría dada.
func IsCategory(err error, cat domain.ErrorCategory) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Category == cat
}
