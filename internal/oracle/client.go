// Package oracle converts currency amounts into native and USD terms via an
// external pricing API, with a small in-process cache keyed on
// (currency, minute bucket).
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

// Config holds pricing API parameters.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// CacheTTL bounds how long a (currency, minute) rate is reused.
	CacheTTL time.Duration
}

// Client implements domain.PriceOracle over a REST pricing API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedRate
	ttl   time.Duration
}

type cachedRate struct {
	nativePer *big.Rat
	usdPer    *big.Rat
	fetchedAt time.Time
}

// NewClient creates an oracle Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      make(map[string]cachedRate),
		ttl:        ttl,
	}
}

type rateResponse struct {
	// NativeRate and USDRate scale one whole unit of the currency into native
	// wei and USD cents respectively, as decimal strings. An empty NativeRate
	// means the API has no native quote for this currency at that time.
	NativeRate string `json:"nativeRate"`
	USDRate    string `json:"usdRate"`
	Decimals   int    `json:"decimals"`
}

// GetUSDAndNativePrices converts amount of currency at the given unix
// timestamp. A missing native quote returns domain.ErrMissingNativePrice so
// callers can drop rather than retry.
func (c *Client) GetUSDAndNativePrices(ctx context.Context, currency common.Address, amount *big.Int, timestamp int64) (domain.Prices, error) {
	rate, err := c.rate(ctx, currency, timestamp)
	if err != nil {
		return domain.Prices{}, err
	}
	if rate.nativePer == nil {
		return domain.Prices{}, fmt.Errorf("oracle: %s at %d: %w", currency.Hex(), timestamp, domain.ErrMissingNativePrice)
	}

	out := domain.Prices{Native: applyRate(amount, rate.nativePer)}
	if rate.usdPer != nil {
		out.USD = applyRate(amount, rate.usdPer)
	}
	return out, nil
}

func (c *Client) rate(ctx context.Context, currency common.Address, timestamp int64) (cachedRate, error) {
	key := fmt.Sprintf("%s:%d", currency.Hex(), timestamp/60)

	c.mu.Lock()
	if r, ok := c.cache[key]; ok && time.Since(r.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	q := url.Values{}
	q.Set("currency", currency.Hex())
	q.Set("timestamp", fmt.Sprintf("%d", timestamp))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rates?"+q.Encode(), nil)
	if err != nil {
		return cachedRate{}, fmt.Errorf("oracle: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return cachedRate{}, fmt.Errorf("oracle: fetch rate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cachedRate{}, fmt.Errorf("oracle: fetch rate: status %d", resp.StatusCode)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return cachedRate{}, fmt.Errorf("oracle: decode rate: %w", err)
	}

	r := cachedRate{fetchedAt: time.Now()}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(body.Decimals)), nil)
	if n, ok := new(big.Int).SetString(body.NativeRate, 10); ok {
		r.nativePer = new(big.Rat).SetFrac(n, unit)
	}
	if n, ok := new(big.Int).SetString(body.USDRate, 10); ok {
		r.usdPer = new(big.Rat).SetFrac(n, unit)
	}

	c.mu.Lock()
	c.cache[key] = r
	c.mu.Unlock()
	return r, nil
}

func applyRate(amount *big.Int, per *big.Rat) *big.Int {
	out := new(big.Rat).SetInt(amount)
	out.Mul(out, per)
	return new(big.Int).Quo(out.Num(), out.Denom())
}

// Compile-time interface check.
var _ domain.PriceOracle = (*Client)(nil)
