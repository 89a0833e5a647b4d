// Package pricefeed fetches live USD prices for the tokens the swap core displays and
// for converting platform fees into a chain's gas token.
package pricefeed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"riddle-swap/pkg/client"
	"riddle-swap/pkg/swaperr"
)

// DefaultIDs maps token symbols to CoinGecko IDs
var DefaultIDs = map[string]string{
	"XRP":   "ripple",
	"ETH":   "ethereum",
	"WETH":  "weth",
	"SOL":   "solana",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"RLUSD": "ripple-usd",
	"BONK":  "bonk",
}

// Feed returns USD prices by token symbol
type Feed interface {
	USDPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// CoinGecko is a Feed backed by the CoinGecko simple price API with a short-lived cache
type CoinGecko struct {
	http   *client.HTTPClient
	ids    map[string]string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedPrice
}

// Option configures a CoinGecko feed
type Option func(*CoinGecko)

// WithIDs adds or overrides symbol to CoinGecko ID mappings
func WithIDs(ids map[string]string) Option {
	return func(c *CoinGecko) {
		for symbol, id := range ids {
			c.ids[strings.ToUpper(symbol)] = id
		}
	}
}

// WithTTL sets how long a fetched price is reused
func WithTTL(ttl time.Duration) Option {
	return func(c *CoinGecko) {
		c.ttl = ttl
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *CoinGecko) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoinGecko creates a feed reading from the API rooted at the http client's base URL
func NewCoinGecko(httpClient *client.HTTPClient, opts ...Option) *CoinGecko {
	c := &CoinGecko{
		http:   httpClient,
		ids:    make(map[string]string, len(DefaultIDs)),
		ttl:    30 * time.Second,
		logger: zap.NewNop(),
		now:    time.Now,
		cache:  make(map[string]cachedPrice),
	}
	for symbol, id := range DefaultIDs {
		c.ids[symbol] = id
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// USDPrices returns prices for the symbols it knows. Unknown symbols are left out of the
// result; an empty result for a non-empty request is PriceUnavailable.
func (c *CoinGecko) USDPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(symbols))
	missing := make(map[string]string)

	c.mu.RLock()
	for _, symbol := range symbols {
		symbol = strings.ToUpper(symbol)
		if cached, ok := c.cache[symbol]; ok && c.now().Sub(cached.fetchedAt) < c.ttl {
			result[symbol] = cached.price
			continue
		}
		if id, ok := c.ids[symbol]; ok {
			missing[symbol] = id
		}
	}
	c.mu.RUnlock()

	if len(missing) > 0 {
		fetched, err := c.fetch(ctx, missing)
		if err != nil {
			if len(result) == 0 {
				return nil, swaperr.Wrap(swaperr.CodePriceUnavailable, err, "")
			}
			c.logger.Warn("price refresh failed, using cached prices", zap.Error(err))
		}
		for symbol, price := range fetched {
			result[symbol] = price
		}
	}

	if len(result) == 0 && len(symbols) > 0 {
		return nil, swaperr.Newf(swaperr.CodePriceUnavailable, "no price for %s", strings.Join(symbols, ", "))
	}
	return result, nil
}

// USDPrice returns the price of a single symbol
func USDPrice(ctx context.Context, feed Feed, symbol string) (decimal.Decimal, error) {
	prices, err := feed.USDPrices(ctx, []string{symbol})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[strings.ToUpper(symbol)]
	if !ok || !price.IsPositive() {
		return decimal.Zero, swaperr.Newf(swaperr.CodePriceUnavailable, "no price for %s", symbol)
	}
	return price, nil
}

func (c *CoinGecko) fetch(ctx context.Context, symbolsByID map[string]string) (map[string]decimal.Decimal, error) {
	unique := make(map[string]bool)
	for _, id := range symbolsByID {
		unique[id] = true
	}
	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// {"ripple":{"usd":0.52},"solana":{"usd":150.1}}
	var raw map[string]map[string]decimal.Decimal
	err := c.http.GetJSON(ctx, "/simple/price", &raw,
		client.WithQueryParam("ids", strings.Join(ids, ",")),
		client.WithQueryParam("vs_currencies", "usd"),
		client.Idempotent(),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching CoinGecko prices: %w", err)
	}

	now := c.now()
	result := make(map[string]decimal.Decimal, len(symbolsByID))

	c.mu.Lock()
	defer c.mu.Unlock()
	for symbol, id := range symbolsByID {
		prices, ok := raw[id]
		if !ok {
			continue
		}
		price, ok := prices["usd"]
		if !ok {
			continue
		}
		result[symbol] = price
		c.cache[symbol] = cachedPrice{price: price, fetchedAt: now}
	}

	c.logger.Debug("fetched prices", zap.Int("requested", len(symbolsByID)), zap.Int("received", len(result)))
	return result, nil
}
