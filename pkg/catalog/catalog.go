package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"riddle-swap/pkg/pricefeed"
	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// Source lists tradeable tokens
type Source interface {
	Name() string
	Tokens(ctx context.Context) ([]types.TokenRef, error)
}

// StaticSource is a fixed token list, usually from configuration
type StaticSource []types.TokenRef

// Name identifies the source in logs
func (s StaticSource) Name() string { return "static" }

// Tokens returns the configured tokens
func (s StaticSource) Tokens(context.Context) ([]types.TokenRef, error) {
	return s, nil
}

// Catalog resolves chain-scoped token references and attaches display prices.
// Entries are immutable once loaded; prices are attached to copies.
type Catalog struct {
	sources []Source
	feed    pricefeed.Feed
	logger  *zap.Logger

	mu     sync.RWMutex
	tokens map[types.Chain][]types.TokenRef
	byKey  map[string]types.TokenRef
}

// New creates a catalog. feed may be nil, in which case tokens carry no display price.
func New(feed pricefeed.Feed, logger *zap.Logger, sources ...Source) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		sources: sources,
		feed:    feed,
		logger:  logger,
	}
	c.reset()
	return c
}

func (c *Catalog) reset() {
	c.tokens = make(map[types.Chain][]types.TokenRef)
	c.byKey = make(map[string]types.TokenRef)
	for _, chain := range types.AllChains {
		c.add(types.NativeToken(chain))
	}
}

func (c *Catalog) add(token types.TokenRef) bool {
	if _, exists := c.byKey[token.Key()]; exists {
		return false
	}
	token.DisplayPrice = decimal.NullDecimal{}
	c.byKey[token.Key()] = token
	c.tokens[token.Chain] = append(c.tokens[token.Chain], token)
	return true
}

// Load reads every source. Earlier sources win when two list the same token.
// A failing source is logged and skipped; Load only fails when every source fails.
func (c *Catalog) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
	var failures []string
	for _, src := range c.sources {
		tokens, err := src.Tokens(ctx)
		if err != nil {
			c.logger.Warn("token source failed", zap.String("source", src.Name()), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", src.Name(), err))
			continue
		}
		added := 0
		for _, token := range tokens {
			if token.Chain == "" || token.Symbol == "" {
				continue
			}
			token.Symbol = strings.ToUpper(token.Symbol)
			if c.add(token) {
				added++
			}
		}
		c.logger.Debug("loaded token source", zap.String("source", src.Name()), zap.Int("tokens", added))
	}

	for chain := range c.tokens {
		sortTokens(c.tokens[chain])
	}

	if len(c.sources) > 0 && len(failures) == len(c.sources) {
		return fmt.Errorf("all token sources failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

// List returns the chain's tokens, natives first
func (c *Catalog) List(chain types.Chain) []types.TokenRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.TokenRef, len(c.tokens[chain]))
	copy(out, c.tokens[chain])
	return out
}

// Search returns the chain's tokens whose symbol contains the query
func (c *Catalog) Search(chain types.Chain, query string) []types.TokenRef {
	query = strings.ToUpper(strings.TrimSpace(query))
	return lo.Filter(c.List(chain), func(t types.TokenRef, _ int) bool {
		return query == "" || strings.Contains(t.Symbol, query)
	})
}

// Native returns the chain's gas token
func (c *Catalog) Native(chain types.Chain) types.TokenRef {
	return types.NativeToken(chain)
}

// Resolve turns "SYMBOL" or "SYMBOL:ISSUER" into a TokenRef on the chain.
// A bare symbol must be unambiguous; an issuer not in the catalog is accepted with the
// chain's default precision for issued tokens.
func (c *Catalog) Resolve(chain types.Chain, ref string) (types.TokenRef, error) {
	symbol, issuer := splitRef(ref)
	if symbol == "" {
		return types.TokenRef{}, swaperr.New(swaperr.CodeInvalidArgument, "empty token reference")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if issuer == "" {
		if symbol == chain.NativeSymbol() {
			return types.NativeToken(chain), nil
		}
		matches := lo.Filter(c.tokens[chain], func(t types.TokenRef, _ int) bool {
			return t.Symbol == symbol
		})
		switch len(matches) {
		case 0:
			return types.TokenRef{}, swaperr.Newf(swaperr.CodeInvalidArgument, "token %s not found on %s", symbol, chain)
		case 1:
			return matches[0], nil
		default:
			issuers := lo.Map(matches, func(t types.TokenRef, _ int) string { return t.Wire() })
			return types.TokenRef{}, swaperr.Newf(swaperr.CodeInvalidArgument,
				"token %s is ambiguous on %s, use one of: %s", symbol, chain, strings.Join(issuers, ", "))
		}
	}

	probe := types.TokenRef{Symbol: symbol, Chain: chain, Issuer: issuer}
	if token, ok := c.byKey[probe.Key()]; ok {
		return token, nil
	}
	probe.Decimals = defaultIssuedDecimals(chain)
	c.logger.Debug("resolved uncatalogued token", zap.String("token", probe.Wire()), zap.String("chain", string(chain)))
	return probe, nil
}

// WithPrices returns copies of tokens with DisplayPrice attached from the price feed.
// Prices are display metadata only, so a feed failure leaves them unset.
func (c *Catalog) WithPrices(ctx context.Context, tokens []types.TokenRef) []types.TokenRef {
	out := make([]types.TokenRef, len(tokens))
	copy(out, tokens)
	if c.feed == nil || len(tokens) == 0 {
		return out
	}

	symbols := lo.Uniq(lo.Map(tokens, func(t types.TokenRef, _ int) string { return t.Symbol }))
	prices, err := c.feed.USDPrices(ctx, symbols)
	if err != nil {
		c.logger.Debug("display prices unavailable", zap.Error(err))
		return out
	}
	for i := range out {
		if price, ok := prices[strings.ToUpper(out[i].Symbol)]; ok {
			out[i].DisplayPrice = decimal.NewNullDecimal(price)
		}
	}
	return out
}

func splitRef(ref string) (symbol, issuer string) {
	ref = strings.TrimSpace(ref)
	if i := strings.Index(ref, ":"); i >= 0 {
		return strings.ToUpper(strings.TrimSpace(ref[:i])), strings.TrimSpace(ref[i+1:])
	}
	return strings.ToUpper(ref), ""
}

func defaultIssuedDecimals(chain types.Chain) int32 {
	switch chain {
	case types.ChainEVM:
		return 18
	default:
		return 6
	}
}

func sortTokens(tokens []types.TokenRef) {
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].IsNative() != tokens[j].IsNative() {
			return tokens[i].IsNative()
		}
		if tokens[i].Symbol != tokens[j].Symbol {
			return tokens[i].Symbol < tokens[j].Symbol
		}
		return tokens[i].Issuer < tokens[j].Issuer
	})
}
