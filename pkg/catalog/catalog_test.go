package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Tokens(context.Context) ([]types.TokenRef, error) {
	return nil, errors.New("unreachable")
}

type stubFeed map[string]decimal.Decimal

func (f stubFeed) USDPrices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, s := range symbols {
		if p, ok := f[s]; ok {
			out[s] = p
		}
	}
	if len(out) == 0 {
		return nil, swaperr.New(swaperr.CodePriceUnavailable, "")
	}
	return out, nil
}

var (
	rlusd    = types.TokenRef{Symbol: "RLUSD", Chain: types.ChainXRPL, Issuer: "rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De", Decimals: 6}
	solo     = types.TokenRef{Symbol: "SOLO", Chain: types.ChainXRPL, Issuer: "rsoLo2S1kiGeCcn6hCUXVrCpGMWLrRrLZz", Decimals: 6}
	fakeUSD1 = types.TokenRef{Symbol: "USD", Chain: types.ChainXRPL, Issuer: "rIssuerA", Decimals: 6}
	fakeUSD2 = types.TokenRef{Symbol: "USD", Chain: types.ChainXRPL, Issuer: "rIssuerB", Decimals: 6}
	usdcEVM  = types.TokenRef{Symbol: "usdc", Chain: types.ChainEVM, Issuer: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}
)

func loaded(t *testing.T, sources ...Source) *Catalog {
	t.Helper()
	c := New(stubFeed{"XRP": decimal.RequireFromString("0.5"), "RLUSD": decimal.NewFromInt(1)}, nil, sources...)
	require.NoError(t, c.Load(context.Background()))
	return c
}

func TestListIncludesNativesFirst(t *testing.T) {
	c := loaded(t, StaticSource{solo, rlusd})

	tokens := c.List(types.ChainXRPL)
	require.Len(t, tokens, 3)
	assert.True(t, tokens[0].IsNative())
	assert.Equal(t, "RLUSD", tokens[1].Symbol)
	assert.Equal(t, "SOLO", tokens[2].Symbol)

	assert.Len(t, c.List(types.ChainSolana), 1)
}

func TestEarlierSourceWins(t *testing.T) {
	override := rlusd
	override.Decimals = 2
	c := loaded(t, StaticSource{rlusd}, StaticSource{override})

	token, err := c.Resolve(types.ChainXRPL, "RLUSD")
	require.NoError(t, err)
	assert.Equal(t, int32(6), token.Decimals)
}

func TestResolve(t *testing.T) {
	c := loaded(t, StaticSource{rlusd, fakeUSD1, fakeUSD2, usdcEVM})

	native, err := c.Resolve(types.ChainXRPL, "xrp")
	require.NoError(t, err)
	assert.True(t, native.IsNative())
	assert.Equal(t, int32(6), native.Decimals)

	byIssuer, err := c.Resolve(types.ChainXRPL, "RLUSD:"+rlusd.Issuer)
	require.NoError(t, err)
	assert.True(t, byIssuer.Same(rlusd))

	evm, err := c.Resolve(types.ChainEVM, "USDC")
	require.NoError(t, err)
	assert.Equal(t, int32(6), evm.Decimals)

	_, err = c.Resolve(types.ChainXRPL, "USD")
	require.Error(t, err)
	assert.Equal(t, swaperr.CodeInvalidArgument, swaperr.CodeOf(err))
	assert.Contains(t, err.Error(), "rIssuerA")

	_, err = c.Resolve(types.ChainXRPL, "NOPE")
	assert.Equal(t, swaperr.CodeInvalidArgument, swaperr.CodeOf(err))

	unknown, err := c.Resolve(types.ChainXRPL, "FOO:rFooIssuer")
	require.NoError(t, err)
	assert.Equal(t, "FOO:rFooIssuer", unknown.Wire())
	assert.Equal(t, int32(6), unknown.Decimals)
}

func TestLoadToleratesPartialFailure(t *testing.T) {
	c := New(nil, nil, failingSource{}, StaticSource{rlusd})
	require.NoError(t, c.Load(context.Background()))
	assert.Len(t, c.List(types.ChainXRPL), 2)

	c = New(nil, nil, failingSource{})
	assert.Error(t, c.Load(context.Background()))
	assert.Len(t, c.List(types.ChainXRPL), 1, "natives are always listed")
}

func TestWithPrices(t *testing.T) {
	c := loaded(t, StaticSource{rlusd, solo})

	priced := c.WithPrices(context.Background(), c.List(types.ChainXRPL))
	require.Len(t, priced, 3)
	assert.Equal(t, "0.5", priced[0].DisplayPrice.Decimal.String())
	assert.True(t, priced[1].DisplayPrice.Valid)
	assert.False(t, priced[2].DisplayPrice.Valid)

	for _, token := range c.List(types.ChainXRPL) {
		assert.False(t, token.DisplayPrice.Valid, "catalog entries are not mutated")
	}
}

func TestSearch(t *testing.T) {
	c := loaded(t, StaticSource{rlusd, solo, fakeUSD1})
	assert.Len(t, c.Search(types.ChainXRPL, "usd"), 2)
	assert.Len(t, c.Search(types.ChainXRPL, ""), 4)
}
