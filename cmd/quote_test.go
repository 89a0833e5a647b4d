package cmd

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riddle-swap/pkg/quote"
	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

func TestApplyQuoteInput(t *testing.T) {
	rlusd := types.TokenRef{Symbol: "RLUSD", Chain: types.ChainXRPL, Issuer: "rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De", Decimals: 15}
	base := quote.Request{
		From:            types.NativeToken(types.ChainXRPL),
		To:              rlusd,
		Amount:          decimal.NewFromInt(10),
		SlippagePercent: decimal.NewFromInt(1),
	}

	t.Run("bare amount", func(t *testing.T) {
		req, err := applyQuoteInput(base, "25.5")
		require.NoError(t, err)
		assert.True(t, req.Amount.Equal(decimal.RequireFromString("25.5")))
		assert.True(t, req.SlippagePercent.Equal(base.SlippagePercent))
	})

	t.Run("slippage", func(t *testing.T) {
		req, err := applyQuoteInput(base, "slippage 2.5%")
		require.NoError(t, err)
		assert.True(t, req.SlippagePercent.Equal(decimal.RequireFromString("2.5")))
		assert.True(t, req.Amount.Equal(base.Amount))
	})

	t.Run("full command for the same pair", func(t *testing.T) {
		req, err := applyQuoteInput(base, "swap 3 xrp to rlusd at 0.5%")
		require.NoError(t, err)
		assert.True(t, req.Amount.Equal(decimal.NewFromInt(3)))
		assert.True(t, req.SlippagePercent.Equal(decimal.RequireFromString("0.5")))
		assert.True(t, req.To.Same(rlusd))
	})

	t.Run("other pair", func(t *testing.T) {
		_, err := applyQuoteInput(base, "3 XRP to USDC")
		assert.True(t, swaperr.HasCode(err, swaperr.CodeInvalidArgument))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := applyQuoteInput(base, "abc")
		assert.True(t, swaperr.HasCode(err, swaperr.CodeInvalidArgument))
	})
}
