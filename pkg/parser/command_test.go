package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

func TestParseSwapCommand(t *testing.T) {
	tests := []struct {
		in       string
		amount   string
		from, to string
		chain    types.Chain
		slippage string
	}{
		{in: "swap 10 XRP to RLUSD", amount: "10", from: "XRP", to: "RLUSD"},
		{in: "10 xrp to rlusd:rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De", amount: "10", from: "XRP", to: "RLUSD:rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De"},
		{in: "  1.5   eth for usdc on base ", amount: "1.5", from: "ETH", to: "USDC", chain: types.ChainEVM},
		{in: "SWAP .25 SOL -> USDC at 0.5%", amount: "0.25", from: "SOL", to: "USDC", slippage: "0.5"},
		{in: "100 RLUSD to XRP on xrpl slippage 2", amount: "100", from: "RLUSD", to: "XRP", chain: types.ChainXRPL, slippage: "2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cmd, err := ParseSwapCommand(tt.in)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(cmd.Amount))
			assert.Equal(t, tt.from, cmd.From)
			assert.Equal(t, tt.to, cmd.To)
			assert.Equal(t, tt.chain, cmd.Chain)
			if tt.slippage == "" {
				assert.False(t, cmd.HasSlip)
			} else {
				assert.True(t, cmd.HasSlip)
				assert.True(t, decimal.RequireFromString(tt.slippage).Equal(cmd.Slippage))
			}
		})
	}
}

func TestParseSwapCommandRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"swap XRP to RLUSD",
		"10 XRP RLUSD",
		"0 XRP to RLUSD",
		"10 XRP to xrp",
		"10 XRP to RLUSD on dogechain",
	} {
		_, err := ParseSwapCommand(in)
		assert.Equal(t, swaperr.CodeInvalidArgument, swaperr.CodeOf(err), in)
	}
}

func TestInferChain(t *testing.T) {
	cases := []struct {
		in   string
		want types.Chain
	}{
		{"10 XRP to RLUSD", types.ChainXRPL},
		{"1 ETH to USDC", types.ChainEVM},
		{"2 SOL to BONK", types.ChainSolana},
		{"5 USDC:0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48 to DAI", types.ChainEVM},
		{"5 USDC:EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v to BONK", types.ChainSolana},
		{"5 RLUSD:rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De to SOLO", types.ChainXRPL},
	}
	for _, c := range cases {
		cmd, err := ParseSwapCommand(c.in)
		require.NoError(t, err, c.in)
		got, err := InferChain(cmd)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	cmd, err := ParseSwapCommand("1 ETH to SOL")
	require.NoError(t, err)
	_, err = InferChain(cmd)
	assert.Equal(t, swaperr.CodeInvalidArgument, swaperr.CodeOf(err))

	cmd, err = ParseSwapCommand("1 USDC to DAI")
	require.NoError(t, err)
	_, err = InferChain(cmd)
	assert.Error(t, err)
}

func TestNormalizeTokenSymbol(t *testing.T) {
	assert.Equal(t, "SOL", NormalizeTokenSymbol(" wsol "))
	assert.Equal(t, "XRP", NormalizeTokenSymbol("ripple"))
	assert.Equal(t, "RLUSD", NormalizeTokenSymbol("rlusd"))
}
