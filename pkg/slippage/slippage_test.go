package slippage

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMinimumOutputScenario(t *testing.T) {
	minimum, err := MinimumOutput(d("100"), d("1"), 6)
	require.NoError(t, err)
	assert.True(t, minimum.Equal(d("99")), "got %s", minimum)
}

func TestMinimumOutputNeverExceedsExpected(t *testing.T) {
	expectations := []string{"0", "0.000001", "1", "3.333333", "99.999999999", "123456789.123456789"}
	slippages := []string{"0", "0.1", "0.5", "1", "2.75", "10", "33.3", "50"}
	for _, e := range expectations {
		for _, s := range slippages {
			for _, decimals := range []int32{0, 2, 6, 9, 18} {
				minimum, err := MinimumOutput(d(e), d(s), decimals)
				require.NoError(t, err)
				assert.True(t, minimum.LessThanOrEqual(d(e)), "expected=%s slippage=%s decimals=%d min=%s", e, s, decimals, minimum)
				assert.False(t, minimum.IsNegative())
			}
		}
	}
}

func TestMinimumOutputRoundsDown(t *testing.T) {
	minimum, err := MinimumOutput(d("10.1234567"), d("0.5"), 6)
	require.NoError(t, err)
	assert.Equal(t, "10.072839", minimum.String())
}

func TestSlippageBounds(t *testing.T) {
	_, err := MinimumOutput(d("100"), d("-0.1"), 6)
	assert.Equal(t, swaperr.CodeInvalidArgument, swaperr.CodeOf(err))

	_, err = MinimumOutput(d("100"), d("50.01"), 6)
	assert.Equal(t, swaperr.CodeInvalidArgument, swaperr.CodeOf(err))

	minimum, err := MinimumOutput(d("100"), d("50"), 6)
	require.NoError(t, err)
	assert.Equal(t, "50", minimum.String())
}

func TestPlatformFeeInInputToken(t *testing.T) {
	fee, err := PlatformFee(FeeInput{
		Input:       types.TokenRef{Symbol: "A", Chain: types.ChainEVM, Issuer: "0xa", Decimals: 6},
		InputAmount: d("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.1", fee.Amount.String())
	assert.Equal(t, "A", fee.Symbol)
	assert.False(t, fee.SeparateCurrency)
	assert.Equal(t, "1", fee.Percent.String())
}

func TestPlatformFeeInGasTokenUsesLivePrices(t *testing.T) {
	in := FeeInput{
		Input:          types.TokenRef{Symbol: "USDC", Chain: types.ChainSolana, Issuer: "EPjF", Decimals: 6},
		InputAmount:    d("300"),
		FeeCurrency:    "SOL",
		InputUSD:       decimal.NewNullDecimal(d("1")),
		FeeCurrencyUSD: decimal.NewNullDecimal(d("150")),
	}
	fee, err := PlatformFee(in)
	require.NoError(t, err)
	assert.True(t, fee.SeparateCurrency)
	assert.Equal(t, "SOL", fee.Symbol)
	assert.Equal(t, "0.02", fee.Amount.String())

	in.FeeCurrencyUSD = decimal.NullDecimal{}
	_, err = PlatformFee(in)
	assert.Equal(t, swaperr.CodePriceUnavailable, swaperr.CodeOf(err))
}

func TestPlatformFeePrefersBackendValue(t *testing.T) {
	fee, err := PlatformFee(FeeInput{
		Input:       types.TokenRef{Symbol: "USDC", Chain: types.ChainEVM, Issuer: "0xa0b8", Decimals: 6},
		InputAmount: d("100"),
		FeeCurrency: "eth",
		BackendFee:  decimal.NewNullDecimal(d("0.00031")),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.00031", fee.Amount.String())
	assert.Equal(t, "ETH", fee.Symbol)
	assert.True(t, fee.SeparateCurrency)
}

func TestPlatformFeeBackendValueInInputToken(t *testing.T) {
	fee, err := PlatformFee(FeeInput{
		Input:       types.NativeToken(types.ChainXRPL),
		InputAmount: d("10"),
		FeeCurrency: "XRP",
		BackendFee:  decimal.NewNullDecimal(d("0.25")),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.25", fee.Amount.String())
	assert.Equal(t, "XRP", fee.Symbol)
	assert.False(t, fee.SeparateCurrency)
}

func TestPlatformFeeInOtherTokenKeepsPrecision(t *testing.T) {
	fee, err := PlatformFee(FeeInput{
		Input:          types.TokenRef{Symbol: "A", Chain: types.ChainEVM, Issuer: "0xa", Decimals: 2},
		InputAmount:    d("10"),
		FeeCurrency:    "USDT",
		InputUSD:       decimal.NewNullDecimal(d("1")),
		FeeCurrencyUSD: decimal.NewNullDecimal(d("3")),
	})
	require.NoError(t, err)
	assert.Equal(t, "USDT", fee.Symbol)
	assert.True(t, fee.Amount.GreaterThan(d("0.0333")), "fee %s was rounded to the input decimals", fee.Amount)
	assert.True(t, fee.Amount.LessThan(d("0.0334")))
}

func TestPlatformFeeCustomPercent(t *testing.T) {
	fee, err := PlatformFee(FeeInput{
		Input:       types.NativeToken(types.ChainXRPL),
		InputAmount: d("250"),
		Percent:     d("0.25"),
		FeeCurrency: "XRP",
	})
	require.NoError(t, err)
	assert.Equal(t, "0.625", fee.Amount.String())
	assert.False(t, fee.SeparateCurrency)
}

func TestDerive(t *testing.T) {
	in := FeeInput{Input: types.TokenRef{Symbol: "A", Chain: types.ChainXRPL, Issuer: "rA", Decimals: 6}, InputAmount: d("10")}

	b, err := Derive(Params{
		Expected:        decimal.NewNullDecimal(d("100")),
		SlippagePercent: d("1"),
		OutputDecimals:  6,
		Fee:             in,
	})
	require.NoError(t, err)
	assert.Equal(t, "99", b.MinimumOutput.Decimal.String())
	require.NotNil(t, b.Fee)
	assert.Equal(t, "0.1", b.Fee.Amount.String())

	// No expected output clears everything
	b, err = Derive(Params{SlippagePercent: d("1"), OutputDecimals: 6, Fee: in})
	require.NoError(t, err)
	assert.False(t, b.MinimumOutput.Valid)
	assert.Nil(t, b.Fee)
}
