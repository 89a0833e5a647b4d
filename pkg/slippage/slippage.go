// Package slippage derives minimum acceptable output and platform fees from a quote.
// Everything here is a pure function of its inputs.
package slippage

import (
	"strings"

	"github.com/shopspring/decimal"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

var (
	// DefaultFeePercent is the platform fee charged on the input value
	DefaultFeePercent = decimal.NewFromInt(1)
	// MaxSlippagePercent is the largest tolerance a user may choose
	MaxSlippagePercent = decimal.NewFromInt(50)

	hundred = decimal.NewFromInt(100)
)

// ValidateSlippage checks that a tolerance lies within [0, 50]
func ValidateSlippage(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(MaxSlippagePercent) {
		return swaperr.Newf(swaperr.CodeInvalidArgument, "slippage must be between 0 and %s%%, got %s", MaxSlippagePercent, percent)
	}
	return nil
}

// MinimumOutput is expected * (1 - slippage/100), rounded down to the output token's decimals.
// Rounding down keeps the result at or below expected.
func MinimumOutput(expected, slippagePercent decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	if err := ValidateSlippage(slippagePercent); err != nil {
		return decimal.Zero, err
	}
	if expected.IsNegative() {
		return decimal.Zero, swaperr.Newf(swaperr.CodeInvalidArgument, "expected output cannot be negative: %s", expected)
	}
	factor := hundred.Sub(slippagePercent).Div(hundred)
	return expected.Mul(factor).RoundFloor(decimals), nil
}

// FeeInput describes the platform fee for one quote
type FeeInput struct {
	Input       types.TokenRef
	InputAmount decimal.Decimal
	Percent     decimal.Decimal // Zero means DefaultFeePercent

	// FeeCurrency is the symbol the fee is charged in. Empty or equal to the input symbol
	// means the fee is taken from the input token.
	FeeCurrency string
	// BackendFee is platformFeeInFeeCurrency from the quote response and wins when set.
	BackendFee decimal.NullDecimal
	// USD prices used to convert the fee into FeeCurrency
	InputUSD       decimal.NullDecimal
	FeeCurrencyUSD decimal.NullDecimal
}

// SeparateCurrency reports whether the fee is charged in a token other than the input
func (in FeeInput) SeparateCurrency() bool {
	return in.FeeCurrency != "" && !strings.EqualFold(in.FeeCurrency, in.Input.Symbol)
}

func (in FeeInput) percent() decimal.Decimal {
	if in.Percent.IsZero() {
		return DefaultFeePercent
	}
	return in.Percent
}

// PlatformFee computes the fee in the input token, or in the separate fee currency the
// backend mandates. A fee amount reported by the backend always wins. Otherwise a
// separate-currency fee needs live USD prices for both tokens and fails with
// PriceUnavailable without them.
func PlatformFee(in FeeInput) (*types.Fee, error) {
	if !in.InputAmount.IsPositive() {
		return nil, swaperr.New(swaperr.CodeInvalidArgument, "amount must be greater than zero")
	}
	pct := in.percent()
	if pct.IsNegative() || pct.GreaterThanOrEqual(hundred) {
		return nil, swaperr.Newf(swaperr.CodeInvalidArgument, "invalid fee percent: %s", pct)
	}

	feeSymbol := in.Input.Symbol
	if in.SeparateCurrency() {
		feeSymbol = strings.ToUpper(in.FeeCurrency)
	}

	if in.BackendFee.Valid {
		return &types.Fee{
			Amount:           in.BackendFee.Decimal,
			Symbol:           feeSymbol,
			Percent:          pct,
			SeparateCurrency: in.SeparateCurrency(),
		}, nil
	}

	if !in.SeparateCurrency() {
		return &types.Fee{
			Amount:  in.InputAmount.Mul(pct).Div(hundred).Round(in.Input.Decimals),
			Symbol:  feeSymbol,
			Percent: pct,
		}, nil
	}

	if !in.InputUSD.Valid || !in.InputUSD.Decimal.IsPositive() ||
		!in.FeeCurrencyUSD.Valid || !in.FeeCurrencyUSD.Decimal.IsPositive() {
		return nil, swaperr.Newf(swaperr.CodePriceUnavailable, "live prices for %s and %s are required to compute the fee", in.Input.Symbol, feeSymbol)
	}

	converted := in.InputAmount.Mul(pct).Div(hundred).
		Mul(in.InputUSD.Decimal).
		Div(in.FeeCurrencyUSD.Decimal)
	// Only the gas token's decimals are known here; other fee tokens stay unrounded
	if feeSymbol == in.Input.Chain.NativeSymbol() {
		converted = converted.Round(in.Input.Chain.NativeDecimals())
	}

	return &types.Fee{
		Amount:           converted,
		Symbol:           feeSymbol,
		Percent:          pct,
		SeparateCurrency: true,
	}, nil
}

// Params is everything Derive recomputes from
type Params struct {
	Expected        decimal.NullDecimal
	SlippagePercent decimal.Decimal
	OutputDecimals  int32
	Fee             FeeInput
}

// Breakdown is the derived minimum output and fee. Both are unset when no expected
// output is available.
type Breakdown struct {
	MinimumOutput decimal.NullDecimal
	Fee           *types.Fee
}

// Derive recomputes the breakdown from scratch. An unavailable expected output yields an
// empty breakdown rather than a stale one.
func Derive(p Params) (Breakdown, error) {
	if !p.Expected.Valid {
		return Breakdown{}, nil
	}

	minimum, err := MinimumOutput(p.Expected.Decimal, p.SlippagePercent, p.OutputDecimals)
	if err != nil {
		return Breakdown{}, err
	}
	fee, err := PlatformFee(p.Fee)
	if err != nil {
		return Breakdown{}, err
	}

	return Breakdown{
		MinimumOutput: decimal.NewNullDecimal(minimum),
		Fee:           fee,
	}, nil
}
