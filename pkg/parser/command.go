package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// SwapCommand is a parsed swap command. Token references keep the issuer's case
// since XRPL accounts and Solana mints are case-sensitive.
type SwapCommand struct {
	Amount   decimal.Decimal
	From     string // "SYMBOL" or "SYMBOL:ISSUER"
	To       string
	Chain    types.Chain     // Empty when the command names none
	Slippage decimal.Decimal // Zero when the command names none
	HasSlip  bool
}

// Pattern: [swap] <amount> <token> to <token> [on <chain>] [at|slippage <percent>%]
var commandPattern = regexp.MustCompile(`(?i)^(?:swap\s+)?(\d+(?:\.\d+)?|\.\d+)\s+([A-Za-z0-9.$]+(?::[A-Za-z0-9]+)?)\s+(?:to|for|->)\s+([A-Za-z0-9.$]+(?::[A-Za-z0-9]+)?)(?:\s+on\s+([A-Za-z]+))?(?:\s+(?:at|slippage|slip)\s+(\d+(?:\.\d+)?)\s*%?)?$`)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 10 XRP to RLUSD"
//   - "10 XRP to RLUSD:rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De at 0.5%"
//   - "1.5 ETH for USDC on base"
func ParseSwapCommand(command string) (*SwapCommand, error) {
	command = strings.Join(strings.Fields(command), " ")

	matches := commandPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, swaperr.New(swaperr.CodeInvalidArgument,
			"invalid swap command format. Expected: 'swap <amount> <token> to <token> [on <chain>] [at <slippage>%]' (e.g., 'swap 10 XRP to RLUSD')")
	}

	amount, err := decimal.NewFromString(matches[1])
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeInvalidArgument, err, "invalid amount")
	}
	cmd := &SwapCommand{
		Amount: amount,
		From:   NormalizeTokenRef(matches[2]),
		To:     NormalizeTokenRef(matches[3]),
	}
	if matches[4] != "" {
		chain, err := types.ParseChain(matches[4])
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeInvalidArgument, err, "")
		}
		cmd.Chain = chain
	}
	if matches[5] != "" {
		cmd.Slippage, err = decimal.NewFromString(matches[5])
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeInvalidArgument, err, "invalid slippage")
		}
		cmd.HasSlip = true
	}
	return cmd, ValidateSwapCommand(cmd)
}

// ValidateSwapCommand validates that a swap command has all required fields
func ValidateSwapCommand(cmd *SwapCommand) error {
	if !cmd.Amount.IsPositive() {
		return swaperr.New(swaperr.CodeInvalidArgument, "amount must be greater than zero")
	}
	if cmd.From == "" {
		return swaperr.New(swaperr.CodeInvalidArgument, "source token is required")
	}
	if cmd.To == "" {
		return swaperr.New(swaperr.CodeInvalidArgument, "destination token is required")
	}
	if strings.EqualFold(cmd.From, cmd.To) {
		return swaperr.New(swaperr.CodeInvalidArgument, "cannot swap a token for itself")
	}
	return nil
}

// InferChain guesses the chain from the token references when the command names none.
// A native symbol or an issuer's address format decides it; ties are left to the caller.
func InferChain(cmd *SwapCommand) (types.Chain, error) {
	if cmd.Chain != "" {
		return cmd.Chain, nil
	}
	var found types.Chain
	for _, ref := range []string{cmd.From, cmd.To} {
		chain := chainOf(ref)
		if chain == "" {
			continue
		}
		if found != "" && found != chain {
			return "", swaperr.Newf(swaperr.CodeInvalidArgument, "%s and %s are on different chains", cmd.From, cmd.To)
		}
		found = chain
	}
	if found == "" {
		return "", swaperr.New(swaperr.CodeInvalidArgument, "cannot tell which chain to use, add 'on <chain>'")
	}
	return found, nil
}

var (
	xrplAccount   = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)
	evmAddress    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	solanaAddress = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

func chainOf(ref string) types.Chain {
	symbol, issuer, _ := strings.Cut(ref, ":")
	switch {
	case issuer == "":
		for _, chain := range types.AllChains {
			if symbol == chain.NativeSymbol() {
				return chain
			}
		}
		return ""
	case evmAddress.MatchString(issuer):
		return types.ChainEVM
	case xrplAccount.MatchString(issuer):
		return types.ChainXRPL
	case solanaAddress.MatchString(issuer):
		return types.ChainSolana
	}
	return ""
}

// NormalizeTokenRef upper-cases the symbol and leaves the issuer untouched
func NormalizeTokenRef(ref string) string {
	symbol, issuer, ok := strings.Cut(strings.TrimSpace(ref), ":")
	symbol = NormalizeTokenSymbol(symbol)
	if !ok {
		return symbol
	}
	return fmt.Sprintf("%s:%s", symbol, strings.TrimSpace(issuer))
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"WSOL":   "SOL",
		"ETHER":  "ETH",
		"RIPPLE": "XRP",
	}
	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}
	return symbol
}
