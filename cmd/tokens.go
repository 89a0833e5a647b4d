package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"riddle-swap/pkg/types"
)

var (
	filterChain  string
	filterSymbol string
	withPrices   bool
)

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"list-tokens", "ls"},
	Short:   "List swappable tokens",
	Long: `List the tokens of the catalog: configured tokens plus the 1Click listing when
oneclick.jwt_token is set.

You can filter tokens by chain or symbol.

Examples:
  riddle-swap tokens
  riddle-swap tokens --chain solana
  riddle-swap tokens --symbol USD --prices`,
	RunE: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterChain, "chain", "", "Filter by chain (xrpl, evm, solana)")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
	tokensCmd.Flags().BoolVar(&withPrices, "prices", false, "Show USD prices")
}

func runListTokens(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	chains := types.AllChains
	if filterChain != "" {
		chain, err := types.ParseChain(filterChain)
		if err != nil {
			return err
		}
		chains = []types.Chain{chain}
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching supported tokens..."
		s.Start()
	}
	err = a.catalog.Load(ctx)
	byChain := make(map[types.Chain][]types.TokenRef, len(chains))
	for _, chain := range chains {
		tokens := a.catalog.Search(chain, filterSymbol)
		if withPrices {
			tokens = a.catalog.WithPrices(ctx, tokens)
		}
		byChain[chain] = tokens
	}
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(byChain)
		return nil
	}
	displayTokens(chains, byChain)
	return nil
}

func displayTokens(chains []types.Chain, byChain map[types.Chain][]types.TokenRef) {
	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 90))

	total := 0
	for _, chain := range chains {
		tokens := byChain[chain]
		if len(tokens) == 0 {
			continue
		}
		color.Cyan("\n%s", strings.ToUpper(string(chain)))
		fmt.Println(strings.Repeat("-", 90))

		for _, token := range tokens {
			address := token.Issuer
			if token.IsNative() {
				address = "native"
			}
			if len(address) > 44 {
				address = address[:41] + "..."
			}
			price := ""
			if token.DisplayPrice.Valid {
				price = "$" + token.DisplayPrice.Decimal.StringFixed(4)
			}

			fmt.Printf("  %-10s  %2d decimals  %-46s %s\n",
				color.YellowString(token.Symbol),
				token.Decimals,
				color.HiBlackString(address),
				price)
			total++
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens\n\n", total)
}
