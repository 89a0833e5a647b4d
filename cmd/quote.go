package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"riddle-swap/pkg/parser"
	"riddle-swap/pkg/quote"
	"riddle-swap/pkg/swaperr"
)

var interactive bool

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <token> to <token> [on <chain>] [at <slippage>%]",
	Short: "Get a swap quote without executing it",
	Long: `Fetch a priced quote with the minimum received amount and platform fee.

In interactive mode every line you type replaces the previous request. Input is
debounced so only the last value in a burst reaches the backend. Type a bare amount
to requote the same pair, or "slippage <n>" to change the tolerance.

Examples:
  riddle-swap quote 10 XRP to RLUSD
  riddle-swap quote 1 ETH to USDC on evm at 0.5%
  riddle-swap quote 10 XRP to RLUSD --interactive`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Keep reading amounts from stdin and requote")
}

func runQuote(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := a.requestFromArgs(ctx, args)
	if err != nil {
		return err
	}

	engine := a.quoteEngine()
	defer engine.Close()

	if interactive {
		runInteractiveQuote(engine, req)
		return nil
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}
	q, err := engine.Get(ctx, req)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(q)
		return nil
	}
	displayQuote(q)
	return nil
}

// requestFromArgs parses a swap command and resolves its tokens through the catalog
func (a *app) requestFromArgs(ctx context.Context, args []string) (quote.Request, error) {
	parsed, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return quote.Request{}, err
	}
	chain, err := parser.InferChain(parsed)
	if err != nil {
		return quote.Request{}, err
	}

	if err := a.catalog.Load(ctx); err != nil {
		a.logger.Warn("token catalog incomplete", zap.Error(err))
	}
	from, err := a.catalog.Resolve(chain, parsed.From)
	if err != nil {
		return quote.Request{}, err
	}
	to, err := a.catalog.Resolve(chain, parsed.To)
	if err != nil {
		return quote.Request{}, err
	}

	slip := a.cfg.Slippage()
	if parsed.HasSlip {
		slip = parsed.Slippage
	}
	return quote.Request{From: from, To: to, Amount: parsed.Amount, SlippagePercent: slip}, nil
}

func runInteractiveQuote(engine *quote.Engine, req quote.Request) {
	engine.OnChange(func(st quote.State) {
		switch {
		case st.Pending:
			return
		case st.Err != nil:
			if swaperr.HasCode(st.Err, swaperr.CodeQuoteSuperseded) {
				return
			}
			color.Red("  #%d %s", st.Seq, swaperr.UserMessage(st.Err))
		case st.Quote != nil:
			q := st.Quote
			fmt.Printf("  #%d %s %s -> ~%s %s (min %s, slippage %s%%)\n",
				st.Seq, q.InputAmount, q.From.Symbol, q.ExpectedOutput, q.To.Symbol, q.MinimumOutput, q.SlippagePercentUsed)
		}
	})

	fmt.Printf("\nQuoting %s -> %s. Enter an amount, \"slippage <n>\", or a full command. Ctrl+D to quit.\n\n",
		color.YellowString(req.From.Symbol), color.YellowString(req.To.Symbol))
	engine.Request(req)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		next, err := applyQuoteInput(req, line)
		if err != nil {
			color.Red("  %s", swaperr.UserMessage(err))
			continue
		}
		req = next
		engine.Request(req)
	}
}

// applyQuoteInput edits the request from one line of interactive input
func applyQuoteInput(req quote.Request, line string) (quote.Request, error) {
	fields := strings.Fields(line)
	switch {
	case len(fields) == 1:
		amount, err := decimal.NewFromString(fields[0])
		if err != nil {
			return req, swaperr.Newf(swaperr.CodeInvalidArgument, "not an amount: %s", fields[0])
		}
		req.Amount = amount
	case len(fields) == 2 && strings.EqualFold(fields[0], "slippage"):
		slip, err := decimal.NewFromString(strings.TrimSuffix(fields[1], "%"))
		if err != nil {
			return req, swaperr.Newf(swaperr.CodeInvalidArgument, "not a percentage: %s", fields[1])
		}
		req.SlippagePercent = slip
	default:
		parsed, err := parser.ParseSwapCommand(line)
		if err != nil {
			return req, err
		}
		if !sameSymbol(parsed.From, req.From.Symbol) || !sameSymbol(parsed.To, req.To.Symbol) {
			return req, swaperr.New(swaperr.CodeInvalidArgument, "interactive mode keeps the token pair, restart to change it")
		}
		req.Amount = parsed.Amount
		if parsed.HasSlip {
			req.SlippagePercent = parsed.Slippage
		}
	}
	return req, nil
}

func sameSymbol(ref, symbol string) bool {
	s, _, _ := strings.Cut(ref, ":")
	return strings.EqualFold(s, symbol)
}
