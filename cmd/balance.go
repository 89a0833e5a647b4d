package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"riddle-swap/pkg/balance"
	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

var (
	watchMode     bool
	watchInterval time.Duration
	watchAttempts int
)

var balanceCmd = &cobra.Command{
	Use:   "balance [chain] [address] [tokens...]",
	Short: "Show wallet balances",
	Long: `Show balances of the configured wallets, or of one address on a chain.

Tokens are given as SYMBOL or SYMBOL:ISSUER. The chain's native token is always shown.
On XRPL an issued token without a trustline is flagged.

Examples:
  riddle-swap balance
  riddle-swap balance xrpl rWallet... RLUSD:rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De
  riddle-swap balance solana <address> USDC --watch --interval 5s`,
	Args: cobra.ArbitraryArgs,
	RunE: runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)

	balanceCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Keep refreshing balances")
	balanceCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Refresh interval when watching (default reconcile.interval)")
	balanceCmd.Flags().IntVar(&watchAttempts, "attempts", 0, "Refreshes when watching (default reconcile.attempts)")
}

func runBalance(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	targets, err := a.balanceTargets(ctx, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Println("\nNo wallets configured. Pass a chain and address, or add wallets to .riddle-swap.yaml.")
		return nil
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Reading balances..."
		s.Start()
	}
	results := make(map[string][]types.Balance, len(targets))
	var failed error
	for _, t := range targets {
		b, err := a.ledgers.Balances(ctx, t.conn.Chain, t.conn.Address, t.tokens)
		if err != nil {
			failed = err
			log.Sugar().Warnf("balance read failed for %s: %v", t.conn, err)
			continue
		}
		results[t.conn.Key()] = b
	}
	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		printJSON(results)
	} else {
		for _, t := range targets {
			if b, ok := results[t.conn.Key()]; ok {
				displayBalances(t.conn, b)
			}
		}
		fmt.Println()
	}
	if len(results) == 0 && failed != nil {
		return failed
	}

	if watchMode {
		if jsonOutput {
			return swaperr.New(swaperr.CodeInvalidArgument, "watch mode is not supported with JSON output")
		}
		a.watchBalances(ctx, targets)
	}
	return nil
}

type balanceTarget struct {
	conn   types.WalletConnection
	tokens []types.TokenRef
}

// balanceTargets turns the arguments into addresses and token lists. Without arguments
// every configured wallet is read for its native token and the catalog's tokens.
func (a *app) balanceTargets(ctx context.Context, args []string) ([]balanceTarget, error) {
	if len(args) == 1 {
		return nil, swaperr.New(swaperr.CodeInvalidArgument, "an address is required after the chain")
	}
	if len(args) >= 2 {
		chain, err := types.ParseChain(args[0])
		if err != nil {
			return nil, err
		}
		tokens := []types.TokenRef{types.NativeToken(chain)}
		if len(args) > 2 {
			_ = a.catalog.Load(ctx)
			for _, ref := range args[2:] {
				token, err := a.catalog.Resolve(chain, ref)
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, token)
			}
		}
		conn := types.WalletConnection{WalletID: "address", Chain: chain, Address: args[1], Method: types.MethodRemote}
		return []balanceTarget{{conn: conn, tokens: tokens}}, nil
	}

	_ = a.catalog.Load(ctx)
	var targets []balanceTarget
	for _, conn := range a.wallets.List("") {
		if !a.ledgers.IsEnabledForChain(conn.Chain) {
			continue
		}
		tokens := []types.TokenRef{types.NativeToken(conn.Chain)}
		for _, t := range a.catalog.List(conn.Chain) {
			if !t.IsNative() {
				tokens = append(tokens, t)
			}
		}
		targets = append(targets, balanceTarget{conn: conn, tokens: tokens})
	}
	return targets, nil
}

func (a *app) watchBalances(ctx context.Context, targets []balanceTarget) {
	interval := watchInterval
	if interval <= 0 {
		interval = a.cfg.Reconcile.Interval
	}
	attempts := watchAttempts
	if attempts <= 0 {
		attempts = a.cfg.Reconcile.Attempts
	}

	fmt.Printf("Refreshing every %s, %d times. Press Ctrl+C to stop.\n", interval, attempts)

	r := balance.NewReconciler(balance.Config{Interval: interval, Attempts: attempts}, a.logger.Named("watch"))
	defer r.Close()

	polls := make([]*balance.Poll, 0, len(targets))
	for _, t := range targets {
		t := t
		polls = append(polls, r.Start(ctx, balance.Job{
			Key: t.conn.Key(),
			Fetch: func(ctx context.Context) ([]types.Balance, error) {
				return a.ledgers.Balances(ctx, t.conn.Chain, t.conn.Address, t.tokens)
			},
			OnUpdate: func(b []types.Balance) {
				fmt.Printf("\n%s", color.HiBlackString(time.Now().Format("15:04:05")))
				displayBalances(t.conn, b)
			},
		}))
	}
	for _, p := range polls {
		<-p.Done()
	}
}
