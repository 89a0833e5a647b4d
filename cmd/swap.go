package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"riddle-swap/pkg/deeplink"
	"riddle-swap/pkg/signing"
	"riddle-swap/pkg/types"
	"riddle-swap/pkg/wallet"
)

var (
	noConfirm    bool
	walletID     string
	walletMethod string
	noWatch      bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <token> to <token> [on <chain>] [at <slippage>%]",
	Short: "Quote and execute a token swap",
	Long: `Quote a swap, confirm it, and execute it with the wallet connected on the chain.

The wallet is picked from the configured connections. When several could sign, choose
one with --wallet or --method, or pick from the prompt. Remote wallets that are not
paired in this session are paired first by QR code or deep link.

Examples:
  riddle-swap swap 10 XRP to RLUSD
  riddle-swap swap 1 SOL to USDC --method injected --yes
  riddle-swap swap 0.5 ETH to USDC on evm at 1% --wallet metamask`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
	swapCmd.Flags().StringVar(&walletID, "wallet", "", "Wallet to sign with (e.g. xaman, metamask, phantom, riddle, local)")
	swapCmd.Flags().StringVar(&walletMethod, "method", "", "Signing method to use: embedded, injected or remote")
	swapCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not wait for balances to refresh after the swap")
}

func runSwap(cmd *cobra.Command, args []string) error {
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

	conn, err := chooseWallet(a.wallets, q.Chain(), !jsonOutput && !noConfirm)
	if err != nil {
		return err
	}
	if conn.Method == types.MethodRemote && !a.pairing.Paired(conn.Topic) {
		conn, err = a.repair(ctx, conn, jsonOutput)
		if err != nil {
			return err
		}
	}

	if !jsonOutput {
		displayQuote(q)
		fmt.Printf("  Signing with:      %s\n", color.CyanString(conn.String()))
		if !noConfirm && !confirm("Proceed with swap?") {
			fmt.Println("\nSwap cancelled.")
			return nil
		}
		fmt.Println()
	}

	router := a.router(injectedApprover(jsonOutput), func(p *deeplink.Payload, tx types.TxDescriptor) {
		if jsonOutput {
			printJSON(p)
			return
		}
		displayPayload("Approve in your wallet: "+tx.Summary, p)
	})
	orch := a.orchestrator(router, func(c types.WalletConnection, b []types.Balance) {
		if !jsonOutput {
			displayBalances(c, b)
		}
	})
	defer orch.Close()

	if !jsonOutput {
		orch.OnChange(displaySession)
	}

	session, err := orch.ExecuteWith(ctx, conn, q)
	if err != nil {
		if jsonOutput {
			printJSON(session)
		}
		return err
	}

	if jsonOutput {
		printJSON(session)
		return nil
	}
	printSuccess(fmt.Sprintf("Swap submitted: %s", session.TxHash))

	if noWatch {
		return nil
	}
	fmt.Println("Refreshing balances...")
	select {
	case <-orch.BalancesSettled():
	case <-ctx.Done():
	}
	return nil
}

// chooseWallet resolves the signing wallet for a chain, applying --wallet and --method
// and prompting when several candidates remain.
func chooseWallet(wallets *wallet.Registry, chain types.Chain, prompt bool) (types.WalletConnection, error) {
	if walletID != "" || walletMethod != "" {
		candidates := lo.Filter(wallets.List(chain), func(c types.WalletConnection, _ int) bool {
			return (walletID == "" || strings.EqualFold(c.WalletID, walletID)) &&
				(walletMethod == "" || strings.EqualFold(string(c.Method), walletMethod))
		})
		switch len(candidates) {
		case 0:
			return types.WalletConnection{}, fmt.Errorf("no %s wallet matches --wallet %q --method %q", chain, walletID, walletMethod)
		case 1:
			if err := wallets.Select(candidates[0]); err != nil {
				return types.WalletConnection{}, err
			}
		default:
			if !prompt {
				return types.WalletConnection{}, &wallet.AmbiguousError{Chain: chain, Candidates: candidates}
			}
			return pickWallet(wallets, candidates)
		}
	}

	conn, err := wallets.Resolve(chain)
	var ambiguous *wallet.AmbiguousError
	if errors.As(err, &ambiguous) && prompt {
		return pickWallet(wallets, ambiguous.Candidates)
	}
	return conn, err
}

func pickWallet(wallets *wallet.Registry, candidates []types.WalletConnection) (types.WalletConnection, error) {
	color.Yellow("\nSeveral wallets can sign this swap:\n")
	for i, c := range candidates {
		fmt.Printf("  %d) %s\n", i+1, c)
	}
	fmt.Print("\nChoose a wallet: ")

	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return types.WalletConnection{}, fmt.Errorf("no wallet chosen")
	}
	n, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil || n < 1 || n > len(candidates) {
		return types.WalletConnection{}, fmt.Errorf("invalid choice: %s", answer)
	}
	chosen := candidates[n-1]
	return chosen, wallets.Select(chosen)
}

// repair runs a fresh pairing for a remote wallet whose topic is unknown to this process
// and swaps the stale connection for the new one.
func (a *app) repair(ctx context.Context, stale types.WalletConnection, jsonOutput bool) (types.WalletConnection, error) {
	if !jsonOutput {
		color.Yellow("\n%s is not paired in this session, scan the code below to pair it.\n", stale)
	}
	conn, err := a.pair(ctx, stale.WalletID, stale.Chain, jsonOutput)
	if err != nil {
		return types.WalletConnection{}, err
	}
	a.wallets.Disconnect(stale)
	if err := a.wallets.Connect(conn); err != nil {
		return types.WalletConnection{}, err
	}
	return conn, a.wallets.Select(conn)
}

func injectedApprover(jsonOutput bool) signing.Approver {
	if noConfirm || jsonOutput {
		return nil
	}
	return func(ctx context.Context, tx types.TxDescriptor) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return confirm(fmt.Sprintf("Sign %s with the local key?", tx.Summary)), nil
	}
}
