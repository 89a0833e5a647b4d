package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

var (
	pairWalletID string
	pairChain    string
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage wallet connections",
}

var walletListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured wallet connections",
	RunE:    runWalletList,
}

var walletPairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair a mobile wallet through the relay",
	Long: `Start a pairing handshake and show it as a QR code and deep link. Scan it with the
mobile wallet and approve the connection there.

Examples:
  riddle-swap wallet pair --wallet xaman
  riddle-swap wallet pair --wallet phantom --chain solana`,
	RunE: runWalletPair,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletListCmd, walletPairCmd)

	walletPairCmd.Flags().StringVar(&pairWalletID, "wallet", "generic", "Wallet app used for the deep link format")
	walletPairCmd.Flags().StringVar(&pairChain, "chain", "", "Chain the wallet must connect on (optional)")
}

func runWalletList(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	conns := a.wallets.List("")
	if jsonOutput {
		printJSON(conns)
		return nil
	}
	if len(conns) == 0 {
		fmt.Println("\nNo wallets configured. Add them under 'wallets' in .riddle-swap.yaml or run 'riddle-swap wallet pair'.")
		return nil
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                         WALLETS")
	fmt.Println(strings.Repeat("=", 70))
	for _, chain := range types.AllChains {
		chainConns := a.wallets.List(chain)
		if len(chainConns) == 0 {
			continue
		}
		color.Cyan("\n%s", strings.ToUpper(string(chain)))
		fmt.Println(strings.Repeat("-", 70))

		resolved, resolveErr := a.wallets.Resolve(chain)
		for _, c := range chainConns {
			marker := " "
			if resolveErr == nil && resolved.Key() == c.Key() {
				marker = color.GreenString("*")
			}
			fmt.Printf(" %s %-10s %-9s %s\n", marker, c.WalletID, c.Method, color.HiBlackString(c.Address))
		}
		if swaperr.HasCode(resolveErr, swaperr.CodeAmbiguousWallet) {
			color.Yellow("   several wallets can sign, pass --wallet or --method to swap")
		}
	}
	fmt.Println()
	return nil
}

func runWalletPair(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	var chain types.Chain
	if pairChain != "" {
		parsed, err := types.ParseChain(pairChain)
		if err != nil {
			return err
		}
		chain = parsed
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, err := a.pair(ctx, pairWalletID, chain, jsonOutput)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(conn)
		return nil
	}
	printSuccess(fmt.Sprintf("Paired %s", conn))
	fmt.Println("Pairing keys live only as long as this process. Add the wallet to .riddle-swap.yaml to")
	fmt.Println("keep it listed; swaps pair it again when needed:")
	fmt.Printf("\n  wallets:\n    - id: %s\n      chain: %s\n      address: %s\n      method: remote\n\n",
		conn.WalletID, conn.Chain, conn.Address)
	return nil
}

// pair proposes a pairing, shows it, and waits for the wallet within the remote timeout
func (a *app) pair(ctx context.Context, walletID string, chain types.Chain, jsonOutput bool) (types.WalletConnection, error) {
	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.Remote.Timeout)
	defer cancel()

	proposal, err := a.pairing.Propose(waitCtx)
	if err != nil {
		return types.WalletConnection{}, err
	}
	payload, err := a.links.ForPairing(walletID, proposal.URI)
	if err != nil {
		proposal.Close()
		return types.WalletConnection{}, err
	}
	if jsonOutput {
		printJSON(payload)
	} else {
		displayPayload("Scan with your wallet to connect", payload)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Waiting for the wallet to approve..."
		s.Start()
	}
	conn, err := proposal.Wait(waitCtx)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return types.WalletConnection{}, err
	}

	if walletID != "" && walletID != "generic" && conn.WalletID == "generic" {
		conn.WalletID = strings.ToLower(walletID)
	}
	if chain != "" && conn.Chain != chain {
		a.pairing.Forget(conn.Topic)
		return types.WalletConnection{}, swaperr.Newf(swaperr.CodeInvalidArgument,
			"wallet connected on %s, expected %s", conn.Chain, chain)
	}
	return conn, nil
}
