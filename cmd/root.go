package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"riddle-swap/config"
	"riddle-swap/pkg/logger"
	"riddle-swap/pkg/swaperr"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "riddle-swap",
	Short: "Swap tokens on XRPL, EVM and Solana from the command line",
	Long: `riddle-swap quotes and executes same-chain token swaps on XRPL, EVM networks and
Solana. Swaps are signed by a custodial session, an in-process wallet key, or a mobile
wallet reached through a pairing relay, deep link or QR code.

Examples:
  riddle-swap quote 10 XRP to RLUSD
  riddle-swap swap 10 XRP to RLUSD:rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De at 0.5%
  riddle-swap tokens --chain solana
  riddle-swap balance xrpl rWallet... --watch
  riddle-swap wallet pair --wallet xaman`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			loaded.Log.Level = "debug"
		}
		l, err := logger.New(logger.Options{Level: loaded.Log.Level, Format: loaded.Log.Format})
		if err != nil {
			return err
		}
		cfg, log = loaded, l
		return nil
	},
}

// Execute runs the root command with ctx as every command's context. A command error is
// printed here, after the command's deferred teardown has run.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	_ = log.Sync()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default .riddle-swap.yaml in $HOME or the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

func printError(err error) {
	attr := swaperr.AttributesOf(swaperr.CodeOf(err))
	if attr.Neutral {
		color.Yellow("\n%s\n\n", swaperr.UserMessage(err))
		return
	}
	color.Red("\nError: %s\n", swaperr.UserMessage(err))
	if attr.Reauth {
		color.Yellow("Sign in again and refresh the session token (auth.token or auth.token_file).\n")
	}
	fmt.Println()
}

func printSuccess(message string) {
	color.Green("\n%s\n\n", message)
}
