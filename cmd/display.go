package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"riddle-swap/pkg/deeplink"
	"riddle-swap/pkg/types"
)

func printJSON(v any) {
	jsonData, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(jsonData))
}

func displayQuote(q types.Quote) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Chain:             %s\n", q.Chain())
	fmt.Printf("  From:              %s %s\n", q.InputAmount, color.YellowString(q.From.Symbol))
	fmt.Printf("  To:                ~%s %s\n", q.ExpectedOutput, color.YellowString(q.To.Symbol))
	fmt.Printf("  Minimum Received:  %s %s\n", q.MinimumOutput, q.To.Symbol)
	fmt.Printf("  Rate:              1 %s = %s %s\n", q.From.Symbol, q.Rate, q.To.Symbol)
	fmt.Printf("  Slippage:          %s%%\n", q.SlippagePercentUsed)
	if q.PriceImpact.Valid {
		fmt.Printf("  Price Impact:      %s%%\n", q.PriceImpact.Decimal.StringFixed(2))
	}
	if q.PlatformFee != nil {
		fmt.Printf("  Platform Fee:      %s %s (%s%%)\n", q.PlatformFee.Amount, q.PlatformFee.Symbol, q.PlatformFee.Percent)
	}
	if !q.To.IsNative() {
		fmt.Printf("  Issuer:            %s\n", color.HiBlackString(q.To.Issuer))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

var statusColors = map[types.Status]func(string, ...interface{}) string{
	types.StatusPreparing:  color.CyanString,
	types.StatusSigning:    color.YellowString,
	types.StatusSubmitting: color.BlueString,
	types.StatusSuccess:    color.GreenString,
	types.StatusError:      color.RedString,
}

func displaySession(s types.SwapSession) {
	paint, ok := statusColors[s.Status]
	if !ok {
		paint = fmt.Sprintf
	}
	fmt.Printf("  [%d/%d] %s", s.Step, s.TotalSteps, paint("%s", strings.ToUpper(string(s.Status))))
	switch s.Status {
	case types.StatusSuccess:
		fmt.Printf("  %s", color.CyanString(s.TxHash))
	case types.StatusError:
		fmt.Printf("  %s", s.ErrorMessage)
	}
	fmt.Println()
}

func displayBalances(conn types.WalletConnection, balances []types.Balance) {
	color.Cyan("\n%s", conn)
	fmt.Println(strings.Repeat("-", 60))
	for _, b := range balances {
		line := fmt.Sprintf("  %-10s  %s", color.YellowString(b.Token.Symbol), b.Amount)
		if !b.HasTrustline {
			line += color.HiBlackString("  (no trustline)")
		}
		fmt.Println(line)
	}
}

func displayPayload(title string, p *deeplink.Payload) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Yellow("  %s", title)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println(p.QRTerminal)
	fmt.Printf("  Deep link: %s\n", color.CyanString(p.DeepLink))
	fmt.Printf("  URI:       %s\n\n", color.HiBlackString(p.URI))
}

func confirm(prompt string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", prompt)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
