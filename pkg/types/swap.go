package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Chain identifies one of the supported networks
type Chain string

const (
	ChainXRPL   Chain = "xrpl"   // Account-based ledger with issued assets and trustlines
	ChainEVM    Chain = "evm"    // EVM-compatible network
	ChainSolana Chain = "solana" // Account/program-based network
)

// AllChains lists every supported chain
var AllChains = []Chain{ChainXRPL, ChainEVM, ChainSolana}

// ParseChain normalizes user input such as "xrp", "eth" or "sol" into a Chain
func ParseChain(s string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xrpl", "xrp", "ripple":
		return ChainXRPL, nil
	case "evm", "eth", "ethereum", "base", "arb", "arbitrum", "polygon", "bsc":
		return ChainEVM, nil
	case "solana", "sol":
		return ChainSolana, nil
	default:
		return "", fmt.Errorf("unsupported chain: %s", s)
	}
}

// NativeSymbol returns the symbol of the chain's gas token
func (c Chain) NativeSymbol() string {
	switch c {
	case ChainXRPL:
		return "XRP"
	case ChainEVM:
		return "ETH"
	case ChainSolana:
		return "SOL"
	default:
		return ""
	}
}

// NativeDecimals returns the precision of the chain's gas token
func (c Chain) NativeDecimals() int32 {
	switch c {
	case ChainXRPL:
		return 6
	case ChainEVM:
		return 18
	case ChainSolana:
		return 9
	default:
		return 0
	}
}

// TokenRef is a chain-scoped token reference. An empty Issuer means the native asset.
// For XRPL the issuer is the issuing account, for EVM the contract, for Solana the mint.
type TokenRef struct {
	Symbol       string              `json:"symbol"`
	Chain        Chain               `json:"chain"`
	Issuer       string              `json:"issuer,omitempty"`
	Decimals     int32               `json:"decimals"`
	DisplayPrice decimal.NullDecimal `json:"display_price"`
}

// NativeToken returns the TokenRef of the chain's gas token
func NativeToken(chain Chain) TokenRef {
	return TokenRef{
		Symbol:   chain.NativeSymbol(),
		Chain:    chain,
		Decimals: chain.NativeDecimals(),
	}
}

// IsNative reports whether the token is the chain's gas token
func (t TokenRef) IsNative() bool {
	return t.Issuer == ""
}

// Key is the identity of the token: chain, issuer and symbol
func (t TokenRef) Key() string {
	return fmt.Sprintf("%s|%s|%s", t.Chain, strings.ToLower(t.Issuer), strings.ToUpper(t.Symbol))
}

// Wire is the backend representation: "SYMBOL" for natives, "SYMBOL:ISSUER" otherwise
func (t TokenRef) Wire() string {
	if t.IsNative() {
		return t.Symbol
	}
	return t.Symbol + ":" + t.Issuer
}

// Same reports whether two references point at the same token, ignoring price metadata
func (t TokenRef) Same(other TokenRef) bool {
	return t.Key() == other.Key()
}

func (t TokenRef) String() string {
	return t.Wire()
}

// Fee is the platform fee attached to a quote
type Fee struct {
	Amount           decimal.Decimal `json:"amount"`
	Symbol           string          `json:"symbol"`
	Percent          decimal.Decimal `json:"percent"`
	SeparateCurrency bool            `json:"separate_currency"` // Charged in the chain's gas token rather than the input token
}

// Quote is a priced estimate of swap output, valid only until superseded
type Quote struct {
	From                TokenRef            `json:"from"`
	To                  TokenRef            `json:"to"`
	InputAmount         decimal.Decimal     `json:"input_amount"`
	ExpectedOutput      decimal.Decimal     `json:"expected_output"`
	MinimumOutput       decimal.Decimal     `json:"minimum_output"`
	Rate                decimal.Decimal     `json:"rate"`
	PriceImpact         decimal.NullDecimal `json:"price_impact"`
	PlatformFee         *Fee                `json:"platform_fee,omitempty"`
	SlippagePercentUsed decimal.Decimal     `json:"slippage_percent_used"`
	Seq                 uint64              `json:"seq"`
	FetchedAt           time.Time           `json:"fetched_at"`
}

// Chain returns the chain both legs of the quote live on
func (q Quote) Chain() Chain {
	return q.From.Chain
}

// SigningMethod identifies how a wallet produces signatures
type SigningMethod string

const (
	MethodEmbedded SigningMethod = "embedded" // Custodial session, backend signs
	MethodInjected SigningMethod = "injected" // In-process wallet, user approves in place
	MethodRemote   SigningMethod = "remote"   // Mobile wallet over pairing relay or deep link
)

// ParseSigningMethod validates a signing method name
func ParseSigningMethod(s string) (SigningMethod, error) {
	switch SigningMethod(strings.ToLower(strings.TrimSpace(s))) {
	case MethodEmbedded:
		return MethodEmbedded, nil
	case MethodInjected:
		return MethodInjected, nil
	case MethodRemote:
		return MethodRemote, nil
	default:
		return "", fmt.Errorf("unknown signing method: %s", s)
	}
}

// WalletConnection is an active wallet on one chain
type WalletConnection struct {
	WalletID string        `json:"wallet_id"` // Wallet type, e.g. "xaman", "metamask", "phantom", "riddle"
	Chain    Chain         `json:"chain"`
	Address  string        `json:"address"`
	Method   SigningMethod `json:"method"`
	Topic    string        `json:"topic,omitempty"` // Pairing session topic for remote wallets
	Label    string        `json:"label,omitempty"`
}

// Key identifies a connection within a session
func (w WalletConnection) Key() string {
	return fmt.Sprintf("%s|%s|%s", w.Chain, strings.ToLower(w.WalletID), w.Address)
}

func (w WalletConnection) String() string {
	if w.Label != "" {
		return fmt.Sprintf("%s (%s %s, %s)", w.Label, w.WalletID, w.Method, w.Address)
	}
	return fmt.Sprintf("%s %s (%s)", w.WalletID, w.Method, w.Address)
}

// Status is the lifecycle state of a swap attempt
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPreparing  Status = "preparing"  // Trustline / approval / balance checks
	StatusSigning    Status = "signing"    // Waiting on the wallet
	StatusSubmitting Status = "submitting" // Signed transaction on its way to the ledger
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// InFlight reports whether a swap in this state still owns the trigger
func (s Status) InFlight() bool {
	return s == StatusPreparing || s == StatusSigning || s == StatusSubmitting
}

// Terminal reports whether the state waits for a user dismissal
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// SwapSession is the user-facing progress payload of a single swap attempt
type SwapSession struct {
	ID           string        `json:"id,omitempty"`
	Status       Status        `json:"status"`
	Step         int           `json:"step"`
	TotalSteps   int           `json:"total_steps"`
	TxHash       string        `json:"tx_hash,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	NeedsReauth  bool          `json:"needs_reauth,omitempty"`
	FromAmount   string        `json:"from_amount,omitempty"`
	ToAmount     string        `json:"to_amount,omitempty"`
	FromSymbol   string        `json:"from_symbol,omitempty"`
	ToSymbol     string        `json:"to_symbol,omitempty"`
	Method       SigningMethod `json:"method,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TxDescriptor is an unsigned transaction prepared by the backend for a wallet to sign
type TxDescriptor struct {
	Chain         Chain     `json:"chain"`
	Reference     string    `json:"reference"`
	UnsignedTx    string    `json:"unsigned_tx"` // Hex RLP for EVM, base64 for Solana, hex blob for XRPL
	WalletAddress string    `json:"wallet_address"`
	Summary       string    `json:"summary"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// Balance is a wallet's holding of one token
type Balance struct {
	Token        TokenRef        `json:"token"`
	Amount       decimal.Decimal `json:"amount"`
	HasTrustline bool            `json:"has_trustline"` // Always true for natives and non-XRPL chains
}
