package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"riddle-swap/pkg/client"
	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// XRPL reserve defaults, in XRP
var (
	DefaultReserveBase      = decimal.NewFromInt(1)
	DefaultReserveIncrement = decimal.RequireFromString("0.2")
)

const accountLinesPageSize = 400

// RPCError is an error answer from a ledger node
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rpc error %s: %s", e.Code, e.Message)
	}
	return "rpc error " + e.Code
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

type accountInfoResult struct {
	AccountData struct {
		Account    string `json:"Account"`
		Balance    string `json:"Balance"`
		OwnerCount int64  `json:"OwnerCount"`
	} `json:"account_data"`
}

type trustLine struct {
	Account  string `json:"account"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
	Limit    string `json:"limit"`
}

type accountLinesResult struct {
	Lines  []trustLine `json:"lines"`
	Marker any         `json:"marker"`
}

// XRPL reads balances and trustlines over a rippled JSON-RPC endpoint
type XRPL struct {
	http             *client.HTTPClient
	reserveBase      decimal.Decimal
	reserveIncrement decimal.Decimal
	logger           *zap.Logger
}

// XRPLOption configures an XRPL ledger
type XRPLOption func(*XRPL)

// WithReserve overrides the account reserve used to compute spendable XRP
func WithReserve(base, increment decimal.Decimal) XRPLOption {
	return func(x *XRPL) {
		x.reserveBase = base
		x.reserveIncrement = increment
	}
}

// NewXRPL creates an XRPL ledger. httpClient must point at the node's JSON-RPC URL.
func NewXRPL(httpClient *client.HTTPClient, logger *zap.Logger, opts ...XRPLOption) *XRPL {
	if logger == nil {
		logger = zap.NewNop()
	}
	x := &XRPL{
		http:             httpClient,
		reserveBase:      DefaultReserveBase,
		reserveIncrement: DefaultReserveIncrement,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *XRPL) Chain() types.Chain { return types.ChainXRPL }

// account is the parts of an account the checks need
type account struct {
	funded    bool
	balance   decimal.Decimal // XRP, including the reserve
	spendable decimal.Decimal
	lines     []trustLine
}

func (a *account) line(token types.TokenRef) (trustLine, bool) {
	for _, l := range a.lines {
		if l.Account == token.Issuer && strings.EqualFold(currencyCode(l.Currency), token.Symbol) {
			return l, true
		}
	}
	return trustLine{}, false
}

// Balances returns the total XRP balance and the balance of each issued token's trustline
func (x *XRPL) Balances(ctx context.Context, address string, tokens []types.TokenRef) ([]types.Balance, error) {
	acct, err := x.load(ctx, address)
	if err != nil {
		return nil, err
	}

	balances := make([]types.Balance, 0, len(tokens))
	for _, token := range tokens {
		if token.IsNative() {
			balances = append(balances, types.Balance{Token: token, Amount: acct.balance, HasTrustline: true})
			continue
		}
		b := types.Balance{Token: token, Amount: decimal.Zero}
		if l, ok := acct.line(token); ok {
			b.HasTrustline = true
			if amt, err := decimal.NewFromString(l.Balance); err == nil {
				b.Amount = amt
			}
		}
		balances = append(balances, b)
	}
	return balances, nil
}

// Precheck requires a trustline for an issued destination and enough spendable input.
// Native input must also leave the account reserve untouched.
func (x *XRPL) Precheck(ctx context.Context, address string, from, to types.TokenRef, amount decimal.Decimal) error {
	acct, err := x.load(ctx, address)
	if err != nil {
		return err
	}
	if !acct.funded {
		return swaperr.Newf(swaperr.CodeInsufficientBalance, "account %s is not activated", address)
	}

	if !to.IsNative() {
		if _, ok := acct.line(to); !ok {
			return swaperr.Newf(swaperr.CodeTrustlineRequired, "set a trustline for %s issued by %s first", to.Symbol, to.Issuer)
		}
	}

	if from.IsNative() {
		return requireBalance(from, acct.spendable, amount)
	}
	l, ok := acct.line(from)
	if !ok {
		return requireBalance(from, decimal.Zero, amount)
	}
	have, err := decimal.NewFromString(l.Balance)
	if err != nil {
		return fmt.Errorf("invalid trustline balance %q: %w", l.Balance, err)
	}
	return requireBalance(from, have, amount)
}

func (x *XRPL) load(ctx context.Context, address string) (*account, error) {
	var info accountInfoResult
	err := x.call(ctx, "account_info", map[string]any{
		"account":      address,
		"ledger_index": "validated",
	}, &info)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == "actNotFound" {
			return &account{balance: decimal.Zero, spendable: decimal.Zero}, nil
		}
		return nil, wrapRead(types.ChainXRPL, "account", err)
	}

	drops, err := decimal.NewFromString(info.AccountData.Balance)
	if err != nil {
		return nil, fmt.Errorf("invalid account balance %q: %w", info.AccountData.Balance, err)
	}
	balance := drops.Shift(-types.ChainXRPL.NativeDecimals())
	reserve := x.reserveBase.Add(x.reserveIncrement.Mul(decimal.NewFromInt(info.AccountData.OwnerCount)))
	spendable := balance.Sub(reserve)
	if spendable.IsNegative() {
		spendable = decimal.Zero
	}

	lines, err := x.lines(ctx, address)
	if err != nil {
		return nil, err
	}
	return &account{funded: true, balance: balance, spendable: spendable, lines: lines}, nil
}

func (x *XRPL) lines(ctx context.Context, address string) ([]trustLine, error) {
	var all []trustLine
	var marker any
	for {
		params := map[string]any{
			"account":      address,
			"ledger_index": "validated",
			"limit":        accountLinesPageSize,
		}
		if marker != nil {
			params["marker"] = marker
		}
		var page accountLinesResult
		if err := x.call(ctx, "account_lines", params, &page); err != nil {
			return nil, wrapRead(types.ChainXRPL, "trustlines", err)
		}
		all = append(all, page.Lines...)
		if page.Marker == nil {
			return all, nil
		}
		marker = page.Marker
	}
}

func (x *XRPL) call(ctx context.Context, method string, params any, result any) error {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	req := rpcRequest{Method: method, Params: []any{params}}
	if err := x.http.PostJSON(ctx, "", req, &envelope, client.Idempotent()); err != nil {
		return err
	}

	var status rpcStatus
	if err := json.Unmarshal(envelope.Result, &status); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if status.Status == "error" || status.Error != "" {
		return &RPCError{Code: status.Error, Message: status.ErrorMessage}
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// currencyCode turns a 160-bit hex currency into its ASCII code, e.g. RLUSD
func currencyCode(code string) string {
	if len(code) != 40 {
		return code
	}
	raw, err := hex.DecodeString(code)
	if err != nil {
		return code
	}
	return strings.TrimRight(string(raw), "\x00")
}
