package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// Endpoints are the backend paths used for one chain
type Endpoints struct {
	Quote   string `mapstructure:"quote"`
	Execute string `mapstructure:"execute"`
	Prepare string `mapstructure:"prepare"`
	Submit  string `mapstructure:"submit"`
}

// DefaultEndpoints returns the stock backend paths of a chain
func DefaultEndpoints(chain types.Chain) Endpoints {
	var prefix string
	switch chain {
	case types.ChainXRPL:
		prefix = "/api/xrpl/swap"
	case types.ChainEVM:
		prefix = "/api/swap/evm"
	case types.ChainSolana:
		prefix = "/api/solana/swap"
	default:
		return Endpoints{}
	}
	return Endpoints{
		Quote:   prefix + "/quote",
		Execute: prefix + "/execute",
		Prepare: prefix + "/prepare",
		Submit:  prefix + "/submit",
	}
}

// QuoteRequest is the body of a quote call
type QuoteRequest struct {
	FromToken       string      `json:"fromToken"`
	ToToken         string      `json:"toToken"`
	Amount          string      `json:"amount"`
	SlippagePercent json.Number `json:"slippagePercent"`
}

// QuoteResponse is the backend quote payload. Field names vary across backend versions,
// so each value is read from every alias it is known under.
type QuoteResponse struct {
	Success                  bool                `json:"success"`
	Rate                     decimal.NullDecimal `json:"rate"`
	ExchangeRate             decimal.NullDecimal `json:"exchangeRate"`
	ExpectedOutput           decimal.NullDecimal `json:"expectedOutput"`
	EstimatedOutput          decimal.NullDecimal `json:"estimatedOutput"`
	MinOutput                decimal.NullDecimal `json:"minOutput"`
	MinimumReceived          decimal.NullDecimal `json:"minimumReceived"`
	PriceImpact              decimal.NullDecimal `json:"priceImpact"`
	PlatformFeeInFeeCurrency decimal.NullDecimal `json:"platformFeeInFeeCurrency"`
	FeeCurrency              string              `json:"feeCurrency"`
	SlippagePercentUsed      decimal.NullDecimal `json:"slippagePercentUsed"`
	Error                    string              `json:"error"`
	Message                  string              `json:"message"`
	Code                     string              `json:"code"`
}

// ResolvedRate returns the exchange rate under whichever alias was sent
func (r *QuoteResponse) ResolvedRate() decimal.NullDecimal {
	return firstValid(r.Rate, r.ExchangeRate)
}

// ResolvedExpectedOutput returns the expected output under whichever alias was sent
func (r *QuoteResponse) ResolvedExpectedOutput() decimal.NullDecimal {
	return firstValid(r.ExpectedOutput, r.EstimatedOutput)
}

// ResolvedMinimumOutput returns the backend's minimum output under whichever alias was sent
func (r *QuoteResponse) ResolvedMinimumOutput() decimal.NullDecimal {
	return firstValid(r.MinOutput, r.MinimumReceived)
}

func (r *QuoteResponse) errorText() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

// ExecuteRequest is the body of an embedded execution call
type ExecuteRequest struct {
	FromToken       string      `json:"fromToken"`
	ToToken         string      `json:"toToken"`
	Amount          string      `json:"amount"`
	SlippagePercent json.Number `json:"slippagePercent"`
	WalletAddress   string      `json:"walletAddress"`
	AuthToken       string      `json:"authToken"`
}

// PrepareRequest asks the backend for an unsigned transaction
type PrepareRequest struct {
	FromToken       string      `json:"fromToken"`
	ToToken         string      `json:"toToken"`
	Amount          string      `json:"amount"`
	SlippagePercent json.Number `json:"slippagePercent"`
	WalletAddress   string      `json:"walletAddress"`
	Method          string      `json:"method"`
}

type executeResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash"`
	Hash    string `json:"hash"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (r *executeResponse) hash() string {
	if r.TxHash != "" {
		return r.TxHash
	}
	return r.Hash
}

func (r *executeResponse) errorText() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

type prepareResponse struct {
	Success    bool      `json:"success"`
	Reference  string    `json:"reference"`
	UnsignedTx string    `json:"unsignedTx"`
	Summary    string    `json:"summary"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Error      string    `json:"error"`
	Code       string    `json:"code"`
}

type submitRequest struct {
	Reference string `json:"reference"`
	SignedTx  string `json:"signedTx"`
}

// Backend talks to the swap backend's quote, execute, prepare and submit endpoints.
// None of these calls are retried: a quote is superseded by the next keystroke, and an
// execution must never be replayed.
type Backend struct {
	http      *HTTPClient
	endpoints map[types.Chain]Endpoints
	logger    *zap.Logger
}

// NewBackend creates a backend client. Chains missing from endpoints use DefaultEndpoints.
func NewBackend(httpClient *HTTPClient, endpoints map[types.Chain]Endpoints, logger *zap.Logger) *Backend {
	resolved := make(map[types.Chain]Endpoints, len(types.AllChains))
	for _, chain := range types.AllChains {
		ep := DefaultEndpoints(chain)
		if custom, ok := endpoints[chain]; ok {
			if custom.Quote != "" {
				ep.Quote = custom.Quote
			}
			if custom.Execute != "" {
				ep.Execute = custom.Execute
			}
			if custom.Prepare != "" {
				ep.Prepare = custom.Prepare
			}
			if custom.Submit != "" {
				ep.Submit = custom.Submit
			}
		}
		resolved[chain] = ep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{http: httpClient, endpoints: resolved, logger: logger}
}

func (b *Backend) endpointsFor(chain types.Chain) (Endpoints, error) {
	ep, ok := b.endpoints[chain]
	if !ok {
		return Endpoints{}, swaperr.Newf(swaperr.CodeUnsupported, "unsupported chain: %s", chain)
	}
	return ep, nil
}

// Quote requests a price quote. Failures carry QuoteUnavailable or InsufficientLiquidity.
func (b *Backend) Quote(ctx context.Context, chain types.Chain, req QuoteRequest) (*QuoteResponse, error) {
	ep, err := b.endpointsFor(chain)
	if err != nil {
		return nil, err
	}

	var resp QuoteResponse
	if err := b.http.PostJSON(ctx, ep.Quote, req, &resp, RateLimited()); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			var body QuoteResponse
			if json.Unmarshal([]byte(httpErr.Body), &body) == nil && body.errorText() != "" {
				return nil, quoteFailure(body.Code, body.errorText(), err)
			}
			return nil, quoteFailure("", fmt.Sprintf("API error (status %d)", httpErr.StatusCode), err)
		}
		return nil, swaperr.Wrap(swaperr.CodeQuoteUnavailable, err, "")
	}

	if !resp.Success {
		return nil, quoteFailure(resp.Code, resp.errorText(), nil)
	}
	if !resp.ResolvedExpectedOutput().Valid {
		return nil, swaperr.New(swaperr.CodeQuoteUnavailable, "quote response missing expected output")
	}
	return &resp, nil
}

func quoteFailure(code, message string, cause error) error {
	if isLiquidityFailure(code, message) {
		return swaperr.Wrap(swaperr.CodeInsufficientLiquidity, cause, message)
	}
	if message == "" {
		message = "quote unavailable"
	}
	if cause == nil {
		return swaperr.New(swaperr.CodeQuoteUnavailable, message)
	}
	return swaperr.Wrap(swaperr.CodeQuoteUnavailable, cause, message)
}

func isLiquidityFailure(code, message string) bool {
	c := strings.ToUpper(code)
	if strings.Contains(c, "LIQUIDITY") || c == "NO_PATH" || c == "PATH_NOT_FOUND" {
		return true
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "liquidity") || strings.Contains(m, "no path") || strings.Contains(m, "path not found")
}

// Execute runs an embedded-wallet swap on the backend and returns the transaction hash
func (b *Backend) Execute(ctx context.Context, chain types.Chain, req ExecuteRequest) (string, error) {
	ep, err := b.endpointsFor(chain)
	if err != nil {
		return "", err
	}

	var resp executeResponse
	err = b.http.PostJSON(ctx, ep.Execute, req, &resp, WithBearerToken(req.AuthToken))
	if err != nil {
		return "", b.executionFailure(ctx, err)
	}
	if !resp.Success {
		if isSessionCode(resp.Code) {
			return "", swaperr.New(swaperr.CodeSessionExpired, "")
		}
		return "", swaperr.New(swaperr.CodeBackendExecution, nonEmpty(resp.errorText(), "swap execution failed"))
	}
	if resp.hash() == "" {
		return "", swaperr.New(swaperr.CodeBackendExecution, "backend returned no transaction hash")
	}

	b.logger.Info("swap executed", zap.String("chain", string(chain)), zap.String("tx_hash", resp.hash()))
	return resp.hash(), nil
}

// Prepare asks the backend for an unsigned transaction for an injected or remote wallet
func (b *Backend) Prepare(ctx context.Context, chain types.Chain, req PrepareRequest) (*types.TxDescriptor, error) {
	ep, err := b.endpointsFor(chain)
	if err != nil {
		return nil, err
	}

	var resp prepareResponse
	if err := b.http.PostJSON(ctx, ep.Prepare, req, &resp); err != nil {
		return nil, b.executionFailure(ctx, err)
	}
	if !resp.Success || resp.UnsignedTx == "" {
		return nil, swaperr.New(swaperr.CodeBackendExecution, nonEmpty(resp.Error, "backend could not prepare the transaction"))
	}

	summary := resp.Summary
	if summary == "" {
		summary = fmt.Sprintf("Swap %s %s for %s", req.Amount, symbolOf(req.FromToken), symbolOf(req.ToToken))
	}
	return &types.TxDescriptor{
		Chain:         chain,
		Reference:     resp.Reference,
		UnsignedTx:    resp.UnsignedTx,
		WalletAddress: req.WalletAddress,
		Summary:       summary,
		ExpiresAt:     resp.ExpiresAt,
	}, nil
}

// Submit hands a wallet-signed transaction back to the backend for broadcast
func (b *Backend) Submit(ctx context.Context, chain types.Chain, reference, signedTx string) (string, error) {
	ep, err := b.endpointsFor(chain)
	if err != nil {
		return "", err
	}

	var resp executeResponse
	if err := b.http.PostJSON(ctx, ep.Submit, submitRequest{Reference: reference, SignedTx: signedTx}, &resp); err != nil {
		return "", b.executionFailure(ctx, err)
	}
	if !resp.Success || resp.hash() == "" {
		return "", swaperr.New(swaperr.CodeBackendExecution, nonEmpty(resp.errorText(), "backend rejected the signed transaction"))
	}
	return resp.hash(), nil
}

func (b *Backend) executionFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return swaperr.Wrap(swaperr.CodeBackendExecution, err, "swap backend unreachable")
	}
	if httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden {
		return swaperr.Wrap(swaperr.CodeSessionExpired, err, "")
	}

	var body executeResponse
	if json.Unmarshal([]byte(httpErr.Body), &body) == nil {
		if isSessionCode(body.Code) {
			return swaperr.Wrap(swaperr.CodeSessionExpired, err, "")
		}
		if body.errorText() != "" {
			return swaperr.New(swaperr.CodeBackendExecution, body.errorText())
		}
	}
	return swaperr.New(swaperr.CodeBackendExecution, fmt.Sprintf("API error (status %d)", httpErr.StatusCode))
}

func isSessionCode(code string) bool {
	switch strings.ToUpper(code) {
	case "SESSION_EXPIRED", "INVALID_SESSION", "UNAUTHORIZED", "AUTH_REQUIRED", "TOKEN_EXPIRED":
		return true
	}
	return false
}

func firstValid(values ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range values {
		if v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func symbolOf(wire string) string {
	if i := strings.Index(wire, ":"); i >= 0 {
		return wire[:i]
	}
	return wire
}
