// Package signing executes a confirmed quote through the wallet's signing method.
// Embedded, injected and remote wallets each have a Signer; the Router picks one from
// the resolved connection and every path returns the same Result.
package signing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"riddle-swap/pkg/client"
	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// Phase is a progress point reported while a signer runs
type Phase string

// PhaseSubmitting means the wallet has signed and the transaction is on its way
const PhaseSubmitting Phase = "submitting"

// Result is the outcome of any signing path
type Result struct {
	TxHash    string              `json:"tx_hash"`
	Method    types.SigningMethod `json:"method"`
	Reference string              `json:"reference,omitempty"`
}

// Backend is the part of the swap backend the signers call
type Backend interface {
	Execute(ctx context.Context, chain types.Chain, req client.ExecuteRequest) (string, error)
	Prepare(ctx context.Context, chain types.Chain, req client.PrepareRequest) (*types.TxDescriptor, error)
	Submit(ctx context.Context, chain types.Chain, reference, signedTx string) (string, error)
}

// Signer executes a quote for one signing method
type Signer interface {
	Method() types.SigningMethod
	Sign(ctx context.Context, conn types.WalletConnection, q types.Quote, progress func(Phase)) (Result, error)
}

// Option adjusts a single Execute call
type Option func(*execOptions)

type execOptions struct {
	progress func(Phase)
}

// WithProgress registers a callback for progress phases
func WithProgress(fn func(Phase)) Option {
	return func(o *execOptions) {
		o.progress = fn
	}
}

// Progress resolves the progress callback carried by opts. It never returns nil.
func Progress(opts ...Option) func(Phase) {
	o := execOptions{progress: func(Phase) {}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.progress == nil {
		return func(Phase) {}
	}
	return o.progress
}

// Router dispatches execution to the signer of the connection's method
type Router struct {
	signers map[types.SigningMethod]Signer
	logger  *zap.Logger
}

// NewRouter creates a router over the given signers
func NewRouter(logger *zap.Logger, signers ...Signer) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{signers: make(map[types.SigningMethod]Signer), logger: logger}
	for _, s := range signers {
		r.signers[s.Method()] = s
	}
	return r
}

// Supports reports whether a signer is registered for the method
func (r *Router) Supports(method types.SigningMethod) bool {
	_, ok := r.signers[method]
	return ok
}

// Execute signs and submits the quote with the connection's wallet
func (r *Router) Execute(ctx context.Context, conn types.WalletConnection, q types.Quote, opts ...Option) (Result, error) {
	progress := Progress(opts...)

	if conn.Chain != q.Chain() {
		return Result{}, swaperr.Newf(swaperr.CodeInvalidArgument,
			"wallet is on %s but the quote is for %s", conn.Chain, q.Chain())
	}
	signer, ok := r.signers[conn.Method]
	if !ok {
		return Result{}, swaperr.Newf(swaperr.CodeUnsupported, "signing method %q is not configured", conn.Method)
	}

	logger := r.logger.With(
		zap.String("chain", string(conn.Chain)),
		zap.String("method", string(conn.Method)),
		zap.String("wallet", conn.WalletID),
	)
	logger.Info("executing swap",
		zap.String("from", q.From.Wire()),
		zap.String("to", q.To.Wire()),
		zap.String("amount", q.InputAmount.String()),
	)

	start := time.Now()
	res, err := signer.Sign(ctx, conn, q, progress)
	if err != nil {
		logger.Warn("swap signing failed", zap.Error(err), zap.String("code", string(swaperr.CodeOf(err))))
		return Result{}, err
	}
	res.Method = conn.Method
	logger.Info("swap signed and submitted", zap.String("tx_hash", res.TxHash), zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func prepareRequest(conn types.WalletConnection, q types.Quote) client.PrepareRequest {
	return client.PrepareRequest{
		FromToken:       q.From.Wire(),
		ToToken:         q.To.Wire(),
		Amount:          q.InputAmount.String(),
		SlippagePercent: json.Number(q.SlippagePercentUsed.String()),
		WalletAddress:   conn.Address,
		Method:          string(conn.Method),
	}
}

func requireHash(hash string, method types.SigningMethod) error {
	if hash == "" {
		return swaperr.New(swaperr.CodeBackendExecution, fmt.Sprintf("%s signing returned no transaction hash", method))
	}
	return nil
}
