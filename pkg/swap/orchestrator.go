// Package swap drives a confirmed quote through wallet resolution, the execution
// state machine, signing and the post-swap balance refresh.
package swap

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"riddle-swap/pkg/balance"
	"riddle-swap/pkg/execution"
	"riddle-swap/pkg/signing"
	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// Wallets resolves and drops wallet connections
type Wallets interface {
	Resolve(chain types.Chain) (types.WalletConnection, error)
	Disconnect(conn types.WalletConnection)
}

// Router executes a quote with a wallet
type Router interface {
	Execute(ctx context.Context, conn types.WalletConnection, q types.Quote, opts ...signing.Option) (signing.Result, error)
}

// Ledger runs prechecks and reads balances
type Ledger interface {
	Precheck(ctx context.Context, address string, from, to types.TokenRef, amount decimal.Decimal) error
	Balances(ctx context.Context, chain types.Chain, address string, tokens []types.TokenRef) ([]types.Balance, error)
}

// Orchestrator runs one swap at a time
type Orchestrator struct {
	wallets    Wallets
	router     Router
	machine    *execution.Machine
	ledger     Ledger
	reconciler *balance.Reconciler
	forget     func(topic string)
	onBalances func(types.WalletConnection, []types.Balance)
	logger     *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	pollMu sync.Mutex
	poll   *balance.Poll
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLedger enables prechecks in the preparing step
func WithLedger(l Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

// WithReconciler refreshes balances after a successful swap. Needs WithLedger.
func WithReconciler(r *balance.Reconciler) Option {
	return func(o *Orchestrator) {
		o.reconciler = r
	}
}

// WithPairingReset is called with the topic of a remote wallet that timed out
func WithPairingReset(forget func(topic string)) Option {
	return func(o *Orchestrator) {
		o.forget = forget
	}
}

// WithBalanceObserver receives refreshed balances
func WithBalanceObserver(fn func(types.WalletConnection, []types.Balance)) Option {
	return func(o *Orchestrator) {
		o.onBalances = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator over a state machine
func New(wallets Wallets, router Router, machine *execution.Machine, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		wallets: wallets,
		router:  router,
		machine: machine,
		forget:  func(string) {},
		logger:  zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute resolves the wallet for the quote's chain and runs the swap. A wallet that
// cannot be resolved fails the attempt in preparing, so the session carries the error.
func (o *Orchestrator) Execute(ctx context.Context, q types.Quote) (types.SwapSession, error) {
	if err := validateQuote(q); err != nil {
		return o.machine.Snapshot(), err
	}
	conn, err := o.wallets.Resolve(q.Chain())
	if err != nil {
		if _, startErr := o.machine.Start(execution.ParamsFromQuote(q, "")); startErr != nil {
			return o.machine.Snapshot(), startErr
		}
		return o.fail(types.WalletConnection{}, err)
	}
	return o.ExecuteWith(ctx, conn, q)
}

// ExecuteWith runs the swap with an already resolved wallet. Failures after the swap
// started are recorded on the session and returned.
func (o *Orchestrator) ExecuteWith(ctx context.Context, conn types.WalletConnection, q types.Quote) (types.SwapSession, error) {
	if err := validateQuote(q); err != nil {
		return o.machine.Snapshot(), err
	}
	if _, err := o.machine.Start(execution.ParamsFromQuote(q, conn.Method)); err != nil {
		return o.machine.Snapshot(), err
	}

	if o.ledger != nil {
		if err := o.ledger.Precheck(ctx, conn.Address, q.From, q.To, q.InputAmount); err != nil {
			return o.fail(conn, err)
		}
	}
	if _, err := o.machine.Advance(types.StatusSigning); err != nil {
		return o.fail(conn, err)
	}

	var advanceErr error
	res, err := o.router.Execute(ctx, conn, q, signing.WithProgress(func(p signing.Phase) {
		if p == signing.PhaseSubmitting && o.machine.Snapshot().Status == types.StatusSigning {
			_, advanceErr = o.machine.Advance(types.StatusSubmitting)
		}
	}))
	if err != nil {
		return o.fail(conn, err)
	}
	if advanceErr != nil {
		return o.fail(conn, advanceErr)
	}
	if o.machine.Snapshot().Status == types.StatusSigning {
		if _, err := o.machine.Advance(types.StatusSubmitting); err != nil {
			return o.fail(conn, err)
		}
	}

	session, err := o.machine.Succeed(res.TxHash)
	if err != nil {
		return o.fail(conn, err)
	}
	o.reconcile(conn, q)
	return session, nil
}

// Dismiss clears a finished swap
func (o *Orchestrator) Dismiss() (types.SwapSession, error) {
	return o.machine.Dismiss()
}

// Session returns the current swap session
func (o *Orchestrator) Session() types.SwapSession {
	return o.machine.Snapshot()
}

// OnChange forwards every session change
func (o *Orchestrator) OnChange(fn func(types.SwapSession)) {
	o.machine.OnChange(fn)
}

// BalancesSettled is closed once the latest balance refresh has finished, or right away
// when none is running
func (o *Orchestrator) BalancesSettled() <-chan struct{} {
	o.pollMu.Lock()
	defer o.pollMu.Unlock()
	if o.poll == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return o.poll.Done()
}

// Close stops balance polls
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancel()
		if o.reconciler != nil {
			o.reconciler.Close()
		}
	})
}

func (o *Orchestrator) fail(conn types.WalletConnection, cause error) (types.SwapSession, error) {
	if swaperr.HasCode(cause, swaperr.CodeRemotePairingTimeout) {
		o.logger.Info("remote wallet timed out, dropping connection", zap.String("wallet", conn.WalletID))
		o.wallets.Disconnect(conn)
		if conn.Topic != "" {
			o.forget(conn.Topic)
		}
	}
	session, err := o.machine.Fail(cause)
	if err != nil {
		o.logger.Warn("could not record swap failure", zap.Error(err), zap.NamedError("cause", cause))
	}
	return session, cause
}

func (o *Orchestrator) reconcile(conn types.WalletConnection, q types.Quote) {
	if o.reconciler == nil || o.ledger == nil {
		return
	}
	tokens := []types.TokenRef{q.From, q.To}
	poll := o.reconciler.Start(o.ctx, balance.Job{
		Key: conn.Key(),
		Fetch: func(ctx context.Context) ([]types.Balance, error) {
			return o.ledger.Balances(ctx, conn.Chain, conn.Address, tokens)
		},
		OnUpdate: func(b []types.Balance) {
			if o.onBalances != nil {
				o.onBalances(conn, b)
			}
		},
	})

	o.pollMu.Lock()
	o.poll = poll
	o.pollMu.Unlock()
}

func validateQuote(q types.Quote) error {
	if q.From.Chain != q.To.Chain {
		return swaperr.New(swaperr.CodeInvalidArgument, "quote legs are on different chains")
	}
	if !q.InputAmount.IsPositive() {
		return swaperr.New(swaperr.CodeInvalidArgument, "quote has no input amount")
	}
	if q.MinimumOutput.GreaterThan(q.ExpectedOutput) {
		return swaperr.New(swaperr.CodeInvalidArgument, "quote minimum output exceeds expected output")
	}
	return nil
}
