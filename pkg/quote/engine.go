package quote

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"riddle-swap/pkg/client"
	"riddle-swap/pkg/pricefeed"
	"riddle-swap/pkg/slippage"
	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

const (
	DefaultDebounce = 500 * time.Millisecond
	MinDebounce     = 300 * time.Millisecond
	MaxDebounce     = 800 * time.Millisecond
)

// ClampDebounce keeps a user-configured debounce within the supported window
func ClampDebounce(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultDebounce
	case d < MinDebounce:
		return MinDebounce
	case d > MaxDebounce:
		return MaxDebounce
	default:
		return d
	}
}

// Backend fetches raw quotes
type Backend interface {
	Quote(ctx context.Context, chain types.Chain, req client.QuoteRequest) (*client.QuoteResponse, error)
}

// Request is one quote form submission
type Request struct {
	From            types.TokenRef
	To              types.TokenRef
	Amount          decimal.Decimal
	SlippagePercent decimal.Decimal
}

// Validate checks the request before it reaches the backend
func (r Request) Validate() error {
	if r.From.Chain == "" || r.To.Chain == "" {
		return swaperr.New(swaperr.CodeInvalidArgument, "both tokens must be set")
	}
	if r.From.Chain != r.To.Chain {
		return swaperr.Newf(swaperr.CodeInvalidArgument, "cannot swap across chains (%s to %s)", r.From.Chain, r.To.Chain)
	}
	if r.From.Same(r.To) {
		return swaperr.New(swaperr.CodeInvalidArgument, "cannot swap a token for itself")
	}
	if !r.Amount.IsPositive() {
		return swaperr.New(swaperr.CodeInvalidArgument, "amount must be greater than zero")
	}
	return slippage.ValidateSlippage(r.SlippagePercent)
}

// State is the engine's published view. It is replaced wholesale on every change.
type State struct {
	Seq     uint64
	Request Request
	Quote   *types.Quote
	Err     error
	Pending bool
}

// Config tunes an Engine
type Config struct {
	Debounce      time.Duration
	FeePercent    decimal.Decimal
	FeeCurrencies map[types.Chain]string // Mandated fee currency per chain; empty means the input token
	Timeout       time.Duration          // Per-request timeout; zero means none beyond the caller's
}

// Engine fetches quotes for a single quote form. Every request is numbered, and only
// the latest-issued one may update the state: any new request supersedes all earlier
// ones and cancels the in-flight call.
type Engine struct {
	backend Backend
	feed    pricefeed.Feed
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	base     context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	seq      uint64
	version  uint64
	state    State
	cancel   context.CancelFunc
	timer    *time.Timer
	onChange func(State)
	closed   bool

	notifyMu     sync.Mutex
	notifiedUpTo uint64
}

// NewEngine creates an Engine. feed may be nil when no chain mandates a separate fee currency.
func NewEngine(backend Backend, feed pricefeed.Feed, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, shutdown := context.WithCancel(context.Background())
	return &Engine{
		backend:  backend,
		feed:     feed,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		base:     base,
		shutdown: shutdown,
	}
}

// OnChange registers the observer that receives every state change
func (e *Engine) OnChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// State returns the current state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Get issues a request immediately and waits for it. It returns QuoteSuperseded when a
// later request was issued before this one resolved.
func (e *Engine) Get(ctx context.Context, req Request) (types.Quote, error) {
	if err := req.Validate(); err != nil {
		e.reject(req, err)
		return types.Quote{}, err
	}

	seq, reqCtx, err := e.issue(ctx, req)
	if err != nil {
		return types.Quote{}, err
	}
	q, fetchErr := e.fetch(reqCtx, seq, req)
	return e.apply(seq, req, q, fetchErr)
}

// Request schedules a debounced request and returns its sequence number. Calls made
// within the debounce window replace each other; only the last reaches the backend.
func (e *Engine) Request(req Request) uint64 {
	if err := req.Validate(); err != nil {
		return e.reject(req, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	e.supersedeLocked()
	e.seq++
	seq := e.seq
	e.setStateLocked(State{Seq: seq, Request: req, Pending: true})
	e.timer = time.AfterFunc(e.cfg.Debounce, func() { e.run(seq, req) })
	snapshot, fn, version := e.state, e.onChange, e.version
	e.mu.Unlock()

	e.notify(fn, snapshot, version)
	return seq
}

// Close stops timers and cancels in-flight work. The engine accepts no further requests.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.supersedeLocked()
	e.shutdown()
}

func (e *Engine) run(seq uint64, req Request) {
	e.mu.Lock()
	if e.closed || seq != e.seq {
		e.mu.Unlock()
		return
	}
	ctx, cancel := e.requestContext(e.base)
	e.cancel = cancel
	e.timer = nil
	e.mu.Unlock()

	q, err := e.fetch(ctx, seq, req)
	_, _ = e.apply(seq, req, q, err)
}

// issue numbers a request and makes it the only authoritative one
func (e *Engine) issue(parent context.Context, req Request) (uint64, context.Context, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, nil, swaperr.New(swaperr.CodeQuoteUnavailable, "quote engine closed")
	}
	e.supersedeLocked()
	e.seq++
	seq := e.seq
	ctx, cancel := e.requestContext(parent)
	e.cancel = cancel
	e.setStateLocked(State{Seq: seq, Request: req, Pending: true})
	snapshot, fn, version := e.state, e.onChange, e.version
	e.mu.Unlock()

	e.notify(fn, snapshot, version)
	return seq, ctx, nil
}

func (e *Engine) reject(req Request, err error) uint64 {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	e.supersedeLocked()
	e.seq++
	seq := e.seq
	e.setStateLocked(State{Seq: seq, Request: req, Err: err})
	snapshot, fn, version := e.state, e.onChange, e.version
	e.mu.Unlock()

	e.notify(fn, snapshot, version)
	return seq
}

func (e *Engine) apply(seq uint64, req Request, q types.Quote, err error) (types.Quote, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return types.Quote{}, swaperr.New(swaperr.CodeQuoteSuperseded, "quote engine closed")
	}
	if seq != e.seq {
		latest := e.seq
		e.mu.Unlock()
		e.logger.Debug("discarding superseded quote response", zap.Uint64("seq", seq), zap.Uint64("latest", latest))
		return types.Quote{}, swaperr.Newf(swaperr.CodeQuoteSuperseded, "quote %d superseded by %d", seq, latest)
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	next := State{Seq: seq, Request: req}
	if err != nil {
		next.Err = err
	} else {
		next.Quote = &q
	}
	e.setStateLocked(next)
	snapshot, fn, version := e.state, e.onChange, e.version
	e.mu.Unlock()

	e.notify(fn, snapshot, version)
	if err != nil {
		return types.Quote{}, err
	}
	return q, nil
}

func (e *Engine) supersedeLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) setStateLocked(s State) {
	e.version++
	e.state = s
}

// notify delivers snapshots in version order; an older snapshot that loses the race to a
// newer one is dropped.
func (e *Engine) notify(fn func(State), s State, version uint64) {
	if fn == nil {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if version <= e.notifiedUpTo {
		return
	}
	e.notifiedUpTo = version
	fn(s)
}

func (e *Engine) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(parent, e.cfg.Timeout)
	}
	return context.WithCancel(parent)
}

func (e *Engine) fetch(ctx context.Context, seq uint64, req Request) (types.Quote, error) {
	chain := req.From.Chain
	resp, err := e.backend.Quote(ctx, chain, client.QuoteRequest{
		FromToken:       req.From.Wire(),
		ToToken:         req.To.Wire(),
		Amount:          req.Amount.String(),
		SlippagePercent: json.Number(req.SlippagePercent.String()),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return types.Quote{}, swaperr.Wrap(swaperr.CodeQuoteSuperseded, err, "")
		}
		if swaperr.CodeOf(err) == swaperr.CodeUnknown {
			return types.Quote{}, swaperr.Wrap(swaperr.CodeQuoteUnavailable, err, "")
		}
		return types.Quote{}, err
	}

	expected := resp.ResolvedExpectedOutput()
	if !expected.Valid || expected.Decimal.IsNegative() {
		return types.Quote{}, swaperr.New(swaperr.CodeQuoteUnavailable, "quote has no expected output")
	}

	feeIn := slippage.FeeInput{
		Input:       req.From,
		InputAmount: req.Amount,
		Percent:     e.cfg.FeePercent,
		FeeCurrency: resp.FeeCurrency,
		BackendFee:  resp.PlatformFeeInFeeCurrency,
	}
	if feeIn.FeeCurrency == "" {
		feeIn.FeeCurrency = e.cfg.FeeCurrencies[chain]
	}
	if feeIn.FeeCurrency == "" && feeIn.BackendFee.Valid {
		// A fee reported in the fee currency without naming it is in the gas token
		feeIn.FeeCurrency = chain.NativeSymbol()
	}
	if feeIn.SeparateCurrency() && !feeIn.BackendFee.Valid {
		if err := e.attachFeePrices(ctx, &feeIn); err != nil {
			return types.Quote{}, err
		}
	}

	breakdown, err := slippage.Derive(slippage.Params{
		Expected:        expected,
		SlippagePercent: req.SlippagePercent,
		OutputDecimals:  req.To.Decimals,
		Fee:             feeIn,
	})
	if err != nil {
		return types.Quote{}, err
	}

	if used := resp.SlippagePercentUsed; used.Valid && !used.Decimal.Equal(req.SlippagePercent) {
		e.logger.Warn("backend reported a different slippage than requested",
			zap.String("requested", req.SlippagePercent.String()),
			zap.String("reported", used.Decimal.String()))
	}

	rate := resp.ResolvedRate()
	if !rate.Valid {
		rate = decimal.NewNullDecimal(expected.Decimal.Div(req.Amount))
	}

	e.logger.Debug("quote received",
		zap.Uint64("seq", seq),
		zap.String("from", req.From.Wire()),
		zap.String("to", req.To.Wire()),
		zap.String("amount", req.Amount.String()),
		zap.String("expected", expected.Decimal.String()))

	return types.Quote{
		From:                req.From,
		To:                  req.To,
		InputAmount:         req.Amount,
		ExpectedOutput:      expected.Decimal,
		MinimumOutput:       breakdown.MinimumOutput.Decimal,
		Rate:                rate.Decimal,
		PriceImpact:         resp.PriceImpact,
		PlatformFee:         breakdown.Fee,
		SlippagePercentUsed: req.SlippagePercent,
		Seq:                 seq,
		FetchedAt:           e.now(),
	}, nil
}

func (e *Engine) attachFeePrices(ctx context.Context, in *slippage.FeeInput) error {
	if e.feed == nil {
		return swaperr.Newf(swaperr.CodePriceUnavailable, "no price feed to convert the fee into %s", in.FeeCurrency)
	}
	prices, err := e.feed.USDPrices(ctx, []string{in.Input.Symbol, in.FeeCurrency})
	if err != nil {
		return err
	}
	if p, ok := prices[strings.ToUpper(in.Input.Symbol)]; ok {
		in.InputUSD = decimal.NewNullDecimal(p)
	}
	if p, ok := prices[strings.ToUpper(in.FeeCurrency)]; ok {
		in.FeeCurrencyUSD = decimal.NewNullDecimal(p)
	}
	return nil
}
