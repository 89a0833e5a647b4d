// Package execution tracks the lifecycle of a swap attempt:
// idle, preparing, signing, submitting, then success or error.
package execution

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// TotalSteps is the number of progress steps a swap shows
const TotalSteps = 3

var steps = map[types.Status]int{
	types.StatusPreparing:  1,
	types.StatusSigning:    2,
	types.StatusSubmitting: 3,
	types.StatusSuccess:    3,
}

// next is the only forward move allowed from each in-flight state
var next = map[types.Status]types.Status{
	types.StatusPreparing:  types.StatusSigning,
	types.StatusSigning:    types.StatusSubmitting,
	types.StatusSubmitting: types.StatusSuccess,
}

// Params describe the swap being started
type Params struct {
	FromAmount string
	ToAmount   string
	FromSymbol string
	ToSymbol   string
	Method     types.SigningMethod
}

// ParamsFromQuote fills Params from a confirmed quote
func ParamsFromQuote(q types.Quote, method types.SigningMethod) Params {
	return Params{
		FromAmount: q.InputAmount.String(),
		ToAmount:   q.ExpectedOutput.String(),
		FromSymbol: q.From.Symbol,
		ToSymbol:   q.To.Symbol,
		Method:     method,
	}
}

// Machine owns the current SwapSession. Every change replaces the session and is
// published to observers in order. Observers must not call back into the machine's
// mutating methods.
type Machine struct {
	notifyMu  sync.Mutex
	mu        sync.Mutex
	session   types.SwapSession
	observers []func(types.SwapSession)
	now       func() time.Time
	logger    *zap.Logger
}

// NewMachine creates an idle machine
func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{now: time.Now, logger: logger}
	m.session = m.idle()
	return m
}

// OnChange registers an observer for every new session
func (m *Machine) OnChange(fn func(types.SwapSession)) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.observers = append(m.observers, fn)
}

// Snapshot returns the current session
func (m *Machine) Snapshot() types.SwapSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Start begins a new attempt in preparing. A swap already in flight is SwapBusy;
// a finished one has to be dismissed first.
func (m *Machine) Start(p Params) (types.SwapSession, error) {
	return m.transition(func(cur types.SwapSession) (types.SwapSession, error) {
		switch {
		case cur.Status.InFlight():
			return cur, swaperr.Newf(swaperr.CodeSwapBusy, "swap %s is %s", cur.ID, cur.Status)
		case cur.Status.Terminal():
			return cur, swaperr.Newf(swaperr.CodeInvalidTransition, "dismiss the %s swap before starting another", cur.Status)
		}
		return types.SwapSession{
			ID:         uuid.NewString(),
			Status:     types.StatusPreparing,
			Step:       steps[types.StatusPreparing],
			TotalSteps: TotalSteps,
			FromAmount: p.FromAmount,
			ToAmount:   p.ToAmount,
			FromSymbol: p.FromSymbol,
			ToSymbol:   p.ToSymbol,
			Method:     p.Method,
		}, nil
	})
}

// Advance moves to the next in-flight state. Only preparing to signing and signing
// to submitting are allowed; use Succeed to finish.
func (m *Machine) Advance(to types.Status) (types.SwapSession, error) {
	return m.transition(func(cur types.SwapSession) (types.SwapSession, error) {
		if to == types.StatusSuccess || next[cur.Status] != to {
			return cur, invalid(cur.Status, to)
		}
		s := cur
		s.Status = to
		s.Step = steps[to]
		return s, nil
	})
}

// Succeed finishes a submitting swap with its transaction hash
func (m *Machine) Succeed(txHash string) (types.SwapSession, error) {
	return m.transition(func(cur types.SwapSession) (types.SwapSession, error) {
		if cur.Status != types.StatusSubmitting {
			return cur, invalid(cur.Status, types.StatusSuccess)
		}
		s := cur
		s.Status = types.StatusSuccess
		s.Step = steps[types.StatusSuccess]
		s.TxHash = txHash
		return s, nil
	})
}

// Fail moves an in-flight swap to error, keeping its step and recording the error
func (m *Machine) Fail(cause error) (types.SwapSession, error) {
	return m.transition(func(cur types.SwapSession) (types.SwapSession, error) {
		if !cur.Status.InFlight() {
			return cur, invalid(cur.Status, types.StatusError)
		}
		code := swaperr.CodeOf(cause)
		if code == "" {
			code = swaperr.CodeUnknown
		}
		s := cur
		s.Status = types.StatusError
		s.ErrorCode = string(code)
		s.ErrorMessage = swaperr.UserMessage(cause)
		if s.ErrorMessage == "" {
			s.ErrorMessage = swaperr.AttributesOf(code).Message
		}
		s.NeedsReauth = swaperr.AttributesOf(code).Reauth
		return s, nil
	})
}

// Dismiss clears a finished swap back to idle. Dismissing idle is a no-op.
func (m *Machine) Dismiss() (types.SwapSession, error) {
	return m.transition(func(cur types.SwapSession) (types.SwapSession, error) {
		switch {
		case cur.Status == types.StatusIdle:
			return cur, nil
		case cur.Status.InFlight():
			return cur, swaperr.Newf(swaperr.CodeSwapBusy, "swap %s is still %s", cur.ID, cur.Status)
		}
		return m.idle(), nil
	})
}

func (m *Machine) transition(fn func(types.SwapSession) (types.SwapSession, error)) (types.SwapSession, error) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	cur := m.session
	s, err := fn(cur)
	if err != nil {
		m.mu.Unlock()
		m.logger.Debug("swap transition refused", zap.String("status", string(cur.Status)), zap.Error(err))
		return cur, err
	}
	if s == cur {
		m.mu.Unlock()
		return cur, nil
	}
	s.UpdatedAt = m.now()
	m.session = s
	observers := m.observers
	m.mu.Unlock()

	m.logger.Info("swap state changed",
		zap.String("swap_id", s.ID),
		zap.String("from", string(cur.Status)),
		zap.String("to", string(s.Status)),
		zap.String("error_code", s.ErrorCode),
	)
	for _, fn := range observers {
		fn(s)
	}
	return s, nil
}

func (m *Machine) idle() types.SwapSession {
	return types.SwapSession{Status: types.StatusIdle, TotalSteps: TotalSteps, UpdatedAt: m.now()}
}

func invalid(from, to types.Status) error {
	return swaperr.Newf(swaperr.CodeInvalidTransition, "cannot move a swap from %s to %s", from, to)
}
