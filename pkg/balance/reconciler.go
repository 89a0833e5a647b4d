// Package balance re-polls wallet balances after a swap until the ledger's read side
// catches up, on a bounded schedule.
package balance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"riddle-swap/pkg/types"
)

const (
	DefaultInterval = 2 * time.Second // Time between refetches
	DefaultAttempts = 5               // Refetches per job before it stops
)

// Job is one bounded poll
type Job struct {
	// Key identifies the poll; starting a job with the same key replaces the running one
	Key string
	// Fetch reads the balances
	Fetch func(ctx context.Context) ([]types.Balance, error)
	// OnUpdate receives every successful read
	OnUpdate func([]types.Balance)
	// Until, if set, ends the poll early once it returns true
	Until func([]types.Balance) bool
}

// Config sets the poll schedule
type Config struct {
	Interval time.Duration
	Attempts int
}

// Reconciler runs balance polls
type Reconciler struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	polls  map[string]*Poll
	closed bool
	wg     sync.WaitGroup
}

// Poll is a running job
type Poll struct {
	key      string
	cancel   context.CancelFunc
	done     chan struct{}
	attempts atomic.Int32
}

// NewReconciler creates a reconciler. Zero config values take the defaults.
func NewReconciler(cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{cfg: cfg, logger: logger, polls: make(map[string]*Poll)}
}

// Start launches a job. It ends after Attempts fetches whether they succeed or not,
// when Until is satisfied, when ctx is done, or on Stop or Close.
func (r *Reconciler) Start(ctx context.Context, job Job) *Poll {
	pollCtx, cancel := context.WithCancel(ctx)
	p := &Poll{key: job.Key, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		close(p.done)
		return p
	}
	if prev, ok := r.polls[job.Key]; ok {
		prev.Stop()
	}
	r.polls[job.Key] = p
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(pollCtx, p, job)
	return p
}

// Close stops every poll and waits for them to exit
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	for _, p := range r.polls {
		p.Stop()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Active reports how many polls are running
func (r *Reconciler) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.polls)
}

func (r *Reconciler) run(ctx context.Context, p *Poll, job Job) {
	defer r.wg.Done()
	defer close(p.done)
	defer r.forget(p)
	defer p.cancel()

	logger := r.logger.With(zap.String("job", job.Key))
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for p.Attempts() < r.cfg.Attempts {
		select {
		case <-ctx.Done():
			logger.Debug("balance poll cancelled", zap.Int("attempts", p.Attempts()))
			return
		case <-ticker.C:
		}

		attempt := int(p.attempts.Add(1))
		balances, err := job.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("balance refresh failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if job.OnUpdate != nil {
			job.OnUpdate(balances)
		}
		if job.Until != nil && job.Until(balances) {
			logger.Debug("balances settled", zap.Int("attempt", attempt))
			return
		}
	}
	logger.Debug("balance poll finished", zap.Int("attempts", p.Attempts()))
}

func (r *Reconciler) forget(p *Poll) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.polls[p.key] == p {
		delete(r.polls, p.key)
	}
}

// Stop cancels the poll. It does not wait for an in-flight fetch to return.
func (p *Poll) Stop() {
	p.cancel()
}

// Done is closed once the poll has exited
func (p *Poll) Done() <-chan struct{} {
	return p.done
}

// Attempts is the number of fetches made so far
func (p *Poll) Attempts() int {
	return int(p.attempts.Load())
}
