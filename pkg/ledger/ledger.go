// Package ledger reads wallet balances from each chain and runs the checks a swap
// needs before anything is signed.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// Ledger is the read side of one chain
type Ledger interface {
	Chain() types.Chain
	// Balances returns the wallet's holding of each token, zero when it holds none
	Balances(ctx context.Context, address string, tokens []types.TokenRef) ([]types.Balance, error)
	// Precheck fails with TrustlineRequired, ApprovalRequired or InsufficientBalance when
	// the swap cannot go through as quoted
	Precheck(ctx context.Context, address string, from, to types.TokenRef, amount decimal.Decimal) error
}

// Registry dispatches reads to the ledger of each chain
type Registry struct {
	mu      sync.RWMutex
	ledgers map[types.Chain]Ledger
	logger  *zap.Logger
}

// NewRegistry creates a registry holding the given ledgers
func NewRegistry(logger *zap.Logger, ledgers ...Ledger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{ledgers: make(map[types.Chain]Ledger), logger: logger}
	for _, l := range ledgers {
		r.Register(l)
	}
	return r
}

// Register adds or replaces the ledger for its chain
func (r *Registry) Register(l Ledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[l.Chain()] = l
}

// IsEnabledForChain reports whether a ledger is configured for the chain
func (r *Registry) IsEnabledForChain(chain types.Chain) bool {
	_, err := r.get(chain)
	return err == nil
}

// SupportedChains lists the chains with a configured ledger
func (r *Registry) SupportedChains() []types.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	supported := make([]types.Chain, 0, len(r.ledgers))
	for _, chain := range types.AllChains {
		if _, ok := r.ledgers[chain]; ok {
			supported = append(supported, chain)
		}
	}
	return supported
}

// Balances reads balances on the chain
func (r *Registry) Balances(ctx context.Context, chain types.Chain, address string, tokens []types.TokenRef) ([]types.Balance, error) {
	l, err := r.get(chain)
	if err != nil {
		return nil, err
	}
	return l.Balances(ctx, address, tokens)
}

// Precheck runs the chain's pre-signing checks. A chain without a ledger skips them.
func (r *Registry) Precheck(ctx context.Context, address string, from, to types.TokenRef, amount decimal.Decimal) error {
	l, err := r.get(from.Chain)
	if err != nil {
		r.logger.Debug("no ledger configured, skipping precheck", zap.String("chain", string(from.Chain)))
		return nil
	}
	return l.Precheck(ctx, address, from, to, amount)
}

func (r *Registry) get(chain types.Chain) (Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[chain]
	if !ok {
		return nil, swaperr.Newf(swaperr.CodeUnsupported, "no ledger configured for chain: %s", chain)
	}
	return l, nil
}

// requireBalance fails with InsufficientBalance when have does not cover need
func requireBalance(token types.TokenRef, have, need decimal.Decimal) error {
	if have.LessThan(need) {
		return swaperr.Newf(swaperr.CodeInsufficientBalance,
			"insufficient %s balance: have %s, need %s", token.Symbol, have.String(), need.String())
	}
	return nil
}

func wrapRead(chain types.Chain, what string, err error) error {
	return fmt.Errorf("failed to read %s on %s: %w", what, chain, err)
}
