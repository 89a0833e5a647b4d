package wallet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// AmbiguousError is returned when several connections could sign and none is selected.
// The candidates drive a selection prompt.
type AmbiguousError struct {
	Chain      types.Chain
	Candidates []types.WalletConnection
}

func (e *AmbiguousError) Error() string {
	labels := lo.Map(e.Candidates, func(c types.WalletConnection, _ int) string { return c.String() })
	return fmt.Sprintf("several wallets can sign on %s, choose one: %s", e.Chain, strings.Join(labels, "; "))
}

func (e *AmbiguousError) Unwrap() error {
	return swaperr.New(swaperr.CodeAmbiguousWallet, "")
}

// Registry holds the session's wallet connections and which one is selected per chain.
// Nothing is persisted beyond the process.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	conns    []types.WalletConnection
	selected map[types.Chain]string
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger,
		selected: make(map[types.Chain]string),
	}
}

// Connect adds a connection, replacing an existing one with the same key
func (r *Registry) Connect(conn types.WalletConnection) error {
	if conn.Chain == "" || conn.Address == "" || conn.WalletID == "" {
		return swaperr.New(swaperr.CodeInvalidArgument, "wallet connection needs a chain, wallet id and address")
	}
	if _, err := types.ParseSigningMethod(string(conn.Method)); err != nil {
		return swaperr.Wrap(swaperr.CodeInvalidArgument, err, "")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.conns {
		if existing.Key() == conn.Key() {
			r.conns[i] = conn
			return nil
		}
	}
	r.conns = append(r.conns, conn)
	r.logger.Info("wallet connected",
		zap.String("chain", string(conn.Chain)),
		zap.String("wallet", conn.WalletID),
		zap.String("method", string(conn.Method)),
		zap.String("address", conn.Address))
	return nil
}

// Disconnect removes a connection and clears its selection
func (r *Registry) Disconnect(conn types.WalletConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := conn.Key()
	r.conns = lo.Reject(r.conns, func(c types.WalletConnection, _ int) bool { return c.Key() == key })
	if r.selected[conn.Chain] == key {
		delete(r.selected, conn.Chain)
	}
	r.logger.Info("wallet disconnected", zap.String("chain", string(conn.Chain)), zap.String("wallet", conn.WalletID))
}

// Select makes a connection the one used for its chain
func (r *Registry) Select(conn types.WalletConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !lo.ContainsBy(r.conns, func(c types.WalletConnection) bool { return c.Key() == conn.Key() }) {
		return swaperr.Newf(swaperr.CodeNoWalletSelected, "wallet %s is not connected", conn)
	}
	r.selected[conn.Chain] = conn.Key()
	return nil
}

// ClearSelection forgets the selected connection of a chain
func (r *Registry) ClearSelection(chain types.Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.selected, chain)
}

// Selected returns the selected connection of a chain, if any
func (r *Registry) Selected(chain types.Chain) (types.WalletConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selectedLocked(chain)
}

func (r *Registry) selectedLocked(chain types.Chain) (types.WalletConnection, bool) {
	key, ok := r.selected[chain]
	if !ok {
		return types.WalletConnection{}, false
	}
	return lo.Find(r.conns, func(c types.WalletConnection) bool { return c.Key() == key })
}

// List returns the connections of a chain, or all of them when chain is empty
func (r *Registry) List(chain types.Chain) []types.WalletConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.conns, func(c types.WalletConnection, _ int) bool {
		return chain == "" || c.Chain == chain
	})
}

// Resolve picks the connection that signs on a chain.
//
// A selected connection always wins. On XRPL a lone embedded session is authoritative
// even when other wallets are connected. Otherwise a single connection is used and
// several connections without a selection are ambiguous.
func (r *Registry) Resolve(chain types.Chain) (types.WalletConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if conn, ok := r.selectedLocked(chain); ok {
		return conn, nil
	}

	candidates := lo.Filter(r.conns, func(c types.WalletConnection, _ int) bool { return c.Chain == chain })
	if chain == types.ChainXRPL {
		embedded := lo.Filter(candidates, func(c types.WalletConnection, _ int) bool { return c.Method == types.MethodEmbedded })
		if len(embedded) == 1 {
			return embedded[0], nil
		}
	}
	return pick(chain, candidates)
}

// ResolveMethod picks the connection of a given signing method on a chain
func (r *Registry) ResolveMethod(chain types.Chain, method types.SigningMethod) (types.WalletConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if conn, ok := r.selectedLocked(chain); ok && conn.Method == method {
		return conn, nil
	}
	candidates := lo.Filter(r.conns, func(c types.WalletConnection, _ int) bool {
		return c.Chain == chain && c.Method == method
	})
	return pick(chain, candidates)
}

func pick(chain types.Chain, candidates []types.WalletConnection) (types.WalletConnection, error) {
	switch len(candidates) {
	case 0:
		return types.WalletConnection{}, swaperr.Newf(swaperr.CodeNoWalletSelected, "no wallet connected on %s", chain)
	case 1:
		return candidates[0], nil
	default:
		return types.WalletConnection{}, &AmbiguousError{Chain: chain, Candidates: candidates}
	}
}
