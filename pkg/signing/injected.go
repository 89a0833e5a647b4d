package signing

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// Provider is an in-process wallet for one chain
type Provider interface {
	Chain() types.Chain
	// Address is the account the provider signs for
	Address() string
	// Sign signs the backend-prepared transaction and returns it in wire encoding
	Sign(ctx context.Context, tx types.TxDescriptor) ([]byte, error)
	// Broadcast sends a signed transaction and returns its hash
	Broadcast(ctx context.Context, signed []byte) (string, error)
}

// Approver asks the user to approve a transaction in place. Returning false declines it.
type Approver func(ctx context.Context, tx types.TxDescriptor) (bool, error)

// InjectedSigner prepares a transaction on the backend and signs it with a local provider
type InjectedSigner struct {
	backend   Backend
	providers map[types.Chain]Provider
	approve   Approver
	logger    *zap.Logger
}

// NewInjectedSigner creates the injected signer. A nil approver approves everything,
// leaving confirmation to the caller.
func NewInjectedSigner(backend Backend, approve Approver, logger *zap.Logger, providers ...Provider) *InjectedSigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if approve == nil {
		approve = func(context.Context, types.TxDescriptor) (bool, error) { return true, nil }
	}
	s := &InjectedSigner{
		backend:   backend,
		providers: make(map[types.Chain]Provider),
		approve:   approve,
		logger:    logger,
	}
	for _, p := range providers {
		s.providers[p.Chain()] = p
	}
	return s
}

func (s *InjectedSigner) Method() types.SigningMethod { return types.MethodInjected }

// Sign runs prepare, approval, local signing and broadcast
func (s *InjectedSigner) Sign(ctx context.Context, conn types.WalletConnection, q types.Quote, progress func(Phase)) (Result, error) {
	provider, ok := s.providers[conn.Chain]
	if !ok {
		return Result{}, swaperr.Newf(swaperr.CodeUnsupported, "no injected wallet configured for %s", conn.Chain)
	}
	if !strings.EqualFold(provider.Address(), conn.Address) {
		return Result{}, swaperr.Newf(swaperr.CodeInvalidArgument,
			"injected wallet signs for %s, not %s", provider.Address(), conn.Address)
	}

	tx, err := s.backend.Prepare(ctx, conn.Chain, prepareRequest(conn, q))
	if err != nil {
		return Result{}, err
	}

	approved, err := s.approve(ctx, *tx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, swaperr.Wrap(swaperr.CodeSigningRejected, err, "")
		}
		return Result{}, err
	}
	if !approved {
		return Result{}, swaperr.New(swaperr.CodeSigningRejected, "transaction declined in wallet")
	}

	signed, err := provider.Sign(ctx, *tx)
	if err != nil {
		return Result{}, err
	}

	progress(PhaseSubmitting)
	hash, err := provider.Broadcast(ctx, signed)
	if err != nil {
		return Result{}, swaperr.Wrap(swaperr.CodeBackendExecution, err, "failed to broadcast transaction")
	}
	if err := requireHash(hash, types.MethodInjected); err != nil {
		return Result{}, err
	}
	return Result{TxHash: hash, Reference: tx.Reference}, nil
}
