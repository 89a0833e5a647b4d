package signing

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"riddle-swap/pkg/auth"
	"riddle-swap/pkg/client"
	"riddle-swap/pkg/types"
)

// EmbeddedSigner has the backend sign with the custodial session key
type EmbeddedSigner struct {
	backend Backend
	tokens  auth.Source
	logger  *zap.Logger
}

// NewEmbeddedSigner creates the embedded signer. The token is read on every call.
func NewEmbeddedSigner(backend Backend, tokens auth.Source, logger *zap.Logger) *EmbeddedSigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddedSigner{backend: backend, tokens: tokens, logger: logger}
}

func (s *EmbeddedSigner) Method() types.SigningMethod { return types.MethodEmbedded }

// Sign sends the quote parameters and the session token to the execute endpoint.
// The backend signs and broadcasts in the same call.
func (s *EmbeddedSigner) Sign(ctx context.Context, conn types.WalletConnection, q types.Quote, progress func(Phase)) (Result, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return Result{}, err
	}

	progress(PhaseSubmitting)
	hash, err := s.backend.Execute(ctx, q.Chain(), client.ExecuteRequest{
		FromToken:       q.From.Wire(),
		ToToken:         q.To.Wire(),
		Amount:          q.InputAmount.String(),
		SlippagePercent: json.Number(q.SlippagePercentUsed.String()),
		WalletAddress:   conn.Address,
		AuthToken:       token,
	})
	if err != nil {
		return Result{}, err
	}
	if err := requireHash(hash, types.MethodEmbedded); err != nil {
		return Result{}, err
	}
	return Result{TxHash: hash}, nil
}
