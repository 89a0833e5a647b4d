package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"riddle-swap/pkg/deeplink"
	"riddle-swap/pkg/pairing"
	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// DefaultRemoteTimeout bounds the wait for a remote wallet
const DefaultRemoteTimeout = 2 * time.Minute

// MethodSign is the relay method a remote wallet answers with a signature
const MethodSign = "swap_sign"

// Channel is one paired request channel
type Channel interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close() error
}

// Pairing opens channels on paired topics
type Pairing interface {
	Open(ctx context.Context, topic string) (Channel, error)
}

type pairingClient struct {
	client *pairing.Client
}

// FromPairingClient adapts a relay pairing client
func FromPairingClient(c *pairing.Client) Pairing {
	return pairingClient{client: c}
}

func (p pairingClient) Open(ctx context.Context, topic string) (Channel, error) {
	ch, err := p.client.Open(ctx, topic)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Presenter shows a signing payload (deep link and QR) to the user
type Presenter func(payload *deeplink.Payload, tx types.TxDescriptor)

// SignRequest is what the remote wallet receives over the channel
type SignRequest struct {
	Chain      types.Chain `json:"chain"`
	Reference  string      `json:"reference"`
	UnsignedTx string      `json:"unsignedTx"`
	Address    string      `json:"address"`
	Summary    string      `json:"summary"`
	URI        string      `json:"uri"`
}

// signReply is the wallet's answer: a broadcast hash, or a signed transaction for
// the backend to submit
type signReply struct {
	TxHash   string `json:"txHash"`
	SignedTx string `json:"signedTx"`
}

// RemoteSigner hands a prepared transaction to a paired mobile wallet and waits,
// bounded by a timeout, for its answer
type RemoteSigner struct {
	backend Backend
	pairing Pairing
	links   *deeplink.Generator
	present Presenter
	timeout time.Duration
	logger  *zap.Logger
}

// RemoteOption configures a RemoteSigner
type RemoteOption func(*RemoteSigner)

// WithTimeout bounds the wait for the wallet
func WithTimeout(d time.Duration) RemoteOption {
	return func(s *RemoteSigner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPresenter sets the callback that shows the deep link and QR code
func WithPresenter(p Presenter) RemoteOption {
	return func(s *RemoteSigner) {
		if p != nil {
			s.present = p
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) RemoteOption {
	return func(s *RemoteSigner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRemoteSigner creates the remote signer
func NewRemoteSigner(backend Backend, p Pairing, links *deeplink.Generator, opts ...RemoteOption) *RemoteSigner {
	s := &RemoteSigner{
		backend: backend,
		pairing: p,
		links:   links,
		present: func(*deeplink.Payload, types.TxDescriptor) {},
		timeout: DefaultRemoteTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RemoteSigner) Method() types.SigningMethod { return types.MethodRemote }

// Sign prepares the transaction, presents it and waits for the wallet. Cancelling ctx
// is a rejection, running out of time is RemotePairingTimeout. The channel is always
// closed on return.
func (s *RemoteSigner) Sign(ctx context.Context, conn types.WalletConnection, q types.Quote, progress func(Phase)) (Result, error) {
	if conn.Topic == "" {
		return Result{}, swaperr.Newf(swaperr.CodeNoWalletSelected, "remote wallet %s is not paired", conn.WalletID)
	}

	tx, err := s.backend.Prepare(ctx, conn.Chain, prepareRequest(conn, q))
	if err != nil {
		return Result{}, err
	}
	payload, err := s.links.ForSigning(conn.WalletID, *tx)
	if err != nil {
		return Result{}, err
	}
	s.present(payload, *tx)

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ch, err := s.pairing.Open(waitCtx, conn.Topic)
	if err != nil {
		return Result{}, s.waitError(ctx, waitCtx, err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			s.logger.Debug("failed to close pairing channel", zap.Error(err))
		}
	}()

	s.logger.Info("waiting for remote wallet",
		zap.String("wallet", conn.WalletID),
		zap.String("reference", tx.Reference),
		zap.Duration("timeout", s.timeout),
	)
	raw, err := ch.Request(waitCtx, MethodSign, SignRequest{
		Chain:      tx.Chain,
		Reference:  tx.Reference,
		UnsignedTx: tx.UnsignedTx,
		Address:    conn.Address,
		Summary:    tx.Summary,
		URI:        payload.URI,
	})
	if err != nil {
		return Result{}, s.waitError(ctx, waitCtx, err)
	}

	var reply signReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Result{}, swaperr.Wrap(swaperr.CodeBackendExecution, err, "remote wallet sent an unreadable answer")
	}

	progress(PhaseSubmitting)
	if reply.TxHash != "" {
		return Result{TxHash: reply.TxHash, Reference: tx.Reference}, nil
	}
	if reply.SignedTx == "" {
		return Result{}, swaperr.New(swaperr.CodeBackendExecution, "remote wallet answered without a signature")
	}
	hash, err := s.backend.Submit(ctx, conn.Chain, tx.Reference, reply.SignedTx)
	if err != nil {
		return Result{}, err
	}
	if err := requireHash(hash, types.MethodRemote); err != nil {
		return Result{}, err
	}
	return Result{TxHash: hash, Reference: tx.Reference}, nil
}

func (s *RemoteSigner) waitError(parent, wait context.Context, err error) error {
	if swaperr.CodeOf(err) != swaperr.CodeUnknown {
		return err
	}
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return swaperr.Wrap(swaperr.CodeSigningRejected, err, "remote signing cancelled")
	case errors.Is(wait.Err(), context.DeadlineExceeded):
		return swaperr.Wrap(swaperr.CodeRemotePairingTimeout, err,
			fmt.Sprintf("remote wallet did not respond within %s", s.timeout))
	default:
		return err
	}
}
