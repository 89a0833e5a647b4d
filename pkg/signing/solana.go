package signing

import (
	"context"
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// SolanaSender is the subset of rpc.Client the Solana provider uses
type SolanaSender interface {
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// SolanaProvider signs prepared Solana transactions with a local key
type SolanaProvider struct {
	client     SolanaSender
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	opts       rpc.TransactionOpts
}

// NewSolanaProvider creates a provider from a base58 private key
func NewSolanaProvider(client SolanaSender, privateKeyBase58 string, skipPreflight bool, commitment string) (*SolanaProvider, error) {
	if privateKeyBase58 == "" {
		return nil, fmt.Errorf("private key not configured for Solana")
	}
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &SolanaProvider{
		client:     client,
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		opts: rpc.TransactionOpts{
			SkipPreflight:       skipPreflight,
			PreflightCommitment: commitmentType(commitment),
		},
	}, nil
}

func (p *SolanaProvider) Chain() types.Chain { return types.ChainSolana }

func (p *SolanaProvider) Address() string { return p.publicKey.String() }

// Sign decodes the base64 transaction and puts the wallet's signature in its slot.
// Signatures of other required signers are left as the backend sent them.
func (p *SolanaProvider) Sign(_ context.Context, desc types.TxDescriptor) ([]byte, error) {
	tx, err := decodeSolanaTx(desc.UnsignedTx)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeBackendExecution, err, "prepared transaction could not be decoded")
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	slot := -1
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(p.publicKey) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, swaperr.Newf(swaperr.CodeInvalidArgument, "transaction does not need a signature from %s", p.publicKey)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	sig, err := p.privateKey.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	tx.Signatures[slot] = sig
	return tx.MarshalBinary()
}

// Broadcast sends the signed transaction and returns its signature
func (p *SolanaProvider) Broadcast(ctx context.Context, signed []byte) (string, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(signed))
	if err != nil {
		return "", fmt.Errorf("invalid signed transaction: %w", err)
	}
	sig, err := p.client.SendTransactionWithOpts(ctx, tx, p.opts)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig.String(), nil
}

func decodeSolanaTx(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
}

func commitmentType(c string) rpc.CommitmentType {
	switch c {
	case "finalized":
		return rpc.CommitmentFinalized
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}
