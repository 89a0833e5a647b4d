package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// Lamports kept aside for the transaction fee when the input is SOL
const solanaFeeReserveLamports = 5000

// SolanaReader is the subset of rpc.Client the ledger uses
type SolanaReader interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// Solana reads lamport and SPL balances through associated token accounts
type Solana struct {
	client     SolanaReader
	commitment rpc.CommitmentType
	logger     *zap.Logger
}

// NewSolana creates a Solana ledger. commitment is finalized, confirmed or processed.
func NewSolana(client SolanaReader, commitment string, logger *zap.Logger) *Solana {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solana{client: client, commitment: parseCommitment(commitment), logger: logger}
}

func (s *Solana) Chain() types.Chain { return types.ChainSolana }

// Balances reads SOL and the balance of each SPL token's associated account
func (s *Solana) Balances(ctx context.Context, address string, tokens []types.TokenRef) ([]types.Balance, error) {
	owner, err := parseSolanaKey(address)
	if err != nil {
		return nil, err
	}

	balances := make([]types.Balance, 0, len(tokens))
	for _, token := range tokens {
		amount, err := s.balance(ctx, owner, token)
		if err != nil {
			return nil, err
		}
		balances = append(balances, types.Balance{Token: token, Amount: amount, HasTrustline: true})
	}
	return balances, nil
}

// Precheck requires enough input balance; SOL input also has to cover the fee
func (s *Solana) Precheck(ctx context.Context, address string, from, to types.TokenRef, amount decimal.Decimal) error {
	owner, err := parseSolanaKey(address)
	if err != nil {
		return err
	}
	have, err := s.balance(ctx, owner, from)
	if err != nil {
		return err
	}
	need := amount
	if from.IsNative() {
		need = amount.Add(decimal.New(solanaFeeReserveLamports, -from.Decimals))
	}
	return requireBalance(from, have, need)
}

func (s *Solana) balance(ctx context.Context, owner solana.PublicKey, token types.TokenRef) (decimal.Decimal, error) {
	if token.IsNative() {
		res, err := s.client.GetBalance(ctx, owner, s.commitment)
		if err != nil {
			return decimal.Zero, wrapRead(types.ChainSolana, "SOL balance", err)
		}
		return decimal.NewFromBigInt(new(big.Int).SetUint64(res.Value), -token.Decimals), nil
	}

	mint, err := solana.PublicKeyFromBase58(token.Issuer)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid token mint %s: %w", token.Issuer, err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to derive associated token address: %w", err)
	}

	res, err := s.client.GetTokenAccountBalance(ctx, ata, s.commitment)
	if err != nil {
		// No associated account yet means the wallet holds none of the token
		if isMissingAccount(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, wrapRead(types.ChainSolana, token.Symbol+" balance", err)
	}
	if res == nil || res.Value == nil {
		return decimal.Zero, nil
	}

	raw, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse token balance: %w", err)
	}
	decimals := token.Decimals
	if res.Value.Decimals > 0 {
		decimals = int32(res.Value.Decimals)
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -decimals), nil
}

func isMissingAccount(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "not found")
}

func parseSolanaKey(address string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, swaperr.Newf(swaperr.CodeInvalidArgument, "invalid Solana address: %s", address)
	}
	return key, nil
}

func parseCommitment(c string) rpc.CommitmentType {
	switch strings.ToLower(c) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}
