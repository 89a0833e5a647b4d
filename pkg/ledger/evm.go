package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// ERC20 read functions
const erc20ReadABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"remaining","type":"uint256"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ReadABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ERC20 ABI: %v", err))
	}
	return parsed
}

// EVMReader is the subset of ethclient.Client the ledger uses
type EVMReader interface {
	ethereum.ContractCaller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EVM reads native and ERC20 balances. When a spender (the swap router) is set,
// Precheck also requires an ERC20 allowance covering the input.
type EVM struct {
	client  EVMReader
	spender *common.Address
	logger  *zap.Logger
}

// NewEVM creates an EVM ledger. spender may be empty to skip allowance checks.
func NewEVM(client EVMReader, spender string, logger *zap.Logger) (*EVM, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &EVM{client: client, logger: logger}
	if spender != "" {
		if !common.IsHexAddress(spender) {
			return nil, fmt.Errorf("invalid spender address: %s", spender)
		}
		addr := common.HexToAddress(spender)
		e.spender = &addr
	}
	return e, nil
}

func (e *EVM) Chain() types.Chain { return types.ChainEVM }

// Balances reads the native balance and ERC20 balanceOf for each token
func (e *EVM) Balances(ctx context.Context, address string, tokens []types.TokenRef) ([]types.Balance, error) {
	owner, err := parseEVMAddress(address)
	if err != nil {
		return nil, err
	}

	balances := make([]types.Balance, 0, len(tokens))
	for _, token := range tokens {
		amount, err := e.balance(ctx, owner, token)
		if err != nil {
			return nil, err
		}
		balances = append(balances, types.Balance{Token: token, Amount: amount, HasTrustline: true})
	}
	return balances, nil
}

// Precheck requires enough input balance and, for ERC20 input, enough allowance
func (e *EVM) Precheck(ctx context.Context, address string, from, to types.TokenRef, amount decimal.Decimal) error {
	owner, err := parseEVMAddress(address)
	if err != nil {
		return err
	}

	have, err := e.balance(ctx, owner, from)
	if err != nil {
		return err
	}
	if err := requireBalance(from, have, amount); err != nil {
		return err
	}

	if from.IsNative() || e.spender == nil {
		return nil
	}
	allowance, err := e.allowance(ctx, owner, from)
	if err != nil {
		return err
	}
	if allowance.LessThan(amount) {
		return swaperr.Newf(swaperr.CodeApprovalRequired,
			"approve %s for %s before swapping (current allowance %s)", from.Symbol, e.spender.Hex(), allowance.String())
	}
	return nil
}

func (e *EVM) balance(ctx context.Context, owner common.Address, token types.TokenRef) (decimal.Decimal, error) {
	if token.IsNative() {
		wei, err := e.client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return decimal.Zero, wrapRead(types.ChainEVM, "native balance", err)
		}
		return decimal.NewFromBigInt(wei, -token.Decimals), nil
	}

	raw, err := e.callUint(ctx, token, "balanceOf", owner)
	if err != nil {
		return decimal.Zero, wrapRead(types.ChainEVM, token.Symbol+" balance", err)
	}
	return decimal.NewFromBigInt(raw, -token.Decimals), nil
}

func (e *EVM) allowance(ctx context.Context, owner common.Address, token types.TokenRef) (decimal.Decimal, error) {
	raw, err := e.callUint(ctx, token, "allowance", owner, *e.spender)
	if err != nil {
		return decimal.Zero, wrapRead(types.ChainEVM, token.Symbol+" allowance", err)
	}
	return decimal.NewFromBigInt(raw, -token.Decimals), nil
}

func (e *EVM) callUint(ctx context.Context, token types.TokenRef, method string, args ...any) (*big.Int, error) {
	if !common.IsHexAddress(token.Issuer) {
		return nil, fmt.Errorf("invalid token contract: %s", token.Issuer)
	}
	contract := common.HexToAddress(token.Issuer)

	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}

	result, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(result) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(result), nil
}

func parseEVMAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, swaperr.Newf(swaperr.CodeInvalidArgument, "invalid EVM address: %s", address)
	}
	return common.HexToAddress(address), nil
}
