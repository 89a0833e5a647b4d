package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"riddle-swap/pkg/client"
	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

const (
	rlusdIssuer = "rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De"
	rlusdHex    = "524C555344000000000000000000000000000000"
)

var rlusd = types.TokenRef{Symbol: "RLUSD", Chain: types.ChainXRPL, Issuer: rlusdIssuer, Decimals: 6}

// xrplNode answers account_info and account_lines from fixed data
func xrplNode(t *testing.T, drops string, ownerCount int, lines []trustLine) *XRPL {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "account_info":
			if drops == "" {
				_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
					"status": "error", "error": "actNotFound", "error_message": "Account not found.",
				}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
				"status":       "success",
				"account_data": map[string]any{"Account": "rWallet", "Balance": drops, "OwnerCount": ownerCount},
			}})
		case "account_lines":
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
				"status": "success",
				"lines":  lines,
			}})
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}))
	t.Cleanup(server.Close)
	return NewXRPL(client.NewHTTPClient(client.WithBaseURL(server.URL)), zaptest.NewLogger(t))
}

func TestXRPLBalances(t *testing.T) {
	x := xrplNode(t, "25000000", 2, []trustLine{{Account: rlusdIssuer, Balance: "12.5", Currency: rlusdHex, Limit: "1000"}})

	balances, err := x.Balances(context.Background(), "rWallet", []types.TokenRef{types.NativeToken(types.ChainXRPL), rlusd})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "25", balances[0].Amount.String())
	assert.True(t, balances[1].HasTrustline)
	assert.Equal(t, "12.5", balances[1].Amount.String())
}

func TestXRPLPrecheck(t *testing.T) {
	xrp := types.NativeToken(types.ChainXRPL)
	ctx := context.Background()

	t.Run("missing trustline", func(t *testing.T) {
		x := xrplNode(t, "25000000", 0, nil)
		err := x.Precheck(ctx, "rWallet", xrp, rlusd, decimal.NewFromInt(5))
		assert.Equal(t, swaperr.CodeTrustlineRequired, swaperr.CodeOf(err))
	})

	t.Run("reserve is not spendable", func(t *testing.T) {
		// 25 XRP minus 1 base and 2 x 0.2 owner reserve leaves 23.6
		x := xrplNode(t, "25000000", 2, []trustLine{{Account: rlusdIssuer, Balance: "0", Currency: "RLUSD"}})
		assert.NoError(t, x.Precheck(ctx, "rWallet", xrp, rlusd, decimal.RequireFromString("23.6")))
		err := x.Precheck(ctx, "rWallet", xrp, rlusd, decimal.RequireFromString("23.7"))
		assert.Equal(t, swaperr.CodeInsufficientBalance, swaperr.CodeOf(err))
	})

	t.Run("issued input", func(t *testing.T) {
		x := xrplNode(t, "25000000", 1, []trustLine{{Account: rlusdIssuer, Balance: "3", Currency: rlusdHex}})
		assert.NoError(t, x.Precheck(ctx, "rWallet", rlusd, xrp, decimal.NewFromInt(3)))
		err := x.Precheck(ctx, "rWallet", rlusd, xrp, decimal.NewFromInt(4))
		assert.Equal(t, swaperr.CodeInsufficientBalance, swaperr.CodeOf(err))
	})

	t.Run("unfunded account", func(t *testing.T) {
		x := xrplNode(t, "", 0, nil)
		err := x.Precheck(ctx, "rWallet", xrp, rlusd, decimal.NewFromInt(1))
		assert.Equal(t, swaperr.CodeInsufficientBalance, swaperr.CodeOf(err))
	})
}

func TestCurrencyCode(t *testing.T) {
	assert.Equal(t, "RLUSD", currencyCode(rlusdHex))
	assert.Equal(t, "USD", currencyCode("USD"))
}

type fakeEVM struct {
	native    *big.Int
	balances  map[common.Address]*big.Int
	allowance *big.Int
}

func (f *fakeEVM) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.native, nil
}

func (f *fakeEVM) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch {
	case bytesHavePrefix(msg.Data, erc20ABI.Methods["balanceOf"].ID):
		return common.LeftPadBytes(f.balances[*msg.To].Bytes(), 32), nil
	case bytesHavePrefix(msg.Data, erc20ABI.Methods["allowance"].ID):
		return common.LeftPadBytes(f.allowance.Bytes(), 32), nil
	}
	return nil, errors.New("unknown call")
}

func bytesHavePrefix(data, prefix []byte) bool {
	return len(data) >= len(prefix) && string(data[:len(prefix)]) == string(prefix)
}

func TestEVMPrecheck(t *testing.T) {
	usdc := types.TokenRef{Symbol: "USDC", Chain: types.ChainEVM, Issuer: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}
	owner := "0x1111111111111111111111111111111111111111"
	fake := &fakeEVM{
		native:    new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		balances:  map[common.Address]*big.Int{common.HexToAddress(usdc.Issuer): big.NewInt(50_000_000)},
		allowance: big.NewInt(10_000_000),
	}
	ctx := context.Background()

	l, err := NewEVM(fake, "0x2222222222222222222222222222222222222222", zaptest.NewLogger(t))
	require.NoError(t, err)

	balances, err := l.Balances(ctx, owner, []types.TokenRef{types.NativeToken(types.ChainEVM), usdc})
	require.NoError(t, err)
	assert.Equal(t, "2", balances[0].Amount.String())
	assert.Equal(t, "50", balances[1].Amount.String())

	assert.NoError(t, l.Precheck(ctx, owner, usdc, types.NativeToken(types.ChainEVM), decimal.NewFromInt(10)))

	err = l.Precheck(ctx, owner, usdc, types.NativeToken(types.ChainEVM), decimal.NewFromInt(20))
	assert.Equal(t, swaperr.CodeApprovalRequired, swaperr.CodeOf(err))

	err = l.Precheck(ctx, owner, usdc, types.NativeToken(types.ChainEVM), decimal.NewFromInt(60))
	assert.Equal(t, swaperr.CodeInsufficientBalance, swaperr.CodeOf(err))

	err = l.Precheck(ctx, "not-an-address", usdc, types.NativeToken(types.ChainEVM), decimal.NewFromInt(1))
	assert.Equal(t, swaperr.CodeInvalidArgument, swaperr.CodeOf(err))

	_, err = NewEVM(fake, "bogus", nil)
	assert.Error(t, err)
}

type fakeSolana struct {
	lamports uint64
	tokens   map[solana.PublicKey]string
}

func (f *fakeSolana) GetBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{Value: f.lamports}, nil
}

func (f *fakeSolana) GetTokenAccountBalance(_ context.Context, account solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	amount, ok := f.tokens[account]
	if !ok {
		return nil, errors.New("Invalid param: could not find account")
	}
	return &rpc.GetTokenAccountBalanceResult{Value: &rpc.UiTokenAmount{Amount: amount, Decimals: 6}}, nil
}

func TestSolanaBalancesAndPrecheck(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	missingMint := solana.NewWallet().PublicKey()
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)

	fake := &fakeSolana{lamports: 1_500_000_000, tokens: map[solana.PublicKey]string{ata: "7250000"}}
	l := NewSolana(fake, "confirmed", zaptest.NewLogger(t))
	sol := types.NativeToken(types.ChainSolana)
	usdc := types.TokenRef{Symbol: "USDC", Chain: types.ChainSolana, Issuer: mint.String(), Decimals: 6}
	other := types.TokenRef{Symbol: "BONK", Chain: types.ChainSolana, Issuer: missingMint.String(), Decimals: 5}
	ctx := context.Background()

	balances, err := l.Balances(ctx, owner.String(), []types.TokenRef{sol, usdc, other})
	require.NoError(t, err)
	assert.Equal(t, "1.5", balances[0].Amount.String())
	assert.Equal(t, "7.25", balances[1].Amount.String())
	assert.True(t, balances[2].Amount.IsZero())

	assert.NoError(t, l.Precheck(ctx, owner.String(), sol, usdc, decimal.RequireFromString("1.4")))
	err = l.Precheck(ctx, owner.String(), sol, usdc, decimal.RequireFromString("1.5"))
	assert.Equal(t, swaperr.CodeInsufficientBalance, swaperr.CodeOf(err), "fee reserve must stay available")
}

func TestRegistryDispatch(t *testing.T) {
	fake := &fakeSolana{lamports: 1_000_000_000}
	r := NewRegistry(zaptest.NewLogger(t), NewSolana(fake, "", nil))

	assert.True(t, r.IsEnabledForChain(types.ChainSolana))
	assert.False(t, r.IsEnabledForChain(types.ChainXRPL))
	assert.Equal(t, []types.Chain{types.ChainSolana}, r.SupportedChains())

	_, err := r.Balances(context.Background(), types.ChainXRPL, "rWallet", nil)
	assert.Equal(t, swaperr.CodeUnsupported, swaperr.CodeOf(err))

	// Chains without a ledger skip the checks
	xrp := types.NativeToken(types.ChainXRPL)
	assert.NoError(t, r.Precheck(context.Background(), "rWallet", xrp, rlusd, decimal.NewFromInt(1)))
}
