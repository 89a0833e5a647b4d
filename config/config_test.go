package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riddle-swap/pkg/types"
)

const sample = `
backend:
  url: https://backend.test
  endpoints:
    evm:
      quote: /v2/evm/quote
quote:
  debounce: 300ms
  fee_currencies:
    xrp: xrp
remote:
  templates:
    Xaman:
      signing: "xumm://sign/{reference}"
wallets:
  - id: Xaman
    chain: xrpl
    address: rWallet
    method: remote
    topic: abc
tokens:
  - symbol: rlusd
    chain: xrpl
    issuer: rMxCKbEDwqr76QuheSUMdEGf4B9xJ8m5De
    decimals: 15
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riddle-swap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "https://backend.test", cfg.Backend.URL)
	assert.Equal(t, 300*time.Millisecond, cfg.Quote.Debounce)
	assert.Equal(t, 2*time.Minute, cfg.Remote.Timeout)
	assert.Equal(t, 5, cfg.Reconcile.Attempts)
	assert.Equal(t, "1", cfg.FeePercent().String())
	assert.Equal(t, map[types.Chain]string{types.ChainXRPL: "XRP"}, cfg.FeeCurrencies())

	eps := cfg.Endpoints()
	assert.Equal(t, "/v2/evm/quote", eps[types.ChainEVM].Quote)
	assert.Equal(t, "/api/swap/evm/execute", eps[types.ChainEVM].Execute)
	assert.Equal(t, "/api/xrpl/swap/quote", eps[types.ChainXRPL].Quote)

	assert.Equal(t, "xumm://sign/{reference}", cfg.Templates()["xaman"].Signing)
	assert.Contains(t, cfg.Templates(), "phantom")

	conns, err := cfg.WalletConnections()
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, types.WalletConnection{WalletID: "xaman", Chain: types.ChainXRPL, Address: "rWallet", Method: types.MethodRemote, Topic: "abc"}, conns[0])

	tokens, err := cfg.TokenRefs()
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "RLUSD", tokens[0].Symbol)
	assert.Equal(t, int32(15), tokens[0].Decimals)

	base, inc := cfg.Reserve()
	assert.Equal(t, "1", base.String())
	assert.Equal(t, "0.2", inc.String())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("RIDDLE_SWAP_BACKEND_URL", "https://env.test")
	t.Setenv("RIDDLE_SWAP_AUTH_TOKEN", "token-from-env")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "https://env.test", cfg.Backend.URL)
	assert.Equal(t, "token-from-env", cfg.Auth.Token)
	assert.Equal(t, "token-from-env", cfg.Viper().GetString("auth.token"))
}

func TestInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "quote:\n  fee_percent: lots\n"))
	assert.ErrorContains(t, err, "quote.fee_percent")

	_, err = Load(writeConfig(t, "backend:\n  endpoints:\n    dogechain:\n      quote: /q\n"))
	assert.ErrorContains(t, err, "backend.endpoints")

	cfg, err := Load(writeConfig(t, "wallets:\n  - id: x\n    chain: xrpl\n    address: r\n    method: telepathy\n"))
	require.NoError(t, err)
	_, err = cfg.WalletConnections()
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
