package deeplink

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

func TestForSigning(t *testing.T) {
	g := NewGenerator("", nil)

	p, err := g.ForSigning("Xaman", types.TxDescriptor{
		Chain:         types.ChainXRPL,
		Reference:     "abc-123",
		WalletAddress: "rWallet",
	})
	require.NoError(t, err)

	u, err := url.Parse(p.URI)
	require.NoError(t, err)
	assert.Equal(t, "riddleswap", u.Scheme)
	assert.Equal(t, "abc-123", u.Query().Get("reference"))
	assert.Equal(t, "xrpl", u.Query().Get("chain"))
	assert.Equal(t, "rWallet", u.Query().Get("address"))

	assert.Equal(t, "https://xaman.app/sign/abc-123", p.DeepLink)

	require.True(t, strings.HasPrefix(p.QRDataURL, "data:image/png;base64,"))
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(p.QRDataURL, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))
	assert.NotEmpty(t, p.QRTerminal)
}

func TestForPairing(t *testing.T) {
	g := NewGenerator("", map[string]Template{"trust": {Pairing: "trust://wc?uri={uri}"}})
	uri := "wc:topic123@2?relay-protocol=irn&symKey=00ff"

	p, err := g.ForPairing("metamask", uri)
	require.NoError(t, err)
	assert.Equal(t, uri, p.URI)
	assert.Equal(t, "metamask://wc?uri="+url.QueryEscape(uri), p.DeepLink)

	p, err = g.ForPairing("trust", uri)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.DeepLink, "trust://wc?uri=wc%3Atopic123"))

	p, err = g.ForPairing("unknown-wallet", uri)
	require.NoError(t, err)
	assert.Equal(t, uri, p.DeepLink)
}

func TestRejectsEmptyInput(t *testing.T) {
	g := NewGenerator("riddle", nil)

	_, err := g.ForPairing("xaman", "")
	assert.Equal(t, swaperr.CodeInvalidArgument, swaperr.CodeOf(err))

	_, err = g.ForSigning("xaman", types.TxDescriptor{Chain: types.ChainXRPL})
	assert.Equal(t, swaperr.CodeInvalidArgument, swaperr.CodeOf(err))
}

func TestRenderTerminal(t *testing.T) {
	out := renderTerminal([][]bool{
		{true, false},
		{true, true},
		{false, true},
	})
	assert.Equal(t, " ▀\n█▄\n", out)
}
