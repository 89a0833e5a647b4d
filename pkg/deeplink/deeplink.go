// Package deeplink turns pairing proposals and signing requests into wallet deep links
// and QR codes for remote wallets.
package deeplink

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// Template holds a wallet's deep link formats. Placeholders:
// {uri} the url-escaped payload URI, {raw} the unescaped URI,
// {reference} the transaction reference, {chain} and {address}.
type Template struct {
	Pairing string `mapstructure:"pairing"`
	Signing string `mapstructure:"signing"`
}

// DefaultTemplates are the stock wallet formats
var DefaultTemplates = map[string]Template{
	"xaman": {
		Pairing: "xaman://wc?uri={uri}",
		Signing: "https://xaman.app/sign/{reference}",
	},
	"metamask": {
		Pairing: "metamask://wc?uri={uri}",
		Signing: "metamask://wc?uri={uri}",
	},
	"phantom": {
		Pairing: "phantom://wc?uri={uri}",
		Signing: "phantom://wc?uri={uri}",
	},
	"generic": {
		Pairing: "{raw}",
		Signing: "{raw}",
	},
}

// Payload is what a remote wallet needs to pick up a request: the URI, the wallet-specific
// deep link, and QR renderings of the URI.
type Payload struct {
	URI        string `json:"uri"`
	DeepLink   string `json:"deep_link"`
	QRDataURL  string `json:"qr_data_url"`
	QRTerminal string `json:"-"`
}

// Generator builds payloads from wallet templates
type Generator struct {
	scheme    string
	templates map[string]Template
	qrSize    int
}

// NewGenerator creates a generator. scheme is the URI scheme of signing requests
// (e.g. "riddleswap"); templates override or extend DefaultTemplates.
func NewGenerator(scheme string, templates map[string]Template) *Generator {
	if scheme == "" {
		scheme = "riddleswap"
	}
	merged := make(map[string]Template, len(DefaultTemplates)+len(templates))
	for id, tpl := range DefaultTemplates {
		merged[id] = tpl
	}
	for id, tpl := range templates {
		merged[strings.ToLower(id)] = tpl
	}
	return &Generator{scheme: scheme, templates: merged, qrSize: 256}
}

// ForPairing builds the payload that carries a pairing proposal URI
func (g *Generator) ForPairing(walletID, pairingURI string) (*Payload, error) {
	if pairingURI == "" {
		return nil, swaperr.New(swaperr.CodeInvalidArgument, "empty pairing URI")
	}
	tpl := g.template(walletID)
	link := expand(tpl.Pairing, pairingURI, map[string]string{})
	return g.payload(pairingURI, link)
}

// ForSigning builds the payload for an unsigned transaction reference
func (g *Generator) ForSigning(walletID string, tx types.TxDescriptor) (*Payload, error) {
	if tx.Reference == "" {
		return nil, swaperr.New(swaperr.CodeInvalidArgument, "transaction descriptor has no reference")
	}

	q := url.Values{}
	q.Set("chain", string(tx.Chain))
	q.Set("reference", tx.Reference)
	if tx.WalletAddress != "" {
		q.Set("address", tx.WalletAddress)
	}
	uri := fmt.Sprintf("%s://sign?%s", g.scheme, q.Encode())

	tpl := g.template(walletID)
	link := expand(tpl.Signing, uri, map[string]string{
		"{reference}": url.PathEscape(tx.Reference),
		"{chain}":     string(tx.Chain),
		"{address}":   tx.WalletAddress,
	})
	return g.payload(uri, link)
}

func (g *Generator) template(walletID string) Template {
	if tpl, ok := g.templates[strings.ToLower(walletID)]; ok {
		return tpl
	}
	return g.templates["generic"]
}

func (g *Generator) payload(uri, link string) (*Payload, error) {
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	pngBytes, err := qr.PNG(g.qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PNG: %w", err)
	}

	return &Payload{
		URI:        uri,
		DeepLink:   link,
		QRDataURL:  fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(pngBytes)),
		QRTerminal: renderTerminal(qr.Bitmap()),
	}, nil
}

func expand(template, uri string, extra map[string]string) string {
	pairs := []string{"{uri}", url.QueryEscape(uri), "{raw}", uri}
	for k, v := range extra {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// renderTerminal draws the bitmap with half-block characters, two modules per line.
// Dark modules are drawn as spaces on a light background so phone cameras read it on
// dark terminals.
func renderTerminal(bitmap [][]bool) string {
	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bottom := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bottom:
				b.WriteRune(' ')
			case top:
				b.WriteRune('▄')
			case bottom:
				b.WriteRune('▀')
			default:
				b.WriteRune('█')
			}
		}
		b.WriteRune('\n')
	}
	return b.String()
}
