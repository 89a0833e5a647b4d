package client

import (
	"context"
	"fmt"
	"strings"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"go.uber.org/zap"

	"riddle-swap/pkg/types"
)

// OneClickClient wraps the 1Click SDK as a source of token listings
type OneClickClient struct {
	client   *oneclick.APIClient
	jwtToken string
	logger   *zap.Logger
}

// NewOneClickClient creates a new 1Click API client
func NewOneClickClient(jwtToken string, logger *zap.Logger) *OneClickClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OneClickClient{
		client:   oneclick.NewAPIClient(oneclick.NewConfiguration()),
		jwtToken: jwtToken,
		logger:   logger,
	}
}

// Name identifies the source in logs
func (c *OneClickClient) Name() string {
	return "1click"
}

// GetSupportedTokens retrieves all tokens listed by 1Click
func (c *OneClickClient) GetSupportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	if c.jwtToken != "" {
		ctx = context.WithValue(ctx, oneclick.ContextAccessToken, c.jwtToken)
	}

	resp, httpResp, err := c.client.OneClickAPI.GetTokens(ctx).Execute()
	if err != nil {
		if httpResp != nil {
			return nil, fmt.Errorf("API error (status %d): %w", httpResp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != 200 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return resp, nil
}

// Tokens returns the 1Click listings that live on a supported chain
func (c *OneClickClient) Tokens(ctx context.Context) ([]types.TokenRef, error) {
	listings, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}

	tokens := make([]types.TokenRef, 0, len(listings))
	skipped := 0
	for _, listing := range listings {
		ref, ok := tokenFromListing(listing)
		if !ok {
			skipped++
			continue
		}
		tokens = append(tokens, ref)
	}

	c.logger.Debug("loaded 1click tokens", zap.Int("tokens", len(tokens)), zap.Int("skipped", skipped))
	return tokens, nil
}

func tokenFromListing(listing oneclick.TokenResponse) (types.TokenRef, bool) {
	chain, err := types.ParseChain(listing.GetBlockchain())
	if err != nil {
		return types.TokenRef{}, false
	}

	symbol := strings.ToUpper(listing.GetSymbol())
	if symbol == "" {
		return types.TokenRef{}, false
	}

	issuer := listing.GetContractAddress()
	if strings.EqualFold(symbol, chain.NativeSymbol()) && issuer == "" {
		return types.NativeToken(chain), true
	}
	if issuer == "" {
		// Wrapped or bridged listing with no on-chain address to trade against
		return types.TokenRef{}, false
	}

	return types.TokenRef{
		Symbol:   symbol,
		Chain:    chain,
		Issuer:   issuer,
		Decimals: int32(listing.GetDecimals()),
	}, true
}
