package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"riddle-swap/pkg/client"
	"riddle-swap/pkg/deeplink"
	"riddle-swap/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Quote     QuoteConfig     `mapstructure:"quote"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	PriceFeed PriceFeedConfig `mapstructure:"price_feed"`
	XRPL      XRPLConfig      `mapstructure:"xrpl"`
	EVM       EVMConfig       `mapstructure:"evm"`
	Solana    SolanaConfig    `mapstructure:"solana"`
	OneClick  OneClickConfig  `mapstructure:"oneclick"`
	Log       LogConfig       `mapstructure:"log"`
	Wallets   []WalletConfig  `mapstructure:"wallets"`
	Tokens    []TokenConfig   `mapstructure:"tokens"`

	v *viper.Viper
}

// BackendConfig is the swap backend
type BackendConfig struct {
	URL       string                      `mapstructure:"url"`
	Timeout   time.Duration               `mapstructure:"timeout"`
	RateLimit float64                     `mapstructure:"rate_limit"` // Requests per second, 0 disables
	Burst     int                         `mapstructure:"burst"`
	Endpoints map[string]client.Endpoints `mapstructure:"endpoints"` // Per chain overrides of the stock paths
}

// AuthConfig locates the embedded wallet session token
type AuthConfig struct {
	Token     string        `mapstructure:"token"`
	TokenFile string        `mapstructure:"token_file"`
	Skew      time.Duration `mapstructure:"skew"`
}

// QuoteConfig tunes quoting and fees
type QuoteConfig struct {
	Debounce      time.Duration     `mapstructure:"debounce"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	Slippage      string            `mapstructure:"slippage"`
	FeePercent    string            `mapstructure:"fee_percent"`
	FeeCurrencies map[string]string `mapstructure:"fee_currencies"`
}

// RemoteConfig covers pairing and deep links for mobile wallets
type RemoteConfig struct {
	RelayURL  string                       `mapstructure:"relay_url"`
	Timeout   time.Duration                `mapstructure:"timeout"`
	Scheme    string                       `mapstructure:"scheme"`
	Templates map[string]deeplink.Template `mapstructure:"templates"`
}

// ReconcileConfig is the post-swap balance poll schedule
type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Attempts int           `mapstructure:"attempts"`
}

// PriceFeedConfig is the USD price source
type PriceFeedConfig struct {
	URL    string            `mapstructure:"url"`
	APIKey string            `mapstructure:"api_key"`
	TTL    time.Duration     `mapstructure:"ttl"`
	IDs    map[string]string `mapstructure:"ids"`
}

// XRPLConfig is the XRPL JSON-RPC node
type XRPLConfig struct {
	RPC              string `mapstructure:"rpc"`
	ReserveBase      string `mapstructure:"reserve_base"`
	ReserveIncrement string `mapstructure:"reserve_increment"`
}

// EVMConfig is the EVM node and the in-process wallet key
type EVMConfig struct {
	RPC        string `mapstructure:"rpc"`
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int64  `mapstructure:"chain_id"`
	Spender    string `mapstructure:"spender"` // Router contract whose allowance is checked
}

// SolanaConfig is the Solana node and the in-process wallet key
type SolanaConfig struct {
	RPC           string `mapstructure:"rpc"`
	PrivateKey    string `mapstructure:"private_key"`
	Commitment    string `mapstructure:"commitment"`
	SkipPreflight bool   `mapstructure:"skip_preflight"`
}

// OneClickConfig enables the 1Click token listing
type OneClickConfig struct {
	JWTToken string `mapstructure:"jwt_token"`
}

// LogConfig configures zap
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WalletConfig is a wallet connection declared in the config file
type WalletConfig struct {
	ID      string `mapstructure:"id"`
	Chain   string `mapstructure:"chain"`
	Address string `mapstructure:"address"`
	Method  string `mapstructure:"method"`
	Topic   string `mapstructure:"topic"`
	Label   string `mapstructure:"label"`
}

// TokenConfig is a token listed in the config file
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Chain    string `mapstructure:"chain"`
	Issuer   string `mapstructure:"issuer"`
	Decimals int32  `mapstructure:"decimals"`
}

var globalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "https://riddleswap.com")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.rate_limit", 5.0)
	v.SetDefault("backend.burst", 2)
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_file", "")
	v.SetDefault("auth.skew", 30*time.Second)
	v.SetDefault("quote.debounce", 500*time.Millisecond)
	v.SetDefault("quote.timeout", 15*time.Second)
	v.SetDefault("quote.slippage", "1")
	v.SetDefault("quote.fee_percent", "1")
	v.SetDefault("remote.relay_url", "wss://relay.riddleswap.com/v1")
	v.SetDefault("remote.timeout", 2*time.Minute)
	v.SetDefault("remote.scheme", "rdl")
	v.SetDefault("reconcile.interval", 2*time.Second)
	v.SetDefault("reconcile.attempts", 5)
	v.SetDefault("price_feed.url", "https://api.coingecko.com/api/v3")
	v.SetDefault("price_feed.api_key", "")
	v.SetDefault("price_feed.ttl", 30*time.Second)
	v.SetDefault("xrpl.rpc", "https://s1.ripple.com:51234")
	v.SetDefault("xrpl.reserve_base", "1")
	v.SetDefault("xrpl.reserve_increment", "0.2")
	v.SetDefault("evm.rpc", "")
	v.SetDefault("evm.private_key", "")
	v.SetDefault("evm.chain_id", 0)
	v.SetDefault("evm.spender", "")
	v.SetDefault("solana.rpc", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.private_key", "")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.skip_preflight", false)
	v.SetDefault("oneclick.jwt_token", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from environment variables and config file.
// An empty path searches for .riddle-swap.yaml in $HOME and the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".riddle-swap")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// RIDDLE_SWAP_BACKEND_URL overrides backend.url
	v.SetEnvPrefix("RIDDLE_SWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Validate checks values that cannot be caught by decoding
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url is required. Set RIDDLE_SWAP_BACKEND_URL or backend.url in .riddle-swap.yaml")
	}
	for key, value := range map[string]string{
		"quote.slippage":         c.Quote.Slippage,
		"quote.fee_percent":      c.Quote.FeePercent,
		"xrpl.reserve_base":      c.XRPL.ReserveBase,
		"xrpl.reserve_increment": c.XRPL.ReserveIncrement,
	} {
		if _, err := decimal.NewFromString(value); err != nil {
			return fmt.Errorf("%s: invalid number %q", key, value)
		}
	}
	for chain := range c.Quote.FeeCurrencies {
		if _, err := types.ParseChain(chain); err != nil {
			return fmt.Errorf("quote.fee_currencies: %w", err)
		}
	}
	for chain := range c.Backend.Endpoints {
		if _, err := types.ParseChain(chain); err != nil {
			return fmt.Errorf("backend.endpoints: %w", err)
		}
	}
	if c.Reconcile.Attempts < 0 {
		return fmt.Errorf("reconcile.attempts must not be negative")
	}
	return nil
}

// Viper exposes the underlying viper instance for values read on every use, such as the auth token
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// Slippage is the default slippage tolerance in percent
func (c *Config) Slippage() decimal.Decimal {
	return decimal.RequireFromString(c.Quote.Slippage)
}

// FeePercent is the platform fee in percent
func (c *Config) FeePercent() decimal.Decimal {
	return decimal.RequireFromString(c.Quote.FeePercent)
}

// FeeCurrencies maps chains to their mandated fee currency
func (c *Config) FeeCurrencies() map[types.Chain]string {
	out := make(map[types.Chain]string, len(c.Quote.FeeCurrencies))
	for chain, symbol := range c.Quote.FeeCurrencies {
		if parsed, err := types.ParseChain(chain); err == nil {
			out[parsed] = strings.ToUpper(symbol)
		}
	}
	return out
}

// Endpoints returns the backend paths of every chain, stock paths overlaid with config
func (c *Config) Endpoints() map[types.Chain]client.Endpoints {
	out := make(map[types.Chain]client.Endpoints, len(types.AllChains))
	for _, chain := range types.AllChains {
		out[chain] = client.DefaultEndpoints(chain)
	}
	for key, ep := range c.Backend.Endpoints {
		chain, err := types.ParseChain(key)
		if err != nil {
			continue
		}
		merged := out[chain]
		if ep.Quote != "" {
			merged.Quote = ep.Quote
		}
		if ep.Execute != "" {
			merged.Execute = ep.Execute
		}
		if ep.Prepare != "" {
			merged.Prepare = ep.Prepare
		}
		if ep.Submit != "" {
			merged.Submit = ep.Submit
		}
		out[chain] = merged
	}
	return out
}

// Templates returns the deep link formats, stock wallets overlaid with config
func (c *Config) Templates() map[string]deeplink.Template {
	out := make(map[string]deeplink.Template, len(deeplink.DefaultTemplates)+len(c.Remote.Templates))
	for id, t := range deeplink.DefaultTemplates {
		out[id] = t
	}
	for id, t := range c.Remote.Templates {
		out[strings.ToLower(id)] = t
	}
	return out
}

// Reserve returns the XRPL account reserve settings
func (c *Config) Reserve() (base, increment decimal.Decimal) {
	return decimal.RequireFromString(c.XRPL.ReserveBase), decimal.RequireFromString(c.XRPL.ReserveIncrement)
}

// WalletConnections converts the configured wallets
func (c *Config) WalletConnections() ([]types.WalletConnection, error) {
	conns := make([]types.WalletConnection, 0, len(c.Wallets))
	for i, w := range c.Wallets {
		chain, err := types.ParseChain(w.Chain)
		if err != nil {
			return nil, fmt.Errorf("wallets[%d]: %w", i, err)
		}
		method, err := types.ParseSigningMethod(w.Method)
		if err != nil {
			return nil, fmt.Errorf("wallets[%d]: %w", i, err)
		}
		conns = append(conns, types.WalletConnection{
			WalletID: strings.ToLower(w.ID),
			Chain:    chain,
			Address:  w.Address,
			Method:   method,
			Topic:    w.Topic,
			Label:    w.Label,
		})
	}
	return conns, nil
}

// TokenRefs converts the configured tokens
func (c *Config) TokenRefs() ([]types.TokenRef, error) {
	tokens := make([]types.TokenRef, 0, len(c.Tokens))
	for i, t := range c.Tokens {
		chain, err := types.ParseChain(t.Chain)
		if err != nil {
			return nil, fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if t.Symbol == "" {
			return nil, fmt.Errorf("tokens[%d]: symbol is required", i)
		}
		tokens = append(tokens, types.TokenRef{
			Symbol:   strings.ToUpper(t.Symbol),
			Chain:    chain,
			Issuer:   t.Issuer,
			Decimals: t.Decimals,
		})
	}
	return tokens, nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
