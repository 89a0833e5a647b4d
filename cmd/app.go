package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"riddle-swap/config"
	"riddle-swap/pkg/auth"
	"riddle-swap/pkg/balance"
	"riddle-swap/pkg/catalog"
	"riddle-swap/pkg/client"
	"riddle-swap/pkg/deeplink"
	"riddle-swap/pkg/execution"
	"riddle-swap/pkg/ledger"
	"riddle-swap/pkg/pairing"
	"riddle-swap/pkg/pricefeed"
	"riddle-swap/pkg/quote"
	"riddle-swap/pkg/signing"
	"riddle-swap/pkg/swap"
	"riddle-swap/pkg/types"
	"riddle-swap/pkg/wallet"
)

// app holds the components a command works with, built from the loaded config
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	backend  *client.Backend
	feed     pricefeed.Feed
	catalog  *catalog.Catalog
	wallets  *wallet.Registry
	ledgers  *ledger.Registry
	pairing  *pairing.Client
	links    *deeplink.Generator
	tokens   auth.Source
	injected []signing.Provider

	evm    *ethclient.Client
	solana *rpc.Client
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	backendHTTP := client.NewHTTPClient(
		client.WithBaseURL(cfg.Backend.URL),
		client.WithTimeout(cfg.Backend.Timeout),
		client.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.Burst),
		client.WithLogger(logger.Named("http")),
	)
	a.backend = client.NewBackend(backendHTTP, cfg.Endpoints(), logger.Named("backend"))

	feedOpts := []client.ClientOption{
		client.WithBaseURL(cfg.PriceFeed.URL),
		client.WithLogger(logger.Named("pricefeed")),
	}
	if cfg.PriceFeed.APIKey != "" {
		feedOpts = append(feedOpts, client.WithDefaultHeader("x-cg-demo-api-key", cfg.PriceFeed.APIKey))
	}
	a.feed = pricefeed.NewCoinGecko(client.NewHTTPClient(feedOpts...),
		pricefeed.WithIDs(cfg.PriceFeed.IDs),
		pricefeed.WithTTL(cfg.PriceFeed.TTL),
		pricefeed.WithLogger(logger.Named("pricefeed")),
	)

	static, err := cfg.TokenRefs()
	if err != nil {
		return nil, err
	}
	sources := []catalog.Source{catalog.StaticSource(static)}
	if cfg.OneClick.JWTToken != "" {
		sources = append(sources, client.NewOneClickClient(cfg.OneClick.JWTToken, logger.Named("1click")))
	}
	a.catalog = catalog.New(a.feed, logger.Named("catalog"), sources...)

	if cfg.Auth.TokenFile != "" {
		a.tokens = auth.FromFile(cfg.Auth.TokenFile, auth.WithSkew(cfg.Auth.Skew), auth.WithLogger(logger))
	} else {
		a.tokens = auth.FromViper(cfg.Viper(), "auth.token", auth.WithSkew(cfg.Auth.Skew), auth.WithLogger(logger))
	}

	a.pairing = pairing.NewClient(cfg.Remote.RelayURL, logger.Named("pairing"))
	a.links = deeplink.NewGenerator(cfg.Remote.Scheme, cfg.Templates())

	if err := a.buildLedgers(ctx); err != nil {
		return nil, err
	}

	a.wallets = wallet.NewRegistry(logger.Named("wallet"))
	conns, err := cfg.WalletConnections()
	if err != nil {
		return nil, err
	}
	for _, p := range a.injected {
		conns = append(conns, types.WalletConnection{
			WalletID: "local",
			Chain:    p.Chain(),
			Address:  p.Address(),
			Method:   types.MethodInjected,
			Label:    "local key",
		})
	}
	for _, conn := range conns {
		if err := a.wallets.Connect(conn); err != nil {
			return nil, fmt.Errorf("wallet %s: %w", conn, err)
		}
	}
	return a, nil
}

// buildLedgers dials the chain nodes that are configured. The in-process signers share
// the EVM and Solana clients.
func (a *app) buildLedgers(ctx context.Context) error {
	a.ledgers = ledger.NewRegistry(a.logger.Named("ledger"))

	if a.cfg.XRPL.RPC != "" {
		base, inc := a.cfg.Reserve()
		xrplHTTP := client.NewHTTPClient(
			client.WithBaseURL(a.cfg.XRPL.RPC),
			client.WithLogger(a.logger.Named("xrpl")),
		)
		a.ledgers.Register(ledger.NewXRPL(xrplHTTP, a.logger.Named("xrpl"), ledger.WithReserve(base, inc)))
	}

	if a.cfg.EVM.RPC != "" {
		ec, err := ethclient.DialContext(ctx, a.cfg.EVM.RPC)
		if err != nil {
			return fmt.Errorf("failed to connect to EVM RPC: %w", err)
		}
		a.evm = ec
		reader, err := ledger.NewEVM(ec, a.cfg.EVM.Spender, a.logger.Named("evm"))
		if err != nil {
			return err
		}
		a.ledgers.Register(reader)

		if a.cfg.EVM.PrivateKey != "" {
			p, err := signing.NewEVMProvider(ec, a.cfg.EVM.PrivateKey, a.cfg.EVM.ChainID)
			if err != nil {
				return err
			}
			a.injected = append(a.injected, p)
		}
	}

	if a.cfg.Solana.RPC != "" {
		a.solana = rpc.New(a.cfg.Solana.RPC)
		a.ledgers.Register(ledger.NewSolana(a.solana, a.cfg.Solana.Commitment, a.logger.Named("solana")))

		if a.cfg.Solana.PrivateKey != "" {
			p, err := signing.NewSolanaProvider(a.solana, a.cfg.Solana.PrivateKey, a.cfg.Solana.SkipPreflight, a.cfg.Solana.Commitment)
			if err != nil {
				return err
			}
			a.injected = append(a.injected, p)
		}
	}
	return nil
}

func (a *app) quoteEngine() *quote.Engine {
	return quote.NewEngine(a.backend, a.feed, quote.Config{
		Debounce:      a.cfg.Quote.Debounce,
		FeePercent:    a.cfg.FeePercent(),
		FeeCurrencies: a.cfg.FeeCurrencies(),
		Timeout:       a.cfg.Quote.Timeout,
	}, a.logger.Named("quote"))
}

// router builds the signing router. approve gates injected signing and present shows
// remote signing requests.
func (a *app) router(approve signing.Approver, present signing.Presenter) *signing.Router {
	return signing.NewRouter(a.logger.Named("signing"),
		signing.NewEmbeddedSigner(a.backend, a.tokens, a.logger.Named("embedded")),
		signing.NewInjectedSigner(a.backend, approve, a.logger.Named("injected"), a.injected...),
		signing.NewRemoteSigner(a.backend, signing.FromPairingClient(a.pairing), a.links,
			signing.WithTimeout(a.cfg.Remote.Timeout),
			signing.WithPresenter(present),
			signing.WithLogger(a.logger.Named("remote")),
		),
	)
}

func (a *app) reconciler() *balance.Reconciler {
	return balance.NewReconciler(balance.Config{
		Interval: a.cfg.Reconcile.Interval,
		Attempts: a.cfg.Reconcile.Attempts,
	}, a.logger.Named("reconcile"))
}

func (a *app) orchestrator(router *signing.Router, onBalances func(types.WalletConnection, []types.Balance)) *swap.Orchestrator {
	return swap.New(a.wallets, router, execution.NewMachine(a.logger.Named("execution")),
		swap.WithLedger(a.ledgers),
		swap.WithReconciler(a.reconciler()),
		swap.WithPairingReset(a.pairing.Forget),
		swap.WithBalanceObserver(onBalances),
		swap.WithLogger(a.logger.Named("swap")),
	)
}

func (a *app) Close() {
	if a.evm != nil {
		a.evm.Close()
	}
	if a.solana != nil {
		_ = a.solana.Close()
	}
}
