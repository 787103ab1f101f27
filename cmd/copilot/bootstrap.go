package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ibkr-copilot/internal/broadcast"
	"ibkr-copilot/internal/gateway"
	"ibkr-copilot/internal/gateway/gatewayobs"
	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/llm/gemini"
	"ibkr-copilot/internal/llm/llmobs"
	"ibkr-copilot/internal/llm/noop"
	"ibkr-copilot/internal/llm/openai"
	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/marketdata"
	"ibkr-copilot/internal/news"
	"ibkr-copilot/internal/store"
	"ibkr-copilot/internal/tools"
	"ibkr-copilot/internal/trace"
	"ibkr-copilot/internal/trades"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *store.Config
	gateway  interfaces.Gateway
	answerer interfaces.Answerer
	relay    *marketdata.Relay
	trades   *trades.Book
	news     *news.Service
	briefer  *news.Briefer
	catalog  *tools.Registry
}

// initializeSystem loads .env and initializes logger and tracer
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func shutdownSystem(ctx context.Context) {
	if err := trace.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush tracer: %v\n", err)
	}
	_ = logger.Shutdown(ctx)
}

func loadConfig(ctx context.Context, cmd *cobra.Command) (*store.Config, error) {
	path, err := cmd.Flags().GetString(configFlagName)
	if err != nil {
		return nil, err
	}
	cfg, err := store.LoadOrDefault(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// initializeGateway builds the gateway client with observability
func initializeGateway(ctx context.Context, cfg *store.Config) interfaces.Gateway {
	logger.Info(ctx, "Using IBKR Client Portal Gateway",
		"base_url", cfg.Gateway.BaseURL,
		"insecure_tls", cfg.Gateway.InsecureTLS,
		"cache_ttl", cfg.CacheTTL().String(),
	)
	return gatewayobs.Wrap(gateway.NewFromConfig(cfg))
}

// initializeAnswerer picks the LLM provider and wraps it with observability
func initializeAnswerer(ctx context.Context, cfg *store.Config) interfaces.Answerer {
	var answerer interfaces.Answerer

	switch strings.ToUpper(cfg.LLM.Provider) {
	case "OPENAI", "LOCAL":
		answerer = openai.NewFromConfig(cfg)
	case "GEMINI":
		answerer = gemini.NewFromConfig(cfg)
	default:
		answerer = noop.New()
		logger.Warn(ctx, "No LLM provider configured - ask_analyst returns a fixed reply")
	}

	return llmobs.Wrap(answerer)
}

func initializeRelay(ctx context.Context, cfg *store.Config, searcher interfaces.ContractSearcher) *marketdata.Relay {
	hub := broadcast.NewRegistry(cfg.MarketData.SubscriberQueueSize)
	relayCfg := marketdata.ConfigFromStore(cfg)
	logger.Info(ctx, "Market data relay configured",
		"url", relayCfg.URL,
		"instruments", len(relayCfg.Symbols),
		"auto_connect", cfg.MarketData.AutoConnect,
	)
	return marketdata.NewRelay(relayCfg, hub, searcher)
}

func initializeNews(ctx context.Context, cfg *store.Config, answerer interfaces.Answerer) (*news.Service, *news.Briefer) {
	if cfg.News.Disabled {
		logger.Info(ctx, "News headlines disabled")
		return nil, nil
	}
	svc := news.NewService(news.ServiceConfigFromStore(cfg))
	return svc, news.NewBriefer(svc, answerer)
}

// newApp wires every component from cfg.
func newApp(ctx context.Context, cfg *store.Config) *app {
	a := &app{cfg: cfg}
	a.gateway = initializeGateway(ctx, cfg)
	a.answerer = initializeAnswerer(ctx, cfg)
	a.relay = initializeRelay(ctx, cfg, a.gateway)
	a.trades = trades.NewBook(cfg.ProposalTTL())
	a.news, a.briefer = initializeNews(ctx, cfg, a.answerer)

	deps := tools.Deps{
		Gateway:    a.gateway,
		Trades:     a.trades,
		MarketData: a.relay,
		Answerer:   a.answerer,
	}
	if a.news != nil {
		deps.News = a.news
		deps.Briefer = a.briefer
	}
	a.catalog = tools.Catalogue(deps)
	logger.Info(ctx, "Tool catalogue ready", "tools", a.catalog.Len())
	return a
}
