package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/shopchat/config"
	"github.com/sweetpotato0/shopchat/conversation"
	"github.com/sweetpotato0/shopchat/gateway"
	"github.com/sweetpotato0/shopchat/gateway/claude"
	openaigw "github.com/sweetpotato0/shopchat/gateway/openai"
	"github.com/sweetpotato0/shopchat/orchestrator"
	"github.com/sweetpotato0/shopchat/pkg/logging"
	"github.com/sweetpotato0/shopchat/pkg/telemetry"
	"github.com/sweetpotato0/shopchat/server"
	"github.com/sweetpotato0/shopchat/tool"
	"github.com/sweetpotato0/shopchat/tool/mcp"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat engine HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "shopchat",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init conversation store: %w", err)
	}
	defer store.Close()

	sources := make([]tool.Source, 0, len(cfg.MCPEndpoints))
	for _, endpoint := range cfg.MCPEndpoints {
		source, err := mcp.NewSource(endpoint, mcp.WithClientInfo("shopchat", version))
		if err != nil {
			logger.Warn("skipping capability source", "endpoint", endpoint, "error", err)
			continue
		}
		sources = append(sources, source)
	}

	searcher := tool.NewCatalogSearcher(&http.Client{Timeout: 15 * time.Second})
	registry := tool.NewRegistry(searcher, sources...)
	defer registry.Close()

	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	orch := orchestrator.New(store, gw, registry,
		orchestrator.WithCallCaps(cfg.MaxCallsPerTool, cfg.MaxTotalCalls))

	srv := server.New(cfg.ListenAddr, orch, store)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg *config.Config) (conversation.Store, error) {
	switch cfg.Store {
	case "redis":
		return conversation.NewRedisStore(&conversation.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}), nil
	case "postgres":
		return conversation.NewPostgresStore(&conversation.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
			SSLMode:  cfg.Postgres.SSLMode,
		})
	case "mongo":
		return conversation.NewMongoStore(ctx, &conversation.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	default:
		return conversation.NewInMemoryStore(), nil
	}
}

func buildGateway(cfg *config.Config) (gateway.Gateway, error) {
	gwCfg := &gateway.Config{
		APIKey:             cfg.APIKey,
		BaseURL:            cfg.BaseURL,
		Model:              cfg.Model,
		MaxTokens:          cfg.MaxTokens,
		Temperature:        cfg.Temperature,
		HistoryTokenBudget: cfg.HistoryTokenBudget,
	}
	switch cfg.Provider {
	case "openai":
		return openaigw.New(gwCfg), nil
	case "anthropic":
		return claude.New(gwCfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
