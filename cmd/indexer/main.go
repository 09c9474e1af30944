// Command indexer runs the ICRC-1 ledger sync engine: normal sync, or
// --reset followed by normal sync.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/admin"
	"github.com/icrc-indexer/indexer/internal/config"
	"github.com/icrc-indexer/indexer/internal/coordinator"
	"github.com/icrc-indexer/indexer/internal/envutil"
	"github.com/icrc-indexer/indexer/internal/ledger"
	"github.com/icrc-indexer/indexer/internal/logging"
	"github.com/icrc-indexer/indexer/internal/model"
	"github.com/icrc-indexer/indexer/internal/store"
)

// Exit codes for the CLI.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitStoreUnavail = 2
	exitFatalSync    = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	reset := flag.Bool("reset", false, "reset all configured tokens before starting sync")
	configPath := flag.String("config", "", "path to config.toml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		return exitConfigError
	}
	defer logger.Sync()

	st, redisClient, err := connectStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store unavailable", zap.Error(err))
		return exitStoreUnavail
	}
	defer st.Close()
	defer redisClient.Close()

	if err := st.InitializeGlobal(ctx); err != nil {
		logger.Error("failed to initialize global collections", zap.Error(err))
		return exitStoreUnavail
	}

	if *reset {
		symbols := make([]string, 0, len(cfg.Tokens))
		for _, t := range cfg.Tokens {
			symbols = append(symbols, t.Symbol)
		}
		if err := admin.Reset(ctx, st, logger, symbols); err != nil {
			logger.Error("reset failed", zap.Error(err))
			return exitFatalSync
		}
	}

	icClient := ledger.NewHTTPClient(ledger.Opts{BaseURL: cfg.ICURL}, logger)

	supervisor := coordinator.NewSupervisor(len(cfg.Tokens), logger)
	for _, t := range cfg.Tokens {
		descriptor := model.TokenDescriptor{
			Symbol:     t.Symbol,
			Name:       t.Name,
			CanisterID: t.CanisterID,
		}
		if t.Decimals != nil {
			descriptor.Decimals = *t.Decimals
		}
		c := coordinator.New(descriptor, icClient, st, redisClient, logger)
		supervisor.Start(ctx, c)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, draining coordinators")
	supervisor.StopAndWait()

	return exitOK
}

func connectStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, *redis.Client, error) {
	addr := envutil.String("CLICKHOUSE_ADDR", cfg.MongoDBURL)
	client, err := store.NewClient(ctx, logger, addr, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	st := store.New(client, logger)

	redisAddr := envutil.String("REDIS_ADDR", "localhost:6379")
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	return st, redisClient, nil
}
