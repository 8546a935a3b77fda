// Command savings-batch posts accrued interest to active savings accounts.
//
//	savings-batch run        execute one run and exit
//	savings-batch serve      run on an interval, expose /metrics and /health
//	savings-batch seed       load demo accounts into Redis
//	savings-batch settings   show or override per-tenant job settings
//
// Configuration is read from SAVINGS_BATCH_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/savings-batch/pkg/batch"
	"github.com/Sternrassler/savings-batch/pkg/config"
	"github.com/Sternrassler/savings-batch/pkg/logging"
	"github.com/Sternrassler/savings-batch/pkg/processor"
	"github.com/Sternrassler/savings-batch/pkg/settings"
	"github.com/Sternrassler/savings-batch/pkg/store"
	"github.com/Sternrassler/savings-batch/pkg/tenant"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var tenantFlag string

	root := &cobra.Command{
		Use:           "savings-batch",
		Short:         "Savings interest posting batch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&tenantFlag, "tenant", "t", "", "Tenant ID (overrides SAVINGS_BATCH_TENANT_ID)")

	load := func() (*app, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if tenantFlag != "" {
			cfg.TenantID = tenantFlag
		}
		return newApp(cfg)
	}

	root.AddCommand(
		newRunCmd(load),
		newServeCmd(load),
		newSeedCmd(load),
		newSettingsCmd(load),
	)
	return root
}

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	redis    *redis.Client
	tenant   tenant.Context
	store    *store.Store
	settings *settings.RedisSource
}

func newApp(cfg *config.Config) (*app, error) {
	logger := logging.Setup(cfg.Logging())
	cfg.Log(logger)

	tc, err := cfg.Tenant()
	if err != nil {
		return nil, fmt.Errorf("tenant: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		redis:    redisClient,
		tenant:   tc,
		store:    store.New(redisClient, logging.NewLogger("store")),
		settings: settings.NewRedisSource(redisClient, cfg.JobSettings(), logging.NewLogger("settings")),
	}, nil
}

// ping fails fast when Redis is unreachable.
func (a *app) ping(ctx context.Context) error {
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", a.cfg.RedisAddr, err)
	}
	return nil
}

// orchestrator wires the interest posting job.
func (a *app) orchestrator() *batch.Orchestrator {
	fetcher := store.NewRetryingFetcher(a.store, a.cfg.Retry(), logging.NewLogger("fetcher"))
	proc := processor.New(a.store, processor.WithAssembler(a.store))
	return batch.New(fetcher, proc, a.settings, batch.DefaultConfig())
}

func (a *app) tenantContext(ctx context.Context) context.Context {
	return tenant.WithContext(ctx, a.tenant.Clone())
}

func (a *app) Close() error {
	return a.redis.Close()
}
