package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/savings-batch/pkg/job"
	"github.com/Sternrassler/savings-batch/pkg/logging"
	"github.com/Sternrassler/savings-batch/pkg/metrics"
)

func newServeCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job on an interval and expose /metrics and /health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.ping(ctx); err != nil {
				return err
			}

			runnerLogger := logging.NewLogger("job")
			runner := job.NewRunner(a.orchestrator(), job.Config{
				Interval:     a.cfg.Interval,
				InitialDelay: a.cfg.InitialDelay,
				Tenant:       a.tenant,
				Locker:       job.NewRedisLock(a.redis, a.cfg.LockTTL, logging.NewLogger("lock")),
				Logger:       &runnerLogger,
			})

			srv := &http.Server{
				Addr:              a.cfg.MetricsAddr,
				Handler:           newMux(a.redis, runner),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, gCtx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.logger.Info().Str("addr", srv.Addr).Msg("Starting metrics server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				runner.Start()
				<-gCtx.Done()
				runner.Stop()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
}

func newMux(redisClient *redis.Client, runner *job.Runner) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", readyHandler(redisClient)).Methods(http.MethodGet)
	r.HandleFunc("/status", statusHandler(runner)).Methods(http.MethodGet)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

func statusHandler(runner *job.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at, err := runner.LastResult()
		switch {
		case at.IsZero():
			fmt.Fprintln(w, "no run yet")
		case err != nil:
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "last run %s failed: %v\n", at.Format(time.RFC3339), err)
		default:
			fmt.Fprintf(w, "last run %s succeeded\n", at.Format(time.RFC3339))
		}
	}
}
