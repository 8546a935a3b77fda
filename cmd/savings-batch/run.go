package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Sternrassler/savings-batch/pkg/aggregate"
	"github.com/Sternrassler/savings-batch/pkg/batch"
	"github.com/Sternrassler/savings-batch/pkg/job"
	"github.com/Sternrassler/savings-batch/pkg/logging"
)

func newRunCmd(load func() (*app, error)) *cobra.Command {
	var noLock bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one interest posting run and exit",
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

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			orch := a.orchestrator()
			if !noLock {
				release, err := job.NewRedisLock(a.redis, a.cfg.LockTTL, logging.NewLogger("lock")).TryLock(ctx, orch.Name(), cancel)
				if err != nil {
					return err
				}
				defer releaseRunLock(context.WithoutCancel(ctx), release, a.logger)
			}

			outcome, err := orch.Run(a.tenantContext(ctx))
			printOutcome(cmd.OutOrStdout(), language.Make(a.tenant.Locale), outcome, err)
			return err
		},
	}
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "Skip the cluster run lock")
	return cmd
}

// releaseRunLock drops the run lock, logging a failed release.
func releaseRunLock(ctx context.Context, release func(context.Context) error, logger zerolog.Logger) {
	if err := release(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to release run lock")
	}
}

// printOutcome writes the run summary with counts formatted for the tenant locale.
func printOutcome(w io.Writer, lang language.Tag, outcome aggregate.JobOutcome, err error) {
	p := message.NewPrinter(lang)

	status := "SUCCESS"
	var aerr *batch.AbortError
	switch {
	case errors.As(err, &aerr):
		status = "ABORTED"
	case err != nil:
		status = "FAILED"
	}

	p.Fprintf(w, "%s: %d pages, %d accounts, %d succeeded, %d failed\n",
		status, outcome.Pages, outcome.Processed, outcome.Succeeded, outcome.Failed)
	if outcome.Truncated > 0 {
		p.Fprintf(w, "%d failures omitted from report\n", outcome.Truncated)
	}
	if outcome.Report != "" {
		fmt.Fprint(w, outcome.Report)
	}
}
