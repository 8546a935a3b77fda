package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/savings-batch/pkg/settings"
)

func newSettingsCmd(load func() (*app, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or override the tenant's job settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective job settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.settings.JobSettings(cmd.Context(), a.tenant.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "thread_count=%d page_size=%d max_admission_wait=%s\n",
				s.ThreadCount, s.PageSize, s.MaxAdmissionWait)
			return nil
		},
	}

	var override settings.Settings
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a per-tenant override in Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			current, err := a.settings.JobSettings(cmd.Context(), a.tenant.ID)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("threads") {
				current.ThreadCount = override.ThreadCount
			}
			if flags.Changed("page-size") {
				current.PageSize = override.PageSize
			}
			if flags.Changed("max-wait") {
				current.MaxAdmissionWait = override.MaxAdmissionWait
			}
			return a.settings.Store(cmd.Context(), a.tenant.ID, current)
		},
	}
	set.Flags().IntVar(&override.ThreadCount, "threads", 0, "Worker threads")
	set.Flags().IntVar(&override.PageSize, "page-size", 0, "Accounts per page")
	set.Flags().DurationVar(&override.MaxAdmissionWait, "max-wait", 0, "Max admission wait")

	cmd.AddCommand(show, set)
	return cmd
}
