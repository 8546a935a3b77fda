package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/savings-batch/pkg/account"
	"github.com/Sternrassler/savings-batch/pkg/store"
)

// seedPlan describes the demo account book.
type seedPlan struct {
	Count     int
	Closed    int
	Overdrawn int
}

// accounts builds the planned accounts with ids 1..Count. The first Overdrawn
// active accounts fail interest posting with a negative balance; the last
// Closed accounts are outside the job's status filter.
func (p seedPlan) accounts() []account.Account {
	out := make([]account.Account, 0, p.Count)
	for i := 1; i <= p.Count; i++ {
		a := account.Account{
			ID:              int64(i),
			AccountNumber:   fmt.Sprintf("%09d", i),
			Status:          account.StatusActive,
			Balance:         10_000 + int64(i*37%5_000),
			AccruedInterest: int64(i % 97),
		}
		switch {
		case i > p.Count-p.Closed:
			a.Status = account.StatusClosed
		case i <= p.Overdrawn:
			a.Balance = -5_000
			a.AccruedInterest = 10
		}
		out = append(out, a)
	}
	return out
}

func seed(ctx context.Context, st *store.Store, plan seedPlan) error {
	for _, a := range plan.accounts() {
		if err := st.Put(ctx, &a); err != nil {
			return err
		}
	}
	return nil
}

func newSeedCmd(load func() (*app, error)) *cobra.Command {
	var plan seedPlan

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo savings accounts for the tenant into Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			if plan.Count < 0 || plan.Closed+plan.Overdrawn > plan.Count {
				return fmt.Errorf("--closed plus --overdrawn must not exceed --count")
			}
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.ping(ctx); err != nil {
				return err
			}
			if err := seed(a.tenantContext(ctx), a.store, plan); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d accounts for tenant %s (%d closed, %d overdrawn)\n",
				plan.Count, a.tenant.ID, plan.Closed, plan.Overdrawn)
			return nil
		},
	}
	cmd.Flags().IntVarP(&plan.Count, "count", "n", 1200, "Number of accounts")
	cmd.Flags().IntVar(&plan.Closed, "closed", 0, "Accounts created as closed")
	cmd.Flags().IntVar(&plan.Overdrawn, "overdrawn", 0, "Active accounts whose posting fails")
	return cmd
}
