// Package batch runs the savings interest posting job across all active
// accounts of one tenant.
//
// Accounts are read page by page through an account.PageFetcher. Every page
// becomes one task on a bounded worker pool; the pool blocks the dispatch loop
// while it is saturated, so at most 2*ThreadCount pages are held in memory.
//
// Example usage:
//
//	proc := processor.New(accountStore, processor.WithAssembler(accountStore))
//	orch := batch.New(fetcher, proc, settingsSource, batch.DefaultConfig())
//	outcome, err := orch.Run(tenant.WithContext(ctx, tc))
//
// The orchestrator:
//   - Captures the tenant from ctx and hands each task its own copy
//   - Resolves thread count and page size once per run
//   - Fetches pages in increasing order and stops at the live page total
//   - Drains the pool before merging task results in page order
//   - Returns *AbortError on fetch or admission failure with partial results
//   - Returns *aggregate.JobError when any account failed
package batch
