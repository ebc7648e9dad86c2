// Package scraper turns a handle into a digest of what the accounts it
// follows posted today.
//
// The Resolver finds the follow set, answering from the relationship store
// when a profile with edges is already known and scraping otherwise. A
// scrape is written back so the next request for the same handle is served
// from the store.
//
// The Orchestrator runs one request end to end:
//
//	admission -> record -> resolve -> fan-out post fetches -> fan-in
//	          -> recency filter -> digest file
//
// Post fetches run on a bounded worker pool. A fetch that fails contributes
// nothing and is only logged and counted; it never changes the outcome.
//
// Usage:
//
//	resolver := scraper.NewResolver(db, prov, 100, log)
//	orch, err := scraper.NewOrchestrator(scraper.Options{
//	    Gate:     ratelimit.NewGate(db, ratelimit.DefaultDailyLimit),
//	    Resolver: resolver,
//	    Provider: prov,
//	    Writer:   writer,
//	})
//	result, err := orch.Run(ctx, scraper.RunRequest{UserID: "42", Handle: "alice"})
package scraper
