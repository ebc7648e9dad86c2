package scraper

import (
	"context"
	"time"

	"xdigest/internal/metrics"
	"xdigest/pkg/logger"
	"xdigest/pkg/models"
	"xdigest/pkg/provider"
)

// DefaultMaxFollowings caps a scraped follow set
const DefaultMaxFollowings = 100

// Resolver finds the accounts a handle follows
type Resolver struct {
	store         FollowStore
	provider      provider.Provider
	maxFollowings int
	now           func() time.Time
	logger        logger.Logger
}

// NewResolver creates a resolver. maxFollowings <= 0 uses DefaultMaxFollowings.
func NewResolver(store FollowStore, p provider.Provider, maxFollowings int, log logger.Logger) *Resolver {
	if maxFollowings <= 0 {
		maxFollowings = DefaultMaxFollowings
	}
	return &Resolver{
		store:         store,
		provider:      p,
		maxFollowings: maxFollowings,
		now:           time.Now,
		logger:        logger.OrGlobal(log).WithField("component", "resolver"),
	}
}

// WithClock replaces the time source used for last_checked
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// ResolveFollowSet returns the follow set of handle and where it came from.
// A known profile with at least one edge is answered from the store without
// calling the provider. Anything else is scraped and written back.
//
// Store failures never fail the call: a failed read falls through to a
// scrape, and a failed write-back is logged while the scraped list is still
// returned. The error is non-nil only when ctx is done.
func (r *Resolver) ResolveFollowSet(ctx context.Context, handle string) ([]models.FollowedAccount, models.Source, error) {
	return r.Resolve(ctx, handle, r.maxFollowings)
}

// Resolve is ResolveFollowSet with an explicit scrape limit
func (r *Resolver) Resolve(ctx context.Context, handle string, maxFollowings int) ([]models.FollowedAccount, models.Source, error) {
	if maxFollowings <= 0 {
		maxFollowings = r.maxFollowings
	}
	handle = provider.NormalizeHandle(handle)
	log := r.logger.WithField("handle", handle)

	if err := ctx.Err(); err != nil {
		return nil, models.SourceScrape, err
	}

	if handle != "" {
		if accounts, ok := r.fromStore(ctx, log, handle); ok {
			metrics.IncFollowSet(string(models.SourceCache))
			log.WithField("accounts", len(accounts)).Debug("Follow set served from store")
			return accounts, models.SourceCache, nil
		}
	}

	res := r.provider.FetchFollowing(ctx, handle, maxFollowings)
	metrics.ObserveProviderCall("fetch_following", res.Degraded())
	metrics.IncFollowSet(string(models.SourceScrape))
	if err := ctx.Err(); err != nil {
		return nil, models.SourceScrape, err
	}
	if res.Degraded() {
		log.WithError(res.Unavailable).Warn("Following scrape failed, treating as empty")
	}
	accounts := withoutHandle(res.Items, handle)
	if len(accounts) == 0 {
		return []models.FollowedAccount{}, models.SourceScrape, nil
	}

	r.writeBack(ctx, log, handle, accounts)
	return accounts, models.SourceScrape, nil
}

// withoutHandle drops handle from accounts so a scraped follow set matches
// what the store returns, which never holds self-edges
func withoutHandle(accounts []models.FollowedAccount, handle string) []models.FollowedAccount {
	out := make([]models.FollowedAccount, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Handle == handle {
			continue
		}
		out = append(out, acct)
	}
	return out
}

func (r *Resolver) fromStore(ctx context.Context, log logger.Logger, handle string) ([]models.FollowedAccount, bool) {
	profile, err := r.store.ProfileByHandle(ctx, handle)
	if err != nil {
		log.WithError(err).Warn("Profile lookup failed, scraping instead")
		return nil, false
	}
	if profile == nil {
		return nil, false
	}

	accounts, err := r.store.FollowSet(ctx, profile.ID)
	if err != nil {
		log.WithError(err).Warn("Follow set lookup failed, scraping instead")
		return nil, false
	}
	if len(accounts) == 0 {
		return nil, false
	}
	return accounts, true
}

// writeBack stores the source profile, its targets and the edges between them
func (r *Resolver) writeBack(ctx context.Context, log logger.Logger, handle string, accounts []models.FollowedAccount) {
	source, err := r.store.UpsertProfile(ctx, models.FollowedAccount{Handle: handle})
	if err != nil {
		log.WithError(err).Error("Failed to save profile")
		return
	}

	ids, err := r.store.BulkUpsertProfiles(ctx, accounts)
	if err != nil {
		log.WithError(err).Error("Failed to save followed profiles")
		return
	}

	added, err := r.store.AddEdges(ctx, source.ID, ids)
	if err != nil {
		log.WithError(err).Error("Failed to save follow edges")
		return
	}

	if err := r.store.TouchLastChecked(ctx, source.ID, r.now()); err != nil {
		log.WithError(err).Warn("Failed to update last checked time")
	}

	log.WithFields(map[string]interface{}{
		"accounts": len(accounts),
		"edges":    added,
	}).Info("Follow set saved")
}
