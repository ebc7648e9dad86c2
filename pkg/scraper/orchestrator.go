package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"xdigest/internal/events"
	"xdigest/internal/fanout"
	"xdigest/internal/metrics"
	apperrors "xdigest/pkg/errors"
	"xdigest/pkg/logger"
	"xdigest/pkg/models"
	"xdigest/pkg/provider"
	"xdigest/pkg/ratelimit"
	"xdigest/pkg/recency"
	"xdigest/pkg/sink"
)

// Outcome is the terminal state of a run
type Outcome string

const (
	OutcomeSuccess           Outcome = sink.OutcomeSuccess
	OutcomeQuotaExceeded     Outcome = sink.OutcomeQuotaExceeded
	OutcomeNoAccounts        Outcome = sink.OutcomeNoAccounts
	OutcomeEmptyToday        Outcome = sink.OutcomeEmptyToday
	OutcomeDigestWriteFailed Outcome = sink.OutcomeDigestWriteFailed
)

const (
	DefaultMaxPosts    = 10
	DefaultConcurrency = 15
)

// Ceilings applied to every run, whatever the request or defaults ask for
const (
	MaxFollowingsCeiling = 1000
	MaxPostsCeiling      = 100
	ConcurrencyCeiling   = 64
)

// sessionCancelled closes a session whose run ended with its context
const sessionCancelled = "CANCELLED"

// Limits are the per-run defaults applied to zero-valued request fields
type Limits struct {
	MaxFollowings int
	MaxPosts      int
	Concurrency   int
}

// RunRequest asks for one digest
type RunRequest struct {
	UserID             string
	Handle             string
	MaxFollowings      int
	MaxPostsPerAccount int
	Concurrency        int
	// Recipient receives the digest through the configured sink; empty skips delivery
	Recipient string
}

// RunResult describes a finished run
type RunResult struct {
	RunID     string
	Outcome   Outcome
	Source    models.Source
	Accounts  int
	Posts     int
	Artifact  string
	Degraded  int
	Admission ratelimit.Admission
	StartedAt time.Time
	Duration  time.Duration
}

// Options wires an Orchestrator. Gate, Resolver, Provider and Writer are required.
type Options struct {
	Gate     *ratelimit.Gate
	Resolver *Resolver
	Provider provider.Provider
	Writer   DigestWriter

	// Archive records sessions; with ArchivePosts it also keeps digest posts
	Archive      Archive
	ArchivePosts bool
	Sink         sink.Sink
	Publisher    *events.Publisher

	Defaults Limits
	Now      func() time.Time
	Logger   logger.Logger
}

// Orchestrator runs digest requests
type Orchestrator struct {
	gate         *ratelimit.Gate
	resolver     *Resolver
	provider     provider.Provider
	writer       DigestWriter
	archive      Archive
	archivePosts bool
	sink         sink.Sink
	publisher    *events.Publisher
	defaults     Limits
	now          func() time.Time
	logger       logger.Logger
}

// NewOrchestrator validates opts and builds an Orchestrator
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	var errs []error
	if opts.Gate == nil {
		errs = append(errs, errors.New("gate is required"))
	}
	if opts.Resolver == nil {
		errs = append(errs, errors.New("resolver is required"))
	}
	if opts.Provider == nil {
		errs = append(errs, errors.New("provider is required"))
	}
	if opts.Writer == nil {
		errs = append(errs, errors.New("digest writer is required"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	defaults := opts.Defaults
	if defaults.MaxFollowings <= 0 {
		defaults.MaxFollowings = DefaultMaxFollowings
	}
	if defaults.MaxPosts <= 0 {
		defaults.MaxPosts = DefaultMaxPosts
	}
	if defaults.Concurrency <= 0 {
		defaults.Concurrency = DefaultConcurrency
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		gate:         opts.Gate,
		resolver:     opts.Resolver,
		provider:     opts.Provider,
		writer:       opts.Writer,
		archive:      opts.Archive,
		archivePosts: opts.ArchivePosts,
		sink:         opts.Sink,
		publisher:    opts.Publisher,
		defaults:     defaults,
		now:          now,
		logger:       logger.OrGlobal(opts.Logger).WithField("component", "orchestrator"),
	}, nil
}

func (o *Orchestrator) limits(req RunRequest) Limits {
	l := Limits{
		MaxFollowings: req.MaxFollowings,
		MaxPosts:      req.MaxPostsPerAccount,
		Concurrency:   req.Concurrency,
	}
	if l.MaxFollowings <= 0 {
		l.MaxFollowings = o.defaults.MaxFollowings
	}
	if l.MaxPosts <= 0 {
		l.MaxPosts = o.defaults.MaxPosts
	}
	if l.Concurrency <= 0 {
		l.Concurrency = o.defaults.Concurrency
	}
	l.MaxFollowings = min(l.MaxFollowings, MaxFollowingsCeiling)
	l.MaxPosts = min(l.MaxPosts, MaxPostsCeiling)
	l.Concurrency = min(l.Concurrency, ConcurrencyCeiling)
	return l
}

// Run executes one request. Every terminal state is reported as an Outcome
// in the result. The error is non-nil when the digest could not be written
// (together with OutcomeDigestWriteFailed), when the request log is
// unavailable, or when ctx is done before the run finishes.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
	}
	limits := o.limits(req)
	handle := provider.NormalizeHandle(req.Handle)
	log := o.logger.WithFields(map[string]interface{}{
		"run_id":  result.RunID,
		"user_id": req.UserID,
		"handle":  handle,
	})

	adm, err := o.gate.Acquire(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("quota check failed: %w", err)
	}
	result.Admission = adm
	if !adm.Allowed {
		log.WithFields(map[string]interface{}{
			"used":      adm.Used,
			"threshold": adm.Threshold,
		}).Warn("Daily quota exhausted")
		result.Outcome = OutcomeQuotaExceeded
		o.finish(ctx, log, req, handle, result, 0)
		return result, nil
	}

	sessionID := o.startSession(ctx, log, req.UserID, handle)

	accounts, source, err := o.resolver.Resolve(ctx, handle, limits.MaxFollowings)
	if err != nil {
		o.abandon(ctx, log, sessionID, err)
		return nil, err
	}
	result.Source = source
	result.Accounts = len(accounts)
	if len(accounts) == 0 {
		result.Outcome = OutcomeNoAccounts
		o.finish(ctx, log, req, handle, result, sessionID)
		return result, nil
	}

	posts, degraded := o.collect(ctx, log, accounts, limits)
	result.Degraded = degraded
	if err := ctx.Err(); err != nil {
		o.abandon(ctx, log, sessionID, err)
		return nil, err
	}

	today := recency.Today(o.now(), posts)
	result.Posts = len(today)
	metrics.PostsCollected.Add(float64(len(today)))
	log.WithFields(map[string]interface{}{
		"fetched":  len(posts),
		"today":    len(today),
		"degraded": degraded,
	}).Debug("Posts collected")

	if len(today) == 0 {
		result.Outcome = OutcomeEmptyToday
		o.finish(ctx, log, req, handle, result, sessionID)
		return result, nil
	}

	o.archiveToday(ctx, log, accounts, today)

	path, err := o.writer.Write(today)
	if err != nil {
		log.WithError(err).Error("Failed to write digest")
		result.Outcome = OutcomeDigestWriteFailed
		o.finish(ctx, log, req, handle, result, sessionID)
		return result, fmt.Errorf("%w: %w", apperrors.ErrDigestWrite, err)
	}

	result.Artifact = path
	result.Outcome = OutcomeSuccess
	o.finish(ctx, log, req, handle, result, sessionID)
	return result, nil
}

// collect fetches posts for every account on a bounded pool and concatenates
// them in follow-set order, keeping each account's provider order
func (o *Orchestrator) collect(ctx context.Context, log logger.Logger, accounts []models.FollowedAccount, limits Limits) ([]models.Post, int) {
	results := fanout.Map(ctx, limits.Concurrency, accounts,
		func(ctx context.Context, acct models.FollowedAccount) provider.Result[models.Post] {
			metrics.FanoutInFlight.Inc()
			defer metrics.FanoutInFlight.Dec()
			return o.provider.FetchPosts(ctx, acct.Handle, limits.MaxPosts, time.Time{}, time.Time{})
		}, log)

	posts := make([]models.Post, 0)
	degraded := 0
	for i, res := range results {
		metrics.ObserveProviderCall("fetch_posts", res.Degraded())
		if res.Degraded() {
			degraded++
			log.WithError(res.Unavailable).WithField("account", accounts[i].Handle).Warn("Post fetch failed, treating as empty")
		}
		posts = append(posts, res.Items...)
	}
	return posts, degraded
}

func (o *Orchestrator) startSession(ctx context.Context, log logger.Logger, userID, handle string) int64 {
	if o.archive == nil {
		return 0
	}
	id, err := o.archive.StartSession(ctx, userID, 0, handle, o.now())
	if err != nil {
		log.WithError(err).Warn("Failed to start session")
		return 0
	}
	return id
}

func (o *Orchestrator) archiveToday(ctx context.Context, log logger.Logger, accounts []models.FollowedAccount, posts []models.Post) {
	if o.archive == nil || !o.archivePosts {
		return
	}

	ids, err := o.archive.BulkUpsertProfiles(ctx, accounts)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve profiles for post archive")
		return
	}
	idByHandle := make(map[string]int64, len(accounts))
	for i, acct := range accounts {
		idByHandle[acct.Handle] = ids[i]
	}

	byProfile := make(map[int64][]models.Post)
	for _, p := range posts {
		id, ok := idByHandle[p.Handle]
		if !ok {
			continue
		}
		byProfile[id] = append(byProfile[id], p)
	}

	archived := 0
	for id, batch := range byProfile {
		n, err := o.archive.AddPosts(ctx, id, batch)
		if err != nil {
			log.WithError(err).WithField("profile_id", id).Warn("Failed to archive posts")
			continue
		}
		archived += n
	}
	log.WithField("archived", archived).Debug("Posts archived")
}

// abandon closes the session of a run that ended with its context
func (o *Orchestrator) abandon(ctx context.Context, log logger.Logger, sessionID int64, cause error) {
	log.WithError(cause).Warn("Run cancelled")
	if sessionID == 0 {
		return
	}
	if err := o.archive.FinishSession(context.WithoutCancel(ctx), sessionID, sessionCancelled, o.now()); err != nil {
		log.WithError(err).Warn("Failed to finish session")
	}
}

// finish records the outcome everywhere it is reported. Failures here are
// logged and never change the result.
func (o *Orchestrator) finish(ctx context.Context, log logger.Logger, req RunRequest, handle string, result *RunResult, sessionID int64) {
	finished := o.now()
	result.Duration = finished.Sub(result.StartedAt)
	outcome := string(result.Outcome)

	metrics.ObserveRun(outcome, result.Duration)

	if sessionID != 0 {
		if err := o.archive.FinishSession(ctx, sessionID, outcome, finished); err != nil {
			log.WithError(err).Warn("Failed to finish session")
		}
	}

	if req.Recipient != "" {
		notice := sink.Notice{Outcome: outcome, Handle: handle, Artifact: result.Artifact}
		if err := sink.Deliver(ctx, o.sink, req.Recipient, notice); err != nil {
			log.WithError(err).Warn("Failed to deliver digest")
		}
	}

	err := o.publisher.PublishRunCompleted(ctx, events.RunCompleted{
		RunID:      result.RunID,
		UserID:     req.UserID,
		Handle:     handle,
		Outcome:    outcome,
		Source:     string(result.Source),
		Accounts:   result.Accounts,
		Posts:      result.Posts,
		Degraded:   result.Degraded,
		Artifact:   result.Artifact,
		StartedAt:  result.StartedAt,
		FinishedAt: finished,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to publish run event")
	}

	logger.LogRunOutcome(log, req.UserID, handle, outcome, map[string]interface{}{
		"source":   string(result.Source),
		"accounts": result.Accounts,
		"posts":    result.Posts,
		"degraded": result.Degraded,
		"artifact": result.Artifact,
		"duration": result.Duration,
	})
}
