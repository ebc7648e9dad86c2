package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"xdigest/internal/events"
	"xdigest/internal/metrics"
	"xdigest/internal/store"
	"xdigest/pkg/apify"
	"xdigest/pkg/auth"
	"xdigest/pkg/config"
	"xdigest/pkg/digest"
	"xdigest/pkg/logger"
	"xdigest/pkg/provider"
	"xdigest/pkg/ratelimit"
	"xdigest/pkg/retry"
	"xdigest/pkg/scraper"
	"xdigest/pkg/sink"
)

// tokenSource returns the stored token for a service, or ""
type tokenSource func(service string) string

// app holds every wired component of one process
type app struct {
	cfg          *config.Config
	store        *store.Store
	gate         *ratelimit.Gate
	writer       *digest.Writer
	orchestrator *scraper.Orchestrator
	publisher    *events.Publisher
	logger       logger.Logger

	closers []func() error
}

// managerTokens reads tokens through the credential manager
func managerTokens() (tokenSource, error) {
	manager, err := auth.NewManager("")
	if err != nil {
		return nil, err
	}
	return manager.Token, nil
}

func newApp(ctx context.Context, cfg *config.Config, tokens tokenSource, log logger.Logger) (*app, error) {
	log = logger.OrGlobal(log)
	a := &app{cfg: cfg, logger: log}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, log)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	requestLog, err := a.requestLog(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gate = ratelimit.NewGate(requestLog, cfg.Quota.DailyLimit)

	writer, err := digest.NewWriter(cfg.Digest.Directory)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.writer = writer

	apifyToken := cfg.Apify.Token
	if apifyToken == "" {
		apifyToken = tokens(auth.ServiceApify)
	}
	if apifyToken == "" {
		a.Close()
		return nil, fmt.Errorf("no apify token: run 'xdigest auth set apify' or set %s", auth.EnvVar(auth.ServiceApify))
	}

	client := apify.NewClient(apify.Options{
		BaseURL:        cfg.Apify.BaseURL,
		Token:          apifyToken,
		RequestTimeout: cfg.Apify.RequestTimeout,
		WaitForFinish:  cfg.Apify.WaitForFinish,
		RunTimeout:     cfg.Apify.RunTimeout,
		Limiter:        ratelimit.NewTokenBucket(cfg.Apify.RequestsPerSec, cfg.Apify.Burst),
		Retry:          retryConfig(cfg.Apify, log),
		Logger:         log,
	})
	prov := provider.NewApify(client,
		provider.WithActors(cfg.Apify.FollowingActor, cfg.Apify.PostsActor),
		provider.WithTimeout(cfg.Orchestrator.FetchTimeout),
		provider.WithLogger(log),
	)

	out, err := newSink(cfg.Sink, tokens, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	if len(cfg.Events.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
		}, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	orch, err := scraper.NewOrchestrator(scraper.Options{
		Gate:         a.gate,
		Resolver:     scraper.NewResolver(st, prov, cfg.Orchestrator.MaxFollowings, log),
		Provider:     prov,
		Writer:       writer,
		Archive:      st,
		ArchivePosts: cfg.Store.ArchivePosts,
		Sink:         out,
		Publisher:    a.publisher,
		Defaults: scraper.Limits{
			MaxFollowings: cfg.Orchestrator.MaxFollowings,
			MaxPosts:      cfg.Orchestrator.MaxPosts,
			Concurrency:   cfg.Orchestrator.Concurrency,
		},
		Logger: log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orchestrator = orch

	return a, nil
}

func (a *app) requestLog(ctx context.Context) (ratelimit.RequestLog, error) {
	if a.cfg.Quota.Backend != "redis" {
		return a.store, nil
	}

	client, err := ratelimit.NewRedisClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return ratelimit.NewRedisRequestLog(client), nil
}

// retryConfig keeps the long rate-limit cool-downs of the error-type backoff
// and uses the configured delay for everything else
func retryConfig(cfg config.ApifyConfig, log logger.Logger) *retry.Config {
	backoff := retry.NewErrorTypeBackoff()
	backoff.DefaultBackoff = &retry.ExponentialBackoff{
		BaseDelay:    cfg.RetryDelay,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		JitterFactor: 0.1,
	}

	return &retry.Config{
		MaxAttempts: cfg.MaxRetries + 1,
		Backoff:     backoff,
		RetryIf: retry.DefaultRetryIf,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.IncAPIRetry()
		},
		Logger: log,
	}
}

// newSink selects the delivery channel. Discord and Telegram need a bot token.
func newSink(cfg config.SinkConfig, tokens tokenSource, log logger.Logger) (sink.Sink, error) {
	switch cfg.Type {
	case "discord":
		token := tokens(auth.ServiceDiscord)
		if token == "" {
			return nil, fmt.Errorf("discord sink needs a bot token: run 'xdigest auth set discord'")
		}
		return sink.NewDiscordSink(token, log)
	case "telegram":
		token := tokens(auth.ServiceTelegram)
		if token == "" {
			return nil, fmt.Errorf("telegram sink needs a bot token: run 'xdigest auth set telegram'")
		}
		return sink.NewTelegramSink(cfg.TelegramAPI, token, &http.Client{Timeout: 60 * time.Second}, log)
	case "log", "":
		return sink.NewLogSink(log), nil
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Type)
	}
}

// Close releases every component in reverse order of creation
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
