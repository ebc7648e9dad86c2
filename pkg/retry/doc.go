// Package retry provides backoff and retry logic for calls to the scraping
// provider's HTTP API.
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return client.doRequest(ctx, method, path, query, body, target)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.NewErrorTypeBackoff(),
//		Logger:      log,
//	})
//
// Only typed errors from xdigest/pkg/errors whose type is network, rate_limit or
// server_error are retried by DefaultRetryIf. Rate limits use the longest delays.
package retry
