// Package retry provides backoff and retry helpers for transient failures:
// page fetches, media downloads and provider calls.
//
// Every wait goes through Wait, which returns as soon as the context is done,
// so a stop request never has to sit out a backoff delay.
//
// Basic usage:
//
//	err := retry.Do(func() error {
//		return client.Get(ctx, url)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.DefaultExponentialBackoff(),
//		Context:     ctx,
//		Logger:      log,
//	})
//
// Errors wrapped with Permanent, context errors and harvest errors of a fatal
// kind are returned immediately without further attempts.
package retry
