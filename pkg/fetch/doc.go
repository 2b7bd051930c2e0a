// Package fetch is the HTTP client shared by the feed provider and the
// media downloader. Requests are paced by an optional limiter and retried
// on network errors and retryable statuses.
package fetch
