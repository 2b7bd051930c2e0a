// Package metrics exports harvest progress to Prometheus and serves a
// small status endpoint next to it.
package metrics
