// Package ratelimit paces outbound page fetches and feed advances.
//
// Two implementations are provided. TokenBucket refills to full capacity
// once per period and suits bursty work such as advancing a feed.
// SlidingWindow counts requests in a moving window and is used for HTTP
// fetches shared by all workers.
//
// Wait takes a context so that a stop request interrupts a blocked caller:
//
//	limiter := ratelimit.PerMinute(60)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // stop requested
//	}
package ratelimit
