// Package collector implements the scroll-driven collection loop for one
// feed.
//
// A collector moves through these states:
//
//	awaiting_initial_content -> collecting <-> advancing -> ... -> stopped
//	                                 \-> checkpointing (every N iterations and on stop)
//
// Each iteration reads the fragments the provider currently shows, extracts
// a post from each, drops posts outside the date window, admits unseen
// identities and appends them to the sink. It then advances the feed and
// waits for it to settle. The loop ends when:
//
//   - the content size stayed the same and nothing was admitted for
//     StagnationLimit consecutive advances (stagnation)
//   - a post older than the window start was seen and EarlyExit is on
//   - the job's iteration budget ran out
//   - the context was cancelled (stop requested)
//   - the provider failed twice in a row, or never produced extractable
//     content within InitTimeout
//
// Extraction, date parsing, sink and checkpoint failures are counted and
// logged but never stop the loop. A final checkpoint is attempted on every
// exit path.
package collector
