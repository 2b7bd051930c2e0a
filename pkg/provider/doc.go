// Package provider implements feed content providers.
//
// HTTPFeed pages through a feed URL template, revealing one more page per
// Advance. Snapshot replays page sources saved to a directory, one file per
// Advance, which is how offline runs and most tests drive the collector.
// Both split pages into fragments with SplitHTML.
package provider
