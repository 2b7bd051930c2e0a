// Package logger provides the structured logging interface used by every
// harvester component.
//
// It wraps zerolog with a small interface so components can attach fields
// (feed, component, iteration) without depending on zerolog directly, and so
// tests can swap in TestLogger or the no-op logger.
//
// Output goes to stdout as coloured console lines when stdout is a terminal
// and as JSON lines otherwise; the logging.format setting overrides the
// detection. A log file, when configured, always receives JSON. All writes
// are serialised through zerolog.SyncWriter so lines from concurrent workers
// never interleave.
//
// Basic usage:
//
//	log, err := logger.New(&cfg.Logging)
//	if err != nil {
//	    return err
//	}
//	jobLog := log.WithField("feed", "FibeIndia")
//	jobLog.InfoWithFields("Job started", map[string]interface{}{
//	    "start": "2023-10-24",
//	    "end":   "2024-10-24",
//	})
//
// Testing:
//
//	tl := logger.NewTestLogger()
//	runSomething(tl)
//	if !tl.HasMessage("Job finished") { ... }
package logger
