// Package sink writes finalized records.
//
// File sinks (CSV, JSON lines) are opened per job. Database sinks share one
// connection per database and tag every row with its feed; duplicates are
// ignored by the database itself, so a record replayed after a crash never
// produces a second row.
package sink
