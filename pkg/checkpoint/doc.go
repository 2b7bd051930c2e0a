// Package checkpoint persists the progress of a harvest job so an
// interrupted run can resume without re-emitting records.
//
// A checkpoint holds the set of identities the job has admitted and the
// number of records it has finalized:
//
//	{
//	  "version": 1,
//	  "feed": "FibeIndia",
//	  "seenIdentities": ["id:1843...", "h:9f2c..."],
//	  "finalizedCount": 412,
//	  "savedAt": "2024-10-09T18:22:05Z"
//	}
//
// Saves go through a temporary file in the same directory followed by an
// fsync and a rename, so a crash leaves either the old or the new file.
// A file that exists but cannot be decoded is never rewritten; Load reports
// it as corrupt_checkpoint and the operator decides what to do with it
// (see `feedharvest checkpoint show|clear`).
//
// Default locations:
//   - Linux: $XDG_DATA_HOME/feedharvest/checkpoints/ (~/.local/share/...)
//   - macOS: ~/Library/Application Support/feedharvest/checkpoints/
//   - Windows: %APPDATA%/feedharvest/checkpoints/
package checkpoint
