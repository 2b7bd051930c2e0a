// Package supervisor runs one worker per feed and collects a report.
//
// Workers run concurrently and never share collector state. When the
// context passed to Run is cancelled the supervisor asks every worker to
// stop and waits for all of them, so each one writes its final checkpoint
// before Run returns.
package supervisor
