package collector

import (
	"time"

	errs "feedharvest/pkg/errors"
)

// State is the collector's position in its lifecycle
type State int32

const (
	StateIdle State = iota
	StateAwaitingInitialContent
	StateCollecting
	StateAdvancing
	StateCheckpointing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInitialContent:
		return "awaiting_initial_content"
	case StateCollecting:
		return "collecting"
	case StateAdvancing:
		return "advancing"
	case StateCheckpointing:
		return "checkpointing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason says why a job stopped
type StopReason string

const (
	ReasonNone                  StopReason = ""
	ReasonStagnation            StopReason = "stagnation"
	ReasonOlderThanStart        StopReason = "older_than_start"
	ReasonBudgetExhausted       StopReason = "budget_exhausted"
	ReasonStopRequested         StopReason = "stop_requested"
	ReasonInitializationTimeout StopReason = "initialization_timeout"
	ReasonProviderError         StopReason = "provider_error"
	ReasonCorruptCheckpoint     StopReason = "corrupt_checkpoint"
	ReasonAcquireError          StopReason = "acquire_error"
)

// Failed reports whether the reason ends a job with a fatal error
func (r StopReason) Failed() bool {
	switch r {
	case ReasonInitializationTimeout, ReasonProviderError, ReasonCorruptCheckpoint, ReasonAcquireError:
		return true
	}
	return false
}

// ReasonForKind maps a fatal error kind to the stop reason it causes
func ReasonForKind(kind errs.Kind) StopReason {
	switch kind {
	case errs.KindInitializationTimeout:
		return ReasonInitializationTimeout
	case errs.KindCorruptCheckpoint:
		return ReasonCorruptCheckpoint
	case errs.KindAcquireError:
		return ReasonAcquireError
	default:
		return ReasonProviderError
	}
}

// Stats counts what happened to fragments during one run
type Stats struct {
	Fragments         int `json:"fragments"`
	Duplicates        int `json:"duplicates"`
	OutOfWindow       int `json:"out_of_window"`
	Excluded          int `json:"excluded"`
	ExtractionErrors  int `json:"extraction_errors"`
	FilterParseErrors int `json:"filter_parse_errors"`
	SinkErrors        int `json:"sink_errors"`
	Checkpoints       int `json:"checkpoints"`
	CheckpointErrors  int `json:"checkpoint_errors"`
}

// Result is the outcome of one collector run
type Result struct {
	Feed       string
	Reason     StopReason
	Admitted   int // records admitted during this run
	Finalized  int // records finalized over the job's lifetime
	Iterations int
	Stats      Stats
	Err        error
	Duration   time.Duration
}

// Progress is a point-in-time view of a running collector
type Progress struct {
	State      State `json:"-"`
	Iterations int   `json:"iterations"`
	Admitted   int   `json:"admitted"`
	Finalized  int   `json:"finalized"`
}
