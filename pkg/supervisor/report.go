package supervisor

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"feedharvest/pkg/collector"
	errs "feedharvest/pkg/errors"
)

// JobReport is the outcome of one job
type JobReport struct {
	Feed       string               `json:"feed"`
	Reason     collector.StopReason `json:"reason"`
	ErrorKind  errs.Kind            `json:"error_kind,omitempty"`
	Error      string               `json:"error,omitempty"`
	Admitted   int                  `json:"admitted"`
	Finalized  int                  `json:"finalized"`
	Iterations int                  `json:"iterations"`
	Stats      collector.Stats      `json:"stats"`
	Duration   time.Duration        `json:"duration"`
}

// Failed reports whether the job ended on a fatal error
func (j JobReport) Failed() bool {
	return j.Reason.Failed()
}

// Report summarizes a harvest run
type Report struct {
	RunID       string      `json:"run_id"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Interrupted bool        `json:"interrupted"`
	Jobs        []JobReport `json:"jobs"`
}

func jobReport(res collector.Result) JobReport {
	jr := JobReport{
		Feed:       res.Feed,
		Reason:     res.Reason,
		Admitted:   res.Admitted,
		Finalized:  res.Finalized,
		Iterations: res.Iterations,
		Stats:      res.Stats,
		Duration:   res.Duration,
	}
	if res.Err != nil {
		jr.ErrorKind = errs.KindOf(res.Err)
		jr.Error = res.Err.Error()
	}
	return jr
}

// Failed counts the jobs that ended on a fatal error
func (r *Report) Failed() int {
	n := 0
	for _, j := range r.Jobs {
		if j.Failed() {
			n++
		}
	}
	return n
}

// Admitted counts records admitted across all jobs in this run
func (r *Report) Admitted() int {
	n := 0
	for _, j := range r.Jobs {
		n += j.Admitted
	}
	return n
}

// Render writes the report as a table
func (r *Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Run %s", r.RunID)
	t.AppendHeader(table.Row{"Feed", "Stopped", "Admitted", "Finalized", "Iterations", "Duration", "Error"})

	finalized := 0
	for _, j := range r.Jobs {
		finalized += j.Finalized
		errText := ""
		if j.Error != "" {
			errText = fmt.Sprintf("[%s] %s", j.ErrorKind, j.Error)
		}
		t.AppendRow(table.Row{
			j.Feed,
			string(j.Reason),
			j.Admitted,
			j.Finalized,
			j.Iterations,
			j.Duration.Round(time.Millisecond),
			errText,
		})
	}

	status := fmt.Sprintf("%d failed", r.Failed())
	if r.Interrupted {
		status += ", interrupted"
	}
	t.AppendFooter(table.Row{"Total", status, r.Admitted(), finalized, "", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), ""})
	t.Render()
}
