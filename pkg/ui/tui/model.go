package tui

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"

	"feedharvest/pkg/supervisor"
)

// StatusSource reports live job progress; *supervisor.Supervisor
// satisfies it
type StatusSource interface {
	Statuses() []supervisor.JobStatus
}

// Model is the dashboard state: the last job snapshot plus UI state
type Model struct {
	source StatusSource
	onStop func()

	spinner  spinner.Model
	jobs     []supervisor.JobStatus
	started  time.Time
	width    int
	height   int
	showHelp bool

	stopping bool
	finished bool
	stopOnce *sync.Once
}

// NewModel creates a dashboard polling source. onStop is called once when
// the user asks to stop the run.
func NewModel(source StatusSource, onStop func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return Model{
		source:   source,
		onStop:   onStop,
		spinner:  s,
		started:  time.Now(),
		stopOnce: &sync.Once{},
	}
}

// refresh takes a new snapshot from the source
func (m *Model) refresh() {
	if m.source == nil {
		return
	}
	m.jobs = m.source.Statuses()
}

// requestStop asks the run to stop; the dashboard stays up until Done
func (m *Model) requestStop() {
	m.stopping = true
	m.stopOnce.Do(func() {
		if m.onStop != nil {
			m.onStop()
		}
	})
}

// totals sums progress over every job
func (m Model) totals() (admitted, finalized, active int) {
	for _, j := range m.jobs {
		admitted += j.Admitted
		finalized += j.Finalized
		if j.State != "stopped" && j.State != "idle" {
			active++
		}
	}
	return admitted, finalized, active
}
