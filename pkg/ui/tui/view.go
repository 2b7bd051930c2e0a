package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var columns = []struct {
	title string
	width int
}{
	{"FEED", 20},
	{"STATE", 26},
	{"ITER", 8},
	{"ADMITTED", 10},
	{"TOTAL", 10},
}

// View renders the dashboard
func (m Model) View() string {
	sections := []string{
		titleStyle.Render("feedharvest") + " " + m.spinner.View(),
		panelStyle.Render(m.renderJobs()),
		m.renderStats(),
	}
	if m.stopping && !m.finished {
		sections = append(sections, warningStyle.Render("Stopping, waiting for workers to save checkpoints..."))
	}
	if m.showHelp {
		sections = append(sections, helpStyle.Render("q / ctrl+c  stop the run\n?           toggle help"))
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderJobs renders one row per job
func (m Model) renderJobs() string {
	var b strings.Builder
	for _, c := range columns {
		b.WriteString(headerStyle.Width(c.width).Render(c.title))
	}
	if len(m.jobs) == 0 {
		b.WriteString("\n")
		b.WriteString(cellStyle.Render("waiting for workers..."))
		return b.String()
	}
	for _, j := range m.jobs {
		b.WriteString("\n")
		b.WriteString(cellStyle.Width(columns[0].width).Render(truncate(j.Feed, columns[0].width-1)))
		b.WriteString(StateStyle(j.State).Width(columns[1].width).Render(j.State))
		b.WriteString(cellStyle.Width(columns[2].width).Render(fmt.Sprint(j.Iterations)))
		b.WriteString(cellStyle.Width(columns[3].width).Render(fmt.Sprint(j.Admitted)))
		b.WriteString(cellStyle.Width(columns[4].width).Render(fmt.Sprint(j.Finalized)))
	}
	return b.String()
}

// renderStats renders the run totals
func (m Model) renderStats() string {
	admitted, finalized, active := m.totals()
	stat := func(label string, value interface{}) string {
		return statsLabelStyle.Render(label+": ") + statsValueStyle.Render(fmt.Sprint(value))
	}
	return strings.Join([]string{
		stat("Active", fmt.Sprintf("%d/%d", active, len(m.jobs))),
		stat("Admitted", admitted),
		stat("Total", finalized),
		stat("Elapsed", time.Since(m.started).Round(time.Second)),
	}, "  ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
