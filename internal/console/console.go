// Package console renders refresh runs for a terminal.
package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/therealityreport/trr-app-sub006/internal/progress"
	"github.com/therealityreport/trr-app-sub006/internal/refresh"
	"github.com/therealityreport/trr-app-sub006/internal/runstore"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	busyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Renderer formats phases, snapshots and status boards. A plain Renderer
// emits no styling and is what tests and non-terminal output use.
type Renderer struct {
	plain bool
}

// New returns a Renderer. plain disables all styling.
func New(plain bool) *Renderer {
	return &Renderer{plain: plain}
}

func (r *Renderer) paint(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}

// FormatPhase renders one phase as a status line.
func (r *Renderer) FormatPhase(ph refresh.PhaseState) string {
	label := ph.Label
	if label == "" {
		label = ph.ID
	}
	msg := ""
	if ph.Progress.Message != nil {
		msg = *ph.Progress.Message
	}

	switch ph.Status {
	case refresh.StatusPending:
		return fmt.Sprintf("  %s %s (pending)", r.paint(mutedStyle, "○"), label)
	case refresh.StatusRunning:
		line := fmt.Sprintf("  %s %s...", r.paint(busyStyle, "●"), label)
		if c := counts(ph.Progress.Current, ph.Progress.Total); c != "" {
			line += " " + c
		}
		if msg != "" {
			line += " " + r.paint(mutedStyle, msg)
		}
		return line
	case refresh.StatusCompleted:
		return fmt.Sprintf("  %s %s complete", r.paint(okStyle, "✓"), label)
	case refresh.StatusSkipped:
		if msg == "" {
			return fmt.Sprintf("  %s %s skipped", r.paint(mutedStyle, "↷"), label)
		}
		return fmt.Sprintf("  %s %s skipped: %s", r.paint(mutedStyle, "↷"), label, msg)
	case refresh.StatusFailed, refresh.StatusTimedOut:
		reason := ph.Error
		if reason == "" {
			reason = label + " " + strings.ReplaceAll(string(ph.Status), "_", " ")
		}
		return fmt.Sprintf("  %s %s", r.paint(errorStyle, "✗"), reason)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", label)
	}
}

// RenderSnapshot renders every phase of snap, one per line.
func (r *Renderer) RenderSnapshot(snap refresh.Snapshot) string {
	lines := make([]string, len(snap.Phases))
	for i, ph := range snap.Phases {
		lines[i] = r.FormatPhase(ph)
	}
	return strings.Join(lines, "\n")
}

// RenderBoard renders status-board rows, one topic per line.
func (r *Renderer) RenderBoard(rows []progress.Row) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, row := range rows {
		width = max(width, len(row.Topic))
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, r.paint(titleStyle, "Status"))
	for _, row := range rows {
		var glyph string
		switch row.State {
		case progress.RowDone:
			glyph = r.paint(okStyle, "✓")
		case progress.RowSkipped:
			glyph = r.paint(mutedStyle, "↷")
		case progress.RowFailed:
			glyph = r.paint(errorStyle, "✗")
		default:
			glyph = r.paint(busyStyle, "●")
		}
		line := fmt.Sprintf("  %s %-*s  %s", glyph, width, row.Topic, row.Message)
		if c := counts(row.Current, row.Total); c != "" {
			line += " " + c
		}
		lines = append(lines, strings.TrimRight(line, " "))
	}

	out := strings.Join(lines, "\n")
	if r.plain {
		return out
	}
	return panelStyle.Render(out)
}

// RenderSummary renders the one-line outcome of a finished run.
func (r *Renderer) RenderSummary(rec *runstore.Record) string {
	head := fmt.Sprintf("%s %s", rec.Profile, rec.Target)
	switch rec.State {
	case runstore.StateSucceeded:
		return fmt.Sprintf("%s %s", r.paint(okStyle, "✓"), head+" refreshed")
	case runstore.StateRunning:
		return fmt.Sprintf("%s %s", r.paint(busyStyle, "●"), head+" running")
	default:
		return fmt.Sprintf("%s %s %s: %s", r.paint(errorStyle, "✗"), head, strings.ReplaceAll(string(rec.State), "_", " "), rec.Error)
	}
}

func counts(current, total *int) string {
	switch {
	case current != nil && total != nil:
		return fmt.Sprintf("(%d/%d)", *current, *total)
	case current != nil:
		return fmt.Sprintf("(%d)", *current)
	}
	return ""
}

// Follower turns a stream of snapshots into status lines for the phases
// that changed since the previous snapshot.
type Follower struct {
	r    *Renderer
	last map[string]string
}

// NewFollower creates a Follower printing with r.
func NewFollower(r *Renderer) *Follower {
	return &Follower{r: r, last: make(map[string]string)}
}

// Lines returns the lines that differ from what was last shown for each
// phase.
func (f *Follower) Lines(snap refresh.Snapshot) []string {
	var out []string
	for _, ph := range snap.Phases {
		line := f.r.FormatPhase(ph)
		if f.last[ph.ID] == line {
			continue
		}
		f.last[ph.ID] = line
		out = append(out, line)
	}
	return out
}
