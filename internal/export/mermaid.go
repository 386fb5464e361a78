// Package export renders refresh runs in external formats.
package export

import (
	"fmt"
	"strings"

	"github.com/therealityreport/trr-app-sub006/internal/refresh"
	"github.com/therealityreport/trr-app-sub006/internal/runstore"
)

// statusClasses styles phase nodes by status.
var statusClasses = []struct {
	status refresh.Status
	style  string
}{
	{refresh.StatusPending, "fill:#eee,stroke:#999,color:#666"},
	{refresh.StatusRunning, "fill:#fff3cd,stroke:#d39e00"},
	{refresh.StatusCompleted, "fill:#d4edda,stroke:#28a745"},
	{refresh.StatusSkipped, "fill:#e2e3e5,stroke:#6c757d"},
	{refresh.StatusFailed, "fill:#f8d7da,stroke:#dc3545"},
	{refresh.StatusTimedOut, "fill:#f8d7da,stroke:#dc3545,stroke-dasharray:4"},
}

// Mermaid produces a Mermaid graph LR diagram of rec's phases in run
// order, each node labelled with its status and classed for styling.
func Mermaid(rec *runstore.Record) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	title := fmt.Sprintf("%s %s: %s", rec.Profile, rec.Target, rec.State)
	sb.WriteString(fmt.Sprintf("  %%%% %s\n", title))

	phases := rec.Snapshot.Phases
	for i, ph := range phases {
		label := ph.Label
		if label == "" {
			label = ph.ID
		}
		sb.WriteString(fmt.Sprintf("  P%d[\"%s<br/>%s\"]:::%s\n", i, escape(label), ph.Status, ph.Status))
	}
	for i := 1; i < len(phases); i++ {
		sb.WriteString(fmt.Sprintf("  P%d --> P%d\n", i-1, i))
	}
	for _, c := range statusClasses {
		sb.WriteString(fmt.Sprintf("  classDef %s %s\n", c.status, c.style))
	}
	return sb.String()
}

// escape keeps labels from breaking out of a quoted Mermaid node.
func escape(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "\n", " ").Replace(s)
}
