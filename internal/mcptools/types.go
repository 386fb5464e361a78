package mcptools

import (
	"time"

	"github.com/therealityreport/trr-app-sub006/internal/runstore"
)

// StartRefreshInput is the input for the start_refresh MCP tool.
type StartRefreshInput struct {
	Profile string `json:"profile" jsonschema:"refresh profile name, see list_profiles"`
	Target  string `json:"target" jsonschema:"id of the show or person to refresh"`
	Wait    bool   `json:"wait,omitempty" jsonschema:"block until the run finishes and return its final state"`
}

// RunIDInput identifies one run.
type RunIDInput struct {
	ID string `json:"id" jsonschema:"run id returned by start_refresh"`
}

// ListRunsInput is the input for the list_runs MCP tool.
type ListRunsInput struct {
	Profile   string `json:"profile,omitempty" jsonschema:"only runs of this profile"`
	State     string `json:"state,omitempty" jsonschema:"only runs in this state: running, succeeded, failed, timed_out, cancelled"`
	PageSize  int    `json:"pageSize,omitempty" jsonschema:"maximum runs per page (default: all)"`
	PageToken string `json:"pageToken,omitempty" jsonschema:"nextPageToken of the previous page"`
}

// ListProfilesInput is the (empty) input for the list_profiles MCP tool.
type ListProfilesInput struct{}

// ClassifyProgressInput is one progress entry to classify.
type ClassifyProgressInput struct {
	Topic    string `json:"topic,omitempty" jsonschema:"explicit topic token, if the entry carries one"`
	Category string `json:"category,omitempty" jsonschema:"free-text category of the entry"`
	StageKey string `json:"stageKey,omitempty" jsonschema:"backend stage key"`
	Message  string `json:"message,omitempty" jsonschema:"progress message"`
	Current  *int   `json:"current,omitempty" jsonschema:"items processed so far"`
	Total    *int   `json:"total,omitempty" jsonschema:"items expected"`
}

// PhaseSummary is one phase of a run as reported over MCP.
type PhaseSummary struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RowSummary is one status-board row.
type RowSummary struct {
	Topic   string `json:"topic"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// RunOutput describes a run.
type RunOutput struct {
	ID         string         `json:"id"`
	Profile    string         `json:"profile"`
	Target     string         `json:"target"`
	State      string         `json:"state"`
	CreatedAt  string         `json:"createdAt"`
	FinishedAt string         `json:"finishedAt,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"errorKind,omitempty"`
	Phases     []PhaseSummary `json:"phases"`
	Board      []RowSummary   `json:"board"`
}

// ListRunsOutput is the result of the list_runs MCP tool.
type ListRunsOutput struct {
	Runs          []RunOutput `json:"runs"`
	TotalSize     int         `json:"totalSize"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

// CancelRunOutput is the result of the cancel_run MCP tool.
type CancelRunOutput struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// ProfileOutput describes one refresh profile.
type ProfileOutput struct {
	Name   string   `json:"name"`
	Label  string   `json:"label,omitempty"`
	Phases []string `json:"phases"`
}

// ListProfilesOutput is the result of the list_profiles MCP tool.
type ListProfilesOutput struct {
	Profiles []ProfileOutput `json:"profiles"`
}

// ClassifyProgressOutput is the result of the classify_progress MCP tool.
type ClassifyProgressOutput struct {
	Topic      string `json:"topic,omitempty"`
	Classified bool   `json:"classified"`
	Source     string `json:"source,omitempty"`
	Terminal   bool   `json:"terminal"`
}

func runOutput(r *runstore.Record) RunOutput {
	out := RunOutput{
		ID:        r.ID,
		Profile:   r.Profile,
		Target:    r.Target,
		State:     string(r.State),
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		Error:     r.Error,
		ErrorKind: string(r.ErrorKind),
		Phases:    make([]PhaseSummary, 0, len(r.Snapshot.Phases)),
		Board:     make([]RowSummary, 0, len(r.Rows)),
	}
	if r.FinishedAt != nil {
		out.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	for _, ph := range r.Snapshot.Phases {
		s := PhaseSummary{ID: ph.ID, Label: ph.Label, Status: string(ph.Status), Error: ph.Error}
		if ph.Progress.Message != nil {
			s.Message = *ph.Progress.Message
		}
		if ph.Progress.Current != nil {
			s.Current = *ph.Progress.Current
		}
		if ph.Progress.Total != nil {
			s.Total = *ph.Progress.Total
		}
		out.Phases = append(out.Phases, s)
	}
	for _, row := range r.Rows {
		out.Board = append(out.Board, RowSummary{Topic: string(row.Topic), State: string(row.State), Message: row.Message})
	}
	return out
}
