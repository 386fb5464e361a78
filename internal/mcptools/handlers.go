package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"

	"github.com/therealityreport/trr-app-sub006/internal/progress"
	"github.com/therealityreport/trr-app-sub006/internal/runstore"
	"github.com/therealityreport/trr-app-sub006/internal/service"
)

// RefreshService handles MCP tool calls by delegating to a service.Service.
type RefreshService struct {
	svc *service.Service
}

// NewRefreshService creates a RefreshService.
func NewRefreshService(svc *service.Service) *RefreshService {
	return &RefreshService{svc: svc}
}

// StartRefresh launches a run. With Wait set it returns the finished run.
func (s *RefreshService) StartRefresh(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StartRefreshInput,
) (*mcp.CallToolResult, RunOutput, error) {
	id, err := s.svc.Start(ctx, input.Profile, input.Target)
	if err != nil {
		return nil, RunOutput{}, err
	}

	var rec *runstore.Record
	if input.Wait {
		rec, err = s.svc.Wait(ctx, id)
	} else {
		rec, err = s.svc.Get(id)
	}
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("run %s: %w", id, err)
	}
	return nil, runOutput(rec), nil
}

// GetRun reports the current state of a run.
func (s *RefreshService) GetRun(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input RunIDInput,
) (*mcp.CallToolResult, RunOutput, error) {
	rec, err := s.svc.Get(input.ID)
	if err != nil {
		return nil, RunOutput{}, err
	}
	return nil, runOutput(rec), nil
}

// CancelRun stops a running run.
func (s *RefreshService) CancelRun(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input RunIDInput,
) (*mcp.CallToolResult, CancelRunOutput, error) {
	if err := s.svc.Cancel(input.ID); err != nil {
		return nil, CancelRunOutput{ID: input.ID}, err
	}
	return nil, CancelRunOutput{ID: input.ID, Cancelled: true}, nil
}

// ListRuns pages through known runs.
func (s *RefreshService) ListRuns(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ListRunsInput,
) (*mcp.CallToolResult, ListRunsOutput, error) {
	page, err := s.svc.List(runstore.Filter{
		Profile:   input.Profile,
		State:     runstore.State(input.State),
		PageSize:  input.PageSize,
		PageToken: input.PageToken,
	})
	if err != nil {
		return nil, ListRunsOutput{}, err
	}
	return nil, ListRunsOutput{
		Runs:          lo.Map(page.Runs, func(r runstore.Record, _ int) RunOutput { return runOutput(&r) }),
		TotalSize:     page.TotalSize,
		NextPageToken: page.NextPageToken,
	}, nil
}

// ListProfiles lists the configured refresh profiles.
func (s *RefreshService) ListProfiles(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ ListProfilesInput,
) (*mcp.CallToolResult, ListProfilesOutput, error) {
	profiles := lo.Map(s.svc.Profiles(), func(p service.ProfileInfo, _ int) ProfileOutput {
		return ProfileOutput{Name: p.Name, Label: p.Label, Phases: p.Phases}
	})
	return nil, ListProfilesOutput{Profiles: profiles}, nil
}

// ClassifyProgress maps one progress entry to its status-board topic.
func (s *RefreshService) ClassifyProgress(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ClassifyProgressInput,
) (*mcp.CallToolResult, ClassifyProgressOutput, error) {
	e := progress.Entry{
		Topic:    input.Topic,
		Category: input.Category,
		StageKey: input.StageKey,
		Message:  input.Message,
		Current:  input.Current,
		Total:    input.Total,
	}
	topic, src := progress.Explain(e)
	return nil, ClassifyProgressOutput{
		Topic:      string(topic),
		Classified: src != progress.SourceNone,
		Source:     string(src),
		Terminal:   progress.IsTerminalSuccess(e),
	}, nil
}
