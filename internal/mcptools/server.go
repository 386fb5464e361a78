// Package mcptools exposes refresh runs as Model Context Protocol tools.
package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/therealityreport/trr-app-sub006/internal/service"
)

// version is set by the linker at build time.
var version = "dev"

// NewServer creates an MCP server with the refresh tools registered.
func NewServer(svc *service.Service) *mcp.Server {
	rs := NewRefreshService(svc)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "trr-refresh",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_refresh",
		Description: "Start a refresh run for a show or person using a named profile. Returns the run id and its current phases; set wait to block until it finishes.",
	}, rs.StartRefresh)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_run",
		Description: "Get the state, phases and status board of a refresh run.",
	}, rs.GetRun)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_run",
		Description: "Cancel a running refresh run. The current phase is abandoned and later phases never start.",
	}, rs.CancelRun)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_runs",
		Description: "List refresh runs, optionally filtered by profile or state, with pagination.",
	}, rs.ListRuns)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_profiles",
		Description: "List the configured refresh profiles and their phases.",
	}, rs.ListProfiles)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "classify_progress",
		Description: "Classify a progress entry into a status-board topic (shows, seasons, episodes, people, media, bravotv) and report whether it signals completion.",
	}, rs.ClassifyProgress)

	return server
}

// RunStdio serves server on stdio until stdin closes or ctx is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves server over streamable HTTP.
func HTTPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)
}
