package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reeldraft/reeldraft/internal/reanalysis"
	"github.com/reeldraft/reeldraft/internal/recommend"
	"github.com/reeldraft/reeldraft/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Applicator *recommend.Applicator
	Jobs       *reanalysis.Manager
}

// NewMCPServer creates an MCP server with all reeldraft script tools
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"reeldraft",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("reeldraft — script version history, AI recommendations and reanalysis for content projects."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_versions",
			mcp.WithDescription("List a project's script versions, newest first."),
			mcp.WithString("project_id", mcp.Description("Project identifier"), mcp.Required()),
		),
		mcpListVersions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_current_version",
			mcp.WithDescription("Return the project's current script version with scenes and analysis metadata."),
			mcp.WithString("project_id", mcp.Description("Project identifier"), mcp.Required()),
		),
		mcpCurrentVersion(deps),
	)

	s.AddTool(
		mcp.NewTool("list_recommendations",
			mcp.WithDescription("List the scene recommendations attached to a script version."),
			mcp.WithString("version_id", mcp.Description("Script version identifier"), mcp.Required()),
		),
		mcpListRecommendations(deps),
	)

	s.AddTool(
		mcp.NewTool("apply_recommendation",
			mcp.WithDescription("Apply one scene recommendation, creating a new script version."),
			mcp.WithString("version_id", mcp.Description("Version the recommendation belongs to"), mcp.Required()),
			mcp.WithString("recommendation_id", mcp.Description("Recommendation to apply"), mcp.Required()),
		),
		mcpApplyRecommendation(deps),
	)

	s.AddTool(
		mcp.NewTool("apply_all_recommendations",
			mcp.WithDescription("Apply every unapplied recommendation on the project's current version as one new version."),
			mcp.WithString("project_id", mcp.Description("Project identifier"), mcp.Required()),
		),
		mcpApplyAll(deps),
	)

	s.AddTool(
		mcp.NewTool("revert_to_version",
			mcp.WithDescription("Restore an older version's scenes as a new current version."),
			mcp.WithString("project_id", mcp.Description("Project identifier"), mcp.Required()),
			mcp.WithString("version_id", mcp.Description("Version to restore"), mcp.Required()),
		),
		mcpRevert(deps),
	)

	s.AddTool(
		mcp.NewTool("start_reanalysis",
			mcp.WithDescription("Start an asynchronous reanalysis job for the project's current version."),
			mcp.WithString("project_id", mcp.Description("Project identifier"), mcp.Required()),
			mcp.WithString("idempotency_key", mcp.Description("Optional key making repeated starts map to one job")),
		),
		mcpStartReanalysis(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Poll a reanalysis job's status and progress."),
			mcp.WithString("project_id", mcp.Description("Project identifier"), mcp.Required()),
			mcp.WithString("job_id", mcp.Description("Job identifier"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("choose_candidate",
			mcp.WithDescription("Resolve a pending candidate version: keep \"candidate\" to promote it, \"base\" to discard it."),
			mcp.WithString("project_id", mcp.Description("Project identifier"), mcp.Required()),
			mcp.WithString("keep", mcp.Description("Either \"base\" or \"candidate\""), mcp.Required()),
		),
		mcpChooseCandidate(deps),
	)

	return s
}

func mcpListVersions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		versions, err := deps.Store.ListVersions(projectID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list versions: %v", err)), nil
		}

		type versionSummary struct {
			ID            string  `json:"id"`
			VersionNumber int     `json:"version_number"`
			CreatedBy     string  `json:"created_by"`
			IsCurrent     bool    `json:"is_current"`
			IsCandidate   bool    `json:"is_candidate"`
			AnalysisScore float64 `json:"analysis_score"`
			Scenes        int     `json:"scenes"`
			CreatedAt     string  `json:"created_at"`
		}

		summaries := make([]versionSummary, len(versions))
		for i, v := range versions {
			summaries[i] = versionSummary{
				ID:            v.ID,
				VersionNumber: v.VersionNumber,
				CreatedBy:     v.CreatedBy,
				IsCurrent:     v.IsCurrent,
				IsCandidate:   v.IsCandidate,
				AnalysisScore: v.AnalysisScore,
				Scenes:        len(v.Scenes),
				CreatedAt:     v.CreatedAt.Format(time.RFC3339),
			}
		}

		return mcpJSON(summaries)
	}
}

func mcpCurrentVersion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		version, err := deps.Store.CurrentVersion(projectID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("project has no current version"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load current version: %v", err)), nil
		}

		return mcpJSON(version)
	}
}

func mcpListRecommendations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		versionID, err := req.RequireString("version_id")
		if err != nil {
			return mcpError("version_id is required"), nil
		}

		recs, err := deps.Store.ListRecommendations(versionID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list recommendations: %v", err)), nil
		}
		if recs == nil {
			recs = []storage.SceneRecommendation{}
		}

		return mcpJSON(recs)
	}
}

func mcpApplyRecommendation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		versionID, err := req.RequireString("version_id")
		if err != nil {
			return mcpError("version_id is required"), nil
		}
		recommendationID, err := req.RequireString("recommendation_id")
		if err != nil {
			return mcpError("recommendation_id is required"), nil
		}

		result, err := deps.Applicator.ApplyOne(versionID, recommendationID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to apply recommendation: %v", err)), nil
		}

		return mcpJSON(result)
	}
}

func mcpApplyAll(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		result, err := deps.Applicator.ApplyAll(projectID, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to apply recommendations: %v", err)), nil
		}

		return mcpJSON(result)
	}
}

func mcpRevert(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		versionID, err := req.RequireString("version_id")
		if err != nil {
			return mcpError("version_id is required"), nil
		}

		version, err := deps.Store.RevertToVersion(projectID, versionID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to revert: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Restored scenes as new version %d", version.VersionNumber)), nil
	}
}

func mcpStartReanalysis(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		key := req.GetString("idempotency_key", "")

		result, err := deps.Jobs.Start(projectID, key)
		var already *reanalysis.AlreadyRunningError
		if errors.As(err, &already) {
			return mcpError(fmt.Sprintf("reanalysis already running: job %s (%s)",
				already.Existing.ID, already.Existing.Status)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start reanalysis: %v", err)), nil
		}

		if result.Existing {
			return mcpText(fmt.Sprintf("Job %s already exists for this idempotency key", result.Job.ID)), nil
		}
		return mcpText(fmt.Sprintf("Started reanalysis job %s", result.Job.ID)), nil
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, err := deps.Jobs.Status(projectID, jobID)
		if errors.Is(err, reanalysis.ErrJobNotFound) {
			return mcpError("job not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load job: %v", err)), nil
		}

		return mcpJSON(job)
	}
}

func mcpChooseCandidate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		keep, err := req.RequireString("keep")
		if err != nil {
			return mcpError("keep is required"), nil
		}

		if err := deps.Jobs.Choose(projectID, keep); err != nil {
			return mcpError(fmt.Sprintf("failed to resolve candidate: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Kept %s", keep)), nil
	}
}

func mcpJSON(payload any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
