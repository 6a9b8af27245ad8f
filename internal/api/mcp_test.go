package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/reeldraft/reeldraft/internal/metrics"
	"github.com/reeldraft/reeldraft/internal/reanalysis"
	"github.com/reeldraft/reeldraft/internal/recommend"
	"github.com/reeldraft/reeldraft/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	jobs := reanalysis.NewManager(store, stubScorer{},
		recommend.NewGenerator(stubSuggester{}), reanalysis.NewMemoryRegistry(), metrics.New())

	return MCPDeps{
		Store:      store,
		Applicator: recommend.NewApplicator(store),
		Jobs:       jobs,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPListVersions(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedAPIVersion(t, store, "p1")

	result, err := mcpListVersions(deps)(context.Background(),
		makeCallToolRequest("list_versions", map[string]interface{}{"project_id": "p1"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var summaries []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &summaries); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("have %d versions, want 1", len(summaries))
	}
	if summaries[0]["is_current"] != true {
		t.Error("seeded version should be current")
	}
}

func TestMCPListVersionsMissingProject(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpListVersions(deps)(context.Background(),
		makeCallToolRequest("list_versions", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("missing project_id should be a tool error")
	}
}

func TestMCPCurrentVersion(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	v1 := seedAPIVersion(t, store, "p1")

	result, err := mcpCurrentVersion(deps)(context.Background(),
		makeCallToolRequest("get_current_version", map[string]interface{}{"project_id": "p1"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var version storage.ScriptVersion
	if err := json.Unmarshal([]byte(toolText(t, result)), &version); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if version.ID != v1.ID {
		t.Errorf("version id = %q, want %q", version.ID, v1.ID)
	}
}

func TestMCPApplyRecommendation(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	v1 := seedAPIVersion(t, store, "p1")

	recs, err := store.CreateRecommendations([]storage.SceneRecommendation{{
		ScriptVersionID: v1.ID, SceneID: 2, CurrentText: "B", SuggestedText: "B2",
	}})
	if err != nil {
		t.Fatalf("creating recommendation: %v", err)
	}

	result, err := mcpApplyRecommendation(deps)(context.Background(),
		makeCallToolRequest("apply_recommendation", map[string]interface{}{
			"version_id":        v1.ID,
			"recommendation_id": recs[0].ID,
		}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	current, err := store.CurrentVersion("p1")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if current.Scenes[1].Text != "B2" {
		t.Errorf("scene text = %q, want applied suggestion", current.Scenes[1].Text)
	}
}

func TestMCPReanalysisLifecycle(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedAPIVersion(t, store, "p1")

	result, err := mcpStartReanalysis(deps)(context.Background(),
		makeCallToolRequest("start_reanalysis", map[string]interface{}{"project_id": "p1"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	jobID := text[strings.LastIndex(text, " ")+1:]

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := deps.Jobs.Status("p1", jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.Terminal() {
			if job.Status != reanalysis.StatusDone {
				t.Fatalf("job status = %s (error %q)", job.Status, job.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	statusResult, err := mcpJobStatus(deps)(context.Background(),
		makeCallToolRequest("job_status", map[string]interface{}{
			"project_id": "p1",
			"job_id":     jobID,
		}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var job reanalysis.Job
	if err := json.Unmarshal([]byte(toolText(t, statusResult)), &job); err != nil {
		t.Fatalf("decoding job: %v", err)
	}
	if job.CandidateVersionID == "" {
		t.Error("done job should carry candidate version id")
	}

	chooseResult, err := mcpChooseCandidate(deps)(context.Background(),
		makeCallToolRequest("choose_candidate", map[string]interface{}{
			"project_id": "p1",
			"keep":       "base",
		}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if chooseResult.IsError {
		t.Fatalf("tool error: %s", toolText(t, chooseResult))
	}
}

func TestNewMCPServerConstructs(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
