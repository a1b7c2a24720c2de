package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/retrieval"
	"github.com/kcons/kc/internal/stats"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	app := newTestDeps(t)
	seedFiles(t, app.Store)
	return MCPDeps{
		Store:       app.Store,
		Categories:  app.Categories,
		Filters:     app.Filters,
		Convergence: app.Convergence,
	}
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

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s returned error: %v", name, err)
	}
	return result
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(newTestMCPDeps(t), "test"); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCP_SearchFiles_Keyword(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := callTool(t, mcpSearchFiles(deps), "search_files", map[string]interface{}{"query": "arquitetura"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var got []searchResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FileID != "f2" {
		t.Errorf("results = %+v", got)
	}
}

func TestMCP_SearchFiles_Semantic(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.Searcher = &mockSearcher{hits: []retrieval.Hit{
		{FileID: "f1", Text: "decidimos", Score: 0.9},
		{FileID: "f3", Text: "compras", Score: 0.2},
	}}

	result := callTool(t, mcpSearchFiles(deps), "search_files", map[string]interface{}{"query": "decisão", "limit": float64(1)})
	var got []searchResult
	json.Unmarshal([]byte(toolText(t, result)), &got)
	if len(got) != 1 || got[0].FileID != "f1" {
		t.Errorf("results = %+v", got)
	}
}

func TestMCP_SearchFiles_MissingQuery(t *testing.T) {
	result := callTool(t, mcpSearchFiles(newTestMCPDeps(t)), "search_files", map[string]interface{}{})
	if !result.IsError {
		t.Error("expected error result")
	}
}

func TestMCP_ListFiles(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := callTool(t, mcpListFiles(deps), "list_files", map[string]interface{}{"relevance": ">=50", "limit": float64(1)})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var got struct {
		Files []fileSummary `json:"files"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 2 || len(got.Files) != 1 || got.Files[0].ID != "f1" {
		t.Errorf("list = %+v", got)
	}

	result = callTool(t, mcpListFiles(deps), "list_files", map[string]interface{}{"status": "done"})
	if !result.IsError {
		t.Error("expected error for invalid status")
	}
}

func TestMCP_CategorizeFile(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := callTool(t, mcpCategorizeFile(deps), "categorize_file", map[string]interface{}{
		"file_id":    "f3",
		"categories": []interface{}{"Técnico", "Compras"},
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	f, err := deps.Store.GetFile("f3")
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Categories) != 2 {
		t.Errorf("categories = %v, want Técnico and the new Compras", f.Categories)
	}

	result = callTool(t, mcpCategorizeFile(deps), "categorize_file", map[string]interface{}{
		"file_id":    "nope",
		"categories": []interface{}{"Técnico"},
	})
	if !result.IsError {
		t.Error("expected error for unknown file")
	}

	result = callTool(t, mcpCategorizeFile(deps), "categorize_file", map[string]interface{}{"file_id": "f1"})
	if !result.IsError {
		t.Error("expected error without categories")
	}
}

func TestMCP_Convergence(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := callTool(t, mcpConvergence(deps), "convergence", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var rep relevance.Report
	if err := json.Unmarshal([]byte(toolText(t, result)), &rep); err != nil {
		t.Fatal(err)
	}
	if len(rep.Chains) != 1 {
		t.Errorf("chains = %+v", rep.Chains)
	}

	result = callTool(t, mcpConvergence(deps), "convergence", map[string]interface{}{"threshold": 2.0})
	if !result.IsError {
		t.Error("expected error for threshold above 1")
	}
}

func TestMCP_Stats(t *testing.T) {
	result := callTool(t, mcpStats(newTestMCPDeps(t)), "stats", map[string]interface{}{})
	var s stats.Stats
	if err := json.Unmarshal([]byte(toolText(t, result)), &s); err != nil {
		t.Fatal(err)
	}
	if s.Files != 3 {
		t.Errorf("files = %d, want 3", s.Files)
	}
}

func TestMCP_ResourceCategories(t *testing.T) {
	deps := newTestMCPDeps(t)

	contents, err := mcpResourceCategories(deps)(context.Background(), makeReadResourceRequest("kc://categories"))
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "kc://categories" || !strings.Contains(tc.Text, "Técnico") {
		t.Errorf("resource = %+v", tc)
	}
}
