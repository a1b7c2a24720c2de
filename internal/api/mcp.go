package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kcons/kc/internal/categories"
	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/stats"
	"github.com/kcons/kc/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store       *storage.Store
	Categories  *categories.Manager
	Filters     *filter.Manager
	Convergence *relevance.Analyzer
	Searcher    Searcher // optional; if nil, search_files falls back to keyword filtering
}

// NewMCPServer creates an MCP server with the consolidator's tools and
// resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"kc",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kc consolidates a local document corpus: relevance scores, categories, analyses and convergence chains."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_files",
			mcp.WithDescription("Search the consolidated corpus. Uses semantic search when embeddings are available, keyword matching otherwise."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchFiles(deps),
	)

	s.AddTool(
		mcp.NewTool("list_files",
			mcp.WithDescription("List files matching filter criteria, most relevant first."),
			mcp.WithString("relevance", mcp.Description("Relevance band: all, >=30, >=50, >=70, >=90")),
			mcp.WithString("status", mcp.Description("pending, analyzed or all")),
			mcp.WithString("time_range", mcp.Description("Modification window: 1m, 3m, 6m, 1y, 2y or all")),
			mcp.WithArray("categories", mcp.Description("Category names; a file must carry at least one")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListFiles(deps),
	)

	s.AddTool(
		mcp.NewTool("categorize_file",
			mcp.WithDescription("Assign categories to a file, creating unknown categories."),
			mcp.WithString("file_id", mcp.Description("File id"), mcp.Required()),
			mcp.WithArray("categories", mcp.Description("Category names to assign"), mcp.Required()),
		),
		mcpCategorizeFile(deps),
	)

	s.AddTool(
		mcp.NewTool("convergence",
			mcp.WithDescription("Compute convergence chains: groups of documents that discuss the same theme."),
			mcp.WithNumber("threshold", mcp.Description("Similarity threshold between 0 and 1 (default 0.7)")),
		),
		mcpConvergence(deps),
	)

	s.AddTool(
		mcp.NewTool("stats",
			mcp.WithDescription("Corpus statistics: file counts, analysis coverage, relevance and categories."),
		),
		mcpStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kc://categories",
			"Categories",
			mcp.WithResourceDescription("All categories with their file counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCategories(deps),
	)

	return s
}

// searchResult is the shape search_files returns for both search modes.
type searchResult struct {
	FileID     string   `json:"file_id"`
	Name       string   `json:"name,omitempty"`
	Text       string   `json:"text"`
	Categories []string `json:"categories,omitempty"`
	Score      float64  `json:"score"`
}

func mcpSearchFiles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", 5), 5, 50)

		var results []searchResult
		if deps.Searcher != nil {
			hits, err := deps.Searcher.Search(ctx, query, limit)
			if err != nil {
				return mcpError(fmt.Sprintf("search failed: %v", err)), nil
			}
			for _, h := range hits {
				results = append(results, searchResult{
					FileID:     h.FileID,
					Text:       h.Text,
					Categories: h.Categories,
					Score:      float64(h.Score),
				})
			}
		} else {
			files, err := deps.Store.ListFiles(storage.ListOptions{})
			if err != nil {
				return mcpError(fmt.Sprintf("failed to list files: %v", err)), nil
			}
			res, err := deps.Filters.Apply(files, filter.Criteria{Search: query})
			if err != nil {
				return mcpError(err.Error()), nil
			}
			for i, f := range res.Files {
				if i == limit {
					break
				}
				results = append(results, searchResult{
					FileID:     f.ID,
					Name:       f.Name,
					Text:       f.Preview,
					Categories: f.Categories,
					Score:      f.RelevanceScore,
				})
			}
		}
		return mcpJSON(results)
	}
}

type fileSummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Path           string   `json:"path"`
	RelevanceScore float64  `json:"relevance_score"`
	Analyzed       bool     `json:"analyzed"`
	AnalysisType   string   `json:"analysis_type,omitempty"`
	Categories     []string `json:"categories"`
}

func mcpListFiles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		c := filter.Criteria{
			Relevance:  req.GetString("relevance", ""),
			Status:     req.GetString("status", ""),
			TimeRange:  req.GetString("time_range", ""),
			Categories: req.GetStringSlice("categories", nil),
		}
		limit := clampLimit(req.GetInt("limit", 20), 20, 200)

		files, err := deps.Store.ListFiles(storage.ListOptions{})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list files: %v", err)), nil
		}
		res, err := deps.Filters.Apply(files, c)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		out := make([]fileSummary, 0, min(limit, len(res.Files)))
		for _, f := range res.Files {
			if len(out) == limit {
				break
			}
			out = append(out, fileSummary{
				ID:             f.ID,
				Name:           f.Name,
				Path:           f.Path,
				RelevanceScore: f.RelevanceScore,
				Analyzed:       f.Analyzed,
				AnalysisType:   f.AnalysisType,
				Categories:     f.Categories,
			})
		}
		return mcpJSON(map[string]any{"files": out, "total": res.Total})
	}
}

func mcpCategorizeFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileID, err := req.RequireString("file_id")
		if err != nil {
			return mcpError("file_id is required"), nil
		}
		names := req.GetStringSlice("categories", nil)
		if len(names) == 0 {
			return mcpError("categories is required"), nil
		}
		cats, err := deps.Categories.Resolve(names, true)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to resolve categories: %v", err)), nil
		}
		var assigned []string
		for _, c := range cats {
			assigned, err = deps.Categories.Assign(fileID, c.ID)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to assign %s: %v", c.Name, err)), nil
			}
		}
		return mcpJSON(map[string]any{"file_id": fileID, "categories": assigned})
	}
}

func mcpConvergence(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rep, err := deps.Convergence.Run(ctx, relevance.Request{Threshold: req.GetFloat("threshold", 0)})
		if err != nil {
			return mcpError(fmt.Sprintf("convergence failed: %v", err)), nil
		}
		return mcpJSON(rep)
	}
}

func mcpStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		files, err := deps.Store.ListFiles(storage.ListOptions{})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list files: %v", err)), nil
		}
		return mcpJSON(stats.Compute(files))
	}
}

func mcpResourceCategories(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cats, err := deps.Categories.List()
		if err != nil {
			return nil, fmt.Errorf("failed to list categories: %w", err)
		}
		b, err := json.Marshal(cats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal categories: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func clampLimit(n, def, hi int) int {
	if n <= 0 {
		return def
	}
	if n > hi {
		return hi
	}
	return n
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
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
