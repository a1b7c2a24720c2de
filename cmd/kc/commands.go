package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcons/kc/internal/config"
	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/export"
	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/ingest"
	"github.com/kcons/kc/internal/migrate"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/retrieval"
	"github.com/kcons/kc/internal/storage"
)

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- discover ---

var discoverCmd = &cobra.Command{
	Use:   "discover <dir>",
	Short: "Scan a directory and register matching files",
	Long: `Scan a directory and register matching files.

Examples:
  kc discover ~/notes
  kc discover ~/vault --ext md,txt --time-range 3m --analyze
  kc discover ~/docs --exclude "archive/**" --max-depth 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		ext, _ := cmd.Flags().GetString("ext")
		include, _ := cmd.Flags().GetString("include")
		exclude, _ := cmd.Flags().GetString("exclude")
		timeRange, _ := cmd.Flags().GetString("time-range")
		maxDepth, _ := cmd.Flags().GetInt("max-depth")
		analyze, _ := cmd.Flags().GetBool("analyze")
		template, _ := cmd.Flags().GetString("template")

		req := map[string]any{"root": root}
		if v := splitList(ext); v != nil {
			req["extensions"] = v
		}
		if v := splitList(include); v != nil {
			req["include"] = v
		}
		if v := splitList(exclude); v != nil {
			req["exclude"] = v
		}
		if timeRange != "" {
			req["timeRange"] = timeRange
		}
		if maxDepth > 0 {
			req["maxDepth"] = maxDepth
		}
		if analyze {
			req["analyze"] = true
		}
		if template != "" {
			req["template"] = template
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Scanning %s", root)
		var sum ingest.Summary
		if err := client.call(cmd.Context(), "POST", "/discover", req, &sum); err != nil {
			return err
		}

		printSuccess("Found %d files", sum.Found)
		printStatus("New", "%d", sum.New)
		printStatus("Updated", "%d", sum.Updated)
		printStatus("Unchanged", "%d", sum.Unchanged)
		if sum.Removed > 0 {
			printStatus("Removed", "%d", sum.Removed)
		}
		printStatus("Duplicates", "%d", sum.Duplicates)
		if sum.ExtractErrors > 0 {
			printWarning("%d files could not be extracted", sum.ExtractErrors)
		}
		if sum.AnalysisQueued > 0 {
			printStatus("Queued for analysis", "%d", sum.AnalysisQueued)
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().String("ext", "", "comma-separated extensions (default from config)")
	discoverCmd.Flags().String("include", "", "comma-separated glob patterns to include")
	discoverCmd.Flags().String("exclude", "", "comma-separated glob patterns to exclude")
	discoverCmd.Flags().String("time-range", "", "only files modified within this window (1m, 3m, 6m, 1y, 2y, all)")
	discoverCmd.Flags().Int("max-depth", 0, "maximum directory depth (0 = unlimited)")
	discoverCmd.Flags().Bool("analyze", false, "queue new files for analysis")
	discoverCmd.Flags().String("template", "", "analysis template used with --analyze")
}

// --- files ---

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List and inspect discovered files",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered files",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var list struct {
			Files []storage.FileRecord `json:"files"`
			Total int                  `json:"total"`
		}
		path := fmt.Sprintf("/files?limit=%d&offset=%d", limit, offset)
		if err := client.call(cmd.Context(), "GET", path, nil, &list); err != nil {
			return err
		}

		if len(list.Files) == 0 {
			fmt.Println("No files found.")
			return nil
		}
		printFiles(list.Files)
		if list.Total > len(list.Files) {
			fmt.Printf("\n%d of %d files\n", len(list.Files), list.Total)
		}
		return nil
	},
}

func printFiles(files []storage.FileRecord) {
	for _, f := range files {
		score := colorize(relevanceStyle(f.RelevanceScore), fmt.Sprintf("%3.0f", f.RelevanceScore))
		mark := " "
		if f.Analyzed {
			mark = "✓"
		}
		line := fmt.Sprintf("%s  %s %s  %s", colorize(styleID, shortID(f.ID)), score, mark, f.RelPath)
		if len(f.Categories) > 0 {
			line += "  [" + strings.Join(f.Categories, ", ") + "]"
		}
		if f.DuplicateOf != "" {
			line += colorize(styleWarn, "  (duplicate)")
		}
		fmt.Println(line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var filesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single file with its analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var f any
		if err := client.call(cmd.Context(), "GET", "/files/"+pathEscape(args[0]), nil, &f); err != nil {
			return err
		}
		return printJSON(os.Stdout, f)
	},
}

var filesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Forget a file and its vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), "DELETE", "/files/"+pathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		printSuccess("Removed %s", args[0])
		return nil
	},
}

var filesJobsCmd = &cobra.Command{
	Use:   "jobs <id>",
	Short: "Show the analysis and embedding jobs of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var jobs []struct {
			Type      string    `json:"type"`
			Status    string    `json:"status"`
			Attempts  int       `json:"attempts"`
			LastError string    `json:"lastError"`
			UpdatedAt time.Time `json:"updatedAt"`
		}
		if err := client.call(cmd.Context(), "GET", "/files/"+pathEscape(args[0])+"/jobs", nil, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs for this file.")
			return nil
		}
		for _, j := range jobs {
			status := j.Status
			switch j.Status {
			case "failed":
				status = colorize(styleBad, status)
			case "completed":
				status = colorize(styleGood, status)
			}
			fmt.Printf("  %-13s %-10s attempts=%d  %s\n", j.Type, status, j.Attempts, j.UpdatedAt.Local().Format(time.DateTime))
			if j.LastError != "" {
				fmt.Printf("    %s\n", colorize(styleWarn, j.LastError))
			}
		}
		return nil
	},
}

func init() {
	filesListCmd.Flags().Int("limit", 50, "maximum number of files to list")
	filesListCmd.Flags().Int("offset", 0, "number of files to skip")
	filesCmd.AddCommand(filesListCmd, filesShowCmd, filesRmCmd, filesJobsCmd)
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [id...]",
	Short: "Queue files for analysis (all pending files when no id is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		template, _ := cmd.Flags().GetString("template")
		wait, _ := cmd.Flags().GetBool("wait")
		if wait && len(args) != 1 {
			return fmt.Errorf("--wait requires exactly one file id")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{}
		if len(args) > 0 {
			req["fileIds"] = args
		}
		if template != "" {
			req["template"] = template
		}

		if wait {
			req["wait"] = true
			var a storage.Analysis
			if err := client.call(cmd.Context(), "POST", "/analyze", req, &a); err != nil {
				return err
			}
			printSuccess("Analyzed %s (%s, relevance %.0f)", args[0], a.AnalysisType, a.RelevanceScore)
			return printJSON(os.Stdout, a)
		}

		var result struct {
			Queued int `json:"queued"`
		}
		if err := client.call(cmd.Context(), "POST", "/analyze", req, &result); err != nil {
			return err
		}
		printSuccess("Queued %d files for analysis", result.Queued)
		return nil
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List analysis templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := client.call(cmd.Context(), "GET", "/templates", nil, &list); err != nil {
			return err
		}
		for _, t := range list {
			fmt.Printf("%s  %s\n", colorize(styleLabel, t.ID), t.Description)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("template", "", "analysis template id")
	analyzeCmd.Flags().Bool("wait", false, "run synchronously and print the analysis")
	analyzeCmd.AddCommand(templatesCmd)
}

// --- categories ---

var categoriesCmd = &cobra.Command{
	Use:     "categories",
	Aliases: []string{"cat"},
	Short:   "Manage categories",
}

var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories with usage counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var cats []storage.Category
		if err := client.call(cmd.Context(), "GET", "/categories", nil, &cats); err != nil {
			return err
		}
		if len(cats) == 0 {
			fmt.Println("No categories.")
			return nil
		}
		for _, c := range cats {
			fmt.Printf("%s  %s %-24s %d\n", colorize(styleID, shortID(c.ID)), c.Icon, c.Name, c.UsageCount)
		}
		return nil
	},
}

var categoriesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")
		icon, _ := cmd.Flags().GetString("icon")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var c storage.Category
		req := map[string]string{"name": args[0], "color": color, "icon": icon}
		if err := client.call(cmd.Context(), "POST", "/categories", req, &c); err != nil {
			return err
		}
		printSuccess("Created %s (%s)", c.Name, c.ID)
		return nil
	},
}

var categoriesUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Rename or restyle a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]string{}
		for _, flag := range []string{"name", "color", "icon"} {
			if cmd.Flags().Changed(flag) {
				v, _ := cmd.Flags().GetString(flag)
				req[flag] = v
			}
		}
		if len(req) == 0 {
			return fmt.Errorf("one of --name, --color, or --icon is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var c storage.Category
		if err := client.call(cmd.Context(), "PATCH", "/categories/"+pathEscape(args[0]), req, &c); err != nil {
			return err
		}
		printSuccess("Updated %s", c.Name)
		return nil
	},
}

var categoriesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a category and remove it from every file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), "DELETE", "/categories/"+pathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var categoriesAssignCmd = &cobra.Command{
	Use:   "assign <category> <file-id...>",
	Short: "Assign a category to one or more files",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 2 {
			var res struct {
				Categories []string `json:"categories"`
			}
			path := "/files/" + pathEscape(args[1]) + "/categories"
			if err := client.call(cmd.Context(), "POST", path, map[string]string{"category": args[0]}, &res); err != nil {
				return err
			}
			printSuccess("%s: %s", args[1], strings.Join(res.Categories, ", "))
			return nil
		}

		var res struct {
			Assigned int    `json:"assigned"`
			Error    string `json:"error"`
		}
		path := "/categories/" + pathEscape(args[0]) + "/files"
		if err := client.call(cmd.Context(), "POST", path, map[string][]string{"fileIds": args[1:]}, &res); err != nil {
			return err
		}
		if res.Error != "" {
			printWarning("%s", res.Error)
		}
		printSuccess("Assigned %s to %d files", args[0], res.Assigned)
		return nil
	},
}

var categoriesUnassignCmd = &cobra.Command{
	Use:   "unassign <category> <file-id>",
	Short: "Remove a category from a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var res struct {
			Categories []string `json:"categories"`
		}
		path := "/files/" + pathEscape(args[1]) + "/categories/" + pathEscape(args[0])
		if err := client.call(cmd.Context(), "DELETE", path, nil, &res); err != nil {
			return err
		}
		printSuccess("%s: %s", args[1], strings.Join(res.Categories, ", "))
		return nil
	},
}

func init() {
	categoriesCreateCmd.Flags().String("color", "", "hex color")
	categoriesCreateCmd.Flags().String("icon", "", "icon glyph")
	categoriesUpdateCmd.Flags().String("name", "", "new name")
	categoriesUpdateCmd.Flags().String("color", "", "new hex color")
	categoriesUpdateCmd.Flags().String("icon", "", "new icon glyph")
	categoriesCmd.AddCommand(
		categoriesListCmd,
		categoriesCreateCmd,
		categoriesUpdateCmd,
		categoriesDeleteCmd,
		categoriesAssignCmd,
		categoriesUnassignCmd,
	)
}

// --- filter ---

func criteriaFromFlags(cmd *cobra.Command) filter.Criteria {
	var c filter.Criteria
	c.Relevance, _ = cmd.Flags().GetString("relevance")
	c.Status, _ = cmd.Flags().GetString("status")
	c.TimeRange, _ = cmd.Flags().GetString("time-range")
	c.MinSize, _ = cmd.Flags().GetInt64("min-size")
	c.MaxSize, _ = cmd.Flags().GetInt64("max-size")
	c.Search, _ = cmd.Flags().GetString("search")
	c.HideDuplicates, _ = cmd.Flags().GetBool("hide-duplicates")
	ext, _ := cmd.Flags().GetString("ext")
	c.Extensions = splitList(ext)
	cats, _ := cmd.Flags().GetString("categories")
	c.Categories = splitList(cats)
	return c
}

func addCriteriaFlags(cmd *cobra.Command) {
	cmd.Flags().String("relevance", "", "minimum relevance bucket ("+strings.Join(filter.RelevanceBuckets, ", ")+")")
	cmd.Flags().String("status", "", "analysis status ("+strings.Join(filter.StatusBuckets, ", ")+")")
	cmd.Flags().String("time-range", "", "modification window (1m, 3m, 6m, 1y, 2y, all)")
	cmd.Flags().Int64("min-size", 0, "minimum size in bytes")
	cmd.Flags().Int64("max-size", 0, "maximum size in bytes")
	cmd.Flags().String("ext", "", "comma-separated extensions")
	cmd.Flags().String("categories", "", "comma-separated categories (any match)")
	cmd.Flags().String("search", "", "case-insensitive text search")
	cmd.Flags().Bool("hide-duplicates", false, "hide files flagged as duplicates")
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Filter the corpus by relevance, status, time, size, extension and category",
	RunE: func(cmd *cobra.Command, args []string) error {
		preset, _ := cmd.Flags().GetString("preset")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		req := map[string]any{"criteria": criteriaFromFlags(cmd), "limit": limit}
		if preset != "" {
			req["preset"] = preset
		}
		var res filter.Result
		if err := client.call(cmd.Context(), "POST", "/filter", req, &res); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, res)
		}
		if len(res.Files) == 0 {
			fmt.Println("No files match.")
			return nil
		}
		printFiles(res.Files)
		fmt.Printf("\n%d matching files\n", res.Total)
		return nil
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Manage saved filter presets",
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var presets []filter.Preset
		if err := client.call(cmd.Context(), "GET", "/filter-presets", nil, &presets); err != nil {
			return err
		}
		if len(presets) == 0 {
			fmt.Println("No presets.")
			return nil
		}
		for _, p := range presets {
			fmt.Printf("%s  %s\n", colorize(styleLabel, p.Name), p.CreatedAt.Format("2006-01-02"))
		}
		return nil
	},
}

var presetsSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save the given criteria as a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		p := filter.Preset{Name: args[0], Criteria: criteriaFromFlags(cmd)}
		if err := client.call(cmd.Context(), "POST", "/filter-presets", p, &p); err != nil {
			return err
		}
		printSuccess("Saved preset %s", p.Name)
		return nil
	},
}

var presetsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), "DELETE", "/filter-presets/"+pathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		printSuccess("Deleted preset %s", args[0])
		return nil
	},
}

func init() {
	addCriteriaFlags(filterCmd)
	filterCmd.Flags().String("preset", "", "apply a saved preset instead of flags")
	filterCmd.Flags().Int("limit", 0, "maximum number of files to print")
	filterCmd.Flags().Bool("json", false, "print the raw result")
	addCriteriaFlags(presetsSaveCmd)
	presetsCmd.AddCommand(presetsListCmd, presetsSaveCmd, presetsDeleteCmd)
	filterCmd.AddCommand(presetsCmd)
}

// --- convergence ---

var convergenceCmd = &cobra.Command{
	Use:   "convergence",
	Short: "Find chains of semantically converging documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		rescore, _ := cmd.Flags().GetBool("rescore")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var rep relevance.Report
		req := relevance.Request{Threshold: threshold, Rescore: rescore}
		if err := client.call(cmd.Context(), "POST", "/convergence", req, &rep); err != nil {
			return err
		}

		printStatus("Documents", "%d", rep.Documents)
		printStatus("Chains", "%d", len(rep.Chains))
		printStatus("Participants", "%d", rep.Participants)
		printStatus("Average score", "%.1f", rep.AverageScore)
		if rescore {
			printStatus("Rescored", "%d", rep.Rescored)
		}
		for i, c := range rep.Chains {
			fmt.Printf("\n%s [score: %.1f] %s\n", colorize(styleLabel, fmt.Sprintf("Chain %d", i+1)), c.ConvergenceScore, c.DominantTheme)
			if len(c.SharedCategories) > 0 {
				fmt.Printf("  Shared: %s\n", strings.Join(c.SharedCategories, ", "))
			}
			for _, p := range c.Participants {
				fmt.Printf("  %s\n", p)
			}
		}
		return nil
	},
}

func init() {
	convergenceCmd.Flags().Float64("threshold", 0, "cosine similarity threshold in (0,1] (default from config)")
	convergenceCmd.Flags().Bool("rescore", false, "recompute relevance with the semantic dimension")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var s struct {
			Files            int            `json:"files"`
			Analyzed         int            `json:"analyzed"`
			Pending          int            `json:"pending"`
			Duplicates       int            `json:"duplicates"`
			TotalSize        int64          `json:"totalSize"`
			AverageRelevance float64        `json:"averageRelevance"`
			Categories       map[string]int `json:"categories"`
			RelevanceBands   map[string]int `json:"relevanceBands"`
			Jobs             map[string]int `json:"jobs"`
			DBBytes          int64          `json:"dbBytes"`
		}
		if err := client.call(cmd.Context(), "GET", "/stats", nil, &s); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, s)
		}
		printStatus("Files", "%d (%d analyzed, %d pending)", s.Files, s.Analyzed, s.Pending)
		printStatus("Duplicates", "%d", s.Duplicates)
		printStatus("Total size", "%d bytes", s.TotalSize)
		printStatus("Average relevance", "%.1f", s.AverageRelevance)
		for band, n := range s.RelevanceBands {
			printStatus("Relevance "+band, "%d", n)
		}
		for name, n := range s.Categories {
			printStatus("Category "+name, "%d", n)
		}
		for state, n := range s.Jobs {
			printStatus("Jobs "+state, "%d", n)
		}
		printStatus("Database", "%d bytes", s.DBBytes)
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "print raw JSON")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export analyzed files as json, markdown, csv, or into qdrant/pgvector",
	Long: `Export analyzed files.

Examples:
  kc export --format markdown --output notes.md
  kc export --format json --include-chunks > corpus.json
  kc export --format qdrant --relevance ">=70"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatStr, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		ids, _ := cmd.Flags().GetString("ids")
		chunks, _ := cmd.Flags().GetBool("include-chunks")

		format, err := export.ParseFormat(formatStr)
		if err != nil {
			return err
		}

		req := export.Request{Format: format, IDs: splitList(ids), IncludeChunks: chunks}
		if c := criteriaFromFlags(cmd); !isZeroCriteria(c) {
			req.Criteria = &c
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.open(cmd.Context(), "POST", "/export", req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.Header.Get("X-Export-Id") != "" {
			out := io.Writer(os.Stdout)
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			if _, err := io.Copy(out, resp.Body); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			if output != "" {
				printSuccess("Exported to %s", output)
			}
			return nil
		}

		var res export.Result
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return fmt.Errorf("decoding export result: %w", err)
		}
		printSuccess("Exported %d files to %s", res.Files, res.Target)
		if res.Points > 0 {
			printStatus("Points", "%d", res.Points)
		}
		for _, f := range res.Failed {
			printWarning("%s: %s", f.FileID, f.Error)
		}
		return nil
	},
}

func isZeroCriteria(c filter.Criteria) bool {
	return c.Relevance == "" && c.Status == "" && c.TimeRange == "" &&
		c.MinSize == 0 && c.MaxSize == 0 && len(c.Extensions) == 0 &&
		len(c.Categories) == 0 && c.Search == "" && !c.HideDuplicates
}

var exportHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var entries []storage.ExportEntry
		if err := client.call(cmd.Context(), "GET", fmt.Sprintf("/exports?limit=%d", limit), nil, &entries); err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %-8s %4d  %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Format, e.FileCount, e.Target)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "json", "json, markdown, csv, qdrant, or pgvector")
	exportCmd.Flags().StringP("output", "o", "", "output file for document formats (default: stdout)")
	exportCmd.Flags().String("ids", "", "comma-separated file ids (overrides filters)")
	exportCmd.Flags().Bool("include-chunks", false, "include chunked content in json exports")
	addCriteriaFlags(exportCmd)
	exportHistoryCmd.Flags().Int("limit", 20, "maximum number of entries")
	exportCmd.AddCommand(exportHistoryCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over file chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		k, _ := cmd.Flags().GetInt("top")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/search?q=%s&k=%d", url.QueryEscape(query), k)
		var hits []retrieval.Hit
		if err := client.call(cmd.Context(), "GET", path, nil, &hits); err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, h := range hits {
			fmt.Printf("\n%s [score: %.3f] %s\n", colorize(styleLabel, fmt.Sprintf("Result %d", i+1)), h.Score, shortID(h.FileID))
			if len(h.Categories) > 0 {
				fmt.Printf("  Categories: %s\n", strings.Join(h.Categories, ", "))
			}
			text := h.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntP("top", "k", 5, "maximum number of results")
}

// --- qdrant ---

var qdrantCmd = &cobra.Command{
	Use:   "qdrant",
	Short: "Inspect the configured Qdrant collection",
}

var qdrantStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Analyze points stored in the collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var res any
		path := "/qdrant/stats"
		if limit > 0 {
			path += fmt.Sprintf("?limit=%d", limit)
		}
		if err := client.call(cmd.Context(), "GET", path, nil, &res); err != nil {
			return err
		}
		return printJSON(os.Stdout, res)
	},
}

func init() {
	qdrantStatsCmd.Flags().Int("limit", 0, "maximum number of points to scan (0 = all)")
	qdrantCmd.AddCommand(qdrantStatsCmd)
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import-v1 <snapshot.json>",
	Short: "Import a state snapshot from the previous browser version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading snapshot: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var rep migrate.Report
		if err := client.call(cmd.Context(), "POST", "/import/v1", data, &rep); err != nil {
			return err
		}
		printSuccess("Imported %d files, %d categories and %d analyses", rep.Files, rep.Categories, rep.Analyses)
		if rep.Skipped > 0 {
			printWarning("Skipped %d entries", rep.Skipped)
		}
		for _, w := range rep.Warnings {
			printWarning("%s", w)
		}
		return nil
	},
}

// --- events ---

var eventsCmd = &cobra.Command{
	Use:   "events [name]",
	Short: "Show recent server events",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		q := url.Values{}
		if len(args) == 1 {
			q.Set("name", args[0])
		}
		if limit > 0 {
			q.Set("limit", fmt.Sprint(limit))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var records []eventbus.Record
		path := "/events"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		if err := client.call(cmd.Context(), "GET", path, nil, &records); err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s  %s\n", r.At.Format("15:04:05.000"), colorize(styleID, r.Name))
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().Int("limit", 50, "maximum number of events")
}

// --- backup ---

var backupCmd = &cobra.Command{
	Use:   "backup <file>",
	Short: "Write a consistent copy of the kc database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), "POST", "/backup", map[string]string{"path": dest}, nil); err != nil {
			return err
		}
		printSuccess("Database copied to %s", dest)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(styleLabel, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store an API key in the secret store (empty value removes it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		store := config.NewKeychain()

		if value == "" {
			if err := config.DeleteSecret(store, key); err != nil {
				return err
			}
			printSuccess("Removed %s", key)
			return nil
		}
		if err := config.SetSecret(store, key, value); err != nil {
			return err
		}
		printSuccess("Stored %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
