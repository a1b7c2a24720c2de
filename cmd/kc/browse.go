package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/stats"
	"github.com/kcons/kc/internal/storage"
	"github.com/kcons/kc/internal/tui"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse the corpus in an interactive terminal UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return tui.Run(apiSource{client: client})
	},
}

// apiSource serves the terminal UI from a running server.
type apiSource struct {
	client *apiClient
}

func (s apiSource) Files(ctx context.Context, c filter.Criteria) (filter.Result, error) {
	var res filter.Result
	err := s.client.call(ctx, "POST", "/filter", map[string]any{"criteria": c}, &res)
	return res, err
}

func (s apiSource) Categories(ctx context.Context) ([]storage.Category, error) {
	var cats []storage.Category
	err := s.client.call(ctx, "GET", "/categories", nil, &cats)
	return cats, err
}

func (s apiSource) Assign(ctx context.Context, fileID, category string) ([]string, error) {
	var res struct {
		Categories []string `json:"categories"`
	}
	path := "/files/" + pathEscape(fileID) + "/categories"
	err := s.client.call(ctx, "POST", path, map[string]string{"category": category}, &res)
	return res.Categories, err
}

func (s apiSource) Unassign(ctx context.Context, fileID, category string) ([]string, error) {
	var res struct {
		Categories []string `json:"categories"`
	}
	path := "/files/" + pathEscape(fileID) + "/categories/" + pathEscape(category)
	err := s.client.call(ctx, "DELETE", path, nil, &res)
	return res.Categories, err
}

func (s apiSource) Stats(ctx context.Context) (stats.Stats, error) {
	var st stats.Stats
	err := s.client.call(ctx, "GET", "/stats", nil, &st)
	return st, err
}

func (s apiSource) Convergence(ctx context.Context) (relevance.Report, error) {
	var rep relevance.Report
	err := s.client.call(ctx, "POST", "/convergence", relevance.Request{}, &rep)
	return rep, err
}
