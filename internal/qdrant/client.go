// Package qdrant is a small client for the Qdrant REST API and an explorer
// that summarises what a collection holds.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrCollectionNotFound is returned when the collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

const defaultTimeout = 30 * time.Second

// Client talks to one collection of a Qdrant server.
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for collection at baseURL. apiKey may be empty.
func NewClient(baseURL, collection, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) Collection() string { return c.collection }

// Point is a stored vector with its payload. Vector is omitted by Scroll.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ScoredPoint is a Search hit.
type ScoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	PointsCount int    `json:"pointsCount"`
	VectorSize  int    `json:"vectorSize"`
	Distance    string `json:"distance"`
}

// pointID accepts both numeric and UUID point ids.
type pointID string

func (p *pointID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = pointID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = pointID(n.String())
	return nil
}

type apiError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

// Health reports the server version when it is reachable.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// CollectionInfo returns ErrCollectionNotFound when the collection is missing.
func (c *Client) CollectionInfo(ctx context.Context) (CollectionInfo, error) {
	var out struct {
		Result struct {
			Status      string `json:"status"`
			PointsCount int    `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, c.path(""), nil, &out); err != nil {
		return CollectionInfo{}, err
	}
	r := out.Result
	return CollectionInfo{
		Name:        c.collection,
		Status:      r.Status,
		PointsCount: r.PointsCount,
		VectorSize:  r.Config.Params.Vectors.Size,
		Distance:    r.Config.Params.Vectors.Distance,
	}, nil
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist. An existing collection with a different vector size is an error.
func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) (created bool, err error) {
	info, err := c.CollectionInfo(ctx)
	if err == nil {
		if info.VectorSize != 0 && info.VectorSize != vectorSize {
			return false, fmt.Errorf("collection %s has vector size %d, embeddings have %d", c.collection, info.VectorSize, vectorSize)
		}
		return false, nil
	}
	if !errors.Is(err, ErrCollectionNotFound) {
		return false, err
	}
	body := map[string]any{"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"}}
	if err := c.do(ctx, http.MethodPut, c.path(""), body, nil); err != nil {
		return false, fmt.Errorf("creating collection: %w", err)
	}
	return true, nil
}

// Upsert writes points and waits for them to be indexed.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPut, c.path("/points?wait=true"), map[string]any{"points": points}, nil)
}

// Scroll returns one page of points without vectors. Pass the returned
// offset to get the next page; it is nil after the last page.
func (c *Client) Scroll(ctx context.Context, limit int, offset any) ([]Point, any, error) {
	body := map[string]any{"limit": limit, "with_payload": true, "with_vector": false}
	if offset != nil {
		body["offset"] = offset
	}
	var out struct {
		Result struct {
			Points []struct {
				ID      pointID        `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
			NextPageOffset any `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.path("/points/scroll"), body, &out); err != nil {
		return nil, nil, err
	}
	points := make([]Point, len(out.Result.Points))
	for i, p := range out.Result.Points {
		points[i] = Point{ID: string(p.ID), Payload: p.Payload}
	}
	return points, out.Result.NextPageOffset, nil
}

// ScrollAll pages through the whole collection. limit <= 0 means no limit.
func (c *Client) ScrollAll(ctx context.Context, pageSize, limit int) ([]Point, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var all []Point
	var offset any
	for {
		page, next, err := c.Scroll(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == nil || len(page) == 0 || (limit > 0 && len(all) >= limit) {
			break
		}
		offset = next
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Search returns the limit nearest points to vector.
func (c *Client) Search(ctx context.Context, vector []float32, limit int) ([]ScoredPoint, error) {
	body := map[string]any{"vector": vector, "limit": limit, "with_payload": true}
	var out struct {
		Result []struct {
			ID      pointID        `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.path("/points/search"), body, &out); err != nil {
		return nil, err
	}
	hits := make([]ScoredPoint, len(out.Result))
	for i, r := range out.Result {
		hits[i] = ScoredPoint{ID: string(r.ID), Score: r.Score, Payload: r.Payload}
	}
	return hits, nil
}

// DeleteByFile removes every point whose payload fileId equals fileID.
func (c *Client) DeleteByFile(ctx context.Context, fileID string) error {
	body := map[string]any{"filter": map[string]any{
		"must": []any{map[string]any{"key": "fileId", "match": map[string]any{"value": fileID}}},
	}}
	return c.do(ctx, http.MethodPost, c.path("/points/delete?wait=true"), body, nil)
}

func (c *Client) path(suffix string) string {
	return "/collections/" + url.PathEscape(c.collection) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/collections/") {
		return fmt.Errorf("%s: %w", c.collection, ErrCollectionNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Status.Error != "" {
			return fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, ae.Status.Error)
		}
		return fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding qdrant response: %w", err)
	}
	return nil
}
