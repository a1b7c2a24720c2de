package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kcons/kc/internal/config"
)

// apiClient talks to the local daemon with the bearer token from the
// secret store.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}
	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:   token,
		// analyze --wait and vector exports run for minutes.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// serverError is a non-2xx answer carrying the daemon's error envelope.
type serverError struct {
	Status  int
	Type    string
	Message string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func newServerError(status int, body []byte) *serverError {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	e := &serverError{Status: status, Message: string(bytes.TrimSpace(body))}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		e.Message, e.Type = env.Error.Message, env.Error.Type
	}
	return e
}

// encodeBody passes raw bytes through untouched and marshals anything else.
func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(b), nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		return bytes.NewReader(raw), nil
	}
}

// open sends a request and returns the response when the status is 2xx.
// The caller closes the body.
func (c *apiClient) open(ctx context.Context, method, path string, body any) (*http.Response, error) {
	rd, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is kc running? (%w)", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return nil, fmt.Errorf("server returned %d: %w", resp.StatusCode, err)
		}
		return nil, newServerError(resp.StatusCode, raw)
	}
	return resp, nil
}

// call sends a request and decodes the JSON answer into out, if non-nil.
func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.open(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func pathEscape(s string) string { return url.PathEscape(s) }
