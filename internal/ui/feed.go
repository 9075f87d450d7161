package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zsiec/fcbus/internal/bus"
	"github.com/zsiec/fcbus/internal/harness"
	"github.com/zsiec/fcbus/pkg/version"
)

// Feed supplies the watch view with bench state.
type Feed interface {
	Snapshot(ctx context.Context) (harness.Snapshot, error)
	// Beats returns the recent valid beats, oldest first.
	Beats(ctx context.Context) ([]bus.Beat, error)
	Step(ctx context.Context, n int) error
}

// BenchFeed reads an in-process bench.
type BenchFeed struct {
	Bench *harness.Bench
}

func (f BenchFeed) Snapshot(ctx context.Context) (harness.Snapshot, error) {
	return f.Bench.Snapshot(), nil
}

func (f BenchFeed) Beats(ctx context.Context) ([]bus.Beat, error) {
	return f.Bench.History(), nil
}

func (f BenchFeed) Step(ctx context.Context, n int) error {
	_, err := f.Bench.StepN(ctx, n)
	return err
}

// HTTPFeed reads a bench served by fcbus serve.
type HTTPFeed struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFeed creates a feed for baseURL, e.g. "http://localhost:8080". A nil client
// uses http.DefaultClient.
func NewHTTPFeed(baseURL string, client *http.Client) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

func (f *HTTPFeed) Snapshot(ctx context.Context) (harness.Snapshot, error) {
	var snap harness.Snapshot
	body, err := f.do(ctx, http.MethodGet, "/api/v1/bus")
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (f *HTTPFeed) Beats(ctx context.Context) ([]bus.Beat, error) {
	body, err := f.do(ctx, http.MethodGet, "/api/v1/bus/beats?format=json")
	if err != nil {
		return nil, err
	}
	var beats []bus.Beat
	if err := json.Unmarshal(body, &beats); err != nil {
		return nil, fmt.Errorf("decode beats: %w", err)
	}
	return beats, nil
}

func (f *HTTPFeed) Step(ctx context.Context, n int) error {
	_, err := f.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/bus/step?n=%d", n))
	return err
}

func (f *HTTPFeed) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
