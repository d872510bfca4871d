package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/geofetch/geofetch/internal/collection"
	"github.com/geofetch/geofetch/internal/hub"
	"github.com/geofetch/geofetch/internal/job"
	"github.com/geofetch/geofetch/internal/query"
	"github.com/geofetch/geofetch/internal/regions"
)

type fakeRunner struct {
	report *job.Report
	err    error
	lastQ  query.Query
	called bool
}

func (f *fakeRunner) Run(ctx context.Context, q query.Query) (*job.Report, error) {
	f.called = true
	f.lastQ = q
	return f.report, f.err
}

func testRegions(t *testing.T) *regions.Store {
	t.Helper()

	dir := t.TempDir()
	feature := `{
	  "type": "Feature",
	  "properties": {"name": "Nuuk"},
	  "geometry": {
	    "type": "Polygon",
	    "coordinates": [[[-51.8, 64.1], [-51.3, 64.1], [-51.3, 64.3], [-51.8, 64.3], [-51.8, 64.1]]]
	  }
	}`
	if err := os.WriteFile(filepath.Join(dir, "nuuk.geojson"), []byte(feature), 0o644); err != nil {
		t.Fatal(err)
	}

	s := regions.NewStore()
	if err := s.LoadDir(dir); err != nil {
		t.Fatal(err)
	}
	return s
}

func testServer(t *testing.T, runner JobRunner) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(runner, collection.DefaultRegistry(), testRegions(t), logger)
	server := httptest.NewServer(NewRouter(h, logger))
	t.Cleanup(server.Close)
	return server
}

func postJob(t *testing.T, server *httptest.Server, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(server.URL+"/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /jobs failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	server := testServer(t, &fakeRunner{})

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("Expected X-Request-ID header on responses")
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body)
	}
}

func TestCollections(t *testing.T) {
	server := testServer(t, &fakeRunner{})

	resp, err := http.Get(server.URL + "/collections")
	if err != nil {
		t.Fatalf("GET /collections failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Collections []struct {
			Name             string  `json:"name"`
			ID               string  `json:"id"`
			NativeResolution float64 `json:"native_resolution"`
		} `json:"collections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Collections) == 0 {
		t.Fatal("Expected built-in collections in the listing")
	}

	found := false
	for _, c := range body.Collections {
		if c.Name == "SENTINEL2_L2A" {
			found = true
			if c.ID != "sentinel-2-l2a" {
				t.Errorf("Unexpected catalog id %s", c.ID)
			}
			if c.NativeResolution != 10 {
				t.Errorf("Unexpected native resolution %f", c.NativeResolution)
			}
		}
	}
	if !found {
		t.Error("SENTINEL2_L2A missing from the listing")
	}
}

func TestRegions(t *testing.T) {
	server := testServer(t, &fakeRunner{})

	resp, err := http.Get(server.URL + "/regions")
	if err != nil {
		t.Fatalf("GET /regions failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Regions []string `json:"regions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Regions) != 1 || body.Regions[0] != "Nuuk" {
		t.Errorf("Expected [Nuuk], got %v", body.Regions)
	}
}

func TestCreateJob(t *testing.T) {
	runner := &fakeRunner{report: &job.Report{
		Collection: "SENTINEL2_L2A",
		Mode:       query.ModeSplitMerge,
		Dates:      2,
		Outputs: []job.Output{
			{Object: "2024-06-01/Nuuk_SENTINEL2_L2A_split-merge.tif", Tiles: 9},
		},
	}}
	server := testServer(t, runner)

	resp := postJob(t, server, `{
		"region": "nuuk",
		"start": "2024-06-01",
		"end": "2024-06-05",
		"collection": "SENTINEL2_L2A",
		"resolution": 10,
		"evalscript": "//VERSION=3"
	}`)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var report job.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if len(report.Outputs) != 1 {
		t.Errorf("Unexpected report outputs: %+v", report.Outputs)
	}

	// The region resolved to its canonical name and bbox, and the mode
	// defaulted to split-merge.
	if runner.lastQ.Region != "Nuuk" {
		t.Errorf("Expected canonical region name, got %q", runner.lastQ.Region)
	}
	if runner.lastQ.BBox.MinX != -51.8 {
		t.Errorf("Expected region bbox, got %+v", runner.lastQ.BBox)
	}
	if runner.lastQ.Mode != query.ModeSplitMerge {
		t.Errorf("Expected default split-merge mode, got %s", runner.lastQ.Mode)
	}
}

func TestCreateJob_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{not json`},
		{name: "bbox and region", body: `{"bbox": [0,0,1,1], "region": "nuuk", "start": "2024-06-01", "collection": "SENTINEL2_L2A"}`},
		{name: "unknown region", body: `{"region": "atlantis", "start": "2024-06-01", "collection": "SENTINEL2_L2A"}`},
		{name: "short bbox", body: `{"bbox": [0,0,1], "start": "2024-06-01", "collection": "SENTINEL2_L2A"}`},
		{name: "missing start", body: `{"bbox": [0,0,1,1], "collection": "SENTINEL2_L2A"}`},
		{name: "reversed interval", body: `{"bbox": [0,0,1,1], "start": "2024-06-05", "end": "2024-06-01", "collection": "SENTINEL2_L2A"}`},
		{name: "bad mode", body: `{"bbox": [0,0,1,1], "start": "2024-06-01", "collection": "SENTINEL2_L2A", "mode": "mosaic"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{report: &job.Report{}}
			server := testServer(t, runner)

			resp := postJob(t, server, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
			if runner.called {
				t.Error("Runner must not run for a malformed request")
			}
		})
	}
}

func TestCreateJob_UpstreamAuthFailure(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("batch aborted: %w", hub.ErrAuth)}
	server := testServer(t, runner)

	resp := postJob(t, server, `{"region": "nuuk", "start": "2024-06-01", "collection": "SENTINEL2_L2A"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502 for upstream auth failure, got %d", resp.StatusCode)
	}

	var apiErr APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if apiErr.Code != ErrCodeUpstreamError {
		t.Errorf("Expected %s, got %s", ErrCodeUpstreamError, apiErr.Code)
	}
}

func TestCreateJob_ValidationFailure(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("invalid query: unknown data collection")}
	server := testServer(t, runner)

	resp := postJob(t, server, `{"region": "nuuk", "start": "2024-06-01", "collection": "SENTINEL9"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 when the query never validated, got %d", resp.StatusCode)
	}
}

func TestNotFound(t *testing.T) {
	server := testServer(t, &fakeRunner{})

	resp, err := http.Get(server.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := testServer(t, &fakeRunner{})

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "geofetch_dispatch_tiles_started_total") {
		t.Error("Expected dispatch counters in the metrics exposition")
	}
}
