package mapview

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"telemetry-pipeline/core/models"
)

// tinyPNG is a 1x1 transparent PNG.
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func tileServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testPath() models.GeoPath {
	return models.GeoPath{
		{Lon: 2.3500, Lat: 48.8500},
		{Lon: 2.3520, Lat: 48.8510},
		{Lon: 2.3540, Lat: 48.8505},
	}
}

func TestTileFetcherDataURI(t *testing.T) {
	var gotPath, gotAgent string
	srv := tileServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		w.Write(tinyPNG)
	})

	f := NewTileFetcher(srv.URL + "/{z}/{x}/{y}.png")
	uri, err := f.DataURI(context.Background(), 12, 2074, 1409)
	if err != nil {
		t.Fatalf("DataURI: %v", err)
	}

	if gotPath != "/12/2074/1409.png" {
		t.Errorf("requested path = %q", gotPath)
	}
	if gotAgent == "" {
		t.Error("request sent without User-Agent")
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(tinyPNG)
	if uri != want {
		t.Errorf("data URI mismatch:\n got %q\nwant %q", uri, want)
	}
}

func TestTileFetcherErrorStatus(t *testing.T) {
	srv := tileServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	f := NewTileFetcher(srv.URL + "/{z}/{x}/{y}.png")
	if _, err := f.DataURI(context.Background(), 2, 1, 1); err == nil {
		t.Error("expected error for 404 tile")
	}
}

func TestRenderProducesSVGWithTiles(t *testing.T) {
	var requests int64
	srv := tileServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Write(tinyPNG)
	})

	r := NewRenderer(NewTileFetcher(srv.URL + "/{z}/{x}/{y}.png"))
	svg, err := r.Render(context.Background(), testPath())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if !strings.HasPrefix(svg, `<svg xmlns="http://www.w3.org/2000/svg"`) {
		t.Errorf("output does not start with an svg element: %.80s", svg)
	}
	if !strings.HasSuffix(svg, "</svg>") {
		t.Error("output is not a closed svg document")
	}
	if !strings.Contains(svg, `fill="#f5f2ea"`) {
		t.Error("missing background rectangle")
	}
	if !strings.Contains(svg, `stroke="#C38822"`) {
		t.Error("missing path polyline")
	}
	if !strings.Contains(svg, `fill="#1e7b34"`) || !strings.Contains(svg, `fill="#a7261c"`) {
		t.Error("missing start or end marker")
	}
	if atomic.LoadInt64(&requests) == 0 {
		t.Error("no tiles were requested")
	}
	if !strings.Contains(svg, "data:image/png;base64,") {
		t.Error("no tile images embedded")
	}
}

func TestRenderSurvivesTileFailures(t *testing.T) {
	srv := tileServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	r := NewRenderer(NewTileFetcher(srv.URL + "/{z}/{x}/{y}.png"))
	svg, err := r.Render(context.Background(), testPath())
	if err != nil {
		t.Fatalf("Render should not fail on tile errors: %v", err)
	}
	if strings.Contains(svg, "<image") {
		t.Error("failed tiles must be omitted from output")
	}
	if !strings.Contains(svg, `stroke="#C38822"`) {
		t.Error("path must still render without tiles")
	}
}

func TestRenderEmptyPath(t *testing.T) {
	r := NewRenderer(NewTileFetcher("http://invalid.local/{z}/{x}/{y}.png"))
	if _, err := r.Render(context.Background(), nil); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestRenderSinglePoint(t *testing.T) {
	srv := tileServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(tinyPNG)
	})

	r := NewRenderer(NewTileFetcher(srv.URL + "/{z}/{x}/{y}.png"))
	svg, err := r.Render(context.Background(), models.GeoPath{{Lon: 2.35, Lat: 48.85}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// Start and end markers coincide on a single-point path.
	if !strings.Contains(svg, `fill="#1e7b34"`) || !strings.Contains(svg, `fill="#a7261c"`) {
		t.Error("missing markers on single-point render")
	}
}
