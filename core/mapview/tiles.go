package mapview

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const tileFetchTimeout = 8 * time.Second

// TileFetcher retrieves background tiles from an HTTP tile service.
type TileFetcher struct {
	client    *http.Client
	template  string
	userAgent string
}

// NewTileFetcher creates a fetcher for the given URL template. The
// template uses {z}, {x} and {y} placeholders.
func NewTileFetcher(template string) *TileFetcher {
	return &TileFetcher{
		client:    &http.Client{Timeout: tileFetchTimeout},
		template:  template,
		userAgent: "telemetry-pipeline-map-preview/1.0",
	}
}

func (f *TileFetcher) tileURL(z, x, y int) string {
	url := strings.ReplaceAll(f.template, "{z}", strconv.Itoa(z))
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(x))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(y))
	return url
}

// DataURI fetches one tile and returns it as an inline base64 data URI.
// Any network or HTTP failure returns an error; callers treat a missing
// tile as cosmetic and skip it.
func (f *TileFetcher) DataURI(ctx context.Context, z, x, y int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.tileURL(z, x, y), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/png,image/*;q=0.8,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tile %d/%d/%d: status %d", z, x, y, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw), nil
}
