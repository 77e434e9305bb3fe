package mapview

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"telemetry-pipeline/core/models"
)

const tileFetchParallelism = 4

// Renderer composes a path polyline over stitched background tiles.
// Render is a pure function of its inputs; idempotence per log is the
// caller's concern.
type Renderer struct {
	fetcher *TileFetcher
	width   int
	height  int
	padding int
}

// NewRenderer creates a renderer with the default thumbnail canvas.
func NewRenderer(fetcher *TileFetcher) *Renderer {
	return &Renderer{
		fetcher: fetcher,
		width:   DefaultWidth,
		height:  DefaultHeight,
		padding: DefaultPadding,
	}
}

type placedTile struct {
	x, y    float64
	dataURI string
}

// Render projects the path at a fitting zoom level, stitches the tiles
// under it and returns the SVG document. Tiles that fail to fetch are
// silently omitted; the rounded background rectangle shows through.
func (r *Renderer) Render(ctx context.Context, path models.GeoPath) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("no coordinates available for map preview generation")
	}

	zoom := PickZoom(path, r.width, r.height, r.padding)

	worldX := make([]float64, len(path))
	worldY := make([]float64, len(path))
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, c := range path {
		x, y := WorldPixels(c, zoom)
		worldX[i], worldY[i] = x, y
		minX = math.Min(minX, x)
		maxX = math.Max(maxX, x)
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}

	pathWidth := math.Max(maxX-minX, 1.0)
	pathHeight := math.Max(maxY-minY, 1.0)
	offsetX := (float64(r.width)-pathWidth)/2.0 - minX
	offsetY := (float64(r.height)-pathHeight)/2.0 - minY

	tiles := r.fetchTiles(ctx, zoom, offsetX, offsetY)

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		r.width, r.height, r.width, r.height)
	fmt.Fprintf(&b, `<defs><clipPath id="clip"><rect x="0" y="0" width="%d" height="%d" rx="8" ry="8" /></clipPath></defs>`,
		r.width, r.height)
	fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%d" fill="#f5f2ea" rx="8" ry="8" />`,
		r.width, r.height)

	b.WriteString(`<g clip-path="url(#clip)">`)
	for _, t := range tiles {
		fmt.Fprintf(&b, `<image x="%.2f" y="%.2f" width="%d" height="%d" href="%s" />`,
			t.x, t.y, TileSize, TileSize, t.dataURI)
	}
	b.WriteString(`</g>`)

	fmt.Fprintf(&b, `<path d="%s" fill="none" stroke="#C38822" stroke-width="3" stroke-linecap="round" stroke-linejoin="round" />`,
		svgPath(worldX, worldY, offsetX, offsetY))

	startX, startY := worldX[0]+offsetX, worldY[0]+offsetY
	endX, endY := worldX[len(worldX)-1]+offsetX, worldY[len(worldY)-1]+offsetY
	fmt.Fprintf(&b, `<circle cx="%.2f" cy="%.2f" r="4" fill="#1e7b34" stroke="#ffffff" stroke-width="1.2" />`, startX, startY)
	fmt.Fprintf(&b, `<circle cx="%.2f" cy="%.2f" r="4" fill="#a7261c" stroke="#ffffff" stroke-width="1.2" />`, endX, endY)
	b.WriteString(`</svg>`)

	return b.String(), nil
}

// fetchTiles derives the tile footprint of the visible canvas and
// fetches the needed tiles with bounded parallelism. Horizontal indices
// wrap around the antimeridian; rows outside the valid range are
// skipped.
func (r *Renderer) fetchTiles(ctx context.Context, zoom int, offsetX, offsetY float64) []placedTile {
	viewMinX := -offsetX
	viewMaxX := float64(r.width) - offsetX
	viewMinY := -offsetY
	viewMaxY := float64(r.height) - offsetY

	tileMinX := int(math.Floor(viewMinX / TileSize))
	tileMaxX := int(math.Floor(viewMaxX / TileSize))
	tileMinY := int(math.Floor(viewMinY / TileSize))
	tileMaxY := int(math.Floor(viewMaxY / TileSize))

	tileCount := 1 << zoom

	type slot struct {
		tx, ty int
	}
	var slots []slot
	for ty := tileMinY; ty <= tileMaxY; ty++ {
		if ty < 0 || ty >= tileCount {
			continue
		}
		for tx := tileMinX; tx <= tileMaxX; tx++ {
			slots = append(slots, slot{tx: tx, ty: ty})
		}
	}

	uris := make([]string, len(slots))
	var g errgroup.Group
	g.SetLimit(tileFetchParallelism)
	for i, s := range slots {
		i, s := i, s
		g.Go(func() error {
			wrapped := ((s.tx % tileCount) + tileCount) % tileCount
			uri, err := r.fetcher.DataURI(ctx, zoom, wrapped, s.ty)
			if err != nil {
				// Missing tiles are cosmetic only.
				return nil
			}
			uris[i] = uri
			return nil
		})
	}
	g.Wait()

	var tiles []placedTile
	for i, s := range slots {
		if uris[i] == "" {
			continue
		}
		tiles = append(tiles, placedTile{
			x:       float64(s.tx)*TileSize + offsetX,
			y:       float64(s.ty)*TileSize + offsetY,
			dataURI: uris[i],
		})
	}
	return tiles
}

func svgPath(xs, ys []float64, offsetX, offsetY float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "M %.2f %.2f", xs[0]+offsetX, ys[0]+offsetY)
	for i := 1; i < len(xs); i++ {
		fmt.Fprintf(&b, " L %.2f %.2f", xs[i]+offsetX, ys[i]+offsetY)
	}
	return b.String()
}
