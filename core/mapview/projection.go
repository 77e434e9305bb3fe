// Package mapview renders a GPS path over stitched background tiles as
// a self-contained SVG composite.
package mapview

import (
	"math"

	"telemetry-pipeline/core/models"
)

// TileSize is the edge length of one background tile in pixels.
const TileSize = 256

// Canvas defaults match the thumbnail slot in the log table UI.
const (
	DefaultWidth   = 232
	DefaultHeight  = 144
	DefaultPadding = 14
)

const (
	maxZoom = 18
	minZoom = 2
	// singlePointZoom is used when the path has too few points to fit.
	singlePointZoom = 12
)

// maxLatitude is the Web-Mercator projection domain limit.
const maxLatitude = 85.05112878

func clampLat(lat float64) float64 {
	return math.Max(math.Min(lat, maxLatitude), -maxLatitude)
}

// WorldPixels projects a coordinate to the global pixel space of the
// given zoom level using the standard Web-Mercator tile projection.
func WorldPixels(c models.Coordinate, zoom int) (float64, float64) {
	lat := clampLat(c.Lat)
	scale := float64(TileSize) * math.Exp2(float64(zoom))
	x := (c.Lon + 180.0) / 360.0 * scale
	sinLat := math.Sin(lat * math.Pi / 180.0)
	y := (0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)) * scale
	return x, y
}

// PickZoom searches from the most detailed zoom down and returns the
// first level where the path's projected bounding box fits within the
// padded canvas. Paths with fewer than two points get a fixed mid-range
// zoom; a path too large for every level falls back to the coarsest.
func PickZoom(path models.GeoPath, width, height, padding int) int {
	if len(path) < 2 {
		return singlePointZoom
	}

	minLon, maxLon := path[0].Lon, path[0].Lon
	minLat, maxLat := path[0].Lat, path[0].Lat
	for _, c := range path[1:] {
		minLon = math.Min(minLon, c.Lon)
		maxLon = math.Max(maxLon, c.Lon)
		minLat = math.Min(minLat, c.Lat)
		maxLat = math.Max(maxLat, c.Lat)
	}

	usableWidth := math.Max(float64(width-2*padding), 10)
	usableHeight := math.Max(float64(height-2*padding), 10)

	for zoom := maxZoom; zoom > minZoom; zoom-- {
		minX, minY := WorldPixels(models.Coordinate{Lon: minLon, Lat: maxLat}, zoom)
		maxX, maxY := WorldPixels(models.Coordinate{Lon: maxLon, Lat: minLat}, zoom)
		if (maxX-minX) <= usableWidth && (maxY-minY) <= usableHeight {
			return zoom
		}
	}
	return minZoom
}
