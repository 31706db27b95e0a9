package types

import (
	"encoding/json"
	"fmt"
)

// FeatureCollection is the minimal GeoJSON shape tasks carry. Feature
// properties drive priority rule evaluation; coordinates drive the task
// centroid used by bounding-box filters.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a single GeoJSON feature with its property map
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry keeps coordinates raw so that all GeoJSON geometry types
// (Point, LineString, Polygon, Multi*) pass through unmodified.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Point is a lon/lat pair
type Point struct {
	Lon float64
	Lat float64
}

// ParseFeatureCollection decodes a GeoJSON FeatureCollection
func ParseFeatureCollection(data []byte) (*FeatureCollection, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse geojson: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}
	return &fc, nil
}

// Centroid returns the average of all coordinate positions across every
// feature, or nil when the collection holds no positions. Cheap stand-in for
// a true geometric centroid; only used to place tasks for bbox filtering.
func (fc *FeatureCollection) Centroid() *Point {
	if fc == nil {
		return nil
	}
	var sumLon, sumLat float64
	var n int
	for _, f := range fc.Features {
		if len(f.Geometry.Coordinates) == 0 {
			continue
		}
		var raw any
		if err := json.Unmarshal(f.Geometry.Coordinates, &raw); err != nil {
			continue
		}
		collectPositions(raw, func(lon, lat float64) {
			sumLon += lon
			sumLat += lat
			n++
		})
	}
	if n == 0 {
		return nil
	}
	return &Point{Lon: sumLon / float64(n), Lat: sumLat / float64(n)}
}

// collectPositions walks arbitrarily nested coordinate arrays and invokes fn
// for each [lon, lat, ...] position found.
func collectPositions(raw any, fn func(lon, lat float64)) {
	arr, ok := raw.([]any)
	if !ok || len(arr) == 0 {
		return
	}
	if lon, ok := arr[0].(float64); ok {
		if len(arr) >= 2 {
			if lat, ok := arr[1].(float64); ok {
				fn(lon, lat)
			}
		}
		return
	}
	for _, inner := range arr {
		collectPositions(inner, fn)
	}
}
