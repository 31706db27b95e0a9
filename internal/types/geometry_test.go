package types

import (
	"math"
	"testing"
)

func TestParseFeatureCollection(t *testing.T) {
	fc, err := ParseFeatureCollection([]byte(`{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [1.5, 2.5]},
			"properties": {"highway": "primary"}
		}]
	}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("Got %d features, want 1", len(fc.Features))
	}
	if fc.Features[0].Properties["highway"] != "primary" {
		t.Errorf("Properties = %v", fc.Features[0].Properties)
	}
}

func TestParseFeatureCollectionInvalid(t *testing.T) {
	if _, err := ParseFeatureCollection([]byte("{")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestCentroidPoint(t *testing.T) {
	fc, err := ParseFeatureCollection([]byte(`{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [10, 20]},
			"properties": {}
		}]
	}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := fc.Centroid()
	if c == nil {
		t.Fatal("Expected a centroid")
	}
	if c.Lon != 10 || c.Lat != 20 {
		t.Errorf("Centroid = (%v, %v), want (10, 20)", c.Lon, c.Lat)
	}
}

func TestCentroidLineString(t *testing.T) {
	fc, err := ParseFeatureCollection([]byte(`{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {"type": "LineString", "coordinates": [[0, 0], [10, 20]]},
			"properties": {}
		}]
	}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := fc.Centroid()
	if c == nil {
		t.Fatal("Expected a centroid")
	}
	if math.Abs(c.Lon-5) > 1e-9 || math.Abs(c.Lat-10) > 1e-9 {
		t.Errorf("Centroid = (%v, %v), want (5, 10)", c.Lon, c.Lat)
	}
}

func TestCentroidAcrossFeatures(t *testing.T) {
	fc, err := ParseFeatureCollection([]byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]}, "properties": {}},
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [4, 8]}, "properties": {}}
		]
	}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := fc.Centroid()
	if c == nil {
		t.Fatal("Expected a centroid")
	}
	if math.Abs(c.Lon-2) > 1e-9 || math.Abs(c.Lat-4) > 1e-9 {
		t.Errorf("Centroid = (%v, %v), want (2, 4)", c.Lon, c.Lat)
	}
}

func TestCentroidEmpty(t *testing.T) {
	fc := &FeatureCollection{Type: "FeatureCollection"}
	if c := fc.Centroid(); c != nil {
		t.Errorf("Centroid of empty collection = %+v, want nil", c)
	}
}

func TestBoundingBoxContains(t *testing.T) {
	box := BoundingBox{MinLon: -1, MinLat: -1, MaxLon: 1, MaxLat: 1}

	if !box.Contains(Point{Lon: 0, Lat: 0}) {
		t.Error("Expected origin inside box")
	}
	if box.Contains(Point{Lon: 2, Lat: 0}) {
		t.Error("Expected point east of box outside")
	}
	if !box.Contains(Point{Lon: 1, Lat: 1}) {
		t.Error("Expected boundary point inside")
	}
}
