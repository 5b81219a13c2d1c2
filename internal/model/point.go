// Package model defines the domain types shared by the resolver, the
// classifier and the service layers.
package model

import (
	"fmt"
	"math"
)

// Point is a longitude/latitude pair in WGS84 degrees.
type Point struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Valid reports whether the point lies within geographic coordinate bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lon) || math.IsNaN(p.Lat) {
		return false
	}
	return p.Lon >= -180 && p.Lon <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// Round snaps the point to the given number of decimal places.
func (p Point) Round(places int) Point {
	scale := math.Pow(10, float64(places))
	return Point{
		Lon: math.Round(p.Lon*scale) / scale,
		Lat: math.Round(p.Lat*scale) / scale,
	}
}

func (p Point) String() string {
	return fmt.Sprintf("(%.5f, %.5f)", p.Lon, p.Lat)
}

// BBox represents a geographic bounding box.
type BBox struct {
	MinLng float64 `json:"min_lng" yaml:"min_lng"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLng float64 `json:"max_lng" yaml:"max_lng"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
}

// EmptyBBox returns an inverted box that any Extend call will replace.
func EmptyBBox() BBox {
	return BBox{
		MinLng: math.Inf(1),
		MinLat: math.Inf(1),
		MaxLng: math.Inf(-1),
		MaxLat: math.Inf(-1),
	}
}

// IsEmpty reports whether the box covers no area at all.
func (b BBox) IsEmpty() bool {
	return b.MinLng > b.MaxLng || b.MinLat > b.MaxLat
}

// Extend grows the box to include other.
func (b BBox) Extend(other BBox) BBox {
	if other.IsEmpty() {
		return b
	}
	return BBox{
		MinLng: math.Min(b.MinLng, other.MinLng),
		MinLat: math.Min(b.MinLat, other.MinLat),
		MaxLng: math.Max(b.MaxLng, other.MaxLng),
		MaxLat: math.Max(b.MaxLat, other.MaxLat),
	}
}

// ContainsPoint reports whether p lies inside or on the edge of the box.
func (b BBox) ContainsPoint(p Point) bool {
	return p.Lon >= b.MinLng && p.Lon <= b.MaxLng && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// Intersects reports whether two boxes share any area or edge.
func (b BBox) Intersects(other BBox) bool {
	if b.IsEmpty() || other.IsEmpty() {
		return false
	}
	return b.MinLng <= other.MaxLng && other.MinLng <= b.MaxLng &&
		b.MinLat <= other.MaxLat && other.MinLat <= b.MaxLat
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
}
