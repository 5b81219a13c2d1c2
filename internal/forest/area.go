package forest

import "math"

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6_371_008.8

const sqMetersPerHectare = 10_000

// AreaFunc returns the area in hectares of a pixel centered at latitude lat
// with the given size in degrees.
type AreaFunc func(lat, pixelSize float64) float64

// SphericalArea is the exact area of a lat/lon cell on a sphere of radius
// EarthRadius.
func SphericalArea(lat, pixelSize float64) float64 {
	half := pixelSize / 2
	lat1 := math.Max(lat-half, -90) * math.Pi / 180
	lat2 := math.Min(lat+half, 90) * math.Pi / 180
	dLon := pixelSize * math.Pi / 180
	return EarthRadius * EarthRadius * dLon * math.Abs(math.Sin(lat2)-math.Sin(lat1)) / sqMetersPerHectare
}

// ConstantArea returns an AreaFunc that ignores latitude.
func ConstantArea(hectares float64) AreaFunc {
	return func(float64, float64) float64 { return hectares }
}
