package geo

import "math"

// EarthRadiusKm is the WGS84 mean radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// lat/lng points.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// HaversineM returns the great-circle distance in meters.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineKm(lat1, lng1, lat2, lng2) * 1000
}

// TileXY converts a lat/lng to slippy-map tile coordinates at the given zoom
// level. Latitude is clamped to the Web Mercator limits.
func TileXY(lat, lng float64, zoom int) (x, y int) {
	lat = math.Max(-85.0511, math.Min(85.0511, lat))
	n := math.Exp2(float64(zoom))

	x = int(math.Floor((lng + 180.0) / 360.0 * n))
	latRad := toRadians(lat)
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	max := int(n) - 1
	if x < 0 {
		x = 0
	}
	if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	}
	if y > max {
		y = max
	}
	return x, y
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
