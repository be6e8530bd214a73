package geo

import "math"

// earthRadiusM is the spherical-Earth radius used for great-circle distance.
const earthRadiusM = 6371000.0

// Distance returns the haversine distance in meters between two coordinates
// given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// WithinRadius reports whether the user coordinate lies within radiusM meters
// of the campus coordinate, along with the measured distance. The distance is
// returned on failure too so callers can tell the user how far off they are.
func WithinRadius(campusLat, campusLon, userLat, userLon, radiusM float64) (bool, float64) {
	d := Distance(campusLat, campusLon, userLat, userLon)
	return d <= radiusM, d
}
