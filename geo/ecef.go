package geo

import "math"

// Vec3 is an Earth-centred Earth-fixed vector in metres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// ToECEF converts a WGS-84 geodetic position (degrees, metres above the
// ellipsoid) to ECEF.
func ToECEF(latDeg, lonDeg, heightM float64) Vec3 {
	e2 := Flattening * (2 - Flattening)
	sinLat, cosLat := math.Sincos(latDeg * degToRad)
	sinLon, cosLon := math.Sincos(lonDeg * degToRad)
	n := SemiMajorAxisM / math.Sqrt(1-e2*sinLat*sinLat)
	return Vec3{
		X: (n + heightM) * cosLat * cosLon,
		Y: (n + heightM) * cosLat * sinLon,
		Z: (n*(1-e2) + heightM) * sinLat,
	}
}

// zenith returns the geodetic up unit vector at a latitude/longitude.
func zenith(latDeg, lonDeg float64) Vec3 {
	sinLat, cosLat := math.Sincos(latDeg * degToRad)
	sinLon, cosLon := math.Sincos(lonDeg * degToRad)
	return Vec3{X: cosLat * cosLon, Y: cosLat * sinLon, Z: sinLat}
}

// ElevationDegrees returns the elevation angle of target as seen from the
// observer at (latDeg, lonDeg), measured from the local geodetic horizon.
// 0° is the horizon and 90° overhead.
func ElevationDegrees(observer Vec3, latDeg, lonDeg float64, target Vec3) float64 {
	v := target.Sub(observer)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 90
	}
	cosGamma := v.Dot(zenith(latDeg, lonDeg)) / vNorm
	cosGamma = math.Max(-1, math.Min(1, cosGamma))
	return 90 - math.Acos(cosGamma)*radToDeg
}

// VerticalAngles returns the elevation of point 2 seen from point 1 and of
// point 1 seen from point 2. Heights are metres above the ellipsoid.
func VerticalAngles(lat1, lon1, h1, lat2, lon2, h2 float64) (depDeg, arrDeg float64) {
	p1 := ToECEF(lat1, lon1, h1)
	p2 := ToECEF(lat2, lon2, h2)
	return ElevationDegrees(p1, lat1, lon1, p2), ElevationDegrees(p2, lat2, lon2, p1)
}
