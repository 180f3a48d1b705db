package antenna

import (
	"math"

	satellite "github.com/joshuaferrara/go-satellite"
)

// FSS earth station weighting of the GSO tangent and perpendicular
// patterns.
const (
	DefaultFssW1 = 0.0
	DefaultFssW2 = 1.0

	gsoRadiusKm = 42164.0
)

// FssPointing is the boresight direction of an earth station antenna.
type FssPointing struct {
	AzimuthDeg   float64
	ElevationDeg float64
	GainDBi      float64
	W1, W2       float64
}

// OffAxisAngle returns the angle in degrees between the boresight (az, el)
// and a ray arriving from (horDeg, verDeg).
func OffAxisAngle(horDeg, verDeg, azDeg, elDeg float64) float64 {
	h, v := horDeg*math.Pi/180, verDeg*math.Pi/180
	az, el := azDeg*math.Pi/180, elDeg*math.Pi/180
	c := math.Cos(v)*math.Cos(el)*math.Cos(az-h) + math.Sin(v)*math.Sin(el)
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c) * 180 / math.Pi
}

// gsoTangentGain is the pattern in the plane tangent to the GSO arc. The
// sidelobe envelope does not depend on the nominal gain.
func gsoTangentGain(theta, nominal float64) float64 {
	switch {
	case theta <= 3:
		return nominal
	case theta <= 7:
		return 29 - 25*math.Log10(theta)
	case theta <= 9.2:
		return 8
	case theta <= 48:
		return 32 - 25*math.Log10(theta)
	default:
		return -10
	}
}

// gsoPerpendicularGain is the pattern perpendicular to the GSO arc.
func gsoPerpendicularGain(theta, nominal float64) float64 {
	switch {
	case theta <= 3:
		return nominal
	case theta <= 48:
		return 32 - 25*math.Log10(theta)
	default:
		return -10
	}
}

// GetFssAntennaGains returns the earth station gain toward each arrival
// direction. A ray along the boresight gets the nominal gain.
func GetFssAntennaGains(horDirs, verDirs []float64, p FssPointing) []float64 {
	out := make([]float64, len(horDirs))
	for i := range horDirs {
		theta := OffAxisAngle(horDirs[i], verDirs[i], p.AzimuthDeg, p.ElevationDeg)
		out[i] = p.W1*gsoTangentGain(theta, p.GainDBi) + p.W2*gsoPerpendicularGain(theta, p.GainDBi)
	}
	return out
}

// PointToGso returns the azimuth and elevation in degrees from an earth
// station toward a geostationary slot at satLonDeg.
func PointToGso(latDeg, lonDeg, heightM, satLonDeg float64) (azDeg, elDeg float64) {
	jd := satellite.JDay(2000, 1, 1, 12, 0, 0)
	gmst := satellite.ThetaG_JD(jd)
	// GSO slot in ECEF, rotated into the inertial frame at jd.
	x := gsoRadiusKm * math.Cos(satLonDeg*math.Pi/180)
	y := gsoRadiusKm * math.Sin(satLonDeg*math.Pi/180)
	eci := satellite.Vector3{
		X: x*math.Cos(gmst) - y*math.Sin(gmst),
		Y: x*math.Sin(gmst) + y*math.Cos(gmst),
	}
	obs := satellite.LatLong{Latitude: latDeg * math.Pi / 180, Longitude: lonDeg * math.Pi / 180}
	look := satellite.ECIToLookAngles(eci, obs, heightM/1000, jd)
	return look.Az * 180 / math.Pi, look.El * 180 / math.Pi
}
