// Package geo provides WGS-84 geodesy used by the propagation and
// interference layers: Vincenty inverse and direct solutions, geodesic
// sampling, ECEF helpers and polygon utilities.
package geo

import (
	"fmt"
	"math"
)

// WGS-84 ellipsoid.
const (
	SemiMajorAxisM = 6378137.0
	Flattening     = 1 / 298.257223563
	SemiMinorAxisM = (1 - Flattening) * SemiMajorAxisM

	vincentyTolerance = 1e-12
	vincentyMaxIter   = 200
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// GeodesicDistanceBearing solves the inverse geodesic problem between two
// points. It returns the distance in km, the forward bearing at point 1 and
// the reverse bearing (from point 2 back to point 1), both in degrees in
// [0, 360). Identical inputs return (0, 0, 0).
func GeodesicDistanceBearing(lat1, lon1, lat2, lon2 float64) (distKm, bearingDeg, revBearingDeg float64) {
	if lat1 == lat2 && lon1 == lon2 {
		return 0, 0, 0
	}
	a, b, f := SemiMajorAxisM, SemiMinorAxisM, Flattening

	L := (lon2 - lon1) * degToRad
	U1 := math.Atan((1 - f) * math.Tan(lat1*degToRad))
	U2 := math.Atan((1 - f) * math.Tan(lat2*degToRad))
	sinU1, cosU1 := math.Sincos(U1)
	sinU2, cosU2 := math.Sincos(U2)

	lambda := L
	var sinLambda, cosLambda, sinSigma, cosSigma, sigma, cos2Alpha, cos2SigmaM float64
	for i := 0; i < vincentyMaxIter; i++ {
		sinLambda, cosLambda = math.Sincos(lambda)
		t1 := cosU2 * sinLambda
		t2 := cosU1*sinU2 - sinU1*cosU2*cosLambda
		sinSigma = math.Sqrt(t1*t1 + t2*t2)
		if sinSigma == 0 {
			return 0, 0, 0
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cos2Alpha = 1 - sinAlpha*sinAlpha
		if cos2Alpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cos2Alpha
		} else {
			cos2SigmaM = 0 // equatorial line
		}
		C := f / 16 * cos2Alpha * (4 + f*(4-3*cos2Alpha))
		prev := lambda
		lambda = L + (1-C)*f*sinAlpha*
			(sigma+C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-prev) < vincentyTolerance {
			break
		}
	}

	uSq := cos2Alpha * (a*a - b*b) / (b * b)
	A := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
	B := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
	deltaSigma := B * sinSigma * (cos2SigmaM + B/4*(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
		B/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
	s := b * A * (sigma - deltaSigma)

	alpha1 := math.Atan2(cosU2*sinLambda, cosU1*sinU2-sinU1*cosU2*cosLambda)
	alpha2 := math.Atan2(cosU1*sinLambda, -sinU1*cosU2+cosU1*sinU2*cosLambda)

	return s / 1000, normalizeBearing(alpha1 * radToDeg), normalizeBearing(alpha2*radToDeg + 180)
}

// GeodesicDistanceBearings is the element-wise form of
// GeodesicDistanceBearing over equally sized slices.
func GeodesicDistanceBearings(lats1, lons1, lats2, lons2 []float64) (dists, bearings, revBearings []float64, err error) {
	n := len(lats1)
	if len(lons1) != n || len(lats2) != n || len(lons2) != n {
		return nil, nil, nil, fmt.Errorf("geodesic inputs have mismatched lengths %d/%d/%d/%d",
			len(lats1), len(lons1), len(lats2), len(lons2))
	}
	dists = make([]float64, n)
	bearings = make([]float64, n)
	revBearings = make([]float64, n)
	for i := range lats1 {
		dists[i], bearings[i], revBearings[i] = GeodesicDistanceBearing(lats1[i], lons1[i], lats2[i], lons2[i])
	}
	return dists, bearings, revBearings, nil
}

// GeodesicPoint solves the direct geodesic problem: the point reached by
// travelling distKm from (lat, lon) along bearingDeg. It also returns the
// reverse bearing from the destination back to the origin.
func GeodesicPoint(lat, lon, distKm, bearingDeg float64) (lat2, lon2, revBearingDeg float64) {
	if distKm == 0 {
		return lat, lon, normalizeBearing(bearingDeg + 180)
	}
	a, b, f := SemiMajorAxisM, SemiMinorAxisM, Flattening
	s := distKm * 1000

	alpha1 := bearingDeg * degToRad
	sinAlpha1, cosAlpha1 := math.Sincos(alpha1)
	tanU1 := (1 - f) * math.Tan(lat*degToRad)
	cosU1 := 1 / math.Sqrt(1+tanU1*tanU1)
	sinU1 := tanU1 * cosU1
	sigma1 := math.Atan2(tanU1, cosAlpha1)
	sinAlpha := cosU1 * sinAlpha1
	cos2Alpha := 1 - sinAlpha*sinAlpha
	uSq := cos2Alpha * (a*a - b*b) / (b * b)
	A := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
	B := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))

	sigma := s / (b * A)
	var sinSigma, cosSigma, cos2SigmaM float64
	for i := 0; i < vincentyMaxIter; i++ {
		cos2SigmaM = math.Cos(2*sigma1 + sigma)
		sinSigma, cosSigma = math.Sincos(sigma)
		deltaSigma := B * sinSigma * (cos2SigmaM + B/4*(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
			B/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
		prev := sigma
		sigma = s/(b*A) + deltaSigma
		if math.Abs(sigma-prev) < vincentyTolerance {
			break
		}
	}
	cos2SigmaM = math.Cos(2*sigma1 + sigma)
	sinSigma, cosSigma = math.Sincos(sigma)

	tmp := sinU1*sinSigma - cosU1*cosSigma*cosAlpha1
	phi2 := math.Atan2(sinU1*cosSigma+cosU1*sinSigma*cosAlpha1, (1-f)*math.Sqrt(sinAlpha*sinAlpha+tmp*tmp))
	lambda := math.Atan2(sinSigma*sinAlpha1, cosU1*cosSigma-sinU1*sinSigma*cosAlpha1)
	C := f / 16 * cos2Alpha * (4 + f*(4-3*cos2Alpha))
	L := lambda - (1-C)*f*sinAlpha*
		(sigma+C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
	alpha2 := math.Atan2(sinAlpha, -tmp)

	return phi2 * radToDeg, normalizeLongitude(lon + L*radToDeg), normalizeBearing(alpha2*radToDeg + 180)
}

// GeodesicPoints runs GeodesicPoint for several distances sharing the same
// origin and bearing.
func GeodesicPoints(lat, lon float64, distsKm []float64, bearingDeg float64) (lats, lons, revBearings []float64) {
	lats = make([]float64, len(distsKm))
	lons = make([]float64, len(distsKm))
	revBearings = make([]float64, len(distsKm))
	for i, d := range distsKm {
		lats[i], lons[i], revBearings[i] = GeodesicPoint(lat, lon, d, bearingDeg)
	}
	return lats, lons, revBearings
}

// GeodesicSampling returns nPts equally spaced samples along the geodesic
// from point 1 to point 2. The endpoints are the exact inputs.
func GeodesicSampling(lat1, lon1, lat2, lon2 float64, nPts int) (lats, lons []float64) {
	if nPts <= 0 {
		return nil, nil
	}
	if nPts == 1 {
		return []float64{lat1}, []float64{lon1}
	}
	dist, bearing, _ := GeodesicDistanceBearing(lat1, lon1, lat2, lon2)
	lats = make([]float64, nPts)
	lons = make([]float64, nPts)
	step := dist / float64(nPts-1)
	for i := 1; i < nPts-1; i++ {
		lats[i], lons[i], _ = GeodesicPoint(lat1, lon1, step*float64(i), bearing)
	}
	lats[0], lons[0] = lat1, lon1
	lats[nPts-1], lons[nPts-1] = lat2, lon2
	return lats, lons
}

func normalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func normalizeLongitude(deg float64) float64 {
	deg = math.Mod(deg+180, 360)
	if deg < 0 {
		deg += 360
	}
	return deg - 180
}
