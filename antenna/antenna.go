// Package antenna computes CBSD, radar and FSS earth station antenna gains
// toward a set of horizontal directions.
package antenna

import (
	"fmt"
	"math"
)

// Pattern limits.
const (
	maxSectorAttenDB    = 20.0
	radarOutOfBeamDB    = -25.0
	DefaultRadarBeamDeg = 3.0
	patternSamples      = 360
)

// boreAngle maps dir-azimuth into (-180, 180].
func boreAngle(dirDeg, azimuthDeg float64) float64 {
	t := math.Mod(dirDeg-azimuthDeg, 360)
	if t > 180 {
		t -= 360
	} else if t <= -180 {
		t += 360
	}
	return t
}

func isOmni(azimuthDeg, beamwidthDeg float64) bool {
	return math.IsNaN(azimuthDeg) || math.IsNaN(beamwidthDeg) || beamwidthDeg == 0 || beamwidthDeg >= 360
}

// StandardAntennaGain returns the 3GPP sectorized gain toward dirDeg. A NaN
// azimuth or beamwidth, or a beamwidth of 0 or 360, selects an omni pattern.
func StandardAntennaGain(dirDeg, azimuthDeg, beamwidthDeg, gainDBi float64) float64 {
	if isOmni(azimuthDeg, beamwidthDeg) {
		return gainDBi
	}
	t := boreAngle(dirDeg, azimuthDeg) / beamwidthDeg
	return gainDBi + math.Max(-12*t*t, -maxSectorAttenDB)
}

// GetStandardAntennaGains evaluates StandardAntennaGain for every direction.
func GetStandardAntennaGains(horDirs []float64, azimuthDeg, beamwidthDeg, gainDBi float64) []float64 {
	out := make([]float64, len(horDirs))
	for i, d := range horDirs {
		out[i] = StandardAntennaGain(d, azimuthDeg, beamwidthDeg, gainDBi)
	}
	return out
}

// GetAntennaGainsFromPattern interpolates a 360 sample pattern, one sample
// per degree clockwise from boresight and relative to the peak gain.
func GetAntennaGainsFromPattern(horDirs []float64, pattern []float64, azimuthDeg, gainDBi float64) ([]float64, error) {
	if len(pattern) != patternSamples {
		return nil, fmt.Errorf("antenna pattern has %d samples, want %d", len(pattern), patternSamples)
	}
	out := make([]float64, len(horDirs))
	for i, d := range horDirs {
		t := math.Mod(d-azimuthDeg, 360)
		if t < 0 {
			t += 360
		}
		lo := int(math.Floor(t)) % patternSamples
		hi := (lo + 1) % patternSamples
		frac := t - math.Floor(t)
		out[i] = gainDBi + pattern[lo] + frac*(pattern[hi]-pattern[lo])
	}
	return out, nil
}

// GetRadarNormalizedAntennaGains returns 0 dB within half a beamwidth of
// the radar azimuth and -25 dB elsewhere. A beamwidth of 360 or a NaN
// azimuth is omni.
func GetRadarNormalizedAntennaGains(horDirs []float64, radarAzimuthDeg, beamwidthDeg float64) []float64 {
	out := make([]float64, len(horDirs))
	if math.IsNaN(radarAzimuthDeg) || beamwidthDeg >= 360 {
		return out
	}
	for i, d := range horDirs {
		if math.Abs(boreAngle(d, radarAzimuthDeg)) > beamwidthDeg/2 {
			out[i] = radarOutOfBeamDB
		}
	}
	return out
}
