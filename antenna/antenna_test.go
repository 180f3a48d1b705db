package antenna

import (
	"math"
	"testing"
)

func TestGetStandardAntennaGains_Symmetry(t *testing.T) {
	dirs := []float64{30, 30, 90, 330, 210, 210 + 360}
	got := GetStandardAntennaGains(dirs, 30, 120, 10)
	want := []float64{10, 10, 7, 7, -10, -10}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("gain toward %v = %v, want %v", dirs[i], got[i], want[i])
		}
	}
}

func TestGetStandardAntennaGains_Omni(t *testing.T) {
	for _, tc := range []struct {
		name   string
		az, bw float64
	}{
		{"zero beamwidth", 30, 0},
		{"full beamwidth", 30, 360},
		{"missing azimuth", math.NaN(), 65},
		{"missing beamwidth", 30, math.NaN()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, g := range GetStandardAntennaGains([]float64{0, 95, 200}, tc.az, tc.bw, 6) {
				if g != 6 {
					t.Fatalf("gain = %v, want omni 6", g)
				}
			}
		})
	}
}

func TestGetAntennaGainsFromPattern(t *testing.T) {
	pattern := make([]float64, 360)
	for i := range pattern {
		pattern[i] = -float64(i) / 10
	}
	got, err := GetAntennaGainsFromPattern([]float64{100, 100.5, 99.5}, pattern, 100, 5)
	if err != nil {
		t.Fatalf("GetAntennaGainsFromPattern: %v", err)
	}
	want := []float64{5, 4.95, 5 - 17.95}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("gain[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if _, err := GetAntennaGainsFromPattern([]float64{0}, pattern[:10], 0, 0); err == nil {
		t.Fatalf("expected error for short pattern")
	}
}

func TestGetRadarNormalizedAntennaGains(t *testing.T) {
	got := GetRadarNormalizedAntennaGains([]float64{45, 46.4, 47, 225}, 45, 3)
	want := []float64{0, 0, -25, -25}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("gain[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	for _, g := range GetRadarNormalizedAntennaGains([]float64{0, 180}, 45, 360) {
		if g != 0 {
			t.Fatalf("omni radar gain = %v, want 0", g)
		}
	}
}

func TestGetFssAntennaGains_Bore(t *testing.T) {
	p := FssPointing{AzimuthDeg: 200, ElevationDeg: 35, GainDBi: 48.5, W1: DefaultFssW1, W2: DefaultFssW2}
	got := GetFssAntennaGains([]float64{200}, []float64{35}, p)
	if got[0] != 48.5 {
		t.Fatalf("bore gain = %v, want 48.5", got[0])
	}
	off := GetFssAntennaGains([]float64{200, 200}, []float64{25, -20}, p)
	if want := 32 - 25*math.Log10(10); math.Abs(off[0]-want) > 1e-6 {
		t.Fatalf("gain 10 deg off axis = %v, want %v", off[0], want)
	}
	if off[1] != -10 {
		t.Fatalf("gain 55 deg off axis = %v, want -10", off[1])
	}
}

func TestGetFssAntennaGains_EnvelopeIgnoresNominal(t *testing.T) {
	p := FssPointing{AzimuthDeg: 0, ElevationDeg: 30, GainDBi: 10, W1: 0.5, W2: 0.5}
	got := GetFssAntennaGains([]float64{0}, []float64{26}, p)
	tangent := 29 - 25*math.Log10(4)
	perp := 32 - 25*math.Log10(4)
	if want := 0.5*tangent + 0.5*perp; math.Abs(got[0]-want) > 1e-6 {
		t.Fatalf("gain 4 deg off axis = %v, want %v above the 10 dBi nominal", got[0], want)
	}
}

func TestOffAxisAngle(t *testing.T) {
	if a := OffAxisAngle(10, 0, 100, 0); math.Abs(a-90) > 1e-9 {
		t.Fatalf("off-axis = %v, want 90", a)
	}
	if a := OffAxisAngle(0, 90, 123, 0); math.Abs(a-90) > 1e-9 {
		t.Fatalf("zenith ray vs horizon boresight = %v, want 90", a)
	}
}

func TestPointToGso(t *testing.T) {
	az, el := PointToGso(40, -100, 0, -100)
	if math.Abs(az-180) > 1 {
		t.Fatalf("azimuth = %v, want due south", az)
	}
	if math.Abs(el-43.7) > 1 {
		t.Fatalf("elevation = %v, want about 43.7", el)
	}
	az, _ = PointToGso(40, -100, 0, -80)
	if az <= 90 || az >= 180 {
		t.Fatalf("azimuth toward an eastern slot = %v, want south-east", az)
	}
}
