package itm

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func flatProfile(distM, stepM, height float64) []float64 {
	n := int(math.Ceil(distM / stepM))
	pfl := []float64{float64(n), distM / float64(n)}
	for i := 0; i <= n; i++ {
		pfl = append(pfl, height)
	}
	return pfl
}

func defaultParams() Params {
	return Params{
		DielectricConst: 25,
		Conductivity:    0.02,
		Refractivity:    314,
		FrequencyMHz:    3625,
		Climate:         5,
		Polarization:    Vertical,
		Confidence:      0.5,
		MdVar:           13,
	}
}

func freeSpace(distM, fMHz float64) float64 {
	return 32.45 + 20*math.Log10(fMHz) + 20*math.Log10(distM/1000)
}

func TestPointToPoint_ShortLineOfSight(t *testing.T) {
	pfl := flatProfile(55, 30, 5)
	res, err := PointToPoint(pfl, 20, 10, defaultParams(), []float64{0.5})
	if err != nil {
		t.Fatalf("PointToPoint: %v", err)
	}
	if res.Mode != "Line-Of-Sight Mode" {
		t.Fatalf("mode = %q, want line of sight", res.Mode)
	}
	if res.ErrCode != ErrCodeOutOfRange {
		t.Fatalf("err code = %d, want %d for a path under 1 km", res.ErrCode, ErrCodeOutOfRange)
	}
	fs := freeSpace(55, 3625)
	if math.Abs(res.LossDB[0]-fs) > 6 {
		t.Fatalf("loss = %v, want within 6 dB of free space %v", res.LossDB[0], fs)
	}
}

func TestPointToPoint_ReliabilityOrdering(t *testing.T) {
	pfl := flatProfile(30e3, 30, 0)
	res, err := PointToPoint(pfl, 30, 50, defaultParams(), []float64{0.1, 0.5, 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if !(res.LossDB[0] < res.LossDB[1] && res.LossDB[1] < res.LossDB[2]) {
		t.Fatalf("losses %v not increasing with reliability", res.LossDB)
	}
	if res.LossDB[1] < res.FreeSpaceLossDB-10 {
		t.Fatalf("median loss %v implausibly below free space %v", res.LossDB[1], res.FreeSpaceLossDB)
	}
	if math.Abs(res.DistanceM-30e3) > 1e-6 {
		t.Fatalf("distance = %v, want 30000", res.DistanceM)
	}
}

func TestPointToPoint_BeyondHorizon(t *testing.T) {
	// Hills near both terminals put each radio horizon about 2 km out.
	pfl := flatProfile(100e3, 100, 0)
	n := int(pfl[0])
	for _, i := range []int{20, n - 20} {
		pfl[i+2] = 50
	}
	res, err := PointToPoint(pfl, 10, 10, defaultParams(), []float64{0.5})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Mode, "Double Horizon") {
		t.Fatalf("mode = %q, want double horizon", res.Mode)
	}
	if res.LossDB[0] <= res.FreeSpaceLossDB {
		t.Fatalf("loss %v should exceed free space %v beyond the horizon", res.LossDB[0], res.FreeSpaceLossDB)
	}
}

func TestPointToPoint_ObstructionRaisesLoss(t *testing.T) {
	flat := flatProfile(20e3, 100, 0)
	ridge := append([]float64(nil), flat...)
	mid := int(flat[0]) / 2
	for i := mid - 3; i <= mid+3; i++ {
		ridge[i+2] = 300
	}
	p := defaultParams()
	a, err := PointToPoint(flat, 10, 10, p, []float64{0.5})
	if err != nil {
		t.Fatal(err)
	}
	b, err := PointToPoint(ridge, 10, 10, p, []float64{0.5})
	if err != nil {
		t.Fatal(err)
	}
	if b.LossDB[0] <= a.LossDB[0] {
		t.Fatalf("ridge loss %v not above flat loss %v", b.LossDB[0], a.LossDB[0])
	}
	if b.HorizonAngleRad[0] <= 0 {
		t.Fatalf("horizon angle toward ridge = %v, want positive", b.HorizonAngleRad[0])
	}
}

func TestPointToPoint_BadProfile(t *testing.T) {
	if _, err := PointToPoint([]float64{3, 10, 0, 0}, 10, 10, defaultParams(), []float64{0.5}); !errors.Is(err, ErrBadProfile) {
		t.Fatalf("err = %v, want ErrBadProfile", err)
	}
}

func TestQerfi(t *testing.T) {
	if v := qerfi(0.5); math.Abs(v) > 1e-3 {
		t.Fatalf("qerfi(0.5) = %v, want 0", v)
	}
	if v := qerfi(0.1); math.Abs(v-1.2816) > 1e-3 {
		t.Fatalf("qerfi(0.1) = %v, want ~1.2816", v)
	}
	if math.Abs(qerfi(0.9)+qerfi(0.1)) > 1e-9 {
		t.Fatalf("qerfi not antisymmetric")
	}
}

// crystalPalaceMursley is NTIA test path 2200, Crystal Palace to Mursley,
// England: 156 intervals of 499 m.
var crystalPalaceMursley = []float64{
	156, 499,
	96, 84, 65, 46, 46, 46, 61, 41, 33, 27, 23, 19, 15, 15, 15,
	15, 15, 15, 15, 15, 15, 15, 15, 15, 17, 19, 21, 23, 25, 27,
	29, 35, 46, 41, 35, 30, 33, 35, 37, 40, 35, 30, 51, 62, 76,
	46, 46, 46, 46, 46, 46, 50, 56, 67, 106, 83, 95, 112, 137, 137,
	76, 103, 122, 122, 83, 71, 61, 64, 67, 71, 74, 77, 79, 86, 91,
	83, 76, 68, 63, 76, 107, 107, 107, 119, 127, 133, 135, 137, 142, 148,
	152, 152, 107, 137, 104, 91, 99, 120, 152, 152, 137, 168, 168, 122, 137,
	137, 170, 183, 183, 187, 194, 201, 192, 152, 152, 166, 177, 198, 156, 127,
	116, 107, 104, 101, 98, 95, 103, 91, 97, 102, 107, 107, 107, 103, 98,
	94, 91, 105, 122, 122, 122, 122, 122, 137, 137, 137, 137, 137, 137, 137,
	137, 140, 144, 147, 150, 152, 159,
}

func TestPointToPoint_CrystalPalaceMursley(t *testing.T) {
	reliabilities := []float64{0.01, 0.1, 0.5, 0.9, 0.99}
	confidences := []float64{0.5, 0.9, 0.1}
	for _, tc := range []struct {
		freqMHz float64
		// want[i][j] is the loss at reliabilities[i] and confidences[j].
		want [5][3]float64
	}{
		{41.5, [5][3]float64{
			{128.6, 137.6, 119.6},
			{132.2, 140.8, 123.5},
			{135.8, 144.3, 127.2},
			{138.0, 146.5, 129.4},
			{139.7, 148.4, 131.1},
		}},
		{573.3, [5][3]float64{
			{144.3, 154.1, 134.4},
			{150.9, 159.5, 142.3},
			{157.6, 165.7, 149.5},
			{163.2, 172.4, 154.1},
			{168.2, 177.8, 158.3},
		}},
	} {
		for j, conf := range confidences {
			p := Params{
				DielectricConst: 15,
				Conductivity:    0.005,
				Refractivity:    314,
				FrequencyMHz:    tc.freqMHz,
				Climate:         5,
				Polarization:    Horizontal,
				Confidence:      conf,
				MdVar:           12,
			}
			res, err := PointToPoint(crystalPalaceMursley, 143.9, 8.5, p, reliabilities)
			if err != nil {
				t.Fatalf("%v MHz: %v", tc.freqMHz, err)
			}
			if !strings.HasPrefix(res.Mode, "Double Horizon") {
				t.Fatalf("%v MHz: mode = %q, want double horizon", tc.freqMHz, res.Mode)
			}
			for i, rel := range reliabilities {
				if d := res.LossDB[i] - tc.want[i][j]; math.Abs(d) > 0.1 {
					t.Errorf("%v MHz rel %v conf %v: loss = %.2f, want %.1f", tc.freqMHz, rel, conf, res.LossDB[i], tc.want[i][j])
				}
			}
		}
	}
}
