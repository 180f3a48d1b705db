package interference

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/propagation"
)

var (
	testPoint   = model.ProtectionPoint{Latitude: 37, Longitude: -122}
	testChannel = model.ChannelMHz(3550, 3560)
	testDists   = NeighborDistances{CatAInBandKm: 150, CatBInBandKm: 200, CatAOobKm: 0, CatBOobKm: 25}
)

func grantAt(distKm float64, cat model.Category, lowMHz, highMHz float64) model.Grant {
	lat, lon, _ := geo.GeodesicPoint(testPoint.Latitude, testPoint.Longitude, distKm, 90)
	return model.Grant{
		Latitude: lat, Longitude: lon, HeightM: 10,
		Category: cat, MaxEirpDBmPerMHz: 30,
		LowFrequencyHz: lowMHz * 1e6, HighFrequencyHz: highMHz * 1e6,
	}
}

func testGrants() []model.Grant {
	return []model.Grant{
		grantAt(10, model.CategoryA, 3550, 3560),  // in band
		grantAt(100, model.CategoryA, 3555, 3565), // partial overlap
		grantAt(160, model.CategoryA, 3550, 3560), // beyond cat A radius
		grantAt(160, model.CategoryB, 3550, 3560), // within cat B radius
		grantAt(20, model.CategoryB, 3565, 3575),  // 5 MHz away
		grantAt(20, model.CategoryB, 3610, 3620),  // 50 MHz away, below cutoff
		grantAt(11, model.CategoryA, 3570, 3580),  // cat A has no OOB neighborhood
	}
}

func TestOobMaskDBmPerMHz(t *testing.T) {
	for _, tc := range []struct {
		lowMHz, highMHz float64
		want            float64
	}{
		{3550, 3560, 30},
		{3560, 3570, -13}, // adjacent
		{3565, 3575, -13},
		{3570, 3580, -13},
		{3575, 3585, -25},
		{3600, 3610, -25},
		{3610, 3620, -40},
		{3500, 3510, -25},
	} {
		g := grantAt(1, model.CategoryB, tc.lowMHz, tc.highMHz)
		if got := OobMaskDBmPerMHz(g, testChannel); got != tc.want {
			t.Fatalf("mask for [%v, %v) = %v, want %v", tc.lowMHz, tc.highMHz, got, tc.want)
		}
	}
}

func TestChannelPowerDBm(t *testing.T) {
	full := grantAt(1, model.CategoryB, 3550, 3560)
	if p, l := ChannelPowerDBm(full, testChannel); math.Abs(p-40) > 1e-9 || l != 0 {
		t.Fatalf("full overlap = (%v, %v), want (40, 0)", p, l)
	}
	half := grantAt(1, model.CategoryB, 3555, 3565)
	if p, l := ChannelPowerDBm(half, testChannel); math.Abs(p-(30+10*math.Log10(5))) > 1e-9 || math.Abs(l-10*math.Log10(2)) > 1e-9 {
		t.Fatalf("half overlap = (%v, %v)", p, l)
	}
	oob := grantAt(1, model.CategoryB, 3565, 3575)
	if p, l := ChannelPowerDBm(oob, testChannel); math.Abs(p+3) > 1e-9 || math.Abs(l-43) > 1e-9 {
		t.Fatalf("oob = (%v, %v), want (-3, 43)", p, l)
	}
}

func TestFindGrantsInsideNeighborhood(t *testing.T) {
	grants := testGrants()
	c := model.NewDpaConstraint(testPoint, testChannel)
	idx, err := NewGrantIndex(grants)
	if err != nil {
		t.Fatalf("NewGrantIndex: %v", err)
	}
	for _, tc := range []struct {
		dpaType DpaType
		want    []int
	}{
		{DpaCoChannel, []int{0, 1, 3, 4}},
		{DpaOutOfBand, []int{4}},
	} {
		got := FindGrantsInsideNeighborhood(grants, c, tc.dpaType, testDists)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%v neighbors mismatch (-want +got):\n%s", tc.dpaType, diff)
		}
		got = idx.FindInsideNeighborhood(c, tc.dpaType, testDists)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%v indexed neighbors mismatch (-want +got):\n%s", tc.dpaType, diff)
		}
	}
}

func TestGrantIndex_WithinCoversCircle(t *testing.T) {
	var grants []model.Grant
	for az := 0.0; az < 360; az += 15 {
		lat, lon, _ := geo.GeodesicPoint(60, 10, 199.5, az)
		grants = append(grants, model.Grant{Latitude: lat, Longitude: lon})
	}
	idx, err := NewGrantIndex(grants)
	if err != nil {
		t.Fatal(err)
	}
	if got := idx.Within(60, 10, 200); len(got) != len(grants) {
		t.Fatalf("Within returned %d grants, want %d", len(got), len(grants))
	}
}

func TestGrantIndex_WithinAcrossAntimeridian(t *testing.T) {
	var grants []model.Grant
	for _, lon := range []float64{-179.9, 179.8, 0} {
		g := grantAt(1, model.CategoryA, 3550, 3560)
		g.Latitude, g.Longitude = 0, lon
		grants = append(grants, g)
	}
	idx, err := NewGrantIndex(grants)
	if err != nil {
		t.Fatal(err)
	}
	for _, lon := range []float64{179.95, -179.95} {
		if diff := cmp.Diff([]int{0, 1}, idx.Within(0, lon, 50)); diff != "" {
			t.Fatalf("Within at lon %v mismatch (-want +got):\n%s", lon, diff)
		}
	}
	c := model.NewDpaConstraint(model.ProtectionPoint{Latitude: 0, Longitude: 179.95}, testChannel)
	dists := NeighborDistances{CatAInBandKm: 50, CatBInBandKm: 50}
	if diff := cmp.Diff([]int{0, 1}, idx.FindInsideNeighborhood(c, DpaCoChannel, dists)); diff != "" {
		t.Fatalf("neighbors across the antimeridian mismatch (-want +got):\n%s", diff)
	}
}

// distanceModel loses 100 dB plus 1 dB per km and fails its first failures
// calls.
type distanceModel struct {
	failures int
	calls    int
}

func (m *distanceModel) Losses(_ context.Context, l propagation.Link, rels []float64, _ *rand.Rand) (propagation.LossResult, error) {
	m.calls++
	if m.calls <= m.failures {
		return propagation.LossResult{}, errors.New("flaky terrain")
	}
	d, bearing, rev := geo.GeodesicDistanceBearing(l.CbsdLat, l.CbsdLon, l.RxLat, l.RxLon)
	loss := make([]float64, len(rels))
	for i := range loss {
		loss[i] = 100 + d
	}
	return propagation.LossResult{
		LossDB:    loss,
		Incidence: propagation.IncidenceAngles{HorCbsd: bearing, HorRx: rev},
	}, nil
}

func TestFormInterferenceMatrix(t *testing.T) {
	grants := testGrants()
	c := model.NewDpaConstraint(testPoint, testChannel)
	pm := &distanceModel{failures: 2}
	rng := rand.New(rand.NewPCG(7, 0))
	m, err := FormInterferenceMatrix(context.Background(), pm, grants, []int{3, 0}, c, 50, 4, rng)
	if err != nil {
		t.Fatalf("FormInterferenceMatrix: %v", err)
	}
	if diff := cmp.Diff([]int{0, 3}, m.GrantIDs); diff != "" {
		t.Fatalf("grant ids mismatch (-want +got):\n%s", diff)
	}
	if m.NumIter() != 4 || m.Retries != 2 {
		t.Fatalf("iterations = %d retries = %d, want 4 and 2", m.NumIter(), m.Retries)
	}
	for i := 0; i < 4; i++ {
		if got := m.Samples[i][0]; math.Abs(got-(40-110)) > 1e-6 {
			t.Fatalf("sample[%d][0] = %v, want -70", i, got)
		}
	}
	if math.Abs(m.ArrivalDeg[0]-90) > 0.5 {
		t.Fatalf("arrival bearing = %v, want about 90", m.ArrivalDeg[0])
	}
}

func TestFormInterferenceMatrix_FssEarthStation(t *testing.T) {
	grants := testGrants()
	for _, tc := range []struct {
		name string
		es   model.FssEarthStation
		want float64
	}{
		// Pointed at the GSO slot due south, the grant to the east is 90
		// degrees off axis.
		{"gso pointing", model.FssEarthStation{HeightM: 5, GainDBi: 40, SatLonDeg: testPoint.Longitude, W2: 1}, 40 - 110 - 10},
		{"surveyed toward grant", model.FssEarthStation{GainDBi: 40, AzimuthDeg: 90, ElevationDeg: 1e-9, W2: 1}, 40 - 110 + 40},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := model.NewFssConstraint(testPoint, testChannel, tc.es)
			m, err := FormInterferenceMatrix(context.Background(), &distanceModel{}, grants, []int{0}, c, tc.es.HeightM, 2, rand.New(rand.NewPCG(3, 0)))
			if err != nil {
				t.Fatalf("FormInterferenceMatrix: %v", err)
			}
			if got := m.Samples[0][0]; math.Abs(got-tc.want) > 0.1 {
				t.Fatalf("sample = %v, want %v", got, tc.want)
			}
		})
	}

	p := FssPointing(testPoint, model.FssEarthStation{SatLonDeg: testPoint.Longitude})
	if math.Abs(p.AzimuthDeg-180) > 1 || p.ElevationDeg < 40 || p.ElevationDeg > 50 {
		t.Fatalf("GSO pointing = (%v, %v), want due south at about 46 degrees", p.AzimuthDeg, p.ElevationDeg)
	}
}

func TestFormInterferenceMatrix_PersistentFailure(t *testing.T) {
	grants := testGrants()
	c := model.NewDpaConstraint(testPoint, testChannel)
	pm := &distanceModel{failures: 100}
	_, err := FormInterferenceMatrix(context.Background(), pm, grants, []int{0}, c, 50, 2, rand.New(rand.NewPCG(1, 1)))
	if !errors.Is(err, propagation.ErrPropagationFailure) {
		t.Fatalf("err = %v, want ErrPropagationFailure", err)
	}
	if pm.calls != MaxPropagationRetries+1 {
		t.Fatalf("calls = %d, want %d", pm.calls, MaxPropagationRetries+1)
	}
}

func TestQuantileAndAggregate(t *testing.T) {
	x := []float64{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}
	if got := Quantile(0.5, x); got != 5 {
		t.Fatalf("median = %v, want 5", got)
	}
	if x[0] != 5 {
		t.Fatalf("Quantile modified its input")
	}
	m := Matrix{Samples: [][]float64{{0, 0}, {10, -100}}}
	agg := m.Aggregate([]bool{true, true}, nil)
	if math.Abs(agg[0]-10*math.Log10(2)) > 1e-9 || math.Abs(agg[1]-10) > 1e-6 {
		t.Fatalf("aggregate = %v", agg)
	}
	if got := m.Aggregate([]bool{false, false}, nil); !math.IsInf(got[0], -1) {
		t.Fatalf("empty aggregate = %v, want -Inf", got[0])
	}
	if got := m.Aggregate([]bool{true, false}, []float64{-25, 0}); math.Abs(got[1]+15) > 1e-9 {
		t.Fatalf("offset aggregate = %v, want -15", got[1])
	}
}
