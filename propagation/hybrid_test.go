package propagation

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geodata"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
)

// newGeodataCalculator opens the NED, NLCD and ITU tiles under
// $DPASIM_TEST_GEODATA ({terrain,nlcd,itu} subdirectories). The reference
// losses below only hold over real terrain, so the tests skip without it.
func newGeodataCalculator(t *testing.T) *Calculator {
	t.Helper()
	root := os.Getenv("DPASIM_TEST_GEODATA")
	if root == "" {
		t.Skip("DPASIM_TEST_GEODATA not set")
	}
	d, err := geodata.NewDrivers(geodata.Config{
		TerrainDir:   filepath.Join(root, "terrain"),
		LandCoverDir: filepath.Join(root, "nlcd"),
		ItuDir:       filepath.Join(root, "itu"),
	}, logging.Noop())
	if err != nil {
		t.Fatalf("NewDrivers: %v", err)
	}
	return NewCalculator(d, logging.Noop())
}

func TestCalcItmPropagationLoss_ShortLineOfSight(t *testing.T) {
	c := newGeodataCalculator(t)
	l := Link{
		CbsdLat: 37.7567, CbsdLon: -122.5085, CbsdHeightM: 20,
		RxLat: 37.7566, RxLon: -122.5079, RxHeightM: 10,
		FreqMHz: 3625,
	}
	res, err := c.CalcItmPropagationLoss(context.Background(), l, []float64{0.5})
	if err != nil {
		t.Fatalf("CalcItmPropagationLoss: %v", err)
	}
	if math.Abs(res.LossDB[0]-78.7408) > 1e-3 {
		t.Fatalf("loss = %.4f, want 78.7408", res.LossDB[0])
	}
	if res.Internals.ItmMode != "Line-Of-Sight Mode" {
		t.Fatalf("mode = %q, want line of sight", res.Internals.ItmMode)
	}
}

func TestCalcHybridPropagationLoss_CrossOver(t *testing.T) {
	c := newGeodataCalculator(t)
	res, err := c.CalcHybridPropagationLoss(context.Background(), baseLink(), []float64{0.1, 0.5, 0.9})
	if err != nil {
		t.Fatalf("CalcHybridPropagationLoss: %v", err)
	}
	for i, want := range []float64{213.68, 214.26, 214.62} {
		if math.Abs(res.LossDB[i]-want) > 0.01 {
			t.Errorf("loss[%d] = %.2f, want %.2f", i, res.LossDB[i], want)
		}
	}
}
