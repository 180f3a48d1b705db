package geodata

import "github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/geo"

// HAAT radials: 8 azimuths, samples every 3 km from 3 km to 15 km.
const (
	haatRadials = 8
	haatStartKm = 3.0
	haatEndKm   = 15.0
	haatStepKm  = 3.0
)

// ComputeNormalizedHaat returns the height of the ground at (lat, lon) above
// the average terrain along 8 radials, and the ground level itself.
func (d *TerrainDriver) ComputeNormalizedHaat(lat, lon float64) (haatM, groundM float64, err error) {
	groundM, err = d.GetTerrainElevation(lat, lon, true)
	if err != nil {
		return 0, 0, err
	}
	var dists []float64
	for r := haatStartKm; r <= haatEndKm+1e-9; r += haatStepKm {
		dists = append(dists, r)
	}
	sum, n := 0.0, 0
	for k := 0; k < haatRadials; k++ {
		az := float64(k) * 360 / haatRadials
		lats, lons, _ := geo.GeodesicPoints(lat, lon, dists, az)
		elev, err := d.GetTerrainElevations(lats, lons, true)
		if err != nil {
			return 0, 0, err
		}
		for _, h := range elev {
			sum += h
			n++
		}
	}
	return groundM - sum/float64(n), groundM, nil
}
