package main

import (
	"fmt"
	"os"

	"github.com/jszwec/csvutil"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// grantRow is one line of a grants CSV file. Frequencies are in MHz.
type grantRow struct {
	Latitude     float64 `csv:"latitude"`
	Longitude    float64 `csv:"longitude"`
	HeightM      float64 `csv:"height_m"`
	Indoor       bool    `csv:"indoor"`
	AzimuthDeg   float64 `csv:"azimuth_deg"`
	BeamwidthDeg float64 `csv:"beamwidth_deg"`
	GainDBi      float64 `csv:"gain_dbi"`
	Category     string  `csv:"category"`
	EirpDBmMHz   float64 `csv:"eirp_dbm_mhz"`
	LowMHz       float64 `csv:"low_mhz"`
	HighMHz      float64 `csv:"high_mhz"`
	Managed      *bool   `csv:"managed,omitempty"`
}

func (r grantRow) grant() (model.Grant, error) {
	cat, err := model.ParseCategory(r.Category)
	if err != nil {
		return model.Grant{}, err
	}
	managed := true
	if r.Managed != nil {
		managed = *r.Managed
	}
	g := model.Grant{
		Latitude:            r.Latitude,
		Longitude:           r.Longitude,
		HeightM:             r.HeightM,
		Indoor:              r.Indoor,
		AntennaAzimuthDeg:   r.AzimuthDeg,
		AntennaBeamwidthDeg: r.BeamwidthDeg,
		AntennaGainDBi:      r.GainDBi,
		Category:            cat,
		MaxEirpDBmPerMHz:    r.EirpDBmMHz,
		LowFrequencyHz:      r.LowMHz * 1e6,
		HighFrequencyHz:     r.HighMHz * 1e6,
		Managed:             managed,
	}
	return g, g.Validate()
}

// readGrants loads a grants CSV file. A missing managed column marks every
// grant as managed.
func readGrants(path string) ([]model.Grant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grants: %w", err)
	}
	var rows []grantRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse grants %q: %w", path, err)
	}
	out := make([]model.Grant, len(rows))
	for i, r := range rows {
		if out[i], err = r.grant(); err != nil {
			return nil, fmt.Errorf("grants %q row %d: %w", path, i+1, err)
		}
	}
	return out, nil
}
