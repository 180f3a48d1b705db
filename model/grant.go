package model

import "fmt"

// Category is the CBSD power class.
type Category int

const (
	CategoryA Category = iota // lower-power
	CategoryB                 // higher-power
)

// Categories lists both CBSD classes.
var Categories = []Category{CategoryA, CategoryB}

func (c Category) String() string {
	switch c {
	case CategoryA:
		return "A"
	case CategoryB:
		return "B"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// ParseCategory accepts "A" or "B".
func ParseCategory(s string) (Category, error) {
	switch s {
	case "A", "a":
		return CategoryA, nil
	case "B", "b":
		return CategoryB, nil
	}
	return 0, fmt.Errorf("unknown CBSD category %q", s)
}

// Grant is one transmitter's authorized transmission. Grants are created
// once per simulation and never mutated; engines refer to them by their
// index in the bound grant list.
type Grant struct {
	Latitude  float64 // WGS-84 degrees
	Longitude float64
	HeightM   float64 // antenna height above ground level
	Indoor    bool

	// AntennaAzimuthDeg is clockwise from true North. A beamwidth of 0 or 360
	// marks an omni antenna, in which case the azimuth is ignored.
	AntennaAzimuthDeg   float64
	AntennaBeamwidthDeg float64
	AntennaGainDBi      float64

	Category         Category
	MaxEirpDBmPerMHz float64

	LowFrequencyHz  float64 // inclusive
	HighFrequencyHz float64 // exclusive

	// Managed is true for grants owned by this coordinator, false for grants
	// reported by a peer coordinator.
	Managed bool
}

// Frequency returns the grant's frequency segment.
func (g Grant) Frequency() FrequencyRange {
	return FrequencyRange{LowHz: g.LowFrequencyHz, HighHz: g.HighFrequencyHz}
}

// IsOmni reports whether the antenna has no usable directional pattern.
func (g Grant) IsOmni() bool {
	return g.AntennaBeamwidthDeg == 0 || g.AntennaBeamwidthDeg >= 360
}

// Validate checks the ranges a grant must respect before it is bound.
func (g Grant) Validate() error {
	switch {
	case g.Latitude < -90 || g.Latitude > 90:
		return fmt.Errorf("grant latitude %g out of range", g.Latitude)
	case g.Longitude < -180 || g.Longitude > 180:
		return fmt.Errorf("grant longitude %g out of range", g.Longitude)
	case g.HighFrequencyHz <= g.LowFrequencyHz:
		return fmt.Errorf("grant frequency segment [%g, %g) is empty", g.LowFrequencyHz, g.HighFrequencyHz)
	case g.AntennaBeamwidthDeg < 0:
		return fmt.Errorf("grant beamwidth %g is negative", g.AntennaBeamwidthDeg)
	}
	return nil
}
