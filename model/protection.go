package model

import "fmt"

// ProtectionPoint is a single sample of a protected area's geometry.
type ProtectionPoint struct {
	Latitude  float64
	Longitude float64
}

func (p ProtectionPoint) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Latitude, p.Longitude)
}

// EntityType discriminates the incumbent being protected.
type EntityType int

const (
	EntityDPA EntityType = iota
	EntityFSSCochannel
	EntityFSSBlocking
	EntityESC
	EntityPPA
	EntityGWPZ
)

func (e EntityType) String() string {
	switch e {
	case EntityDPA:
		return "DPA"
	case EntityFSSCochannel:
		return "FSS_CO_CHANNEL"
	case EntityFSSBlocking:
		return "FSS_BLOCKING"
	case EntityESC:
		return "ESC"
	case EntityPPA:
		return "PPA"
	case EntityGWPZ:
		return "GWPZ"
	default:
		return fmt.Sprintf("EntityType(%d)", int(e))
	}
}

// ProtectionConstraint is the (point, frequency segment, entity) tuple passed
// into the interference routines.
type ProtectionConstraint struct {
	Point      ProtectionPoint
	Frequency  FrequencyRange
	EntityType EntityType
	// Fss is the receive antenna of FSS entities, nil otherwise.
	Fss *FssEarthStation
}

// FssEarthStation is the receive antenna of an FSS protection point.
type FssEarthStation struct {
	HeightM float64
	GainDBi float64
	// AzimuthDeg and ElevationDeg are the surveyed boresight. When both are
	// zero the antenna points at the GSO slot SatLonDeg.
	AzimuthDeg   float64
	ElevationDeg float64
	SatLonDeg    float64
	// W1 and W2 weight the GSO tangent and perpendicular patterns.
	W1, W2 float64
}

// NewFssConstraint builds the co-channel constraint of an FSS earth station.
func NewFssConstraint(p ProtectionPoint, fr FrequencyRange, es FssEarthStation) ProtectionConstraint {
	return ProtectionConstraint{Point: p, Frequency: fr, EntityType: EntityFSSCochannel, Fss: &es}
}

// NewDpaConstraint builds the constraint for one DPA protection point and
// channel.
func NewDpaConstraint(p ProtectionPoint, ch Channel) ProtectionConstraint {
	return ProtectionConstraint{Point: p, Frequency: ch, EntityType: EntityDPA}
}
