package model

import "fmt"

// RegionType classifies the land-use morphology around a location. It
// drives the hybrid propagation model and the CBSD synthesis tables.
type RegionType int

const (
	RegionRural RegionType = iota
	RegionSuburban
	RegionUrban
	RegionDenseUrban
)

// RegionTypes lists every morphology in ascending density order.
var RegionTypes = []RegionType{RegionRural, RegionSuburban, RegionUrban, RegionDenseUrban}

func (r RegionType) String() string {
	switch r {
	case RegionRural:
		return "RURAL"
	case RegionSuburban:
		return "SUBURBAN"
	case RegionUrban:
		return "URBAN"
	case RegionDenseUrban:
		return "DENSE_URBAN"
	default:
		return fmt.Sprintf("RegionType(%d)", int(r))
	}
}

// ParseRegionType accepts the upper-case names produced by String.
func ParseRegionType(s string) (RegionType, error) {
	for _, r := range RegionTypes {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown region type %q", s)
}
