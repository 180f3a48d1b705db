// Package interference selects the grants neighboring a protection point
// and draws their Monte-Carlo received power at that point.
package interference

import (
	"math"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
)

// CBSD emission mask, in dBm/MHz EIRP, by separation from the grant edge.
const (
	MaskNearDBmPerMHz = -13.0 // up to 10 MHz
	MaskMidDBmPerMHz  = -25.0 // up to 40 MHz
	MaskFarDBmPerMHz  = -40.0

	maskNearHz = 10e6
	maskMidHz  = 40e6

	// OobCutoffDBmPerMHz is the mask level at or below which an
	// out-of-band grant is ignored.
	OobCutoffDBmPerMHz = MaskFarDBmPerMHz
)

// OobMaskDBmPerMHz returns the emission mask level of a grant on a channel.
// Overlapping segments return the grant's in-band EIRP density.
func OobMaskDBmPerMHz(g model.Grant, ch model.Channel) float64 {
	if g.Frequency().Overlaps(ch) {
		return g.MaxEirpDBmPerMHz
	}
	sep := g.Frequency().SeparationHz(ch)
	switch {
	case sep <= maskNearHz:
		return math.Min(MaskNearDBmPerMHz, g.MaxEirpDBmPerMHz)
	case sep <= maskMidHz:
		return math.Min(MaskMidDBmPerMHz, g.MaxEirpDBmPerMHz)
	default:
		return math.Min(MaskFarDBmPerMHz, g.MaxEirpDBmPerMHz)
	}
}

// ChannelPowerDBm returns the EIRP a grant radiates into ch, in dBm over the
// channel bandwidth, and the attenuation of that power relative to an
// in-band grant at full EIRP over the whole channel.
func ChannelPowerDBm(g model.Grant, ch model.Channel) (powerDBm, oobLossDB float64) {
	chMHz := ch.WidthHz() / 1e6
	full := g.MaxEirpDBmPerMHz + 10*math.Log10(chMHz)
	if overlap := g.Frequency().OverlapHz(ch); overlap > 0 {
		p := g.MaxEirpDBmPerMHz + 10*math.Log10(overlap/1e6)
		return p, full - p
	}
	p := OobMaskDBmPerMHz(g, ch) + 10*math.Log10(chMHz)
	return p, full - p
}
