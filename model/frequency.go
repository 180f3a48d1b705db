package model

import "fmt"

// ChannelWidthHz is the width of a DPA protection channel.
const ChannelWidthHz = 10e6

// FrequencyRange is a half-open [LowHz, HighHz) segment.
type FrequencyRange struct {
	LowHz  float64 `json:"lowFrequency" yaml:"low_hz"`
	HighHz float64 `json:"highFrequency" yaml:"high_hz"`
}

// RangeMHz builds a FrequencyRange from MHz bounds.
func RangeMHz(lowMHz, highMHz float64) FrequencyRange {
	return FrequencyRange{LowHz: lowMHz * 1e6, HighHz: highMHz * 1e6}
}

// WidthHz returns the width of the segment.
func (r FrequencyRange) WidthHz() float64 { return r.HighHz - r.LowHz }

// CenterMHz returns the segment center frequency in MHz.
func (r FrequencyRange) CenterMHz() float64 { return (r.LowHz + r.HighHz) / 2e6 }

// Overlaps reports whether the two half-open segments intersect.
func (r FrequencyRange) Overlaps(o FrequencyRange) bool {
	return r.LowHz < o.HighHz && o.LowHz < r.HighHz
}

// OverlapHz returns the width of the intersection, 0 when disjoint.
func (r FrequencyRange) OverlapHz(o FrequencyRange) float64 {
	lo := max(r.LowHz, o.LowHz)
	hi := min(r.HighHz, o.HighHz)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// SeparationHz returns the gap between two disjoint segments, 0 when they
// overlap or touch.
func (r FrequencyRange) SeparationHz(o FrequencyRange) float64 {
	switch {
	case o.LowHz >= r.HighHz:
		return o.LowHz - r.HighHz
	case r.LowHz >= o.HighHz:
		return r.LowHz - o.HighHz
	default:
		return 0
	}
}

func (r FrequencyRange) String() string {
	return fmt.Sprintf("[%g, %g) MHz", r.LowHz/1e6, r.HighHz/1e6)
}

// Channel is one 10 MHz protection channel of a DPA.
type Channel = FrequencyRange

// ChannelMHz builds a channel from MHz bounds.
func ChannelMHz(lowMHz, highMHz float64) Channel { return RangeMHz(lowMHz, highMHz) }

// TileChannels splits the MHz ranges into consecutive 10 MHz channels. Every
// range must be a whole number of channels wide.
func TileChannels(rangesMHz [][2]float64) ([]Channel, error) {
	var out []Channel
	for _, rg := range rangesMHz {
		lo, hi := rg[0]*1e6, rg[1]*1e6
		if hi <= lo {
			return nil, fmt.Errorf("empty frequency range %v MHz", rg)
		}
		n := (hi - lo) / ChannelWidthHz
		if n != float64(int(n)) {
			return nil, fmt.Errorf("frequency range %v MHz is not a multiple of %g MHz", rg, ChannelWidthHz/1e6)
		}
		for i := 0; i < int(n); i++ {
			low := lo + float64(i)*ChannelWidthHz
			out = append(out, Channel{LowHz: low, HighHz: low + ChannelWidthHz})
		}
	}
	return out, nil
}
