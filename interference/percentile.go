package interference

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MoveListPercentile is the quantile of the aggregate interference gated by
// the DPA threshold.
const MoveListPercentile = 0.95

// Quantile returns the empirical p-quantile of x. x is not modified.
func Quantile(p float64, x []float64) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	return stat.Quantile(p, stat.Empirical, s, nil)
}

// DBmToMilliwatts converts a power level to linear units.
func DBmToMilliwatts(dbm float64) float64 { return math.Pow(10, dbm/10) }

// MilliwattsToDBm converts a linear power to dBm; zero maps to -Inf.
func MilliwattsToDBm(mw float64) float64 { return 10 * math.Log10(mw) }

// Aggregate returns the per-iteration power sum, in dBm, of the columns
// whose live flag is set. offsetDB, when non-nil, is added to each column
// first.
func (m Matrix) Aggregate(live []bool, offsetDB []float64) []float64 {
	out := make([]float64, len(m.Samples))
	for i, row := range m.Samples {
		sum := 0.0
		for j, v := range row {
			if !live[j] {
				continue
			}
			if offsetDB != nil {
				v += offsetDB[j]
			}
			sum += DBmToMilliwatts(v)
		}
		out[i] = MilliwattsToDBm(sum)
	}
	return out
}
