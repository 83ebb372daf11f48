package analytics

import (
	"sort"

	"github.com/shopspring/decimal"
)

// GridSpacing returns the smallest positive gap between consecutive distinct strikes.
// ok is false when fewer than two distinct strikes are present.
func GridSpacing(strikes []float64) (float64, bool) {
	if len(strikes) < 2 {
		return 0, false
	}

	sorted := make([]decimal.Decimal, 0, len(strikes))
	for _, s := range strikes {
		sorted = append(sorted, decimal.NewFromFloat(s))
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	var best decimal.Decimal
	found := false
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Sub(sorted[i-1])
		if !gap.IsPositive() {
			continue
		}
		if !found || gap.LessThan(best) {
			best = gap
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return best.InexactFloat64(), true
}

// RoundToGrid rounds value to the nearest multiple of base.
// With m1 = base*floor(value/base) and m2 = m1+base, m1 is chosen only when
// strictly closer, so an exact midpoint goes to m2.
func RoundToGrid(value, base float64) float64 {
	if base <= 0 {
		return value
	}

	v := decimal.NewFromFloat(value)
	b := decimal.NewFromFloat(base)
	m1 := v.Div(b).Floor().Mul(b)
	m2 := m1.Add(b)

	if v.Sub(m1).Abs().LessThan(m2.Sub(v).Abs()) {
		return m1.InexactFloat64()
	}
	return m2.InexactFloat64()
}

// FloorStrike returns the highest strike not above level
func FloorStrike(strikes []float64, level float64) (float64, bool) {
	best := 0.0
	found := false
	for _, s := range strikes {
		if s <= level && (!found || s > best) {
			best = s
			found = true
		}
	}
	return best, found
}
