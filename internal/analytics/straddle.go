package analytics

import (
	"sort"

	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/surface"
)

type legKey struct {
	series contract.SeriesKey
	strike float64
}

type legs struct {
	call *surface.OptionCalcRow
	put  *surface.OptionCalcRow
}

// BuildStraddles pairs calls and puts of one timestamp on (underlying, expiry, strike)
// and derives combined premium, combined IV, ATM strike, OTM IV and minima.
// Strikes with a single leg still produce a row with the other leg empty.
func BuildStraddles(rows []surface.OptionCalcRow) []surface.StraddleRow {
	paired := make(map[legKey]*legs)
	for i := range rows {
		row := &rows[i]
		key := legKey{series: row.Series(), strike: row.Strike}
		l, ok := paired[key]
		if !ok {
			l = &legs{}
			paired[key] = l
		}
		if row.OptionType.IsCall() {
			l.call = row
		} else {
			l.put = row
		}
	}

	keys := make([]legKey, 0, len(paired))
	for k := range paired {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.series.Underlying != b.series.Underlying {
			return a.series.Underlying < b.series.Underlying
		}
		if a.series.Expiry != b.series.Expiry {
			return a.series.Expiry < b.series.Expiry
		}
		return a.strike < b.strike
	})

	out := make([]surface.StraddleRow, 0, len(keys))
	groups := make(map[contract.SeriesKey][]int)
	var order []contract.SeriesKey
	for _, k := range keys {
		if _, ok := groups[k.series]; !ok {
			order = append(order, k.series)
		}
		groups[k.series] = append(groups[k.series], len(out))
		out = append(out, pairLegs(k.strike, paired[k]))
	}

	for _, series := range order {
		idx := groups[series]
		atm := atmStrike(out, idx, paired)
		for _, i := range idx {
			out[i].ATMStrike = atm
			if atm != nil && out[i].Strike > *atm {
				out[i].OTMIV = out[i].CallIV
			} else {
				out[i].OTMIV = out[i].PutIV
			}
		}
		markMinima(out, idx)
	}
	return out
}

func pairLegs(strike float64, l *legs) surface.StraddleRow {
	row := surface.StraddleRow{Strike: strike}

	if c := l.call; c != nil {
		row.Timestamp, row.Underlying, row.Expiry = c.Timestamp, c.Underlying, c.Expiry
		row.CallSymbol = c.Symbol
		row.Spot = floatPtr(c.Spot)
		row.CallPrice, row.CallOI, row.CallIV = c.LTP, c.OI, c.IV
	}
	if p := l.put; p != nil {
		if l.call == nil {
			row.Timestamp, row.Underlying, row.Expiry = p.Timestamp, p.Underlying, p.Expiry
			row.Spot = floatPtr(p.Spot)
		}
		row.PutSymbol = p.Symbol
		row.PutPrice, row.PutOI, row.PutIV = p.LTP, p.OI, p.IV
	}

	if positive(row.CallPrice) && positive(row.PutPrice) {
		row.CombinedPremium = floatPtr(*row.CallPrice + *row.PutPrice)
		if row.CallIV != nil && row.PutIV != nil {
			row.CombinedIV = floatPtr((*row.CallIV + *row.PutIV) / 2)
		}
	}
	return row
}

// atmStrike rounds the group's call-side spot to the empirical strike grid
func atmStrike(rows []surface.StraddleRow, idx []int, paired map[legKey]*legs) *float64 {
	var spot *float64
	strikes := make([]float64, 0, len(idx))
	for _, i := range idx {
		r := rows[i]
		strikes = append(strikes, r.Strike)
		if spot == nil {
			if l := paired[legKey{series: r.Series(), strike: r.Strike}]; l.call != nil {
				spot = floatPtr(l.call.Spot)
			}
		}
	}
	if spot == nil {
		return nil
	}

	base, ok := GridSpacing(strikes)
	if !ok {
		return nil
	}
	return floatPtr(RoundToGrid(*spot, base))
}

// markMinima flags every row holding the group's minimum combined premium.
// The group stays unmarked when no row has a combined premium.
func markMinima(rows []surface.StraddleRow, idx []int) {
	var min *float64
	for _, i := range idx {
		p := rows[i].CombinedPremium
		if p != nil && (min == nil || *p < *min) {
			min = p
		}
	}
	if min == nil {
		return
	}

	for _, i := range idx {
		p := rows[i].CombinedPremium
		rows[i].IsMinima = boolPtr(p != nil && *p == *min)
	}
}

func positive(p *float64) bool {
	return p != nil && *p > 0
}

func floatPtr(v float64) *float64 {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}
