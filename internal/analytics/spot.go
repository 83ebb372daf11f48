package analytics

import (
	"sort"
	"strings"

	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/quote"
	"optionsurface/pkg/errors"
)

// SpotStrategy selects how the spot price of an option chain is resolved
type SpotStrategy string

const (
	// SpotDirect uses the last price of the designated future, or of the index when none is configured
	SpotDirect SpotStrategy = "direct"
	// SpotSynthetic applies put-call parity at the highest strike not above the index level
	SpotSynthetic SpotStrategy = "synthetic"
	// SpotForward applies put-call parity at the future price rounded to the strike grid
	SpotForward SpotStrategy = "forward"
)

// ParseSpotStrategy parses a configured strategy name
func ParseSpotStrategy(s string) (SpotStrategy, error) {
	switch SpotStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case SpotDirect:
		return SpotDirect, nil
	case SpotSynthetic:
		return SpotSynthetic, nil
	case SpotForward:
		return SpotForward, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidInput, "unknown spot strategy %q", s)
}

// chain is the strike ladder of one (underlying, expiry) series
type chain struct {
	key     contract.SeriesKey
	strikes []float64
	calls   map[float64]string
	puts    map[float64]string
}

func buildChains(contracts []contract.OptionContract) []*chain {
	byKey := make(map[contract.SeriesKey]*chain)
	for _, c := range contracts {
		key := c.Series()
		ch, ok := byKey[key]
		if !ok {
			ch = &chain{key: key, calls: map[float64]string{}, puts: map[float64]string{}}
			byKey[key] = ch
		}
		_, seenCall := ch.calls[c.Strike]
		_, seenPut := ch.puts[c.Strike]
		if !seenCall && !seenPut {
			ch.strikes = append(ch.strikes, c.Strike)
		}
		if c.OptionType.IsCall() {
			ch.calls[c.Strike] = c.Symbol
		} else {
			ch.puts[c.Strike] = c.Symbol
		}
	}

	out := make([]*chain, 0, len(byKey))
	for _, ch := range byKey {
		sort.Float64s(ch.strikes)
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.Underlying != out[j].key.Underlying {
			return out[i].key.Underlying < out[j].key.Underlying
		}
		return out[i].key.Expiry < out[j].key.Expiry
	})
	return out
}

// parity returns call - put + strike with missing premiums treated as 0
func (ch *chain) parity(snap quote.Snapshot, strike float64) float64 {
	var callPx, putPx float64
	if sym, ok := ch.calls[strike]; ok {
		callPx, _ = snap.LastPrice(sym)
	}
	if sym, ok := ch.puts[strike]; ok {
		putPx, _ = snap.LastPrice(sym)
	}
	return callPx - putPx + strike
}

// SpotResolver resolves one spot price per option chain
type SpotResolver struct {
	strategy SpotStrategy
}

// NewSpotResolver creates a resolver for strategy
func NewSpotResolver(strategy SpotStrategy) *SpotResolver {
	return &SpotResolver{strategy: strategy}
}

// Strategy returns the configured strategy
func (r *SpotResolver) Strategy() SpotStrategy {
	return r.strategy
}

// Resolve returns spot per series. Series whose anchor price is unavailable
// are absent from spots and listed in dropped.
func (r *SpotResolver) Resolve(u *contract.Universe, snap quote.Snapshot) (spots map[contract.SeriesKey]float64, dropped []contract.SeriesKey) {
	spots = make(map[contract.SeriesKey]float64)
	for _, ch := range buildChains(u.Contracts) {
		spot, ok := r.resolveChain(u, snap, ch)
		if !ok {
			dropped = append(dropped, ch.key)
			continue
		}
		spots[ch.key] = spot
	}
	return spots, dropped
}

func (r *SpotResolver) resolveChain(u *contract.Universe, snap quote.Snapshot, ch *chain) (float64, bool) {
	underlying := ch.key.Underlying

	switch r.strategy {
	case SpotDirect:
		return snap.LastPrice(u.FutureFor(underlying))

	case SpotSynthetic:
		index, ok := snap.LastPrice(underlying)
		if !ok {
			return 0, false
		}
		strike, ok := FloorStrike(ch.strikes, index)
		if !ok {
			return 0, false
		}
		return ch.parity(snap, strike), true

	case SpotForward:
		if !u.HasFuture(underlying) {
			return 0, false
		}
		fut, ok := snap.LastPrice(u.FutureFor(underlying))
		if !ok || len(ch.strikes) == 0 {
			return 0, false
		}
		strike := ch.strikes[0]
		if base, ok := GridSpacing(ch.strikes); ok {
			strike = RoundToGrid(fut, base)
		}
		return ch.parity(snap, strike), true
	}

	return 0, false
}
