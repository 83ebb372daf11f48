package analytics

import (
	"math"

	"optionsurface/internal/domain/contract"
)

// Solver bounds for implied volatility
const (
	MinVol        = 1e-4
	MaxVol        = 10.0
	PriceTol      = 1e-10
	MaxIterations = 100

	initialVolGuess = 0.2
)

// PricingInput is everything needed to price one contract
type PricingInput struct {
	Type     contract.OptionType
	Spot     float64
	Strike   float64
	Years    float64 // time to expiry, annualized
	Rate     float64 // continuously compounded risk-free rate
	DivYield float64
	Premium  float64 // observed market price
}

// Greeks are the solved volatility and sensitivities of one contract.
// IV is in percent, Theta is per calendar day, Vega and Rho are per unit change.
type Greeks struct {
	IV    float64
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func d1d2(s, k, t, r, q, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r-q+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

// Price is the Black-Scholes-Merton value of a European option
func Price(typ contract.OptionType, s, k, t, r, q, sigma float64) float64 {
	d1, d2 := d1d2(s, k, t, r, q, sigma)
	dq := math.Exp(-q * t)
	dr := math.Exp(-r * t)
	if typ.IsCall() {
		return s*dq*normCDF(d1) - k*dr*normCDF(d2)
	}
	return k*dr*normCDF(-d2) - s*dq*normCDF(-d1)
}

func vega(s, k, t, r, q, sigma float64) float64 {
	d1, _ := d1d2(s, k, t, r, q, sigma)
	return s * math.Exp(-q*t) * normPDF(d1) * math.Sqrt(t)
}

// ImpliedVol solves for sigma in (MinVol, MaxVol) so that Price matches the
// premium within PriceTol. Newton steps are used while they stay inside the
// bracket, bisection otherwise. ok is false for a premium outside the
// attainable range, degenerate inputs, or when MaxIterations is exhausted.
func ImpliedVol(in PricingInput) (sigma float64, ok bool) {
	if in.Spot <= 0 || in.Strike <= 0 || in.Years <= 0 || in.Premium <= 0 {
		return 0, false
	}
	if math.IsNaN(in.Premium) || math.IsInf(in.Premium, 0) {
		return 0, false
	}

	price := func(v float64) float64 {
		return Price(in.Type, in.Spot, in.Strike, in.Years, in.Rate, in.DivYield, v)
	}

	lo, hi := MinVol, MaxVol
	if in.Premium < price(lo)-PriceTol || in.Premium > price(hi)+PriceTol {
		return 0, false
	}

	sigma = initialVolGuess
	for i := 0; i < MaxIterations; i++ {
		diff := price(sigma) - in.Premium
		if math.Abs(diff) < PriceTol {
			return sigma, true
		}

		// price is increasing in sigma
		if diff > 0 {
			hi = sigma
		} else {
			lo = sigma
		}

		v := vega(in.Spot, in.Strike, in.Years, in.Rate, in.DivYield, sigma)
		next := sigma - diff/v
		if v <= 0 || math.IsNaN(next) || next <= lo || next >= hi {
			next = 0.5 * (lo + hi)
		}
		sigma = next
	}
	return 0, false
}

// ComputeGreeks solves implied volatility for in and evaluates the Greeks at it.
// Returns nil when the solver does not converge.
func ComputeGreeks(in PricingInput) *Greeks {
	sigma, ok := ImpliedVol(in)
	if !ok {
		return nil
	}

	s, k, t, r, q := in.Spot, in.Strike, in.Years, in.Rate, in.DivYield
	d1, d2 := d1d2(s, k, t, r, q, sigma)
	sqrtT := math.Sqrt(t)
	dq := math.Exp(-q * t)
	dr := math.Exp(-r * t)
	pdf := normPDF(d1)

	g := &Greeks{
		IV:    sigma * 100,
		Gamma: dq * pdf / (s * sigma * sqrtT),
		Vega:  s * dq * pdf * sqrtT,
	}

	decay := -s * dq * pdf * sigma / (2 * sqrtT)
	if in.Type.IsCall() {
		g.Delta = dq * normCDF(d1)
		g.Theta = (decay - r*k*dr*normCDF(d2) + q*s*dq*normCDF(d1)) / DaysPerYear
		g.Rho = k * t * dr * normCDF(d2)
	} else {
		g.Delta = -dq * normCDF(-d1)
		g.Theta = (decay + r*k*dr*normCDF(-d2) - q*s*dq*normCDF(-d1)) / DaysPerYear
		g.Rho = -k * t * dr * normCDF(-d2)
	}
	return g
}
