package analytics

import (
	"time"

	"optionsurface/internal/domain/calendar"
	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/quote"
	"optionsurface/internal/domain/surface"
	"optionsurface/pkg/logger"
)

// Config holds pricing parameters of the engine
type Config struct {
	Strategy     SpotStrategy
	RiskFreeRate float64
	DivYield     float64
}

// Result is the output of one analytics run
type Result struct {
	Timestamp      time.Time
	OptionCalc     []surface.OptionCalcRow
	Straddles      []surface.StraddleRow
	Dropped        []contract.SeriesKey
	SolverFailures int
}

// Engine turns a quote snapshot into a priced options surface.
// It holds no mutable state and can be shared across runs.
type Engine struct {
	cfg      Config
	dte      *DTECalculator
	resolver *SpotResolver
	logger   *logger.Logger
}

// NewEngine creates an analytics engine
func NewEngine(cfg Config, cal *calendar.Calendar, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Get()
	}
	return &Engine{
		cfg:      cfg,
		dte:      NewDTECalculator(cal),
		resolver: NewSpotResolver(cfg.Strategy),
		logger:   log.With("component", "analytics_engine"),
	}
}

// Run prices every contract of u against snap at ts and builds the straddles.
// Chains without a spot are dropped for this run; contracts without a usable
// premium or a converged IV still produce a row with nil Greeks.
func (e *Engine) Run(ts time.Time, snap quote.Snapshot, u *contract.Universe) Result {
	res := Result{Timestamp: ts}

	spots, dropped := e.resolver.Resolve(u, snap)
	res.Dropped = dropped
	for _, key := range dropped {
		e.logger.Warnw("Spot unavailable, dropping chain for this run",
			"underlying", key.Underlying,
			"expiry", key.Expiry,
			"strategy", e.resolver.Strategy(),
		)
	}

	dteByExpiry := make(map[string]float64)
	rows := make([]surface.OptionCalcRow, 0, len(u.Contracts))
	for _, c := range u.Contracts {
		key := c.Series()
		spot, ok := spots[key]
		if !ok {
			continue
		}

		days, ok := dteByExpiry[key.Expiry]
		if !ok {
			days = e.dte.Days(c.Expiry, ts)
			dteByExpiry[key.Expiry] = days
		}

		row := surface.OptionCalcRow{
			Timestamp:  ts,
			Symbol:     c.Symbol,
			Underlying: c.Underlying,
			Expiry:     c.Expiry,
			Strike:     c.Strike,
			OptionType: c.OptionType,
			Spot:       spot,
			DTE:        days,
		}

		if q, ok := snap.Get(c.Symbol); ok {
			row.LTP = q.LastPrice
			row.OI = q.OpenInterest
		}

		if row.LTP != nil && *row.LTP > 0 {
			g := ComputeGreeks(PricingInput{
				Type:     c.OptionType,
				Spot:     spot,
				Strike:   c.Strike,
				Years:    days / DaysPerYear,
				Rate:     e.cfg.RiskFreeRate,
				DivYield: e.cfg.DivYield,
				Premium:  *row.LTP,
			})
			if g != nil {
				row.IV = floatPtr(g.IV)
				row.Delta = floatPtr(g.Delta)
				row.Gamma = floatPtr(g.Gamma)
				row.Theta = floatPtr(g.Theta)
				row.Vega = floatPtr(g.Vega)
				row.Rho = floatPtr(g.Rho)
			} else {
				res.SolverFailures++
			}
		}

		rows = append(rows, row)
	}

	res.OptionCalc = rows
	res.Straddles = BuildStraddles(rows)
	return res
}
