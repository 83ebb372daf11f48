package pricing

import (
	"context"
	"time"

	"optionsurface/internal/domain/calendar"
	"optionsurface/internal/domain/contract"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// UniverseListener is told about every universe swapped in by the refresh
type UniverseListener interface {
	UniverseChanged(ctx context.Context, u *contract.Universe) error
}

// ContractsRefresher reloads the contract universe for the trading day and
// swaps it into the store. A failed load keeps the previous universe.
type ContractsRefresher struct {
	repo        contract.Repository
	store       *contract.Store
	cal         *calendar.Calendar
	underlyings []string
	listeners   []UniverseListener
	log         *logger.Logger
}

// NewContractsRefresher creates the daily contracts refresh job
func NewContractsRefresher(
	repo contract.Repository,
	store *contract.Store,
	cal *calendar.Calendar,
	underlyings []string,
	log *logger.Logger,
	listeners ...UniverseListener,
) *ContractsRefresher {
	if log == nil {
		log = logger.Get()
	}
	return &ContractsRefresher{
		repo:        repo,
		store:       store,
		cal:         cal,
		underlyings: underlyings,
		listeners:   listeners,
		log:         log.With("job", "contracts_refresh"),
	}
}

// Name implements workers.Job
func (r *ContractsRefresher) Name() string {
	return "contracts_refresh"
}

// Run implements workers.Job
func (r *ContractsRefresher) Run(ctx context.Context, fireTime time.Time) error {
	day := r.cal.Date(fireTime)
	u, err := r.repo.LoadUniverse(ctx, day, r.underlyings)
	if err != nil {
		return errors.Wrapf(err, "load universe for %s", day.Format("2006-01-02"))
	}

	prev := r.store.Current()
	r.store.Replace(u)

	fields := []interface{}{
		"trading_day", day.Format("2006-01-02"),
		"contracts", len(u.Contracts),
		"instruments", len(u.InstrumentIDs()),
		"futures", len(u.Futures),
	}
	if prev != nil {
		fields = append(fields, "previous_contracts", len(prev.Contracts))
	}
	r.log.Infow("Contract universe refreshed", fields...)

	var errs errors.MultiError
	for _, l := range r.listeners {
		if err := l.UniverseChanged(ctx, u); err != nil {
			errs.Add(err)
		}
	}
	return errs.ToError()
}
