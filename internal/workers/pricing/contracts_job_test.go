package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/internal/domain/contract"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

type stubRepository struct {
	universe *contract.Universe
	err      error
	day      time.Time
	names    []string
}

func (r *stubRepository) LoadUniverse(_ context.Context, day time.Time, underlyings []string) (*contract.Universe, error) {
	r.day = day
	r.names = underlyings
	return r.universe, r.err
}

type listenerFunc func(ctx context.Context, u *contract.Universe) error

func (f listenerFunc) UniverseChanged(ctx context.Context, u *contract.Universe) error {
	return f(ctx, u)
}

func TestContractsRefresherSwapsUniverse(t *testing.T) {
	cal := testCalendar(t)
	old := contract.NewUniverse(time.Time{}, nil, nil, nil)
	store := contract.NewStore(old)
	fresh := niftyUniverse()
	repo := &stubRepository{universe: fresh}

	var notified *contract.Universe
	job := NewContractsRefresher(repo, store, cal, []string{"NIFTY"}, logger.NewNop(),
		listenerFunc(func(_ context.Context, u *contract.Universe) error {
			notified = u
			return nil
		}),
	)

	// 03:15 UTC is 08:45 in Kolkata
	fire := time.Date(2024, 2, 5, 3, 15, 0, 0, time.UTC)
	require.NoError(t, job.Run(context.Background(), fire))

	assert.Same(t, fresh, store.Current())
	assert.Same(t, fresh, notified)
	assert.Equal(t, []string{"NIFTY"}, repo.names)
	assert.Equal(t, "2024-02-05", repo.day.Format("2006-01-02"))
	assert.Equal(t, cal.Location(), repo.day.Location())
}

func TestContractsRefresherKeepsUniverseOnFailure(t *testing.T) {
	old := niftyUniverse()
	store := contract.NewStore(old)
	repo := &stubRepository{err: errors.Wrap(errors.ErrUnavailable, "connection refused")}
	job := NewContractsRefresher(repo, store, testCalendar(t), []string{"NIFTY"}, logger.NewNop())

	err := job.Run(context.Background(), time.Date(2024, 2, 5, 3, 15, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	assert.Same(t, old, store.Current())
}

func TestContractsRefresherReportsListenerFailures(t *testing.T) {
	store := contract.NewStore(nil)
	repo := &stubRepository{universe: niftyUniverse()}
	job := NewContractsRefresher(repo, store, testCalendar(t), nil, logger.NewNop(),
		listenerFunc(func(context.Context, *contract.Universe) error { return errors.ErrWSNotConnected }),
	)

	err := job.Run(context.Background(), time.Date(2024, 2, 5, 3, 15, 0, 0, time.UTC))
	assert.True(t, errors.Is(err, errors.ErrWSNotConnected))
	assert.NotNil(t, store.Current(), "the universe is swapped before listeners run")
}
