package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/quote"
	"optionsurface/internal/domain/surface"
	"optionsurface/pkg/errors"
)

// Compile-time check
var _ surface.Sink = (*LatestRepository)(nil)

// setIfNewer replaces the document at KEYS[1] only when ARGV[1] (unix ms)
// is strictly newer than the stored one, which makes resubmission a no-op.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'data', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// LatestRepository keeps the most recent analytics output per chain, plus a
// mirror of the live quote table, for consumers that only need "now".
type LatestRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewLatestRepository creates a new latest-state repository
func NewLatestRepository(client *redis.Client, prefix string, ttl time.Duration) *LatestRepository {
	return &LatestRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *LatestRepository) straddleKey(series contract.SeriesKey) string {
	return fmt.Sprintf("%s:straddle:%s:%s", r.prefix, series.Underlying, series.Expiry)
}

func (r *LatestRepository) calcKey(series contract.SeriesKey) string {
	return fmt.Sprintf("%s:calc:%s:%s", r.prefix, series.Underlying, series.Expiry)
}

func (r *LatestRepository) snapshotKey() string {
	return r.prefix + ":snap"
}

// QuotesKey is the hash holding the mirrored quote table
func (r *LatestRepository) QuotesKey() string {
	return r.prefix + ":quotes"
}

func (r *LatestRepository) put(ctx context.Context, key string, ts time.Time, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", key)
	}

	err = setIfNewer.Run(ctx, r.client, []string{key}, ts.UnixMilli(), data, r.ttl.Milliseconds()).Err()
	if err != nil && err != redis.Nil {
		return errors.Wrapf(err, "failed to store %s", key)
	}
	return nil
}

// InsertSnapshot implements surface.Sink
func (r *LatestRepository) InsertSnapshot(ctx context.Context, snap surface.SnapshotRecord) error {
	return r.put(ctx, r.snapshotKey(), snap.Timestamp, snap.Quotes)
}

// InsertOptionCalc implements surface.Sink
func (r *LatestRepository) InsertOptionCalc(ctx context.Context, rows []surface.OptionCalcRow) error {
	groups := make(map[contract.SeriesKey][]surface.OptionCalcRow)
	for _, row := range rows {
		groups[row.Series()] = append(groups[row.Series()], row)
	}

	var errs errors.MultiError
	for series, group := range groups {
		errs.Add(r.put(ctx, r.calcKey(series), group[0].Timestamp, group))
	}
	return errs.ToError()
}

// InsertStraddle implements surface.Sink
func (r *LatestRepository) InsertStraddle(ctx context.Context, rows []surface.StraddleRow) error {
	groups := make(map[contract.SeriesKey][]surface.StraddleRow)
	for _, row := range rows {
		groups[row.Series()] = append(groups[row.Series()], row)
	}

	var errs errors.MultiError
	for series, group := range groups {
		errs.Add(r.put(ctx, r.straddleKey(series), group[0].Timestamp, group))
	}
	return errs.ToError()
}

// LatestStraddles returns the most recent straddle chain stored for a series
func (r *LatestRepository) LatestStraddles(ctx context.Context, series contract.SeriesKey) ([]surface.StraddleRow, error) {
	data, err := r.client.HGet(ctx, r.straddleKey(series), "data").Bytes()
	if err == redis.Nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "no straddles for %s %s", series.Underlying, series.Expiry)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read latest straddles")
	}

	var rows []surface.StraddleRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal latest straddles")
	}
	return rows, nil
}

// MirrorQuotes writes the snapshot into the quote hash in one pipeline
func (r *LatestRepository) MirrorQuotes(ctx context.Context, snap quote.Snapshot) (int, error) {
	quotes := snap.Quotes()
	if len(quotes) == 0 {
		return 0, nil
	}

	symbols := make([]string, 0, len(quotes))
	for sym := range quotes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	values := make([]interface{}, 0, len(quotes)*2)
	for _, sym := range symbols {
		data, err := json.Marshal(quotes[sym])
		if err != nil {
			return 0, errors.Wrapf(err, "failed to marshal quote %s", sym)
		}
		values = append(values, sym, data)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.QuotesKey(), values...)
	pipe.HSet(ctx, r.QuotesKey(), "_taken_at", snap.TakenAt.UTC().Format(time.RFC3339Nano))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.QuotesKey(), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "failed to mirror quotes")
	}
	return len(symbols), nil
}

// MirroredQuote reads one quote back from the mirror
func (r *LatestRepository) MirroredQuote(ctx context.Context, symbol string) (quote.Quote, error) {
	var q quote.Quote

	data, err := r.client.HGet(ctx, r.QuotesKey(), symbol).Bytes()
	if err == redis.Nil {
		return q, errors.Wrapf(errors.ErrNotFound, "no mirrored quote for %s", symbol)
	}
	if err != nil {
		return q, errors.Wrap(err, "failed to read mirrored quote")
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return q, errors.Wrap(err, "failed to unmarshal mirrored quote")
	}
	return q, nil
}
