// Package bars converts an irregular ticker stream into fixed-duration OHLCV
// bars. Each Aggregator is single-writer per (pair, duration): the owning
// strategy goroutine is the only caller of Update, so no internal locking is
// needed.
package bars

import (
	"errors"
	"fmt"
	"time"

	"quantbot/internal/domain"
)

// ErrInvalidBarUpdate is returned for malformed ticker input. The aggregator
// state is left unchanged.
var ErrInvalidBarUpdate = errors.New("invalid bar update")

// rolloverTolerance biases bucket rollover: a timestamp strictly after
// endTime-1s already counts as belonging to the next bucket.
const rolloverTolerance = time.Second

// Event is emitted whenever a new bucket is started. It carries the
// bucket-as-of-now snapshot and the raw ticker that triggered it.
type Event struct {
	Key    domain.BarKey
	Bar    domain.Bar
	Ticker *domain.Ticker
}

// Aggregator buckets tickers for one currency pair at one duration.
type Aggregator struct {
	pair     domain.CurrencyPair
	duration time.Duration
	key      domain.BarKey

	bucket         *domain.Bar
	lastEmittedEnd time.Time
}

// New creates an aggregator for the pair/duration combination.
func New(pair domain.CurrencyPair, duration time.Duration) (*Aggregator, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("bar duration must be positive, got %s", duration)
	}
	return &Aggregator{
		pair:     pair,
		duration: duration,
		key:      domain.NewBarKey(pair, duration),
	}, nil
}

// Key returns the composite cache key for this aggregation stream.
func (a *Aggregator) Key() domain.BarKey { return a.key }

// Duration returns the bucket duration.
func (a *Aggregator) Duration() time.Duration { return a.duration }

// CurrentBucketEnd returns the end time of the bucket currently being filled,
// or the zero time when no ticker has been seen yet.
func (a *Aggregator) CurrentBucketEnd() time.Time {
	if a.bucket == nil {
		return time.Time{}
	}
	return a.bucket.End
}

// LastEmittedEnd returns the end time of the last emitted bucket. Comparing it
// against CurrentBucketEnd lets consumers detect that a candle was silently
// skipped and replay historical data (gap compensation is the consumer's
// responsibility, not a guarantee of the aggregator).
func (a *Aggregator) LastEmittedEnd() time.Time { return a.lastEmittedEnd }

// Update folds one ticker into the stream.
//
// The first ticker bootstraps a bucket anchored at its own timestamp and emits
// immediately. A ticker past the current bucket's end starts a new bucket
// anchored at the previous bucket's end time (bars stay contiguous, never
// gapped) and emits. A ticker inside the current bucket updates it in place
// with no emission.
func (a *Aggregator) Update(timestamp time.Time, ticker *domain.Ticker) (*Event, error) {
	if ticker == nil || ticker.Last.Sign() <= 0 {
		return nil, fmt.Errorf("%w: ticker for %s has no usable last price", ErrInvalidBarUpdate, a.pair)
	}

	if a.bucket == nil {
		a.bucket = a.seedBucket(timestamp, ticker)
		return a.emit(ticker), nil
	}

	if timestamp.After(a.bucket.End.Add(-rolloverTolerance)) {
		a.bucket = a.seedBucket(a.bucket.End, ticker)
		return a.emit(ticker), nil
	}

	a.bucket.Close = ticker.Last
	if ticker.Last.LessThan(a.bucket.Low) {
		a.bucket.Low = ticker.Last
	}
	if ticker.Last.GreaterThan(a.bucket.High) {
		a.bucket.High = ticker.Last
	}
	a.bucket.Volume = a.bucket.Volume.Add(ticker.Volume)
	return nil, nil
}

func (a *Aggregator) seedBucket(start time.Time, ticker *domain.Ticker) *domain.Bar {
	return &domain.Bar{
		Pair:     a.pair,
		Duration: a.duration,
		Start:    start,
		End:      start.Add(a.duration),
		Open:     ticker.Open,
		High:     ticker.High,
		Low:      ticker.Low,
		Close:    ticker.Last,
		Volume:   ticker.Volume,
	}
}

func (a *Aggregator) emit(ticker *domain.Ticker) *Event {
	a.lastEmittedEnd = a.bucket.End
	return &Event{Key: a.key, Bar: *a.bucket, Ticker: ticker}
}
