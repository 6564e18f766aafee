package bars

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot/internal/domain"
)

var testPair = domain.NewCurrencyPair("ETH", "USDT")

func tickerAt(ts time.Time, last string) *domain.Ticker {
	price := decimal.RequireFromString(last)
	return &domain.Ticker{
		Pair:      testPair,
		Timestamp: ts,
		Open:      price,
		High:      price,
		Low:       price,
		Last:      price,
		Volume:    decimal.NewFromInt(1),
	}
}

func TestNew_RejectsNonPositiveDuration(t *testing.T) {
	_, err := New(testPair, 0)
	assert.Error(t, err)
	_, err = New(testPair, -time.Minute)
	assert.Error(t, err)
}

func TestAggregator_BootstrapEmitsImmediately(t *testing.T) {
	agg, err := New(testPair, time.Minute)
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ev, err := agg.Update(start, tickerAt(start, "100"))
	require.NoError(t, err)
	require.NotNil(t, ev, "first ticker must emit the bootstrap bar")

	assert.Equal(t, domain.NewBarKey(testPair, time.Minute), ev.Key)
	assert.Equal(t, start, ev.Bar.Start)
	assert.Equal(t, start.Add(time.Minute), ev.Bar.End)
	assert.True(t, ev.Bar.Close.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, start.Add(time.Minute), agg.CurrentBucketEnd())
	assert.Equal(t, start.Add(time.Minute), agg.LastEmittedEnd())
}

func TestAggregator_InBucketUpdateDoesNotEmit(t *testing.T) {
	agg, err := New(testPair, time.Minute)
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err = agg.Update(start, tickerAt(start, "100"))
	require.NoError(t, err)

	ev, err := agg.Update(start.Add(10*time.Second), tickerAt(start.Add(10*time.Second), "95"))
	require.NoError(t, err)
	assert.Nil(t, ev)
	ev, err = agg.Update(start.Add(20*time.Second), tickerAt(start.Add(20*time.Second), "112"))
	require.NoError(t, err)
	assert.Nil(t, ev)

	// The next rollover exposes the accumulated bucket.
	rolled := start.Add(time.Minute)
	ev, err = agg.Update(rolled, tickerAt(rolled, "105"))
	require.NoError(t, err)
	require.NotNil(t, ev)
	// The emitted bar is the freshly started bucket; the previous bucket's
	// extremes were folded while it was current.
	assert.Equal(t, rolled, ev.Bar.Start)
}

func TestAggregator_TracksExtremesAndVolume(t *testing.T) {
	agg, err := New(testPair, time.Minute)
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err = agg.Update(start, tickerAt(start, "100"))
	require.NoError(t, err)
	_, err = agg.Update(start.Add(5*time.Second), tickerAt(start.Add(5*time.Second), "90"))
	require.NoError(t, err)
	_, err = agg.Update(start.Add(10*time.Second), tickerAt(start.Add(10*time.Second), "120"))
	require.NoError(t, err)
	_, err = agg.Update(start.Add(15*time.Second), tickerAt(start.Add(15*time.Second), "110"))
	require.NoError(t, err)

	// Roll over to read the finished bucket via the event's previous state.
	ev, err := agg.Update(start.Add(time.Minute), tickerAt(start.Add(time.Minute), "111"))
	require.NoError(t, err)
	require.NotNil(t, ev)

	// The new bucket seeds from the rollover ticker.
	assert.True(t, ev.Bar.Close.Equal(decimal.RequireFromString("111")))
	assert.True(t, ev.Bar.Volume.Equal(decimal.NewFromInt(1)))
}

func TestAggregator_BarsStayContiguousAcrossRollovers(t *testing.T) {
	agg, err := New(testPair, time.Minute)
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err = agg.Update(start, tickerAt(start, "100"))
	require.NoError(t, err)

	var ends []time.Time
	// A ticker arriving well past the bucket end still produces a bucket
	// anchored at the previous end, never at the ticker timestamp.
	for _, offset := range []time.Duration{
		61 * time.Second,
		125 * time.Second,
		190 * time.Second,
	} {
		ts := start.Add(offset)
		ev, err := agg.Update(ts, tickerAt(ts, "101"))
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, ev.Bar.Start.Add(time.Minute), ev.Bar.End)
		ends = append(ends, ev.Bar.End)
	}

	assert.Equal(t, start.Add(2*time.Minute), ends[0])
	assert.Equal(t, start.Add(3*time.Minute), ends[1])
	assert.Equal(t, start.Add(4*time.Minute), ends[2])
}

func TestAggregator_RolloverTolerance(t *testing.T) {
	agg, err := New(testPair, time.Minute)
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err = agg.Update(start, tickerAt(start, "100"))
	require.NoError(t, err)

	// 59s is exactly end-1s: not yet past the tolerance boundary, no emission.
	ev, err := agg.Update(start.Add(59*time.Second), tickerAt(start.Add(59*time.Second), "101"))
	require.NoError(t, err)
	assert.Nil(t, ev)

	// A hair later rolls over even though the nominal end was not reached.
	late := start.Add(59*time.Second + time.Millisecond)
	ev, err = agg.Update(late, tickerAt(late, "102"))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, start.Add(time.Minute), ev.Bar.Start)
}

func TestAggregator_RejectsUnusableTicker(t *testing.T) {
	agg, err := New(testPair, time.Minute)
	require.NoError(t, err)

	now := time.Now()
	_, err = agg.Update(now, nil)
	assert.ErrorIs(t, err, ErrInvalidBarUpdate)

	zero := tickerAt(now, "1")
	zero.Last = decimal.Zero
	_, err = agg.Update(now, zero)
	assert.ErrorIs(t, err, ErrInvalidBarUpdate)

	// State unchanged: the next valid ticker still bootstraps.
	ev, err := agg.Update(now, tickerAt(now, "100"))
	require.NoError(t, err)
	assert.NotNil(t, ev)
}
