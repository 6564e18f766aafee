package netting

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func open(posType domain.PositionType, amount, price, margin string) *domain.OpenPosition {
	return &domain.OpenPosition{
		Pair:   domain.NewCurrencyPair("ETH", "USDT"),
		Type:   posType,
		Amount: d(amount),
		Price:  d(price),
		Margin: d(margin),
	}
}

func TestLiquidate_SameSideMerge(t *testing.T) {
	existing := open(domain.Long, "1", "100", "10")
	incoming := open(domain.Long, "1", "120", "12")

	result, err := Liquidate(existing, incoming)
	require.NoError(t, err)
	require.NotNil(t, result.Position)

	assert.Equal(t, domain.Long, result.Position.Type)
	assert.True(t, result.Position.Amount.Equal(d("2")), "amount %s", result.Position.Amount)
	assert.True(t, result.Position.Price.Equal(d("110")), "price %s", result.Position.Price)
	assert.True(t, result.Position.Margin.Equal(d("22")), "margin %s", result.Position.Margin)
	// The incoming margin is escrowed.
	assert.True(t, result.RealizedQuoteDelta.Equal(d("-12")), "delta %s", result.RealizedQuoteDelta)
	assert.True(t, result.IsSuccessful())
}

func TestLiquidate_FullOffset(t *testing.T) {
	tests := []struct {
		name      string
		existing  *domain.OpenPosition
		incoming  *domain.OpenPosition
		wantDelta string
	}{
		// Long closed at a higher price: margin back plus profit.
		{"long profit", open(domain.Long, "1", "100", "10"), open(domain.Short, "1", "120", "12"), "30"},
		// Long closed lower: margin back minus loss.
		{"long loss", open(domain.Long, "1", "100", "10"), open(domain.Short, "1", "95", "9.5"), "5"},
		// Short profits when price falls.
		{"short profit", open(domain.Short, "1", "100", "10"), open(domain.Long, "1", "80", "8"), "30"},
		{"short loss", open(domain.Short, "1", "100", "10"), open(domain.Long, "1", "105", "10.5"), "5"},
		// Flat close: exactly the margin back, zero-sum.
		{"flat", open(domain.Long, "1", "100", "10"), open(domain.Short, "1", "100", "10"), "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Liquidate(tt.existing, tt.incoming)
			require.NoError(t, err)
			assert.Nil(t, result.Position)
			assert.True(t, result.RealizedQuoteDelta.Equal(d(tt.wantDelta)),
				"delta %s, want %s", result.RealizedQuoteDelta, tt.wantDelta)
		})
	}
}

func TestLiquidate_PartialOffset(t *testing.T) {
	// 2 long @ 100 with 20 margin; 0.5 closed at 110.
	existing := open(domain.Long, "2", "100", "20")
	incoming := open(domain.Short, "0.5", "110", "0")

	result, err := Liquidate(existing, incoming)
	require.NoError(t, err)
	require.NotNil(t, result.Position)

	assert.Equal(t, domain.Long, result.Position.Type)
	assert.True(t, result.Position.Amount.Equal(d("1.5")))
	assert.True(t, result.Position.Price.Equal(d("100")), "entry price survives a partial offset")
	assert.True(t, result.Position.Margin.Equal(d("15")), "margin %s", result.Position.Margin)
	// Released margin 5 plus gain 0.5 * 10.
	assert.True(t, result.RealizedQuoteDelta.Equal(d("10")), "delta %s", result.RealizedQuoteDelta)
}

func TestLiquidate_ReverseOffset(t *testing.T) {
	// 1 long @ 100 (margin 10) hit by 3 short @ 110 (margin 33):
	// the long closes with +10 gain, 2 short remain with 22 margin escrowed.
	existing := open(domain.Long, "1", "100", "10")
	incoming := open(domain.Short, "3", "110", "33")

	result, err := Liquidate(existing, incoming)
	require.NoError(t, err)
	require.NotNil(t, result.Position)

	assert.Equal(t, domain.Short, result.Position.Type)
	assert.True(t, result.Position.Amount.Equal(d("2")))
	assert.True(t, result.Position.Price.Equal(d("110")))
	assert.True(t, result.Position.Margin.Equal(d("22")), "margin %s", result.Position.Margin)
	// 10 released + 10 gain - 22 newly escrowed.
	assert.True(t, result.RealizedQuoteDelta.Equal(d("-2")), "delta %s", result.RealizedQuoteDelta)
}

// Margin conservation: the realized delta plus the change in escrowed margin
// always equals the offset gain. Nothing is created or destroyed.
func TestLiquidate_MarginConservation(t *testing.T) {
	tests := []struct {
		name     string
		existing *domain.OpenPosition
		incoming *domain.OpenPosition
	}{
		{"merge", open(domain.Long, "1", "100", "10"), open(domain.Long, "1", "120", "12")},
		{"full offset", open(domain.Long, "1", "100", "10"), open(domain.Short, "1", "120", "0")},
		{"partial offset", open(domain.Short, "4", "50", "40"), open(domain.Long, "1", "45", "0")},
		{"reverse offset", open(domain.Short, "1", "50", "5"), open(domain.Long, "4", "55", "44")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gain := offsetGain(tt.existing.Type, tt.existing.Price, tt.incoming.Price,
				decimal.Min(tt.existing.Amount, tt.incoming.Amount))
			if tt.existing.Type == tt.incoming.Type {
				gain = decimal.Zero
			}
			// Only the existing margin is escrowed before the call; incoming
			// margin moves through the delta.
			escrowedIn := tt.existing.Margin

			result, err := Liquidate(tt.existing, tt.incoming)
			require.NoError(t, err)

			marginOut := decimal.Zero
			if result.Position != nil {
				marginOut = result.Position.Margin
			}
			assert.True(t, marginOut.Add(result.RealizedQuoteDelta).Equal(escrowedIn.Add(gain)),
				"margin out %s + delta %s != escrowed in %s + gain %s",
				marginOut, result.RealizedQuoteDelta, escrowedIn, gain)
		})
	}
}

func TestLiquidate_Inconsistent(t *testing.T) {
	valid := open(domain.Long, "1", "100", "10")

	tests := []struct {
		name     string
		existing *domain.OpenPosition
		incoming *domain.OpenPosition
	}{
		{"nil existing", nil, valid},
		{"nil incoming", valid, nil},
		{"pair mismatch", valid, &domain.OpenPosition{
			Pair: domain.NewCurrencyPair("BTC", "USDT"), Type: domain.Short,
			Amount: d("1"), Price: d("100"), Margin: d("10")}},
		{"zero amount", valid, open(domain.Short, "0", "100", "10")},
		{"negative amount", valid, open(domain.Short, "-1", "100", "10")},
		{"negative margin", valid, open(domain.Short, "1", "100", "-10")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Liquidate(tt.existing, tt.incoming)
			assert.ErrorIs(t, err, ErrInconsistentNetting)
		})
	}
}

func TestLiquidate_MergeRoundsPriceDown(t *testing.T) {
	existing := open(domain.Long, "3", "100", "30")
	incoming := open(domain.Long, "1", "101", "10.1")

	result, err := Liquidate(existing, incoming)
	require.NoError(t, err)
	require.NotNil(t, result.Position)
	// Exact VWAP is 100.25; scale 8 keeps it exact here.
	assert.True(t, result.Position.Price.Equal(d("100.25")), "price %s", result.Position.Price)

	// A non-terminating VWAP is truncated, not rounded up.
	existing = open(domain.Long, "3", "100", "30")
	incoming = open(domain.Long, "1", "100.00000001", "10")
	result, err = Liquidate(existing, incoming)
	require.NoError(t, err)
	assert.True(t, result.Position.Price.Equal(d("100.00000000")), "price %s", result.Position.Price)
}

func TestPairLocker_SerializesPerPair(t *testing.T) {
	locker := NewPairLocker()
	pair := domain.NewCurrencyPair("ETH", "USDT")

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock(pair)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
