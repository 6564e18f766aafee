package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func amount(s string) domain.CurrencyAmount {
	return domain.NewCurrencyAmount(d(s), "ETH")
}

func TestManager_Defaults(t *testing.T) {
	m := NewManager(Config{})

	assert.NoError(t, m.ValidateNewPosition(amount("1"), 0))
	assert.NoError(t, m.ValidateLeverage(20))
	assert.Error(t, m.ValidateLeverage(21))

	// Default minimum still rejects true dust.
	err := m.ValidateNewPosition(amount("0.0000000001"), 0)
	assert.ErrorIs(t, err, ports.ErrAmountTooSmall)
}

func TestManager_ValidateNewPosition(t *testing.T) {
	m := NewManager(Config{
		MinimumAmount:    d("0.01"),
		MaxOpenPositions: 3,
	})

	tests := []struct {
		name      string
		amount    string
		openCount int
		wantErr   error
	}{
		{"valid request", "0.5", 0, nil},
		{"exactly minimum amount", "0.01", 0, nil},
		{"below minimum amount", "0.009", 0, ports.ErrAmountTooSmall},
		{"one slot left", "0.5", 2, nil},
		{"at max open positions", "0.5", 3, ports.ErrInvalidRequest},
		{"above max open positions", "0.5", 4, ports.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateNewPosition(amount(tt.amount), tt.openCount)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestManager_ValidateLeverage(t *testing.T) {
	m := NewManager(Config{MaxLeverage: 10})

	assert.NoError(t, m.ValidateLeverage(1))
	assert.NoError(t, m.ValidateLeverage(10))

	err := m.ValidateLeverage(11)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	err = m.ValidateLeverage(0)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	err = m.ValidateLeverage(-3)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
