package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOSI(t *testing.T) {
	testCases := []struct {
		name       string
		symbol     string
		underlying string
		expiration time.Time
		optType    OptionType
		strike     float64
	}{
		{
			name:       "unpadded call",
			symbol:     "AAPL250117C00150000",
			underlying: "AAPL",
			expiration: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
			optType:    OptionCall,
			strike:     150,
		},
		{
			name:       "padded put",
			symbol:     "SPY   250321P00412500",
			underlying: "SPY",
			expiration: time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC),
			optType:    OptionPut,
			strike:     412.5,
		},
		{
			name:       "lower case with dot root",
			symbol:     "brk.b260116c00500000",
			underlying: "BRK.B",
			expiration: time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
			optType:    OptionCall,
			strike:     500,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opt, err := ParseOSI(tc.symbol)
			require.NoError(t, err)
			assert.Equal(t, tc.underlying, opt.Underlying)
			assert.True(t, tc.expiration.Equal(opt.Expiration))
			assert.Equal(t, tc.optType, opt.Type)
			assert.InDelta(t, tc.strike, opt.Strike, 1e-9)
		})
	}
}

func TestParseOSI_Invalid(t *testing.T) {
	for _, symbol := range []string{"", "AAPL", "AAPL250117X00150000", "AAPL250117C0015", "TOOLONGROOT250117C00150000", "AAPL251317C00150000"} {
		t.Run(symbol, func(t *testing.T) {
			_, err := ParseOSI(symbol)
			assert.Error(t, err)
		})
	}
}

func TestOptionSymbol_String(t *testing.T) {
	opt, err := ParseOSI("SPY   250321P00412500")
	require.NoError(t, err)
	assert.Equal(t, "SPY250321P00412500", opt.String())
}

func TestIsOptionSymbol(t *testing.T) {
	assert.True(t, IsOptionSymbol("QQQ 250620C00450000"))
	assert.False(t, IsOptionSymbol("QQQ"))
	assert.False(t, IsOptionSymbol("BTC-USD"))
}

func TestPositionFromSymbol(t *testing.T) {
	opt := PositionFromSymbol("SPY   250321P00412500", 2, 3.1)
	assert.Equal(t, ClassOption, opt.Class)
	assert.Equal(t, "SPY250321P00412500", opt.OSISymbol)
	assert.Equal(t, "SPY", opt.Underlying)
	assert.Equal(t, OptionPut, opt.OptionType)
	assert.Equal(t, 100, opt.Multiplier())

	eq := PositionFromSymbol("vti", 10, 220)
	assert.Equal(t, ClassEquity, eq.Class)
	assert.Empty(t, eq.OSISymbol)
	assert.Equal(t, "VTI", eq.NormalizedSymbol())
	assert.Equal(t, 1, eq.Multiplier())
}
