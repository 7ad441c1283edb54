package domain

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// osiPattern matches an OSI option symbol with the root padding removed:
// ROOT(1-6) + YYMMDD + C|P + strike x 1000 (8 digits)
var osiPattern = regexp.MustCompile(`^([A-Z0-9.]{1,6})(\d{6})([CP])(\d{8})$`)

// OptionSymbol is a parsed OSI identifier
type OptionSymbol struct {
	Underlying string
	Expiration time.Time
	Type       OptionType
	Strike     float64
}

// NormalizeSymbol upper-cases a symbol and strips the OSI root padding
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), " ", ""))
}

// IsOptionSymbol reports whether the symbol parses as an OSI option identifier
func IsOptionSymbol(symbol string) bool {
	return osiPattern.MatchString(NormalizeSymbol(symbol))
}

// ParseOSI parses an OSI option symbol (padded or unpadded)
func ParseOSI(symbol string) (OptionSymbol, error) {
	m := osiPattern.FindStringSubmatch(NormalizeSymbol(symbol))
	if m == nil {
		return OptionSymbol{}, fmt.Errorf("not an OSI option symbol: %q", symbol)
	}

	exp, err := time.Parse("060102", m[2])
	if err != nil {
		return OptionSymbol{}, fmt.Errorf("invalid expiration in %q: %w", symbol, err)
	}

	strikeMils, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return OptionSymbol{}, fmt.Errorf("invalid strike in %q: %w", symbol, err)
	}

	optType := OptionCall
	if m[3] == "P" {
		optType = OptionPut
	}

	return OptionSymbol{
		Underlying: m[1],
		Expiration: exp,
		Type:       optType,
		Strike:     float64(strikeMils) / 1000,
	}, nil
}

// String formats the option as an unpadded OSI symbol
func (o OptionSymbol) String() string {
	t := "C"
	if o.Type == OptionPut {
		t = "P"
	}
	return fmt.Sprintf("%s%s%s%08d",
		strings.ToUpper(o.Underlying),
		o.Expiration.Format("060102"),
		t,
		int64(math.Round(o.Strike*1000)),
	)
}

// PositionFromSymbol builds a position skeleton for a broker symbol, filling the
// option fields when the symbol is an OSI identifier.
func PositionFromSymbol(symbol string, quantity int, entryPrice float64) Position {
	pos := Position{
		Symbol:     symbol,
		Quantity:   quantity,
		EntryPrice: entryPrice,
		Class:      ClassEquity,
	}
	if opt, err := ParseOSI(symbol); err == nil {
		pos.Class = ClassOption
		pos.OSISymbol = opt.String()
		pos.Underlying = opt.Underlying
		pos.Strike = opt.Strike
		pos.Expiration = opt.Expiration
		pos.OptionType = opt.Type
	}
	return pos
}
